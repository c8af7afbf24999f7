package service

import (
	"context"
	"log/slog"

	"quote_pulse/internal/cache"
	"quote_pulse/internal/domain"
)

// Subscriber mirrors watchlists as live subscriptions. It may refuse owners
// that have no live connection.
type Subscriber interface {
	Subscribe(owner domain.Owner, symbol string) bool
	Unsubscribe(owner domain.Owner, symbol string) bool
}

// WatchlistService manages persisted watchlists and keeps the cache and
// live subscriptions consistent with them.
type WatchlistService struct {
	repo             domain.WatchlistRepository
	cache            cache.Cache
	subs             Subscriber
	popularThreshold int
	popularLimit     int
}

// NewWatchlistService creates the service.
func NewWatchlistService(repo domain.WatchlistRepository, c cache.Cache, subs Subscriber, popularThreshold, popularLimit int) *WatchlistService {
	return &WatchlistService{
		repo:             repo,
		cache:            c,
		subs:             subs,
		popularThreshold: popularThreshold,
		popularLimit:     popularLimit,
	}
}

func validateUser(userID string) error {
	if userID == "" {
		return domain.ErrMissingUser
	}
	return nil
}

// Add puts symbol on userID's watchlist and subscribes the user to it if online.
func (s *WatchlistService) Add(ctx context.Context, userID, symbol string) (string, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return "", err
	}
	if err := validateUser(userID); err != nil {
		return "", err
	}

	if err := s.repo.AddWatchlistItem(ctx, userID, symbol); err != nil {
		return "", err
	}
	s.invalidate(ctx, userID)
	s.subs.Subscribe(domain.UserOwner(userID), symbol)
	return symbol, nil
}

// Remove takes symbol off userID's watchlist and drops the subscription.
func (s *WatchlistService) Remove(ctx context.Context, userID, symbol string) error {
	if err := validateUser(userID); err != nil {
		return err
	}
	symbol = domain.NormalizeSymbol(symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return err
	}

	if err := s.repo.RemoveWatchlistItem(ctx, userID, symbol); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.subs.Unsubscribe(domain.UserOwner(userID), symbol)
	return nil
}

// Watchlist returns userID's symbols.
func (s *WatchlistService) Watchlist(ctx context.Context, userID string) ([]string, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	return cache.Remember(ctx, s.cache, cache.WatchlistKey(userID), cache.WatchlistTTL, func(ctx context.Context) ([]string, error) {
		symbols, err := s.repo.LoadUserWatchlist(ctx, userID)
		if symbols == nil && err == nil {
			symbols = []string{}
		}
		return symbols, err
	})
}

// Popular returns the most watched symbols.
func (s *WatchlistService) Popular(ctx context.Context) ([]string, error) {
	return cache.Remember(ctx, s.cache, cache.KeyPopular, cache.PopularTTL, func(ctx context.Context) ([]string, error) {
		symbols, err := s.repo.LoadPopularSymbols(ctx, s.popularThreshold, s.popularLimit)
		if symbols == nil && err == nil {
			symbols = []string{}
		}
		return symbols, err
	})
}

// Replay subscribes userID to every symbol on the persisted watchlist.
// It reads the repository directly so a reconnect never sees a stale cached list.
func (s *WatchlistService) Replay(ctx context.Context, userID string) ([]string, error) {
	if err := validateUser(userID); err != nil {
		return nil, err
	}
	symbols, err := s.repo.LoadUserWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	owner := domain.UserOwner(userID)
	for _, sym := range symbols {
		s.subs.Subscribe(owner, sym)
	}
	slog.Debug("Replayed watchlist", slog.String("user_id", userID), slog.Int("symbols", len(symbols)))
	return symbols, nil
}

func (s *WatchlistService) invalidate(ctx context.Context, userID string) {
	s.cache.Remove(ctx, cache.KeyPopular, cache.WatchlistKey(userID))
}
