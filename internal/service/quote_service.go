package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"quote_pulse/internal/cache"
	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"

	"github.com/google/uuid"
)

// QuoteSnapshotRepository persists the last-known quote per symbol.
type QuoteSnapshotRepository interface {
	GetQuote(ctx context.Context, symbol string) (*domain.Quote, error)
	SaveQuote(ctx context.Context, q *domain.Quote) error
	LoadQuotes(ctx context.Context) ([]*domain.Quote, error)
}

// PersistenceObserver counts repository failures.
type PersistenceObserver interface {
	RecordPersistenceError()
}

type nopPersistenceObserver struct{}

func (nopPersistenceObserver) RecordPersistenceError() {}

// maxHistoryRange bounds a single history query.
const maxHistoryRange = 90 * 24 * time.Hour

// QuoteService serves quote and history reads through the cache and keeps
// derived data in sync when prices change.
type QuoteService struct {
	store     *QuoteStore
	cache     cache.Cache
	source    domain.QuoteSource
	history   domain.PriceHistoryRepository
	snapshots QuoteSnapshotRepository
	obs       PersistenceObserver
}

// NewQuoteService wires the read path. snapshots and obs may be nil.
func NewQuoteService(store *QuoteStore, c cache.Cache, source domain.QuoteSource,
	history domain.PriceHistoryRepository, snapshots QuoteSnapshotRepository, obs PersistenceObserver) *QuoteService {
	if obs == nil {
		obs = nopPersistenceObserver{}
	}
	return &QuoteService{
		store:     store,
		cache:     c,
		source:    source,
		history:   history,
		snapshots: snapshots,
		obs:       obs,
	}
}

// Quote returns the latest quote for symbol. The in-memory store is
// authoritative and read directly. Symbols it does not hold fall back through
// the cache to the persisted snapshot, then the live source.
func (s *QuoteService) Quote(ctx context.Context, symbol string) (*domain.Quote, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if q := s.store.Get(symbol); q != nil {
		return q, nil
	}

	return cache.Remember(ctx, s.cache, cache.QuoteKey(symbol), cache.QuoteTTL, func(ctx context.Context) (*domain.Quote, error) {
		if s.snapshots != nil {
			q, err := s.snapshots.GetQuote(ctx, symbol)
			if err == nil {
				return q, nil
			}
			if !errors.Is(err, domain.ErrNotFound) {
				s.obs.RecordPersistenceError()
				slog.Warn("Quote snapshot read failed", slog.String("symbol", symbol), slog.Any("error", err))
			}
		}
		if s.source == nil {
			return nil, fmt.Errorf("%s: %w", symbol, domain.ErrQuoteUnavailable)
		}
		q, err := s.source.FetchQuote(ctx, symbol)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", domain.ErrQuoteUnavailable, err)
		}
		return q, nil
	})
}

// History returns recorded price changes of symbol within [from, to].
func (s *QuoteService) History(ctx context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if err := domain.ValidateSymbol(symbol); err != nil {
		return nil, err
	}
	if to.Before(from) {
		return nil, fmt.Errorf("%w: from %s is after to %s", domain.ErrInvalidRange, from.Format(time.RFC3339), to.Format(time.RFC3339))
	}
	if to.Sub(from) > maxHistoryRange {
		return nil, fmt.Errorf("%w: exceeds %s", domain.ErrInvalidRange, maxHistoryRange)
	}

	key := cache.HistoryKey(symbol, s.historyVersion(ctx, symbol), from, to)
	return cache.Remember(ctx, s.cache, key, cache.HistoryTTL, func(ctx context.Context) ([]domain.PriceTick, error) {
		ticks, err := s.history.LoadHistory(ctx, symbol, from, to)
		if err != nil {
			s.obs.RecordPersistenceError()
			return nil, err
		}
		if ticks == nil {
			ticks = []domain.PriceTick{}
		}
		return ticks, nil
	})
}

func (s *QuoteService) historyVersion(ctx context.Context, symbol string) string {
	if v, ok := s.cache.Get(ctx, cache.HistoryVersionKey(symbol)); ok {
		return string(v)
	}
	return "0"
}

var _ event.Handler = (*QuoteService)(nil)

// OnPriceChanged invalidates the cached quote and history ranges and records the change.
func (s *QuoteService) OnPriceChanged(ctx context.Context, ev *event.PriceChanged) {
	s.cache.Remove(ctx, cache.QuoteKey(ev.Symbol))

	tick := domain.PriceTick{Symbol: ev.Symbol, Price: ev.NewPrice, At: ev.At}
	if ev.Quote != nil {
		tick.Volume = ev.Quote.Volume
	}
	if s.history != nil {
		if err := s.history.AppendTick(ctx, tick); err != nil {
			s.obs.RecordPersistenceError()
			slog.Warn("Failed to record price tick", slog.String("symbol", ev.Symbol), slog.Any("error", err))
		}
	}
	// Orphans every cached history range of the symbol.
	s.cache.Set(ctx, cache.HistoryVersionKey(ev.Symbol), []byte(uuid.NewString()), cache.HistoryTTL)
	if s.snapshots != nil && ev.Quote != nil {
		if err := s.snapshots.SaveQuote(ctx, ev.Quote); err != nil {
			s.obs.RecordPersistenceError()
			slog.Warn("Failed to save quote snapshot", slog.String("symbol", ev.Symbol), slog.Any("error", err))
		}
	}
}

// WarmStart loads persisted snapshots into the in-memory store.
func (s *QuoteService) WarmStart(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	quotes, err := s.snapshots.LoadQuotes(ctx)
	if err != nil {
		return 0, err
	}
	for _, q := range quotes {
		s.store.Put(q)
	}
	slog.Info("Quote store warmed", slog.Int("symbols", len(quotes)))
	return len(quotes), nil
}
