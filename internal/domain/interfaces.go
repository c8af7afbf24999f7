package domain

import (
	"context"
	"time"
)

// QuoteSource fetches a fresh quote for one symbol (live market-data API or simulator).
type QuoteSource interface {
	FetchQuote(ctx context.Context, symbol string) (*Quote, error)
}

// AlertRepository persists alerts and their one-shot state transition.
type AlertRepository interface {
	LoadActiveAlerts(ctx context.Context, symbol string) ([]*Alert, error)
	SaveAlert(ctx context.Context, alert *Alert) error
	// MarkAlertTriggered moves an existing untriggered alert to triggered.
	// It reports false when the alert is gone or already triggered.
	MarkAlertTriggered(ctx context.Context, alertID string, at time.Time) (bool, error)
	ListAlerts(ctx context.Context, userID string) ([]*Alert, error)
	DeleteAlert(ctx context.Context, userID, alertID string) error
}

// WatchlistRepository persists per-user watchlists and derives popularity from them.
type WatchlistRepository interface {
	// LoadActiveSymbols returns every symbol on any user's watchlist plus symbols
	// carrying an untriggered alert.
	LoadActiveSymbols(ctx context.Context) ([]string, error)
	LoadUserWatchlist(ctx context.Context, userID string) ([]string, error)
	LoadPopularSymbols(ctx context.Context, popularityThreshold, limit int) ([]string, error)
	AddWatchlistItem(ctx context.Context, userID, symbol string) error
	RemoveWatchlistItem(ctx context.Context, userID, symbol string) error
}

// PriceHistoryRepository stores observed price changes.
type PriceHistoryRepository interface {
	AppendTick(ctx context.Context, tick PriceTick) error
	LoadHistory(ctx context.Context, symbol string, from, to time.Time) ([]PriceTick, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int64, error)
}

// Transport pushes an encoded message to whatever connections an owner currently holds.
// Delivery is best-effort; an owner with no live connection yields ErrNoConnection.
type Transport interface {
	SendToOwner(ctx context.Context, owner Owner, msg []byte) error
}
