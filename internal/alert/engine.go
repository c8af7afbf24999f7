// Package alert evaluates user price alerts against observed price changes.
package alert

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"

	"github.com/shopspring/decimal"
)

// Notifier delivers a triggered alert to its owner.
type Notifier interface {
	PublishAlertTriggered(ctx context.Context, userID string, alert *domain.Alert) error
}

// Observer receives engine counters.
type Observer interface {
	RecordAlertFired()
	RecordPersistenceError()
}

type nopObserver struct{}

func (nopObserver) RecordAlertFired()       {}
func (nopObserver) RecordPersistenceError() {}

// Engine checks every untriggered alert of a symbol on each price change.
// An alert fires at most once: the triggered state is persisted before the owner is notified.
type Engine struct {
	repo     domain.AlertRepository
	notifier Notifier
	obs      Observer
	now      func() time.Time

	locks sync.Map // symbol -> *sync.Mutex
}

// Option configures an Engine.
type Option func(*Engine)

// WithObserver sets the metrics sink.
func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.obs = o
		}
	}
}

// WithClock overrides the trigger timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an alert engine.
func NewEngine(repo domain.AlertRepository, notifier Notifier, opts ...Option) *Engine {
	e := &Engine{
		repo:     repo,
		notifier: notifier,
		obs:      nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

var _ event.Handler = (*Engine)(nil)

// OnPriceChanged evaluates the alerts of ev.Symbol.
// The first observation of a symbol has no prior price and is skipped.
func (e *Engine) OnPriceChanged(ctx context.Context, ev *event.PriceChanged) {
	if ev.FirstObservation() {
		return
	}
	if _, err := e.Evaluate(ctx, ev.Symbol, ev.OldPrice, ev.NewPrice); err != nil {
		slog.Error("Alert evaluation failed",
			slog.String("symbol", ev.Symbol),
			slog.Any("error", err),
		)
	}
}

// Evaluate fires every alert on symbol crossed by the move oldPrice -> newPrice
// and returns the alerts that were persisted as triggered. Failures on one alert
// are logged and do not affect the others; only a failure to load alerts is returned.
func (e *Engine) Evaluate(ctx context.Context, symbol string, oldPrice, newPrice decimal.Decimal) ([]*domain.Alert, error) {
	mu := e.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	alerts, err := e.repo.LoadActiveAlerts(ctx, symbol)
	if err != nil {
		e.obs.RecordPersistenceError()
		return nil, err
	}

	var fired []*domain.Alert
	for _, a := range alerts {
		if !a.Crossed(oldPrice, newPrice) {
			continue
		}

		at := e.now()
		ok, err := e.repo.MarkAlertTriggered(ctx, a.ID, at)
		if err != nil {
			// Not notified: the transition is not durable and the alert stays active.
			e.obs.RecordPersistenceError()
			slog.Error("Failed to persist triggered alert",
				slog.String("alert_id", a.ID),
				slog.String("symbol", symbol),
				slog.Any("error", err),
			)
			continue
		}
		if !ok {
			// Deleted or triggered since it was loaded.
			slog.Debug("Alert no longer active", slog.String("alert_id", a.ID))
			continue
		}
		a.MarkTriggered(at)

		e.obs.RecordAlertFired()
		fired = append(fired, a)
		slog.Info("Alert triggered",
			slog.String("alert_id", a.ID),
			slog.String("user_id", a.UserID),
			slog.String("symbol", symbol),
			slog.String("type", string(a.Type)),
			slog.String("threshold", a.Threshold.String()),
			slog.String("old", oldPrice.String()),
			slog.String("new", newPrice.String()),
		)

		if e.notifier == nil {
			continue
		}
		if err := e.notifier.PublishAlertTriggered(ctx, a.UserID, a); err != nil {
			slog.Warn("Failed to notify alert owner",
				slog.String("alert_id", a.ID),
				slog.String("user_id", a.UserID),
				slog.Any("error", err),
			)
		}
	}
	return fired, nil
}

func (e *Engine) lock(symbol string) *sync.Mutex {
	if v, ok := e.locks.Load(symbol); ok {
		return v.(*sync.Mutex)
	}
	v, _ := e.locks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}
