package event

import (
	"context"
	"time"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
)

// PriceChanged is raised by the scheduler when a fetched price differs from the stored one.
// Handlers run synchronously and must not retain the event after returning.
type PriceChanged struct {
	Symbol   string
	OldPrice decimal.Decimal // Zero on the first observation of a symbol
	NewPrice decimal.Decimal
	Quote    *domain.Quote
	At       time.Time
}

// FirstObservation reports whether there was no previous price for the symbol.
func (e *PriceChanged) FirstObservation() bool {
	return e.OldPrice.IsZero()
}

// Handler consumes price-change events.
type Handler interface {
	OnPriceChanged(ctx context.Context, ev *PriceChanged)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, ev *PriceChanged)

func (f HandlerFunc) OnPriceChanged(ctx context.Context, ev *PriceChanged) {
	f(ctx, ev)
}

// Dispatcher fans an event out to its handlers in registration order.
type Dispatcher struct {
	handlers []Handler
}

// NewDispatcher creates a dispatcher over the given handlers.
func NewDispatcher(handlers ...Handler) *Dispatcher {
	return &Dispatcher{handlers: handlers}
}

// Dispatch delivers ev to every handler.
func (d *Dispatcher) Dispatch(ctx context.Context, ev *PriceChanged) {
	for _, h := range d.handlers {
		h.OnPriceChanged(ctx, ev)
	}
}
