// Package broadcast pushes quote, alert and aggregate messages to subscription owners.
package broadcast

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"
)

// Audience resolves the owners of a symbol group or a global group at publish time.
type Audience interface {
	SubscribersOf(symbol string) []domain.Owner
	MembersOf(group string) []domain.Owner
}

// Observer receives delivery counters.
type Observer interface {
	RecordBroadcast(sent int)
	RecordBroadcastFailure()
}

type nopObserver struct{}

func (nopObserver) RecordBroadcast(int)     {}
func (nopObserver) RecordBroadcastFailure() {}

// Fanout delivers messages best-effort and at most once per call.
// An owner without a live connection simply misses the message.
type Fanout struct {
	audience  Audience
	transport domain.Transport
	obs       Observer
	now       func() time.Time
}

// NewFanout creates a fan-out over the given audience and transport.
func NewFanout(audience Audience, transport domain.Transport, obs Observer) *Fanout {
	if obs == nil {
		obs = nopObserver{}
	}
	return &Fanout{
		audience:  audience,
		transport: transport,
		obs:       obs,
		now:       time.Now,
	}
}

var _ event.Handler = (*Fanout)(nil)

// OnPriceChanged publishes the new quote to the symbol group.
func (f *Fanout) OnPriceChanged(ctx context.Context, ev *event.PriceChanged) {
	if ev.Quote == nil {
		return
	}
	f.PublishQuote(ctx, ev.Symbol, ev.Quote)
}

// PublishQuote sends q to every current subscriber of symbol and returns how many received it.
func (f *Fanout) PublishQuote(ctx context.Context, symbol string, q *domain.Quote) int {
	owners := f.audience.SubscribersOf(symbol)
	if len(owners) == 0 {
		return 0
	}

	msg, err := Encode(TypeQuote, NewQuotePayload(q), f.now())
	if err != nil {
		slog.Error("Failed to encode quote", slog.String("symbol", symbol), slog.Any("error", err))
		return 0
	}
	return f.deliver(ctx, owners, msg)
}

// PublishAlertTriggered sends a triggered alert to all connections of userID.
func (f *Fanout) PublishAlertTriggered(ctx context.Context, userID string, a *domain.Alert) error {
	msg, err := Encode(TypeAlert, NewAlertPayload(a), f.now())
	if err != nil {
		return err
	}
	if err := f.transport.SendToOwner(ctx, domain.UserOwner(userID), msg); err != nil {
		if errors.Is(err, domain.ErrNoConnection) {
			// Offline owners see the alert in their alert list.
			return nil
		}
		f.obs.RecordBroadcastFailure()
		return err
	}
	f.obs.RecordBroadcast(1)
	return nil
}

// PublishPopular sends the popular-instruments aggregate to the popular group.
func (f *Fanout) PublishPopular(ctx context.Context, quotes []*domain.Quote) int {
	owners := f.audience.MembersOf(domain.GroupPopular)
	if len(owners) == 0 {
		return 0
	}

	payload := make([]QuotePayload, 0, len(quotes))
	for _, q := range quotes {
		if q != nil {
			payload = append(payload, NewQuotePayload(q))
		}
	}
	msg, err := Encode(TypePopular, payload, f.now())
	if err != nil {
		slog.Error("Failed to encode popular list", slog.Any("error", err))
		return 0
	}
	return f.deliver(ctx, owners, msg)
}

func (f *Fanout) deliver(ctx context.Context, owners []domain.Owner, msg []byte) int {
	sent := 0
	for _, o := range owners {
		if ctx.Err() != nil {
			break
		}
		if err := f.transport.SendToOwner(ctx, o, msg); err != nil {
			if errors.Is(err, domain.ErrNoConnection) {
				continue
			}
			f.obs.RecordBroadcastFailure()
			slog.Debug("Dropped message for owner", slog.String("owner", o.String()), slog.Any("error", err))
			continue
		}
		sent++
	}
	f.obs.RecordBroadcast(sent)
	return sent
}
