package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"
	"quote_pulse/internal/registry"

	"github.com/shopspring/decimal"
)

type delivery struct {
	owner domain.Owner
	msg   []byte
}

type fakeTransport struct {
	mu      sync.Mutex
	got     []delivery
	offline map[domain.Owner]bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{offline: map[domain.Owner]bool{}}
}

func (f *fakeTransport) SendToOwner(_ context.Context, owner domain.Owner, msg []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.offline[owner] {
		return errors.New("write: broken pipe")
	}
	if owner == domain.UserOwner("nobody") {
		return domain.ErrNoConnection
	}
	f.got = append(f.got, delivery{owner, msg})
	return nil
}

func (f *fakeTransport) owners() []domain.Owner {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.Owner, len(f.got))
	for i, d := range f.got {
		out[i] = d.owner
	}
	return out
}

func testQuote(symbol, price string) *domain.Quote {
	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  decimal.RequireFromString(price),
		PreviousClose: decimal.NewFromInt(100),
		LastUpdated:   time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC),
	}
}

func TestFanout_PublishQuoteReachesSubscribersOnly(t *testing.T) {
	reg := registry.New()
	tr := newFakeTransport()
	f := NewFanout(reg, tr, nil)

	reg.Subscribe(domain.ConnOwner("c1"), "AAPL")
	reg.Subscribe(domain.UserOwner("u1"), "AAPL")
	reg.Subscribe(domain.UserOwner("u2"), "MSFT")

	n := f.PublishQuote(context.Background(), "AAPL", testQuote("AAPL", "105"))
	if n != 2 {
		t.Fatalf("Expected 2 deliveries, got %d", n)
	}
	for _, o := range tr.owners() {
		if o == domain.UserOwner("u2") {
			t.Error("MSFT subscriber received AAPL quote")
		}
	}

	var env struct {
		Type string       `json:"type"`
		Data QuotePayload `json:"data"`
	}
	if err := json.Unmarshal(tr.got[0].msg, &env); err != nil {
		t.Fatalf("Invalid message: %v", err)
	}
	if env.Type != TypeQuote || env.Data.Symbol != "AAPL" {
		t.Errorf("Unexpected envelope: %+v", env)
	}
	if !env.Data.ChangePercent.Equal(decimal.NewFromInt(5)) || env.Data.Direction != "positive" {
		t.Errorf("Unexpected derived fields: %+v", env.Data)
	}
}

func TestFanout_SubscribersResolvedAtPublishTime(t *testing.T) {
	reg := registry.New()
	tr := newFakeTransport()
	f := NewFanout(reg, tr, nil)
	ctx := context.Background()

	c1 := domain.ConnOwner("c1")
	reg.Subscribe(c1, "AAPL")
	reg.OnConnectionClosed(c1)

	if n := f.PublishQuote(ctx, "AAPL", testQuote("AAPL", "101")); n != 0 {
		t.Errorf("Expected no deliveries after teardown, got %d", n)
	}

	reg.Subscribe(domain.ConnOwner("c2"), "AAPL")
	if n := f.PublishQuote(ctx, "AAPL", testQuote("AAPL", "102")); n != 1 {
		t.Errorf("Expected late subscriber to receive the next publish, got %d", n)
	}
}

func TestFanout_OfflineOwnerDoesNotBlockOthers(t *testing.T) {
	reg := registry.New()
	tr := newFakeTransport()
	obs := &countingObserver{}
	f := NewFanout(reg, tr, obs)

	reg.Subscribe(domain.UserOwner("gone"), "AAPL")
	reg.Subscribe(domain.UserOwner("here"), "AAPL")
	reg.Subscribe(domain.UserOwner("nobody"), "AAPL")
	tr.offline[domain.UserOwner("gone")] = true

	if n := f.PublishQuote(context.Background(), "AAPL", testQuote("AAPL", "99")); n != 1 {
		t.Errorf("Expected 1 delivery, got %d", n)
	}
	if obs.sent != 1 || obs.failed != 1 {
		t.Errorf("Unexpected counters: %+v", obs)
	}
}

func TestFanout_PublishAlertTriggered(t *testing.T) {
	tr := newFakeTransport()
	f := NewFanout(registry.New(), tr, nil)

	at := time.Date(2024, 5, 1, 15, 0, 0, 0, time.UTC)
	a := &domain.Alert{ID: "a1", UserID: "u1", Symbol: "AAPL", Type: domain.AlertPriceAbove,
		Threshold: decimal.NewFromInt(185), IsTriggered: true, LastTriggeredAt: &at}

	if err := f.PublishAlertTriggered(context.Background(), "u1", a); err != nil {
		t.Fatalf("PublishAlertTriggered failed: %v", err)
	}
	if len(tr.got) != 1 || tr.got[0].owner != domain.UserOwner("u1") {
		t.Fatalf("Expected delivery to user:u1, got %v", tr.owners())
	}

	var env struct {
		Type string       `json:"type"`
		Data AlertPayload `json:"data"`
	}
	json.Unmarshal(tr.got[0].msg, &env)
	if env.Type != TypeAlert || env.Data.ID != "a1" || env.Data.TriggeredAt == nil {
		t.Errorf("Unexpected alert message: %+v", env)
	}

	tr.offline[domain.UserOwner("u2")] = true
	if err := f.PublishAlertTriggered(context.Background(), "u2", a); err == nil {
		t.Error("Expected transport error to surface")
	}
	if err := f.PublishAlertTriggered(context.Background(), "nobody", a); err != nil {
		t.Errorf("Offline user should not be an error, got %v", err)
	}
}

func TestFanout_PublishPopular(t *testing.T) {
	reg := registry.New()
	tr := newFakeTransport()
	f := NewFanout(reg, tr, nil)

	reg.JoinGroup(domain.ConnOwner("c1"), domain.GroupPopular)
	reg.Subscribe(domain.ConnOwner("c2"), "AAPL")

	n := f.PublishPopular(context.Background(), []*domain.Quote{testQuote("AAPL", "101"), nil, testQuote("MSFT", "99")})
	if n != 1 || tr.got[0].owner != domain.ConnOwner("c1") {
		t.Fatalf("Expected delivery to popular member only, got %v", tr.owners())
	}

	var env struct {
		Type string         `json:"type"`
		Data []QuotePayload `json:"data"`
	}
	json.Unmarshal(tr.got[0].msg, &env)
	if env.Type != TypePopular || len(env.Data) != 2 {
		t.Errorf("Unexpected popular message: %+v", env)
	}
}

func TestFanout_OnPriceChanged(t *testing.T) {
	reg := registry.New()
	tr := newFakeTransport()
	f := NewFanout(reg, tr, nil)
	reg.Subscribe(domain.ConnOwner("c1"), "AAPL")

	f.OnPriceChanged(context.Background(), &event.PriceChanged{Symbol: "AAPL"})
	if len(tr.got) != 0 {
		t.Error("Event without quote must be ignored")
	}

	q := testQuote("AAPL", "110")
	f.OnPriceChanged(context.Background(), &event.PriceChanged{Symbol: "AAPL", NewPrice: q.CurrentPrice, Quote: q})
	if len(tr.got) != 1 {
		t.Errorf("Expected 1 delivery, got %d", len(tr.got))
	}
}

type countingObserver struct {
	mu           sync.Mutex
	sent, failed int
}

func (o *countingObserver) RecordBroadcast(n int) {
	o.mu.Lock()
	o.sent += n
	o.mu.Unlock()
}

func (o *countingObserver) RecordBroadcastFailure() {
	o.mu.Lock()
	o.failed++
	o.mu.Unlock()
}
