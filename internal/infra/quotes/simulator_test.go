package quotes

import (
	"context"
	"errors"
	"testing"

	"quote_pulse/internal/domain"
)

func TestSimulator_Deterministic(t *testing.T) {
	a := NewSimulator(42, 0.02)
	b := NewSimulator(42, 0.02)
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		qa, err := a.FetchQuote(ctx, "AAPL")
		if err != nil {
			t.Fatal(err)
		}
		qb, _ := b.FetchQuote(ctx, "AAPL")
		if !qa.CurrentPrice.Equal(qb.CurrentPrice) {
			t.Fatalf("step %d diverged: %s vs %s", i, qa.CurrentPrice, qb.CurrentPrice)
		}
	}
}

func TestSimulator_WalkStaysPositiveAndBounded(t *testing.T) {
	s := NewSimulator(7, 0.05)
	ctx := context.Background()

	changes := 0
	prev, _ := s.FetchQuote(ctx, "TSLA")
	for i := 0; i < 200; i++ {
		q, err := s.FetchQuote(ctx, "TSLA")
		if err != nil {
			t.Fatal(err)
		}
		if !q.CurrentPrice.IsPositive() {
			t.Fatalf("non-positive price %s", q.CurrentPrice)
		}
		if q.DayHigh.LessThan(q.CurrentPrice) || q.DayLow.GreaterThan(q.CurrentPrice) {
			t.Fatalf("price %s outside day range [%s, %s]", q.CurrentPrice, q.DayLow, q.DayHigh)
		}
		if prev.PriceChanged(q) {
			changes++
		}
		prev = q
	}
	if changes == 0 || changes == 200 {
		t.Errorf("expected a mix of changed and unchanged fetches, got %d changes", changes)
	}
}

func TestSimulator_RejectsInvalidSymbol(t *testing.T) {
	s := NewSimulator(1, 0)
	_, err := s.FetchQuote(context.Background(), "bad symbol!")
	if !errors.Is(err, domain.ErrInvalidSymbol) {
		t.Errorf("expected ErrInvalidSymbol, got %v", err)
	}
	if domain.IsRetriable(err) {
		t.Error("invalid symbol must not be retriable")
	}
}
