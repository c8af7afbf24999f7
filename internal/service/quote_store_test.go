package service

import (
	"fmt"
	"sync"
	"testing"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
)

func quote(symbol string, price int64) *domain.Quote {
	return &domain.Quote{Symbol: symbol, CurrentPrice: decimal.NewFromInt(price)}
}

func TestQuoteStore_Apply(t *testing.T) {
	s := NewQuoteStore()

	prev, changed := s.Apply(quote("AAPL", 180))
	if !changed || prev != nil {
		t.Fatalf("First apply should write with no previous quote, got changed=%v prev=%v", changed, prev)
	}

	prev, changed = s.Apply(quote("AAPL", 180))
	if changed {
		t.Error("Same price should not write")
	}
	if prev == nil || !prev.CurrentPrice.Equal(decimal.NewFromInt(180)) {
		t.Errorf("Expected previous 180, got %v", prev)
	}

	prev, changed = s.Apply(quote("AAPL", 186))
	if !changed {
		t.Error("Different price should write")
	}
	if !prev.CurrentPrice.Equal(decimal.NewFromInt(180)) {
		t.Errorf("Expected previous 180, got %s", prev.CurrentPrice)
	}
	if got := s.Get("AAPL"); !got.CurrentPrice.Equal(decimal.NewFromInt(186)) {
		t.Errorf("Expected stored 186, got %s", got.CurrentPrice)
	}
}

func TestQuoteStore_GetReturnsCopy(t *testing.T) {
	s := NewQuoteStore()
	s.Put(quote("MSFT", 400))

	q := s.Get("MSFT")
	q.CurrentPrice = decimal.NewFromInt(1)

	if !s.Get("MSFT").CurrentPrice.Equal(decimal.NewFromInt(400)) {
		t.Error("Mutating a returned quote should not change the store")
	}
	if s.Get("NOPE") != nil {
		t.Error("Unknown symbol should return nil")
	}
}

func TestQuoteStore_AllSorted(t *testing.T) {
	s := NewQuoteStore()

	// Add in unsorted order
	s.Put(quote("XOM", 100))
	s.Put(quote("AAPL", 180))
	s.Put(quote("MSFT", 400))

	all := s.All()
	if len(all) != 3 {
		t.Fatalf("Expected 3 items, got %d", len(all))
	}
	if all[0].Symbol != "AAPL" || all[1].Symbol != "MSFT" || all[2].Symbol != "XOM" {
		t.Errorf("Not sorted: %s, %s, %s", all[0].Symbol, all[1].Symbol, all[2].Symbol)
	}
	if s.Len() != 3 {
		t.Errorf("Expected Len 3, got %d", s.Len())
	}

	many := s.GetMany([]string{"MSFT", "NOPE", "AAPL"})
	if len(many) != 2 {
		t.Errorf("Expected 2 known quotes, got %d", len(many))
	}
}

func TestQuoteStore_ConcurrentSymbols(t *testing.T) {
	s := NewQuoteStore()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			sym := fmt.Sprintf("S%d", n%5)
			for p := int64(1); p <= 50; p++ {
				s.Apply(quote(sym, p))
				_ = s.Get(sym)
			}
		}(i)
	}
	wg.Wait()

	if s.Len() != 5 {
		t.Errorf("Expected 5 symbols, got %d", s.Len())
	}
}
