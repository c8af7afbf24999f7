package service

import (
	"sort"
	"sync"

	"quote_pulse/internal/domain"
)

// quoteSlot guards the snapshot of one symbol.
type quoteSlot struct {
	mu    sync.RWMutex
	quote *domain.Quote
}

// QuoteStore holds the last-known quote per symbol.
// Writes to one symbol never block reads or writes of another.
type QuoteStore struct {
	slots sync.Map // symbol -> *quoteSlot
}

// NewQuoteStore creates an empty store.
func NewQuoteStore() *QuoteStore {
	return &QuoteStore{}
}

func (s *QuoteStore) slot(symbol string) *quoteSlot {
	if v, ok := s.slots.Load(symbol); ok {
		return v.(*quoteSlot)
	}
	v, _ := s.slots.LoadOrStore(symbol, &quoteSlot{})
	return v.(*quoteSlot)
}

// Get returns a copy of the stored quote, or nil.
func (s *QuoteStore) Get(symbol string) *domain.Quote {
	v, ok := s.slots.Load(symbol)
	if !ok {
		return nil
	}
	sl := v.(*quoteSlot)
	sl.mu.RLock()
	defer sl.mu.RUnlock()
	return sl.quote.Clone()
}

// Apply stores q if its price differs from the current one.
// It returns the previous quote (nil on first observation) and whether a write happened.
func (s *QuoteStore) Apply(q *domain.Quote) (*domain.Quote, bool) {
	sl := s.slot(q.Symbol)
	sl.mu.Lock()
	defer sl.mu.Unlock()

	prev := sl.quote
	if !prev.PriceChanged(q) {
		return prev.Clone(), false
	}
	sl.quote = q.Clone()
	return prev.Clone(), true
}

// Put stores q unconditionally (warm start from persistence).
func (s *QuoteStore) Put(q *domain.Quote) {
	sl := s.slot(q.Symbol)
	sl.mu.Lock()
	sl.quote = q.Clone()
	sl.mu.Unlock()
}

// GetMany returns copies of the stored quotes for symbols, skipping unknown ones.
func (s *QuoteStore) GetMany(symbols []string) []*domain.Quote {
	result := make([]*domain.Quote, 0, len(symbols))
	for _, sym := range symbols {
		if q := s.Get(sym); q != nil {
			result = append(result, q)
		}
	}
	return result
}

// All returns every stored quote sorted by symbol
func (s *QuoteStore) All() []*domain.Quote {
	var result []*domain.Quote
	s.slots.Range(func(key, value any) bool {
		sl := value.(*quoteSlot)
		sl.mu.RLock()
		if sl.quote != nil {
			result = append(result, sl.quote.Clone())
		}
		sl.mu.RUnlock()
		return true
	})

	// Sort by symbol for consistent ordering
	sort.Slice(result, func(i, j int) bool {
		return result[i].Symbol < result[j].Symbol
	})
	return result
}

// Len returns the number of symbols with a stored quote.
func (s *QuoteStore) Len() int {
	n := 0
	s.slots.Range(func(_, value any) bool {
		sl := value.(*quoteSlot)
		sl.mu.RLock()
		if sl.quote != nil {
			n++
		}
		sl.mu.RUnlock()
		return true
	})
	return n
}
