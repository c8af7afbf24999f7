package quotes

import (
	"context"
	"hash/fnv"
	"math/rand"
	"sync"
	"time"

	"quote_pulse/internal/domain"

	"github.com/shopspring/decimal"
)

var _ domain.QuoteSource = (*Simulator)(nil)

type simState struct {
	rng       *rand.Rand
	prevClose decimal.Decimal
	price     decimal.Decimal
	high      decimal.Decimal
	low       decimal.Decimal
	volume    int64
}

// Simulator produces a seeded random walk per symbol for demo mode.
// The same seed and symbol always yield the same sequence.
type Simulator struct {
	mu       sync.Mutex
	seed     int64
	maxStep  float64 // max relative move per fetch
	holdProb float64 // probability that a fetch returns an unchanged price
	states   map[string]*simState
	now      func() time.Time
}

// NewSimulator creates a simulator. maxStep is the largest relative move per fetch (e.g. 0.01).
func NewSimulator(seed int64, maxStep float64) *Simulator {
	if maxStep <= 0 {
		maxStep = 0.01
	}
	return &Simulator{
		seed:     seed,
		maxStep:  maxStep,
		holdProb: 0.3,
		states:   make(map[string]*simState),
		now:      time.Now,
	}
}

func (s *Simulator) FetchQuote(ctx context.Context, symbol string) (*domain.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.NewSourceError(symbol, err)
	}
	if err := domain.ValidateSymbol(symbol); err != nil {
		return nil, domain.NewFatalSourceError(symbol, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(symbol)
	if st.rng.Float64() >= s.holdProb {
		step := (st.rng.Float64()*2 - 1) * s.maxStep
		next := st.price.Mul(decimal.NewFromFloat(1 + step)).Round(2)
		if next.IsPositive() {
			st.price = next
		}
		if st.price.GreaterThan(st.high) {
			st.high = st.price
		}
		if st.price.LessThan(st.low) {
			st.low = st.price
		}
	}
	st.volume += st.rng.Int63n(5000)

	return &domain.Quote{
		Symbol:        symbol,
		CurrentPrice:  st.price,
		PreviousClose: st.prevClose,
		DayHigh:       st.high,
		DayLow:        st.low,
		Volume:        decimal.NewFromInt(st.volume),
		LastUpdated:   s.now().UTC(),
	}, nil
}

func (s *Simulator) state(symbol string) *simState {
	if st, ok := s.states[symbol]; ok {
		return st
	}

	h := fnv.New64a()
	h.Write([]byte(symbol))
	rng := rand.New(rand.NewSource(s.seed ^ int64(h.Sum64())))

	// Opening price between 10 and 510.
	open := decimal.NewFromFloat(10 + rng.Float64()*500).Round(2)
	st := &simState{
		rng:       rng,
		prevClose: open,
		price:     open,
		high:      open,
		low:       open,
	}
	s.states[symbol] = st
	return st
}
