// Package scheduler refreshes quotes for active symbols on two independent cadences
// and raises price-change events for every observed delta.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"quote_pulse/internal/domain"
	"quote_pulse/internal/event"
)

// Cadence selects which symbol set a cycle refreshes.
type Cadence int

const (
	// Fast refreshes symbols with at least one live subscriber.
	Fast Cadence = iota
	// Slow refreshes persisted active symbols not covered by Fast, then pushes the popular list.
	Slow
)

func (c Cadence) String() string {
	switch c {
	case Fast:
		return "fast"
	case Slow:
		return "slow"
	default:
		return fmt.Sprintf("cadence(%d)", int(c))
	}
}

// Config controls cadence timing.
type Config struct {
	FastInterval     time.Duration
	SlowInterval     time.Duration
	FetchTimeout     time.Duration
	PanicBackoff     time.Duration
	PopularThreshold int
	PopularLimit     int
}

// DefaultConfig returns the standard 5s/15s cadences.
func DefaultConfig() Config {
	return Config{
		FastInterval:     5 * time.Second,
		SlowInterval:     15 * time.Second,
		FetchTimeout:     4 * time.Second,
		PanicBackoff:     2 * time.Second,
		PopularThreshold: 2,
		PopularLimit:     20,
	}
}

// QuoteStore is the compare-and-set view of the quote store.
type QuoteStore interface {
	Apply(q *domain.Quote) (prev *domain.Quote, changed bool)
	GetMany(symbols []string) []*domain.Quote
}

// WatchedSymbols lists symbols with live subscribers.
type WatchedSymbols interface {
	WatchedSymbols() []string
}

// SymbolRepository supplies the persisted active and popular symbol sets.
type SymbolRepository interface {
	LoadActiveSymbols(ctx context.Context) ([]string, error)
	LoadPopularSymbols(ctx context.Context, threshold, limit int) ([]string, error)
}

// PopularPublisher pushes the popular aggregate.
type PopularPublisher interface {
	PublishPopular(ctx context.Context, quotes []*domain.Quote) int
}

// Observer receives scheduler counters.
type Observer interface {
	RecordCycle(d time.Duration)
	RecordQuoteFetched()
	RecordFetchError()
	RecordPriceChange()
	RecordPanic()
}

type nopObserver struct{}

func (nopObserver) RecordCycle(time.Duration) {}
func (nopObserver) RecordQuoteFetched()       {}
func (nopObserver) RecordFetchError()         {}
func (nopObserver) RecordPriceChange()        {}
func (nopObserver) RecordPanic()              {}

// CycleResult summarizes one cycle.
type CycleResult struct {
	Cadence Cadence
	Symbols int
	Fetched int
	Failed  int
	Changed int
	Popular int
}

// Scheduler runs the fast and slow refresh loops.
type Scheduler struct {
	cfg        Config
	source     domain.QuoteSource
	store      QuoteStore
	watched    WatchedSymbols
	repo       SymbolRepository
	dispatcher *event.Dispatcher
	popular    PopularPublisher
	obs        Observer
	now        func() time.Time

	locks sync.Map // symbol -> *sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Deps groups the collaborators of a Scheduler.
type Deps struct {
	Source     domain.QuoteSource
	Store      QuoteStore
	Watched    WatchedSymbols
	Repo       SymbolRepository
	Dispatcher *event.Dispatcher
	Popular    PopularPublisher
	Observer   Observer
}

// New creates a scheduler. Zero config fields take their defaults.
func New(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.FastInterval <= 0 {
		cfg.FastInterval = def.FastInterval
	}
	if cfg.SlowInterval <= 0 {
		cfg.SlowInterval = def.SlowInterval
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.PanicBackoff <= 0 {
		cfg.PanicBackoff = def.PanicBackoff
	}
	if cfg.PopularThreshold <= 0 {
		cfg.PopularThreshold = def.PopularThreshold
	}
	if cfg.PopularLimit <= 0 {
		cfg.PopularLimit = def.PopularLimit
	}

	obs := deps.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	dispatcher := deps.Dispatcher
	if dispatcher == nil {
		dispatcher = event.NewDispatcher()
	}

	return &Scheduler{
		cfg:        cfg,
		source:     deps.Source,
		store:      deps.Store,
		watched:    deps.Watched,
		repo:       deps.Repo,
		dispatcher: dispatcher,
		popular:    deps.Popular,
		obs:        obs,
		now:        time.Now,
	}
}

// Start launches both cadence loops. A second Start without Stop returns ErrAlreadyRunning.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return domain.ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	s.wg.Add(2)
	go s.loop(ctx, Fast, s.cfg.FastInterval)
	go s.loop(ctx, Slow, s.cfg.SlowInterval)

	slog.Info("Scheduler started",
		slog.Duration("fast_interval", s.cfg.FastInterval),
		slog.Duration("slow_interval", s.cfg.SlowInterval),
	)
	return nil
}

// Stop cancels both loops and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.mu.Unlock()
	slog.Info("Scheduler stopped")
}

// Running reports whether the loops are active.
func (s *Scheduler) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// loop paces itself: the next cycle starts interval after the previous one started,
// or immediately if the cycle overran.
func (s *Scheduler) loop(ctx context.Context, c Cadence, interval time.Duration) {
	defer s.wg.Done()

	for {
		started := time.Now()
		wait := s.cfg.PanicBackoff
		if s.safeCycle(ctx, c) {
			wait = interval - time.Since(started)
			if wait < 0 {
				wait = 0
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			slog.Info("Scheduler loop stopped", slog.String("cadence", c.String()))
			return
		case <-timer.C:
		}
	}
}

// safeCycle runs one cycle and reports false if it panicked.
func (s *Scheduler) safeCycle(ctx context.Context, c Cadence) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			s.obs.RecordPanic()
			slog.Error("Scheduler cycle panic recovered",
				slog.String("cadence", c.String()),
				slog.Any("panic", r),
			)
			ok = false
		}
	}()

	if ctx.Err() != nil {
		return true
	}
	if _, err := s.RunCycle(ctx, c); err != nil {
		slog.Warn("Scheduler cycle incomplete", slog.String("cadence", c.String()), slog.Any("error", err))
	}
	return true
}

// RunCycle performs one refresh pass of the given cadence.
// Per-symbol failures are counted in the result and never abort the pass.
func (s *Scheduler) RunCycle(ctx context.Context, c Cadence) (CycleResult, error) {
	started := time.Now()
	res := CycleResult{Cadence: c}
	defer func() {
		s.obs.RecordCycle(time.Since(started))
	}()

	var (
		symbols []string
		err     error
	)
	switch c {
	case Fast:
		symbols = s.fastSymbols()
	case Slow:
		symbols, err = s.slowSymbols(ctx)
	default:
		return res, fmt.Errorf("unknown cadence %d", int(c))
	}
	res.Symbols = len(symbols)

	for _, sym := range symbols {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		changed, ferr := s.refresh(ctx, sym)
		if ferr != nil {
			res.Failed++
			continue
		}
		res.Fetched++
		if changed {
			res.Changed++
		}
	}

	if c == Slow {
		res.Popular = s.publishPopular(ctx)
	}

	slog.Debug("Scheduler cycle finished",
		slog.String("cadence", c.String()),
		slog.Int("symbols", res.Symbols),
		slog.Int("changed", res.Changed),
		slog.Int("failed", res.Failed),
		slog.Duration("elapsed", time.Since(started)),
	)
	return res, err
}

func (s *Scheduler) fastSymbols() []string {
	if s.watched == nil {
		return nil
	}
	return s.watched.WatchedSymbols()
}

// slowSymbols returns persisted active symbols minus those the fast cadence covers.
func (s *Scheduler) slowSymbols(ctx context.Context) ([]string, error) {
	if s.repo == nil {
		return nil, nil
	}
	active, err := s.repo.LoadActiveSymbols(ctx)
	if err != nil {
		return nil, fmt.Errorf("load active symbols: %w", err)
	}

	fast := make(map[string]struct{})
	for _, sym := range s.fastSymbols() {
		fast[sym] = struct{}{}
	}
	out := make([]string, 0, len(active))
	for _, sym := range active {
		if _, ok := fast[sym]; !ok {
			out = append(out, sym)
		}
	}
	return out, nil
}

// refresh fetches one symbol and dispatches a PriceChanged event if the price moved.
// Fetch, store write and dispatch hold the symbol's lock, so the fast and slow
// cadences never deliver one symbol's events out of order.
func (s *Scheduler) refresh(ctx context.Context, symbol string) (bool, error) {
	mu := s.lock(symbol)
	mu.Lock()
	defer mu.Unlock()

	fctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	q, err := s.source.FetchQuote(fctx, symbol)
	cancel()
	if err != nil {
		s.obs.RecordFetchError()
		slog.Warn("Quote fetch failed",
			slog.String("symbol", symbol),
			slog.Bool("retriable", domain.IsRetriable(err)),
			slog.Any("error", err),
		)
		return false, err
	}
	if q == nil {
		s.obs.RecordFetchError()
		return false, domain.NewSourceError(symbol, domain.ErrQuoteUnavailable)
	}
	s.obs.RecordQuoteFetched()

	q.Symbol = symbol
	if q.LastUpdated.IsZero() {
		q.LastUpdated = s.now()
	}

	prev, changed := s.store.Apply(q)
	if !changed {
		return false, nil
	}
	s.obs.RecordPriceChange()

	ev := event.AcquirePriceChanged()
	ev.Symbol = symbol
	ev.NewPrice = q.CurrentPrice
	ev.Quote = q
	ev.At = q.LastUpdated
	if prev != nil {
		ev.OldPrice = prev.CurrentPrice
	}
	s.dispatcher.Dispatch(ctx, ev)
	event.ReleasePriceChanged(ev)
	return true, nil
}

func (s *Scheduler) lock(symbol string) *sync.Mutex {
	if v, ok := s.locks.Load(symbol); ok {
		return v.(*sync.Mutex)
	}
	v, _ := s.locks.LoadOrStore(symbol, &sync.Mutex{})
	return v.(*sync.Mutex)
}

func (s *Scheduler) publishPopular(ctx context.Context) int {
	if s.repo == nil || s.popular == nil {
		return 0
	}
	symbols, err := s.repo.LoadPopularSymbols(ctx, s.cfg.PopularThreshold, s.cfg.PopularLimit)
	if err != nil {
		slog.Warn("Failed to load popular symbols", slog.Any("error", err))
		return 0
	}
	if len(symbols) == 0 {
		return 0
	}
	return s.popular.PublishPopular(ctx, s.store.GetMany(symbols))
}
