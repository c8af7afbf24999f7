package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"quote_pulse/internal/domain"
)

type fakeWatchlistRepo struct {
	mu    sync.Mutex
	items map[string]map[string]bool // user -> symbols
	loads int
}

func newFakeWatchlistRepo() *fakeWatchlistRepo {
	return &fakeWatchlistRepo{items: map[string]map[string]bool{}}
}

func (r *fakeWatchlistRepo) LoadActiveSymbols(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := map[string]bool{}
	for _, syms := range r.items {
		for s := range syms {
			set[s] = true
		}
	}
	return sortedKeys(set), nil
}

func (r *fakeWatchlistRepo) LoadUserWatchlist(_ context.Context, userID string) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	return sortedKeys(r.items[userID]), nil
}

func (r *fakeWatchlistRepo) LoadPopularSymbols(_ context.Context, threshold, limit int) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loads++
	counts := map[string]int{}
	for _, syms := range r.items {
		for s := range syms {
			counts[s]++
		}
	}
	var out []string
	for s, n := range counts {
		if n >= threshold {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if counts[out[i]] != counts[out[j]] {
			return counts[out[i]] > counts[out[j]]
		}
		return out[i] < out[j]
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeWatchlistRepo) AddWatchlistItem(_ context.Context, userID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.items[userID] == nil {
		r.items[userID] = map[string]bool{}
	}
	r.items[userID][symbol] = true
	return nil
}

func (r *fakeWatchlistRepo) RemoveWatchlistItem(_ context.Context, userID, symbol string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.items[userID][symbol] {
		return domain.ErrNotFound
	}
	delete(r.items[userID], symbol)
	return nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type fakeAlertRepo struct {
	mu     sync.Mutex
	alerts map[string]*domain.Alert
}

func newFakeAlertRepo() *fakeAlertRepo {
	return &fakeAlertRepo{alerts: map[string]*domain.Alert{}}
}

func (r *fakeAlertRepo) LoadActiveAlerts(context.Context, string) ([]*domain.Alert, error) {
	return nil, nil
}

func (r *fakeAlertRepo) SaveAlert(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *a
	r.alerts[a.ID] = &c
	return nil
}

func (r *fakeAlertRepo) MarkAlertTriggered(_ context.Context, id string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[id]
	if !ok || a.IsTriggered {
		return false, nil
	}
	a.MarkTriggered(at)
	return true, nil
}

func (r *fakeAlertRepo) ListAlerts(_ context.Context, userID string) ([]*domain.Alert, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Alert
	for _, a := range r.alerts {
		if a.UserID == userID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAlertRepo) DeleteAlert(_ context.Context, userID, alertID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.alerts[alertID]
	if !ok || a.UserID != userID {
		return domain.ErrNotFound
	}
	delete(r.alerts, alertID)
	return nil
}

type fakeHistory struct {
	mu     sync.Mutex
	ticks  []domain.PriceTick
	loads  int
	failed bool
}

func (h *fakeHistory) AppendTick(_ context.Context, t domain.PriceTick) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failed {
		return errors.New("disk full")
	}
	h.ticks = append(h.ticks, t)
	return nil
}

func (h *fakeHistory) LoadHistory(_ context.Context, symbol string, from, to time.Time) ([]domain.PriceTick, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loads++
	var out []domain.PriceTick
	for _, t := range h.ticks {
		if t.Symbol == symbol && !t.At.Before(from) && !t.At.After(to) {
			out = append(out, t)
		}
	}
	return out, nil
}

func (h *fakeHistory) PruneHistory(context.Context, time.Time) (int64, error) {
	return 0, nil
}

type fakeSnapshots struct {
	quotes map[string]*domain.Quote
	saves  int
}

func (s *fakeSnapshots) GetQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	if q, ok := s.quotes[symbol]; ok {
		return q.Clone(), nil
	}
	return nil, domain.ErrNotFound
}

func (s *fakeSnapshots) SaveQuote(_ context.Context, q *domain.Quote) error {
	s.saves++
	s.quotes[q.Symbol] = q.Clone()
	return nil
}

func (s *fakeSnapshots) LoadQuotes(context.Context) ([]*domain.Quote, error) {
	var out []*domain.Quote
	for _, q := range s.quotes {
		out = append(out, q.Clone())
	}
	return out, nil
}

type countingSource struct {
	calls int
	err   error
}

func (s *countingSource) FetchQuote(_ context.Context, symbol string) (*domain.Quote, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return quote(symbol, 42), nil
}
