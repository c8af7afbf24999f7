package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 2, 9, 30, 0, 0, time.UTC)}
}

func TestMemory_TTLExpiry(t *testing.T) {
	clk := newClock()
	c := NewMemoryWithClock(clk.Now)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), 10*time.Second)

	clk.Advance(9 * time.Second)
	if v, ok := c.Get(ctx, "k"); !ok || string(v) != "v" {
		t.Fatalf("Expected hit before expiry, got %q %v", v, ok)
	}

	clk.Advance(1 * time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Expected miss at expiry")
	}
	if c.Len() != 0 {
		t.Errorf("Expired entry should be dropped on read, len=%d", c.Len())
	}
}

func TestMemory_RemoveMultiple(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	c.Set(ctx, "a", []byte("1"), time.Minute)
	c.Set(ctx, "b", []byte("2"), time.Minute)
	c.Set(ctx, "c", []byte("3"), time.Minute)

	c.Remove(ctx, "a", "b", "missing")

	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("a should be removed")
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("b should be removed")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Error("c should remain")
	}
}

func TestMemory_ValueIsCopied(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()

	buf := []byte("abc")
	c.Set(ctx, "k", buf, time.Minute)
	buf[0] = 'x'

	got, _ := c.Get(ctx, "k")
	if string(got) != "abc" {
		t.Errorf("Stored value mutated through caller slice: %q", got)
	}
	got[1] = 'y'
	again, _ := c.Get(ctx, "k")
	if string(again) != "abc" {
		t.Errorf("Stored value mutated through returned slice: %q", again)
	}
}

func TestMemory_Sweep(t *testing.T) {
	clk := newClock()
	c := NewMemoryWithClock(clk.Now)
	ctx := context.Background()

	c.Set(ctx, "short", []byte("1"), time.Second)
	c.Set(ctx, "long", []byte("2"), time.Hour)
	c.Set(ctx, "zero", []byte("3"), 0)

	clk.Advance(2 * time.Second)
	if n := c.Sweep(); n != 1 {
		t.Errorf("Expected 1 swept entry, got %d", n)
	}
	if c.Len() != 1 {
		t.Errorf("Expected 1 remaining entry, got %d", c.Len())
	}
}

func TestRemember_ReadThrough(t *testing.T) {
	clk := newClock()
	c := NewMemoryWithClock(clk.Now)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) ([]string, error) {
		calls++
		return []string{"AAPL", "MSFT"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Remember(ctx, c, KeyPopular, PopularTTL, load)
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if len(got) != 2 || got[0] != "AAPL" {
			t.Fatalf("Unexpected value: %v", got)
		}
	}
	if calls != 1 {
		t.Errorf("Expected 1 load, got %d", calls)
	}

	clk.Advance(PopularTTL)
	if _, err := Remember(ctx, c, KeyPopular, PopularTTL, load); err != nil {
		t.Fatal(err)
	}
	if calls != 2 {
		t.Errorf("Expected reload after expiry, got %d loads", calls)
	}
}

func TestRemember_ErrorNotCached(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	boom := errors.New("db down")

	_, err := Remember(ctx, c, "k", time.Minute, func(context.Context) (int, error) {
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("Expected load error, got %v", err)
	}
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Failed load must not populate the cache")
	}
}

func TestRemember_CorruptEntryReloads(t *testing.T) {
	c := NewMemory()
	ctx := context.Background()
	c.Set(ctx, "k", []byte("{not json"), time.Minute)

	got, err := Remember(ctx, c, "k", time.Minute, func(context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || got != 42 {
		t.Fatalf("Expected reload to 42, got %d %v", got, err)
	}
	if v, _ := c.Get(ctx, "k"); string(v) != "42" {
		t.Errorf("Expected entry rewritten, got %q", v)
	}
}

type countingObserver struct {
	hits, misses int
}

func (o *countingObserver) RecordCacheHit()  { o.hits++ }
func (o *countingObserver) RecordCacheMiss() { o.misses++ }

func TestInstrument(t *testing.T) {
	obs := &countingObserver{}
	c := Instrument(NewMemory(), obs)
	ctx := context.Background()

	c.Get(ctx, "k")
	c.Set(ctx, "k", []byte("1"), time.Minute)
	c.Get(ctx, "k")
	c.Get(ctx, "k")

	if obs.hits != 2 || obs.misses != 1 {
		t.Errorf("Expected 2 hits / 1 miss, got %d / %d", obs.hits, obs.misses)
	}
}

func TestKeys(t *testing.T) {
	from := time.Unix(100, 0)
	to := time.Unix(200, 0)

	if got := QuoteKey("AAPL"); got != "quote:AAPL" {
		t.Errorf("QuoteKey = %s", got)
	}
	if got := WatchlistKey("u1"); got != "watchlist:u1" {
		t.Errorf("WatchlistKey = %s", got)
	}
	if got := HistoryKey("AAPL", "0", from, to); got != "history:AAPL:0:100:200" {
		t.Errorf("HistoryKey = %s", got)
	}
	if got := HistoryVersionKey("AAPL"); got != "history-version:AAPL" {
		t.Errorf("HistoryVersionKey = %s", got)
	}
}
