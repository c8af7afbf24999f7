package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{
		Addr:        mr.Addr(),
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedis(client, "qp:")
	t.Cleanup(func() { _ = c.Close() })
	return c, mr
}

func TestRedis_SetGetRemove(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, QuoteKey("AAPL"), []byte(`{"symbol":"AAPL"}`), QuoteTTL)

	if !mr.Exists("qp:quote:AAPL") {
		t.Fatal("Expected prefixed key in redis")
	}
	got, ok := c.Get(ctx, QuoteKey("AAPL"))
	if !ok || string(got) != `{"symbol":"AAPL"}` {
		t.Fatalf("Unexpected get: %q %v", got, ok)
	}

	c.Remove(ctx, QuoteKey("AAPL"), KeyPopular)
	if _, ok := c.Get(ctx, QuoteKey("AAPL")); ok {
		t.Error("Expected miss after remove")
	}
}

func TestRedis_TTL(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, KeyPopular, []byte("[]"), PopularTTL)
	if ttl := mr.TTL("qp:popular"); ttl != PopularTTL {
		t.Errorf("Expected TTL %v, got %v", PopularTTL, ttl)
	}

	mr.FastForward(PopularTTL + time.Second)
	if _, ok := c.Get(ctx, KeyPopular); ok {
		t.Error("Expected miss after TTL elapsed")
	}
}

func TestRedis_BackendErrorIsMiss(t *testing.T) {
	c, mr := setupRedis(t)
	ctx := context.Background()

	c.Set(ctx, "k", []byte("v"), time.Minute)
	mr.Close()

	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("Unavailable backend must read as a miss")
	}
	// Must not panic or block.
	c.Set(ctx, "k", []byte("v2"), time.Minute)
	c.Remove(ctx, "k")
}

func TestRedis_RememberUsesBackend(t *testing.T) {
	c, _ := setupRedis(t)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (map[string]int, error) {
		calls++
		return map[string]int{"AAPL": 3}, nil
	}
	for i := 0; i < 2; i++ {
		got, err := Remember(ctx, c, WatchlistKey("u1"), WatchlistTTL, load)
		if err != nil || got["AAPL"] != 3 {
			t.Fatalf("Unexpected result %v %v", got, err)
		}
	}
	if calls != 1 {
		t.Errorf("Expected one load, got %d", calls)
	}
}
