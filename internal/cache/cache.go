// Package cache provides a TTL key/value cache with in-memory and Redis backends.
// A backend failure never surfaces to callers: reads degrade to a miss and writes are dropped.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"
)

// Default TTL classes.
const (
	QuoteTTL     = 5 * time.Minute
	PopularTTL   = 30 * time.Second
	WatchlistTTL = 2 * time.Minute
	HistoryTTL   = 10 * time.Minute
)

// KeyPopular holds the cached popular symbol list.
const KeyPopular = "popular"

// Cache is a concurrent-safe TTL key/value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration)
	Remove(ctx context.Context, keys ...string)
}

// QuoteKey returns the cache key for a symbol's quote.
func QuoteKey(symbol string) string {
	return "quote:" + symbol
}

// WatchlistKey returns the cache key for a user's watchlist.
func WatchlistKey(userID string) string {
	return "watchlist:" + userID
}

// HistoryKey returns the cache key for a symbol's history over [from, to] at
// the given history version.
func HistoryKey(symbol, version string, from, to time.Time) string {
	return "history:" + symbol + ":" + version + ":" + strconv.FormatInt(from.Unix(), 10) + ":" + strconv.FormatInt(to.Unix(), 10)
}

// HistoryVersionKey holds the current history version of a symbol. Bumping it
// orphans every cached range of that symbol at once.
func HistoryVersionKey(symbol string) string {
	return "history-version:" + symbol
}

// Remember returns the cached value for key, or calls load and caches its result for ttl.
// Load errors are returned as-is and never cached.
func Remember[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if data, ok := c.Get(ctx, key); ok {
		var v T
		if err := json.Unmarshal(data, &v); err == nil {
			return v, nil
		}
		slog.Warn("Discarding undecodable cache entry", slog.String("key", key))
	}

	v, err := load(ctx)
	if err != nil {
		return v, err
	}

	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("Failed to encode cache entry", slog.String("key", key), slog.Any("error", err))
		return v, nil
	}
	c.Set(ctx, key, data, ttl)
	return v, nil
}

// Observer receives hit/miss notifications.
type Observer interface {
	RecordCacheHit()
	RecordCacheMiss()
}

type instrumented struct {
	Cache
	obs Observer
}

// Instrument wraps c so that every Get is reported to obs.
func Instrument(c Cache, obs Observer) Cache {
	if obs == nil {
		return c
	}
	return &instrumented{Cache: c, obs: obs}
}

func (i *instrumented) Get(ctx context.Context, key string) ([]byte, bool) {
	v, ok := i.Cache.Get(ctx, key)
	if ok {
		i.obs.RecordCacheHit()
	} else {
		i.obs.RecordCacheMiss()
	}
	return v, ok
}
