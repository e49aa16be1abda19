// Package devicecache memoizes device read calls for a bounded time.
package devicecache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jmehdipour/isp-billing/internal/metrics"
)

const DefaultTTL = 5 * time.Minute

// Store holds encoded entries and a per-device generation counter.
// Implementations must not return an entry past its TTL.
type Store interface {
	// Get returns deviceID's current generation along with the entry under key, if any.
	Get(ctx context.Context, deviceID, key string) (gen uint64, val []byte, ok bool, err error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Generation(ctx context.Context, deviceID string) (uint64, error)
	// Invalidate advances deviceID's generation, then drops its entries.
	Invalidate(ctx context.Context, deviceID string) error
}

// Cache is a read-through cache keyed by device identity and operation.
// Concurrent misses on the same key may fetch twice; device reads are idempotent.
//
// Every entry is tagged with the generation its fetch started under. Entries from an
// older generation are treated as misses, so a read that overlapped an invalidation
// cannot put pre-mutation data back in the cache.
type Cache struct {
	store Store
	ttl   time.Duration
}

func New(store Store, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{store: store, ttl: ttl}
}

func (c *Cache) TTL() time.Duration { return c.ttl }

func key(deviceID, op string) string { return deviceID + ":" + op }

type envelope struct {
	Gen uint64          `json:"gen"`
	Val json.RawMessage `json:"val"`
}

// Invalidate retires every entry of deviceID. It returns only after the store confirmed it.
func (c *Cache) Invalidate(ctx context.Context, deviceID string) error {
	metrics.DeviceCacheTotal.WithLabelValues("invalidate").Inc()
	return c.store.Invalidate(ctx, deviceID)
}

// Generation reports how many invalidations deviceID has seen. A value read before a
// cached read is unchanged afterwards only if no mutation landed in between.
func (c *Cache) Generation(ctx context.Context, deviceID string) (uint64, error) {
	return c.store.Generation(ctx, deviceID)
}

// GetOrFetch returns the cached value for (deviceID, op) or calls fetch and stores its result.
// Fetch errors are never cached. A failing store degrades to a plain fetch.
func GetOrFetch[T any](ctx context.Context, c *Cache, deviceID, op string, fetch func(context.Context) (T, error)) (T, error) {
	k := key(deviceID, op)

	gen, raw, ok, err := c.store.Get(ctx, deviceID, k)
	if err != nil {
		metrics.DeviceCacheTotal.WithLabelValues("miss").Inc()
		return fetch(ctx)
	}
	if ok {
		var e envelope
		if err := json.Unmarshal(raw, &e); err == nil && e.Gen == gen {
			var v T
			if err := json.Unmarshal(e.Val, &v); err == nil {
				metrics.DeviceCacheTotal.WithLabelValues("hit").Inc()
				return v, nil
			}
		}
	}
	metrics.DeviceCacheTotal.WithLabelValues("miss").Inc()

	v, err := fetch(ctx)
	if err != nil {
		return v, err
	}

	if val, err := json.Marshal(v); err == nil {
		if raw, err := json.Marshal(envelope{Gen: gen, Val: val}); err == nil {
			_ = c.store.Set(ctx, k, raw, c.ttl)
		}
	}
	return v, nil
}
