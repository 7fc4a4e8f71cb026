// Package cache implements the Cache component of spec §4.2: a per-entry
// TTL key/value store with single-flight dedup on miss.
//
// Grounded on the teacher's pkg/cache/sharded_cache.go (sharded map +
// per-entry age tracking), enriched with golang.org/x/sync/singleflight
// for the "exactly one fetcher per key" guarantee the teacher's cache
// never needed (it only ever tracked a price, never fetched on miss).
package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

const numShards = 16

// Entry is a cached value plus its fetch time and TTL (spec's CacheEntry).
type Entry struct {
	Value     any
	FetchedAt time.Time
	TTL       time.Duration
}

func (e Entry) expired(now time.Time) bool {
	return e.TTL > 0 && now.Sub(e.FetchedAt) >= e.TTL
}

type shard struct {
	mu    sync.RWMutex
	items map[string]Entry
}

// Cache is a sharded, TTL'd key/value store with single-flight fetch.
type Cache struct {
	shards [numShards]*shard
	group  singleflight.Group
}

// New builds an empty Cache.
func New() *Cache {
	c := &Cache{}
	for i := range c.shards {
		c.shards[i] = &shard{items: make(map[string]Entry)}
	}
	return c
}

func (c *Cache) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return c.shards[h.Sum32()%numShards]
}

// Get returns the cached value for key if present and not expired.
func (c *Cache) Get(key string) (any, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if !ok || e.expired(time.Now()) {
		return nil, false
	}
	return e.Value, true
}

// Set stores value under key with the given TTL.
func (c *Cache) Set(key string, value any, ttl time.Duration) {
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = Entry{Value: value, FetchedAt: time.Now(), TTL: ttl}
	s.mu.Unlock()
}

// Invalidate removes every key with the given prefix.
func (c *Cache) Invalidate(prefix string) {
	for _, s := range c.shards {
		s.mu.Lock()
		for k := range s.items {
			if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}

// Fetcher produces a fresh value and its TTL for a cache miss.
type Fetcher func(ctx context.Context) (value any, ttl time.Duration, err error)

// GetOrFetch guarantees exactly one in-flight fetcher per key: concurrent
// callers racing on a missing key block on the same call and receive the
// same result (spec §4.2, §8 property 1). A failed fetch does not poison
// the key — the next caller retries (spec §4.2).
func (c *Cache) GetOrFetch(ctx context.Context, key string, fetch Fetcher) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.group.Do(key, func() (any, error) {
		// Re-check under single-flight: another caller may have populated
		// the entry between our Get above and acquiring the flight group.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		val, ttl, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		c.Set(key, val, ttl)
		return val, nil
	})
	if err != nil {
		return nil, err
	}
	return v, nil
}

// Len returns the total number of live entries, for diagnostics.
func (c *Cache) Len() int {
	total := 0
	now := time.Now()
	for _, s := range c.shards {
		s.mu.RLock()
		for _, e := range s.items {
			if !e.expired(now) {
				total++
			}
		}
		s.mu.RUnlock()
	}
	return total
}

// Stats describes cache occupancy, for the control API (spec §6).
type Stats struct {
	TotalItems int `json:"total_items"`
}

// Stats returns a snapshot of cache occupancy.
func (c *Cache) Stats() Stats {
	return Stats{TotalItems: c.Len()}
}
