// Package cache provides the expiring key/value stores shared by the resolver
// and the interaction engine: a bounded in-memory TTL cache and an optional
// Redis tier for sharing entries between instances.
package cache

import (
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured
const DefaultMaxEntries = 5000

// Stats tracks cache performance
type Stats struct {
	Hits      int64 `json:"hits"`
	Misses    int64 `json:"misses"`
	Expired   int64 `json:"expired"`
	Evictions int64 `json:"evictions"`
	Size      int   `json:"size"`
}

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

func (e entry[V]) isExpired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// TTLCache is a thread-safe, size-bounded cache whose entries expire after a
// per-entry TTL. An entry is never returned at or past its expiry.
type TTLCache[K comparable, V any] struct {
	name       string
	lru        *lru.Cache[K, entry[V]]
	defaultTTL time.Duration
	now        func() time.Time

	mu    sync.Mutex
	stats Stats
}

// Option customizes a TTLCache
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces time.Now, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// NewTTLCache creates a cache holding at most maxEntries entries
func NewTTLCache[K comparable, V any](name string, maxEntries int, defaultTTL time.Duration, opts ...Option) (*TTLCache[K, V], error) {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	if defaultTTL <= 0 {
		return nil, fmt.Errorf("cache %s: default TTL must be positive", name)
	}

	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	c := &TTLCache[K, V]{
		name:       name,
		defaultTTL: defaultTTL,
		now:        o.now,
	}

	inner, err := lru.New[K, entry[V]](maxEntries)
	if err != nil {
		return nil, fmt.Errorf("failed to create %s cache: %w", name, err)
	}
	c.lru = inner

	return c, nil
}

// Name returns the cache name used in logs and metrics
func (c *TTLCache[K, V]) Name() string {
	return c.name
}

// Get returns the value for key. Expired entries are evicted and reported as a miss.
func (c *TTLCache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero V
	e, ok := c.lru.Get(key)
	if !ok {
		c.stats.Misses++
		return zero, false
	}
	if e.isExpired(c.now()) {
		c.lru.Remove(key)
		c.stats.Expired++
		c.stats.Misses++
		return zero, false
	}

	c.stats.Hits++
	return e.value, true
}

// Set stores value under key. A non-positive ttl uses the cache default.
func (c *TTLCache[K, V]) Set(key K, value V, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if evicted := c.lru.Add(key, entry[V]{value: value, expiresAt: c.now().Add(ttl)}); evicted {
		c.stats.Evictions++
	}
}

// Delete removes key if present
func (c *TTLCache[K, V]) Delete(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Remove(key)
}

// Sweep evicts every expired entry and returns how many were removed
func (c *TTLCache[K, V]) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for _, key := range c.lru.Keys() {
		if e, ok := c.lru.Peek(key); ok && e.isExpired(now) {
			c.lru.Remove(key)
			removed++
		}
	}
	c.stats.Expired += int64(removed)
	return removed
}

// Len returns the number of stored entries, including not-yet-swept expired ones
func (c *TTLCache[K, V]) Len() int {
	return c.lru.Len()
}

// Purge removes every entry
func (c *TTLCache[K, V]) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.lru.Purge()
}

// GetStats returns a snapshot of cache statistics
func (c *TTLCache[K, V]) GetStats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.lru.Len()
	return stats
}
