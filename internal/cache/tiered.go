package cache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// SharedStore is a second cache tier shared between instances
type SharedStore interface {
	Get(ctx context.Context, namespace, key string, dest interface{}) (bool, error)
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, namespace, key string) error
}

// Tiered checks an in-memory TTL cache first (tier 1) and an optional shared
// store second (tier 2). Shared-store failures degrade to memory-only caching.
type Tiered[V any] struct {
	memory *TTLCache[string, V]
	shared SharedStore
	ttl    time.Duration
	logger *logrus.Logger
}

// NewTiered creates a two-tier cache. shared may be nil.
func NewTiered[V any](memory *TTLCache[string, V], shared SharedStore, ttl time.Duration, logger *logrus.Logger) *Tiered[V] {
	return &Tiered[V]{
		memory: memory,
		shared: shared,
		ttl:    ttl,
		logger: logger,
	}
}

// Get returns the cached value for key, promoting shared-tier hits into memory
func (t *Tiered[V]) Get(ctx context.Context, key string) (V, bool) {
	if v, ok := t.memory.Get(key); ok {
		t.logger.WithFields(logrus.Fields{
			"cache":      t.memory.Name(),
			"cache_tier": "memory",
		}).Debug("Cache hit in memory")
		return v, true
	}

	var zero V
	if t.shared == nil {
		return zero, false
	}

	var v V
	found, err := t.shared.Get(ctx, t.memory.Name(), key, &v)
	if err != nil {
		t.logger.WithError(err).WithField("cache", t.memory.Name()).Warn("Shared cache read failed")
		return zero, false
	}
	if !found {
		return zero, false
	}

	t.logger.WithFields(logrus.Fields{
		"cache":      t.memory.Name(),
		"cache_tier": "redis",
	}).Debug("Cache hit in Redis")

	t.memory.Set(key, v, t.ttl)
	return v, true
}

// Set stores value in both tiers
func (t *Tiered[V]) Set(ctx context.Context, key string, value V) {
	t.memory.Set(key, value, t.ttl)

	if t.shared == nil {
		return
	}
	if err := t.shared.Set(ctx, t.memory.Name(), key, value, t.ttl); err != nil {
		t.logger.WithError(err).WithField("cache", t.memory.Name()).Warn("Shared cache write failed")
	}
}

// Delete removes key from both tiers
func (t *Tiered[V]) Delete(ctx context.Context, key string) {
	t.memory.Delete(key)

	if t.shared == nil {
		return
	}
	if err := t.shared.Delete(ctx, t.memory.Name(), key); err != nil {
		t.logger.WithError(err).WithField("cache", t.memory.Name()).Warn("Shared cache delete failed")
	}
}

// Memory exposes tier 1 for sweeping and stats
func (t *Tiered[V]) Memory() *TTLCache[string, V] {
	return t.memory
}
