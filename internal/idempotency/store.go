// Package idempotency collapses duplicate concurrent or retried operations:
// operations with the same key issued within the TTL window resolve to the
// same result without a second upstream call.
//
// Records live in process memory only. Separate instances do not see each
// other's records.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

// DefaultTTL is how long a processed result is remembered
const DefaultTTL = time.Hour

// Record is a remembered operation result
type Record[V any] struct {
	Key        string
	Result     V
	RecordedAt time.Time
}

// Config configures a Store
type Config[V any] struct {
	TTL time.Duration
	// WorkTimeout bounds the shared work started by Do, independent of any caller
	WorkTimeout time.Duration
	Now         func() time.Time
	// Keep reports whether a successful result should be recorded. Results it
	// rejects are still shared with concurrent callers but not replayed later.
	Keep func(result V) bool
}

// Store remembers operation results by idempotency key
type Store[V any] struct {
	ttl         time.Duration
	workTimeout time.Duration
	now         func() time.Time
	keep        func(V) bool
	logger      *logrus.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	records map[string]Record[V]
}

// NewStore creates an idempotency store
func NewStore[V any](config Config[V], logger *logrus.Logger) *Store[V] {
	if config.TTL <= 0 {
		config.TTL = DefaultTTL
	}
	if config.WorkTimeout <= 0 {
		config.WorkTimeout = 30 * time.Second
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	return &Store[V]{
		ttl:         config.TTL,
		workTimeout: config.WorkTimeout,
		now:         config.Now,
		keep:        config.Keep,
		logger:      logger,
		records:     make(map[string]Record[V]),
	}
}

// Key derives a deterministic key from an operation name and its parameters.
// Map keys are encoded in sorted order, so parameter order never matters;
// callers must not include timestamps or request IDs in params.
func Key(operation string, params map[string]interface{}) string {
	paramBytes, _ := json.Marshal(params)
	hash := sha256.Sum256(append([]byte(operation+"::"), paramBytes...))
	return hex.EncodeToString(hash[:])
}

// IsProcessed reports whether key has an unexpired record
func (s *Store[V]) IsProcessed(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// Get returns the unexpired result recorded for key
func (s *Store[V]) Get(key string) (V, bool) {
	s.mu.RLock()
	rec, ok := s.records[key]
	s.mu.RUnlock()

	var zero V
	if !ok || s.expired(rec) {
		return zero, false
	}
	return rec.Result, true
}

// MarkProcessed records result under key
func (s *Store[V]) MarkProcessed(key string, result V) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records[key] = Record[V]{Key: key, Result: result, RecordedAt: s.now()}
}

// Do returns the recorded result for key, or runs fn exactly once across all
// concurrent callers with the same key and records its result on success.
//
// fn runs on a context detached from the caller and bounded by WorkTimeout,
// so a caller that gives up does not cancel work other callers are waiting
// on. A cancelled caller gets ctx.Err(); the shared work still completes and
// is recorded for later callers.
func (s *Store[V]) Do(ctx context.Context, key string, fn func(ctx context.Context) (V, error)) (V, error) {
	if v, ok := s.Get(key); ok {
		s.logger.WithField("idempotency_key", shortKey(key)).Debug("Idempotent replay")
		return v, nil
	}

	workCtx := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		if v, ok := s.Get(key); ok {
			return v, nil
		}

		runCtx, cancel := context.WithTimeout(workCtx, s.workTimeout)
		defer cancel()

		v, err := fn(runCtx)
		if err != nil {
			return v, err
		}
		if s.keep == nil || s.keep(v) {
			s.MarkProcessed(key, v)
		}
		return v, nil
	})

	var zero V
	select {
	case res := <-ch:
		if res.Err != nil {
			return zero, fmt.Errorf("idempotent operation failed: %w", res.Err)
		}
		if res.Shared {
			s.logger.WithField("idempotency_key", shortKey(key)).Debug("Collapsed duplicate concurrent operation")
		}
		return res.Val.(V), nil
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Cleanup removes expired records and returns how many were removed
func (s *Store[V]) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for key, rec := range s.records {
		if s.expired(rec) {
			delete(s.records, key)
			removed++
		}
	}

	if removed > 0 {
		s.logger.WithFields(logrus.Fields{
			"removed":   removed,
			"remaining": len(s.records),
		}).Debug("Cleaned up expired idempotency records")
	}
	return removed
}

// Len returns the number of stored records
func (s *Store[V]) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.records)
}

func (s *Store[V]) expired(rec Record[V]) bool {
	return !s.now().Before(rec.RecordedAt.Add(s.ttl))
}

func shortKey(key string) string {
	if len(key) > 12 {
		return key[:12]
	}
	return key
}
