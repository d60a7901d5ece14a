package ratelimit

import (
	"sync"

	"github.com/juju/ratelimit"
	"github.com/sirupsen/logrus"
)

// ClientLimiter keeps one token bucket per HTTP client
type ClientLimiter struct {
	rate     float64
	capacity int64
	logger   *logrus.Logger

	mu      sync.RWMutex
	clients map[string]*ratelimit.Bucket
}

// NewClientLimiter creates a limiter refilling ratePerSecond tokens per second
// up to capacity tokens per client
func NewClientLimiter(ratePerSecond float64, capacity int64, logger *logrus.Logger) *ClientLimiter {
	if ratePerSecond <= 0 {
		ratePerSecond = 3
	}
	if capacity <= 0 {
		capacity = 30
	}
	return &ClientLimiter{
		rate:     ratePerSecond,
		capacity: capacity,
		logger:   logger,
		clients:  make(map[string]*ratelimit.Bucket),
	}
}

// Allow takes cost tokens from the client's bucket. It returns false, taking
// nothing, when the bucket cannot cover the cost.
func (l *ClientLimiter) Allow(clientID string, cost int64) bool {
	if cost <= 0 {
		return true
	}

	bucket := l.bucket(clientID)

	l.mu.Lock()
	defer l.mu.Unlock()

	if bucket.Available() < cost {
		l.logger.WithField("client_id", clientID).Debug("Request denied: rate limit exceeded")
		return false
	}
	bucket.TakeAvailable(cost)
	return true
}

// Remaining returns the tokens currently available to the client
func (l *ClientLimiter) Remaining(clientID string) int64 {
	return l.bucket(clientID).Available()
}

// Capacity returns the per-client bucket capacity
func (l *ClientLimiter) Capacity() int64 {
	return l.capacity
}

// Rate returns the per-client refill rate in tokens per second
func (l *ClientLimiter) Rate() float64 {
	return l.rate
}

// Cleanup drops clients whose buckets have fully refilled
func (l *ClientLimiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, bucket := range l.clients {
		if bucket.Available() == bucket.Capacity() {
			delete(l.clients, id)
			removed++
		}
	}
	return removed
}

// Clients returns the number of tracked clients
func (l *ClientLimiter) Clients() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.clients)
}

func (l *ClientLimiter) bucket(clientID string) *ratelimit.Bucket {
	l.mu.RLock()
	bucket, exists := l.clients[clientID]
	l.mu.RUnlock()

	if !exists {
		l.mu.Lock()
		if bucket, exists = l.clients[clientID]; !exists {
			bucket = ratelimit.NewBucketWithRate(l.rate, l.capacity)
			l.clients[clientID] = bucket
		}
		l.mu.Unlock()
	}

	return bucket
}
