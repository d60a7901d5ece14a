// Package ratelimit throttles outbound calls to each external source and
// inbound requests from each HTTP client.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/medsafe-analysis-server/internal/domain"
)

// DefaultMinInterval is the minimum spacing between calls to one external source
const DefaultMinInterval = time.Second

// Throttle enforces a minimum interval between calls to one external source.
// Calls inside the interval block until the window opens; they never fail
// unless the caller's context ends first.
type Throttle struct {
	source  string
	limiter *rate.Limiter
	logger  *logrus.Logger
	onWait  func(source string, waited time.Duration)
}

// NewThrottle creates a throttle allowing one call per minInterval
func NewThrottle(source string, minInterval time.Duration, logger *logrus.Logger) *Throttle {
	if minInterval <= 0 {
		minInterval = DefaultMinInterval
	}
	return &Throttle{
		source:  source,
		limiter: rate.NewLimiter(rate.Every(minInterval), 1),
		logger:  logger,
	}
}

// Wait blocks until the next call to the source is allowed. If ctx ends
// first the reservation is released and an error wrapping
// domain.ErrRateLimited is returned.
func (t *Throttle) Wait(ctx context.Context) error {
	r := t.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("%w: %s reservation refused", domain.ErrRateLimited, t.source)
	}

	delay := r.Delay()
	if delay <= 0 {
		return nil
	}

	t.logger.WithFields(logrus.Fields{
		"source": t.source,
		"delay":  delay.String(),
	}).Debug("Throttling outbound call")

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		if t.onWait != nil {
			t.onWait(t.source, delay)
		}
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("%w: %s: %v", domain.ErrRateLimited, t.source, ctx.Err())
	}
}

// Source returns the throttled source name
func (t *Throttle) Source() string {
	return t.source
}

// Registry hands out one shared Throttle per external source
type Registry struct {
	mu        sync.Mutex
	throttles map[string]*Throttle
	logger    *logrus.Logger
	onWait    func(source string, waited time.Duration)
}

// NewRegistry creates an empty throttle registry. onWait, if set, is called
// after every throttled wait.
func NewRegistry(logger *logrus.Logger, onWait func(source string, waited time.Duration)) *Registry {
	return &Registry{
		throttles: make(map[string]*Throttle),
		logger:    logger,
		onWait:    onWait,
	}
}

// For returns the throttle for source, creating it with minInterval on first use
func (r *Registry) For(source string, minInterval time.Duration) *Throttle {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.throttles[source]; ok {
		return t
	}
	t := NewThrottle(source, minInterval, r.logger)
	t.onWait = r.onWait
	r.throttles[source] = t
	return t
}
