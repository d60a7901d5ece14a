package external

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/medsafe-analysis-server/internal/domain"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests  uint32        `json:"max_requests"`
	Interval     time.Duration `json:"interval"`
	Timeout      time.Duration `json:"timeout"`
	MinRequests  uint32        `json:"min_requests"`
	FailureRatio float64       `json:"failure_ratio"`
}

// DefaultCircuitBreakerConfig trips after 60% failures over at least 3 requests
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests:  5,
		Interval:     30 * time.Second,
		Timeout:      60 * time.Second,
		MinRequests:  3,
		FailureRatio: 0.6,
	}
}

// Breakers creates and tracks one circuit breaker per external source
type Breakers struct {
	config CircuitBreakerConfig
	logger *logrus.Logger
	onTrip func(name string, from, to gobreaker.State)

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakers creates a breaker registry. onStateChange may be nil.
func NewBreakers(config CircuitBreakerConfig, logger *logrus.Logger, onStateChange func(name string, from, to gobreaker.State)) *Breakers {
	return &Breakers{
		config:   config,
		logger:   logger,
		onTrip:   onStateChange,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

// For returns the breaker for name, creating it on first use
func (b *Breakers) For(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[name]; ok {
		return cb
	}

	cfg := b.config
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < cfg.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		},
		// A registry answering "no such medication" is healthy
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			b.logger.WithFields(logrus.Fields{
				"circuit_breaker": name,
				"from_state":      from.String(),
				"to_state":        to.String(),
			}).Warn("Circuit breaker state changed")
			if b.onTrip != nil {
				b.onTrip(name, from, to)
			}
		},
	})
	b.breakers[name] = cb
	return cb
}

// Health returns the state of every breaker, sorted by name
func (b *Breakers) Health() []ServiceHealth {
	b.mu.Lock()
	defer b.mu.Unlock()

	health := make([]ServiceHealth, 0, len(b.breakers))
	for name, cb := range b.breakers {
		counts := cb.Counts()
		health = append(health, ServiceHealth{
			Service:   name,
			State:     cb.State().String(),
			Requests:  counts.Requests,
			Failures:  counts.TotalFailures,
			LastCheck: time.Now(),
		})
	}
	sort.Slice(health, func(i, j int) bool { return health[i].Service < health[j].Service })
	return health
}

func execute[T any](cb *gobreaker.CircuitBreaker, source string, fn func() (T, error)) (T, error) {
	var zero T
	result, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &domain.UpstreamError{
				Source: source,
				Err:    fmt.Errorf("%s service unavailable (circuit breaker open): %w", source, err),
			}
		}
		return zero, err
	}
	return result.(T), nil
}

// breakingMedicationSource guards a MedicationSource with a circuit breaker
type breakingMedicationSource struct {
	source MedicationSource
	cb     *gobreaker.CircuitBreaker
}

// WithMedicationBreaker wraps source with its breaker from breakers
func WithMedicationBreaker(source MedicationSource, breakers *Breakers) MedicationSource {
	return &breakingMedicationSource{source: source, cb: breakers.For(source.Name())}
}

func (b *breakingMedicationSource) Name() string {
	return b.source.Name()
}

func (b *breakingMedicationSource) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	return execute(b.cb, b.source.Name(), func() (*domain.MedicationRecord, error) {
		return b.source.Lookup(ctx, name)
	})
}

// breakingInteractionSource guards an InteractionSource with a circuit breaker
type breakingInteractionSource struct {
	source InteractionSource
	cb     *gobreaker.CircuitBreaker
}

// WithInteractionBreaker wraps source with its breaker from breakers
func WithInteractionBreaker(source InteractionSource, breakers *Breakers) InteractionSource {
	return &breakingInteractionSource{source: source, cb: breakers.For(source.Name() + "-interactions")}
}

func (b *breakingInteractionSource) Name() string {
	return b.source.Name()
}

func (b *breakingInteractionSource) Interactions(ctx context.Context, x, y *domain.MedicationRecord) ([]InteractionRecord, error) {
	return execute(b.cb, b.source.Name(), func() ([]InteractionRecord, error) {
		return b.source.Interactions(ctx, x, y)
	})
}

// breakingCompleter guards a completion provider with a circuit breaker
type breakingCompleter struct {
	completer domain.Completer
	cb        *gobreaker.CircuitBreaker
}

// WithCompleterBreaker wraps completer with its breaker from breakers
func WithCompleterBreaker(completer domain.Completer, breakers *Breakers) domain.Completer {
	return &breakingCompleter{completer: completer, cb: breakers.For(completer.Name())}
}

func (b *breakingCompleter) Name() string {
	return b.completer.Name()
}

func (b *breakingCompleter) Complete(ctx context.Context, prompt string, opts domain.CompletionOptions) (string, error) {
	return execute(b.cb, b.completer.Name(), func() (string, error) {
		return b.completer.Complete(ctx, prompt, opts)
	})
}
