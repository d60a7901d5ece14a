// Package external contains the clients for the drug registries and completion
// providers the engine consults, the circuit breakers guarding them, and the
// ordered first-success combinator that drives every fallback chain.
package external

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/medsafe-analysis-server/internal/domain"
)

// Waiter blocks until the next outbound call is allowed
type Waiter interface {
	Wait(ctx context.Context) error
}

// MedicationSource resolves a medication name against one registry.
// It returns an error wrapping domain.ErrNotFound when the registry has no record.
type MedicationSource interface {
	Name() string
	Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error)
}

// InteractionRecord is an interaction as reported by one source, before its
// severity is normalized onto the canonical scale
type InteractionRecord struct {
	Severity    string  `json:"severity"`
	Description string  `json:"description"`
	Mechanism   string  `json:"mechanism,omitempty"`
	Source      string  `json:"source"`
	Confidence  float64 `json:"confidence"`
}

// InteractionSource reports known interactions between two medications.
// It returns an error wrapping domain.ErrNotFound when it has no data for the pair.
type InteractionSource interface {
	Name() string
	Interactions(ctx context.Context, a, b *domain.MedicationRecord) ([]InteractionRecord, error)
}

// ServiceHealth represents the health status of an external service
type ServiceHealth struct {
	Service   string    `json:"service"`
	State     string    `json:"state"`
	Requests  uint32    `json:"requests"`
	Failures  uint32    `json:"failures"`
	LastCheck time.Time `json:"last_check"`
}

func defaultLimiter(limiter Waiter) Waiter {
	if limiter != nil {
		return limiter
	}
	return rate.NewLimiter(rate.Every(time.Second), 1)
}

// upstreamError classifies a transport error from source
func upstreamError(source string, err error) error {
	if errors.Is(err, domain.ErrRateLimited) {
		return err
	}
	ue := &domain.UpstreamError{Source: source, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		ue.Timeout = true
	}
	return ue
}

// statusError reports a non-2xx response from source
func statusError(source string, resp *http.Response) error {
	return &domain.UpstreamError{Source: source, StatusCode: resp.StatusCode}
}
