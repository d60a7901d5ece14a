package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
)

// Step is one provider in an ordered fallback chain
type Step[T any] struct {
	Name string
	Call func(ctx context.Context) (T, error)
}

// Chain tries its steps in order, sequentially, and returns the first success.
// Adding, removing or reordering sources is a change to Steps only.
type Chain[T any] struct {
	Operation   string
	Steps       []Step[T]
	CallTimeout time.Duration
	Logger      *logrus.Logger
}

// ChainError reports an exhausted chain
type ChainError struct {
	Operation string
	Failures  map[string]error
	// AllNotFound is true when every step answered that it had no data,
	// as opposed to at least one step failing
	AllNotFound bool
}

func (e *ChainError) Error() string {
	if e.AllNotFound {
		return fmt.Sprintf("%s: no source had data", e.Operation)
	}
	return fmt.Sprintf("%s: all sources failed: %v", e.Operation, e.Failures)
}

// Is lets errors.Is(err, domain.ErrNotFound) match a chain where every step missed
func (e *ChainError) Is(target error) bool {
	return target == domain.ErrNotFound && e.AllNotFound
}

// Run returns the first step result with a nil error together with the
// step's name. Steps returning domain.ErrNotFound or any other error hand
// over to the next step; a cancelled parent context stops the chain.
func (c Chain[T]) Run(ctx context.Context) (T, string, error) {
	var zero T
	failures := make(map[string]error)
	allNotFound := true

	for i, step := range c.Steps {
		if err := ctx.Err(); err != nil {
			return zero, "", fmt.Errorf("%s abandoned: %w", c.Operation, err)
		}

		result, err := c.call(ctx, step)
		if err == nil {
			c.Logger.WithFields(logrus.Fields{
				"operation": c.Operation,
				"service":   step.Name,
				"attempt":   i + 1,
			}).Debug("Fallback chain step succeeded")
			return result, step.Name, nil
		}

		failures[step.Name] = err
		if !errors.Is(err, domain.ErrNotFound) {
			allNotFound = false
		}

		c.Logger.WithFields(logrus.Fields{
			"operation": c.Operation,
			"service":   step.Name,
			"attempt":   i + 1,
			"error":     err.Error(),
		}).Debug("Fallback chain step failed, trying next source")
	}

	return zero, "", &ChainError{Operation: c.Operation, Failures: failures, AllNotFound: allNotFound}
}

func (c Chain[T]) call(ctx context.Context, step Step[T]) (T, error) {
	if c.CallTimeout <= 0 {
		return step.Call(ctx)
	}
	callCtx, cancel := context.WithTimeout(ctx, c.CallTimeout)
	defer cancel()
	return step.Call(callCtx)
}
