package external

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func TestChain_Run(t *testing.T) {
	upstream := &domain.UpstreamError{Source: "a", StatusCode: 503}
	notFound := fmt.Errorf("b: %w", domain.ErrNotFound)

	tests := []struct {
		name         string
		steps        []Step[string]
		expectValue  string
		expectSource string
		allNotFound  bool
		expectErr    bool
	}{
		{
			name: "first success wins",
			steps: []Step[string]{
				{Name: "a", Call: func(ctx context.Context) (string, error) { return "A", nil }},
				{Name: "b", Call: func(ctx context.Context) (string, error) { t.Fatal("second step called"); return "", nil }},
			},
			expectValue:  "A",
			expectSource: "a",
		},
		{
			name: "falls through errors",
			steps: []Step[string]{
				{Name: "a", Call: func(ctx context.Context) (string, error) { return "", upstream }},
				{Name: "b", Call: func(ctx context.Context) (string, error) { return "", notFound }},
				{Name: "c", Call: func(ctx context.Context) (string, error) { return "C", nil }},
			},
			expectValue:  "C",
			expectSource: "c",
		},
		{
			name: "all not found",
			steps: []Step[string]{
				{Name: "a", Call: func(ctx context.Context) (string, error) { return "", notFound }},
				{Name: "b", Call: func(ctx context.Context) (string, error) { return "", notFound }},
			},
			expectErr:   true,
			allNotFound: true,
		},
		{
			name: "mixed failures",
			steps: []Step[string]{
				{Name: "a", Call: func(ctx context.Context) (string, error) { return "", upstream }},
				{Name: "b", Call: func(ctx context.Context) (string, error) { return "", notFound }},
			},
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := Chain[string]{Operation: "test", Steps: tt.steps, Logger: quietLogger()}
			value, source, err := chain.Run(context.Background())

			if tt.expectErr {
				var chainErr *ChainError
				require.True(t, errors.As(err, &chainErr))
				assert.Len(t, chainErr.Failures, len(tt.steps))
				assert.Equal(t, tt.allNotFound, chainErr.AllNotFound)
				assert.Equal(t, tt.allNotFound, errors.Is(err, domain.ErrNotFound))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expectValue, value)
			assert.Equal(t, tt.expectSource, source)
		})
	}
}

func TestChain_CallTimeout(t *testing.T) {
	chain := Chain[string]{
		Operation:   "timeout",
		CallTimeout: 10 * time.Millisecond,
		Logger:      quietLogger(),
		Steps: []Step[string]{
			{Name: "slow", Call: func(ctx context.Context) (string, error) {
				<-ctx.Done()
				return "", &domain.UpstreamError{Source: "slow", Timeout: true, Err: ctx.Err()}
			}},
			{Name: "fast", Call: func(ctx context.Context) (string, error) { return "ok", nil }},
		},
	}

	value, source, err := chain.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, "fast", source)
}

func TestChain_CancelledParent(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	chain := Chain[string]{
		Operation: "cancel",
		Logger:    quietLogger(),
		Steps: []Step[string]{
			{Name: "a", Call: func(ctx context.Context) (string, error) {
				calls++
				cancel()
				return "", ctx.Err()
			}},
			{Name: "b", Call: func(ctx context.Context) (string, error) { calls++; return "b", nil }},
		},
	}

	_, _, err := chain.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 1, calls)
}

// MockMedicationSource is a mock implementation of MedicationSource
type MockMedicationSource struct {
	mock.Mock
}

func (m *MockMedicationSource) Name() string {
	return "mock-registry"
}

func (m *MockMedicationSource) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	args := m.Called(ctx, name)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.MedicationRecord), args.Error(1)
}

func TestBreakers_TripsOnFailures(t *testing.T) {
	source := new(MockMedicationSource)
	source.On("Lookup", mock.Anything, "warfarin").Return(nil, &domain.UpstreamError{Source: "mock-registry", StatusCode: 500})

	var transitions []gobreaker.State
	breakers := NewBreakers(DefaultCircuitBreakerConfig(), quietLogger(), func(name string, from, to gobreaker.State) {
		transitions = append(transitions, to)
	})
	guarded := WithMedicationBreaker(source, breakers)

	for i := 0; i < 5; i++ {
		_, err := guarded.Lookup(context.Background(), "warfarin")
		require.Error(t, err)
	}

	// Three failures trip the breaker; later calls never reach the source
	source.AssertNumberOfCalls(t, "Lookup", 3)
	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)

	_, err := guarded.Lookup(context.Background(), "warfarin")
	var upstream *domain.UpstreamError
	require.True(t, errors.As(err, &upstream))
	assert.Contains(t, upstream.Error(), "circuit breaker open")

	health := breakers.Health()
	require.Len(t, health, 1)
	assert.Equal(t, "mock-registry", health[0].Service)
	assert.Equal(t, "open", health[0].State)
}

func TestBreakers_NotFoundIsHealthy(t *testing.T) {
	source := new(MockMedicationSource)
	source.On("Lookup", mock.Anything, "unknown").Return(nil, fmt.Errorf("mock: %w", domain.ErrNotFound))

	breakers := NewBreakers(DefaultCircuitBreakerConfig(), quietLogger(), nil)
	guarded := WithMedicationBreaker(source, breakers)

	for i := 0; i < 10; i++ {
		_, err := guarded.Lookup(context.Background(), "unknown")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
	}

	source.AssertNumberOfCalls(t, "Lookup", 10)
	assert.Equal(t, gobreaker.StateClosed, breakers.For("mock-registry").State())
}

func TestBreakers_SharedPerName(t *testing.T) {
	breakers := NewBreakers(DefaultCircuitBreakerConfig(), quietLogger(), nil)
	assert.Same(t, breakers.For("openFDA"), breakers.For("openFDA"))
	assert.NotSame(t, breakers.For("openFDA"), breakers.For("RxNav"))
}
