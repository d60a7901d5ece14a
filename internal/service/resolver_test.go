package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/cache"
	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/external"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newRecordCache(t *testing.T) *cache.Tiered[*domain.MedicationRecord] {
	t.Helper()
	memory, err := cache.NewTTLCache[string, *domain.MedicationRecord]("medications", 100, time.Hour)
	require.NoError(t, err)
	return cache.NewTiered[*domain.MedicationRecord](memory, nil, time.Hour, quietLogger())
}

func newPairCache(t *testing.T) *cache.Tiered[PairResult] {
	t.Helper()
	memory, err := cache.NewTTLCache[string, PairResult]("interactions", 100, time.Hour)
	require.NoError(t, err)
	return cache.NewTiered[PairResult](memory, nil, time.Hour, quietLogger())
}

// MockMedicationSource is a mock registry
type MockMedicationSource struct {
	mock.Mock
	name string
}

func (m *MockMedicationSource) Name() string {
	return m.name
}

func (m *MockMedicationSource) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	args := m.Called(ctx, name)
	if rec := args.Get(0); rec != nil {
		return rec.(*domain.MedicationRecord), args.Error(1)
	}
	return nil, args.Error(1)
}

func warfarinRecord() *domain.MedicationRecord {
	return &domain.MedicationRecord{
		Name:         "warfarin",
		GenericName:  "Warfarin",
		BrandNames:   []string{"Coumadin", "Jantoven"},
		PharmClasses: []string{"Vitamin K Antagonist [EPC]"},
		FDAApproved:  true,
		Source:       external.SourceOpenFDA,
	}
}

func TestResolver_CachesResolvedRecord(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Warfarin").Return(warfarinRecord(), nil).Once()

	resolver := NewResolver([]external.MedicationSource{source}, newRecordCache(t), ResolverConfig{}, nil, quietLogger())
	ctx := context.Background()

	first, err := resolver.Resolve(ctx, "Warfarin")
	require.NoError(t, err)
	assert.Equal(t, "Warfarin", first.Name)
	assert.Equal(t, domain.CategoryAnticoagulant, first.Category)
	assert.True(t, first.IsCritical)
	assert.False(t, first.ResolvedAt.IsZero())

	// Case and whitespace variations share the cached entry
	second, err := resolver.Resolve(ctx, "  warfarin ")
	require.NoError(t, err)
	assert.Same(t, first, second)

	source.AssertNumberOfCalls(t, "Lookup", 1)
	stats := resolver.GetStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.CacheHits)
	assert.Equal(t, int64(1), stats.ExternalCalls)
}

func TestResolver_FallsBackToCuratedRegistry(t *testing.T) {
	openFDA := &MockMedicationSource{name: external.SourceOpenFDA}
	openFDA.On("Lookup", mock.Anything, "Melatonin").
		Return(nil, &domain.UpstreamError{Source: external.SourceOpenFDA, StatusCode: 503})
	rxnav := &MockMedicationSource{name: external.SourceRxNav}
	rxnav.On("Lookup", mock.Anything, "Melatonin").
		Return(nil, fmt.Errorf("rxnav: %w", domain.ErrNotFound))

	resolver := NewResolver(
		[]external.MedicationSource{openFDA, rxnav, external.NewCuratedRegistry()},
		newRecordCache(t), ResolverConfig{}, nil, quietLogger(),
	)

	record, err := resolver.Resolve(context.Background(), "Melatonin")
	require.NoError(t, err)
	assert.Equal(t, external.SourceCurated, record.Source)
	assert.Equal(t, domain.CategoryGeneral, record.Category)
	assert.False(t, record.IsCritical)
	assert.False(t, record.ValidationWarning)
}

func TestResolver_SoftFailureIsNotCached(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Notarealdrug").
		Return(nil, fmt.Errorf("openfda: %w", domain.ErrNotFound))

	resolver := NewResolver([]external.MedicationSource{source}, newRecordCache(t), ResolverConfig{}, nil, quietLogger())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		record, err := resolver.Resolve(ctx, "Notarealdrug")
		require.Error(t, err)
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		require.NotNil(t, record)
		assert.True(t, record.ValidationWarning)
		assert.Equal(t, domain.CategoryUnknown, record.Category)
		assert.False(t, record.IsCritical)
	}

	source.AssertNumberOfCalls(t, "Lookup", 2)
	assert.Equal(t, int64(2), resolver.GetStats().SoftFailures)
}

func TestResolver_UpstreamFailureIsNotNotFound(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Warfarin").
		Return(nil, &domain.UpstreamError{Source: external.SourceOpenFDA, StatusCode: 500})

	resolver := NewResolver([]external.MedicationSource{source}, newRecordCache(t), ResolverConfig{}, nil, quietLogger())

	record, err := resolver.Resolve(context.Background(), "Warfarin")
	require.Error(t, err)
	assert.False(t, errors.Is(err, domain.ErrNotFound))
	assert.True(t, record.ValidationWarning)
}

func TestResolver_EmptyName(t *testing.T) {
	resolver := NewResolver(nil, newRecordCache(t), ResolverConfig{}, nil, quietLogger())

	record, err := resolver.Resolve(context.Background(), "   ")
	require.Error(t, err)
	assert.True(t, domain.IsValidationError(err))
	assert.NotNil(t, record)
}

func TestResolver_ConcurrentCallsCollapse(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Warfarin").
		WaitUntil(time.After(50*time.Millisecond)).
		Return(warfarinRecord(), nil)

	resolver := NewResolver([]external.MedicationSource{source}, newRecordCache(t), ResolverConfig{}, nil, quietLogger())

	const callers = 10
	var wg sync.WaitGroup
	records := make([]*domain.MedicationRecord, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			records[i], errs[i] = resolver.Resolve(context.Background(), "Warfarin")
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, records[0], records[i])
	}
	source.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestResolver_CancelledCallerLeavesLookupRunning(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Warfarin").
		WaitUntil(time.After(100*time.Millisecond)).
		Return(warfarinRecord(), nil)

	records := newRecordCache(t)
	resolver := NewResolver([]external.MedicationSource{source}, records, ResolverConfig{}, nil, quietLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	record, err := resolver.Resolve(ctx, "Warfarin")
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, record.ValidationWarning)

	// The detached lookup still populates the cache for later callers
	assert.Eventually(t, func() bool {
		_, ok := records.Get(context.Background(), "warfarin")
		return ok
	}, time.Second, 10*time.Millisecond)

	record, err = resolver.Resolve(context.Background(), "Warfarin")
	require.NoError(t, err)
	assert.True(t, record.IsCritical)
	source.AssertNumberOfCalls(t, "Lookup", 1)
}

func TestResolver_Invalidate(t *testing.T) {
	source := &MockMedicationSource{name: external.SourceOpenFDA}
	source.On("Lookup", mock.Anything, "Warfarin").Return(warfarinRecord(), nil).Once()
	source.On("Lookup", mock.Anything, "Warfarin").Return(warfarinRecord(), nil).Once()

	resolver := NewResolver([]external.MedicationSource{source}, newRecordCache(t), ResolverConfig{}, nil, quietLogger())
	ctx := context.Background()

	_, err := resolver.Resolve(ctx, "Warfarin")
	require.NoError(t, err)
	resolver.Invalidate(ctx, "Warfarin")
	_, err = resolver.Resolve(ctx, "Warfarin")
	require.NoError(t, err)

	source.AssertNumberOfCalls(t, "Lookup", 2)
}
