package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/medsafe-analysis-server/internal/cache"
	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/external"
)

// ResolverConfig represents configuration for the medication resolver
type ResolverConfig struct {
	CallTimeout time.Duration `json:"call_timeout"`
}

// ResolverStats represents resolver performance statistics
type ResolverStats struct {
	TotalRequests int64     `json:"total_requests"`
	CacheHits     int64     `json:"cache_hits"`
	CacheMisses   int64     `json:"cache_misses"`
	ExternalCalls int64     `json:"external_calls"`
	SoftFailures  int64     `json:"soft_failures"`
	ErrorCount    int64     `json:"error_count"`
	LastReset     time.Time `json:"last_reset"`
}

// Resolver resolves sanitized medication names through a tiered cache and an
// ordered fallback chain of registries
type Resolver struct {
	sources     []external.MedicationSource
	cache       *cache.Tiered[*domain.MedicationRecord]
	callTimeout time.Duration
	group       singleflight.Group
	recorder    Recorder
	logger      *logrus.Logger
	now         func() time.Time

	stats   ResolverStats
	statsMu sync.RWMutex
}

// NewResolver creates a resolver. Sources are consulted in the given order.
func NewResolver(
	sources []external.MedicationSource,
	records *cache.Tiered[*domain.MedicationRecord],
	config ResolverConfig,
	recorder Recorder,
	logger *logrus.Logger,
) *Resolver {
	if config.CallTimeout == 0 {
		config.CallTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Resolver{
		sources:     sources,
		cache:       records,
		callTimeout: config.CallTimeout,
		recorder:    recorder,
		logger:      logger,
		now:         time.Now,
		stats:       ResolverStats{LastReset: time.Now()},
	}
}

// Resolve returns the canonical record for name. When no registry resolves the
// name it returns a soft-failure record flagged with ValidationWarning together
// with the chain error; the record is never nil. Soft failures are not cached.
func (r *Resolver) Resolve(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	r.incrementStat(func(s *ResolverStats) { s.TotalRequests++ })

	key := cacheKey(name)
	if key == "" {
		r.incrementStat(func(s *ResolverStats) { s.ErrorCount++ })
		return r.softFailure(name), domain.NewValidationError("medicationName", "medication name cannot be empty", name)
	}

	if record, ok := r.cache.Get(ctx, key); ok {
		r.incrementStat(func(s *ResolverStats) { s.CacheHits++ })
		r.recorder.ObserveCacheLookup(r.cache.Memory().Name(), true)
		return record, nil
	}
	r.incrementStat(func(s *ResolverStats) { s.CacheMisses++ })
	r.recorder.ObserveCacheLookup(r.cache.Memory().Name(), false)

	// The lookup runs detached so a cancelled caller leaves it free to finish
	// and populate the cache for later callers
	ch := r.group.DoChan(key, func() (interface{}, error) {
		workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.callTimeout*time.Duration(len(r.sources)+1))
		defer cancel()
		if record, ok := r.cache.Get(workCtx, key); ok {
			return record, nil
		}
		return r.lookup(workCtx, name, key)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return r.handleFailure(name, res.Err)
		}
		return res.Val.(*domain.MedicationRecord), nil
	case <-ctx.Done():
		return r.handleFailure(name, fmt.Errorf("resolution of %q abandoned: %w", name, ctx.Err()))
	}
}

func (r *Resolver) lookup(ctx context.Context, name, key string) (*domain.MedicationRecord, error) {
	r.incrementStat(func(s *ResolverStats) { s.ExternalCalls++ })

	steps := make([]external.Step[*domain.MedicationRecord], 0, len(r.sources))
	for _, source := range r.sources {
		source := source
		steps = append(steps, external.Step[*domain.MedicationRecord]{
			Name: source.Name(),
			Call: func(ctx context.Context) (*domain.MedicationRecord, error) {
				return source.Lookup(ctx, name)
			},
		})
	}

	chain := external.Chain[*domain.MedicationRecord]{
		Operation:   "resolve_medication",
		Steps:       steps,
		CallTimeout: r.callTimeout,
		Logger:      r.logger,
	}

	record, source, err := chain.Run(ctx)
	if err != nil {
		return nil, err
	}

	record.Name = name
	record.Category = Categorize(record.PharmClasses, record.Names())
	record.IsCritical = domain.IsCriticalCategory(record.Category)
	if record.ResolvedAt.IsZero() {
		record.ResolvedAt = r.now()
	}

	r.cache.Set(ctx, key, record)
	r.recorder.ObserveResolution(source, OutcomeSuccess)

	r.logger.WithFields(logrus.Fields{
		"medication":  name,
		"source":      source,
		"category":    record.Category,
		"is_critical": record.IsCritical,
	}).Info("Successfully resolved medication")

	return record, nil
}

func (r *Resolver) handleFailure(name string, err error) (*domain.MedicationRecord, error) {
	r.incrementStat(func(s *ResolverStats) { s.SoftFailures++ })

	outcome := OutcomeError
	if errors.Is(err, domain.ErrNotFound) {
		outcome = OutcomeNotFound
	}
	r.recorder.ObserveResolution("none", outcome)

	r.logger.WithFields(logrus.Fields{
		"medication": name,
		"outcome":    outcome,
		"error":      err.Error(),
	}).Warn("Medication could not be resolved, continuing in degraded mode")

	return r.softFailure(name), fmt.Errorf("failed to resolve medication %q: %w", name, err)
}

func (r *Resolver) softFailure(name string) *domain.MedicationRecord {
	return &domain.MedicationRecord{
		Name:              name,
		GenericName:       name,
		BrandNames:        []string{},
		Category:          domain.CategoryUnknown,
		IsCritical:        false,
		Source:            "unresolved",
		ResolvedAt:        r.now(),
		ValidationWarning: true,
	}
}

// Invalidate drops a cached resolution
func (r *Resolver) Invalidate(ctx context.Context, name string) {
	r.cache.Delete(ctx, cacheKey(name))
	r.logger.WithField("medication", name).Info("Invalidated cached medication")
}

// GetStats returns resolver statistics
func (r *Resolver) GetStats() ResolverStats {
	r.statsMu.RLock()
	defer r.statsMu.RUnlock()
	return r.stats
}

func (r *Resolver) incrementStat(update func(s *ResolverStats)) {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	update(&r.stats)
}

func cacheKey(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
