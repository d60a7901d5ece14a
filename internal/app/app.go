// Package app assembles the analysis engine from configuration: registry
// clients behind throttles and circuit breakers, tiered caches, the audit
// pipeline, metrics and the maintenance scheduler.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/api"
	"github.com/medsafe-analysis-server/internal/audit"
	"github.com/medsafe-analysis-server/internal/cache"
	"github.com/medsafe-analysis-server/internal/database"
	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/idempotency"
	"github.com/medsafe-analysis-server/internal/metrics"
	"github.com/medsafe-analysis-server/internal/ratelimit"
	"github.com/medsafe-analysis-server/internal/scheduler"
	"github.com/medsafe-analysis-server/internal/service"
	"github.com/medsafe-analysis-server/pkg/external"
)

// App holds the wired engine and everything that must be closed with it
type App struct {
	Config   *domain.Config
	Logger   *logrus.Logger
	Metrics  *metrics.Metrics
	Breakers *external.Breakers
	Analyzer *service.MedicationAnalyzer
	Resolver *service.Resolver
	Audit    *audit.Dispatcher
	Limiter  *ratelimit.ClientLimiter
	Sweeper  *scheduler.Sweeper

	// AuditStore is nil for the log driver
	AuditStore audit.Store

	medications *cache.TTLCache[string, *domain.MedicationRecord]
	pairs       *cache.TTLCache[string, service.PairResult]
	results     *idempotency.Store[*domain.AnalysisResult]
	redis       *cache.RedisStore
	db          *database.DB
}

// New builds the engine. The caller owns the returned App and must Close it.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger) (*App, error) {
	a := &App{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := a.buildCaches(ctx); err != nil {
		a.closeStores()
		return nil, err
	}
	if err := a.buildAudit(ctx); err != nil {
		a.closeStores()
		return nil, err
	}

	a.Breakers = external.NewBreakers(external.DefaultCircuitBreakerConfig(), logger, a.Metrics.OnBreakerStateChange)
	throttles := ratelimit.NewRegistry(logger, a.Metrics.OnThrottleWait)
	curated := external.NewCuratedRegistry()

	shared := a.sharedStore()
	recordCache := cache.NewTiered[*domain.MedicationRecord](a.medications, shared, cfg.Cache.ResolverTTL, logger)
	pairCache := cache.NewTiered[service.PairResult](a.pairs, shared, cfg.Cache.InteractionTTL, logger)

	a.Resolver = service.NewResolver(
		a.medicationSources(throttles, curated),
		recordCache,
		service.ResolverConfig{CallTimeout: cfg.Analysis.CallTimeout},
		a.Metrics,
		logger,
	)
	engine := service.NewInteractionEngine(
		a.interactionSources(throttles, curated),
		pairCache,
		service.InteractionEngineConfig{CallTimeout: cfg.Analysis.CallTimeout},
		a.Metrics,
		logger,
	)
	generator := service.NewGenerator(
		a.completer(throttles),
		curated,
		service.GeneratorConfig{
			Provider:    cfg.Completion.Provider,
			Temperature: cfg.Completion.Temperature,
			MaxTokens:   cfg.Completion.MaxTokens,
			Timeout:     cfg.Completion.Timeout,
		},
		a.Metrics,
		logger,
	)

	a.results = idempotency.NewStore[*domain.AnalysisResult](idempotency.Config[*domain.AnalysisResult]{
		TTL:         cfg.Idempotency.TTL,
		WorkTimeout: cfg.Analysis.RequestTimeout,
		Keep:        func(r *domain.AnalysisResult) bool { return !r.Degraded },
	}, logger)

	a.Analyzer = service.NewMedicationAnalyzer(
		a.Resolver,
		engine,
		generator,
		a.results,
		a.Audit,
		a.Metrics,
		service.AnalyzerConfig{
			RequestTimeout:        cfg.Analysis.RequestTimeout,
			MaxCurrentMedications: cfg.Analysis.MaxCurrentMedications,
		},
		logger,
	)

	if cfg.RateLimit.Enabled {
		a.Limiter = ratelimit.NewClientLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logger)
	}

	if err := a.buildSweeper(); err != nil {
		_ = a.Close(ctx)
		return nil, err
	}
	a.registerGauges()

	logger.WithFields(logrus.Fields{
		"openfda":             cfg.Registries.OpenFDA.Enabled,
		"rxnav":               cfg.Registries.RxNav.Enabled,
		"interaction_service": cfg.Registries.InteractionService.Enabled,
		"completion":          cfg.Completion.Provider,
		"audit_driver":        cfg.Audit.Driver,
		"shared_cache":        a.redis != nil,
	}).Info("Analysis engine initialized")

	return a, nil
}

func (a *App) buildCaches(ctx context.Context) error {
	var err error
	a.medications, err = cache.NewTTLCache[string, *domain.MedicationRecord]("medications", a.Config.Cache.MaxEntries, a.Config.Cache.ResolverTTL)
	if err != nil {
		return fmt.Errorf("failed to create medication cache: %w", err)
	}
	a.pairs, err = cache.NewTTLCache[string, service.PairResult]("interactions", a.Config.Cache.MaxEntries, a.Config.Cache.InteractionTTL)
	if err != nil {
		return fmt.Errorf("failed to create interaction cache: %w", err)
	}

	if a.Config.Cache.RedisURL == "" {
		return nil
	}
	store, err := cache.NewRedisStore(a.Config.Cache)
	if err != nil {
		// The shared tier is optional; memory caching alone is correct
		a.Logger.WithError(err).Warn("Shared cache unavailable, continuing with in-memory cache only")
		return nil
	}
	if !store.IsHealthy(ctx) {
		a.Logger.Warn("Shared cache did not answer ping, continuing with in-memory cache only")
		_ = store.Close()
		return nil
	}
	a.redis = store
	return nil
}

func (a *App) sharedStore() cache.SharedStore {
	if a.redis == nil {
		return nil
	}
	return a.redis
}

func (a *App) buildAudit(ctx context.Context) error {
	var sink audit.Sink

	switch a.Config.Audit.Driver {
	case "sqlite":
		store, err := audit.NewSQLiteStore(a.Config.Audit.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		a.AuditStore = store
		sink = store
	case "postgres":
		db, err := database.NewConnection(ctx, database.ConfigFrom(a.Config.Database), a.Logger)
		if err != nil {
			return fmt.Errorf("failed to connect to audit database: %w", err)
		}
		a.db = db

		dbConfig := database.ConfigFrom(a.Config.Database)
		runner, err := database.NewMigrationRunner(dbConfig.URL(), a.Config.Database.MigrationsPath, a.Logger)
		if err != nil {
			return fmt.Errorf("failed to prepare audit migrations: %w", err)
		}
		migrateErr := runner.Up(ctx)
		_ = runner.Close()
		if migrateErr != nil {
			return fmt.Errorf("failed to migrate audit schema: %w", migrateErr)
		}

		store, err := audit.NewPostgresStoreFromPool(db.Pool)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		a.AuditStore = store
		sink = store
	default:
		sink = audit.NewLogSink(a.Logger)
	}

	a.Audit = audit.NewDispatcher(sink, a.Config.Audit.BufferSize, a.Logger)
	return nil
}

// medicationSources orders the resolver chain: openFDA, RxNav, curated
func (a *App) medicationSources(throttles *ratelimit.Registry, curated *external.CuratedRegistry) []external.MedicationSource {
	cfg := a.Config.Registries
	var sources []external.MedicationSource

	if cfg.OpenFDA.Enabled {
		sources = append(sources, external.WithMedicationBreaker(external.NewOpenFDAClient(external.OpenFDAConfig{
			BaseURL: cfg.OpenFDA.BaseURL,
			APIKey:  cfg.OpenFDA.APIKey,
			Timeout: a.Config.Analysis.CallTimeout,
			Limiter: throttles.For(external.SourceOpenFDA, cfg.OpenFDA.MinInterval),
		}), a.Breakers))
	}
	if cfg.RxNav.Enabled {
		sources = append(sources, external.WithMedicationBreaker(a.rxnav(throttles), a.Breakers))
	}
	return append(sources, curated)
}

// interactionSources orders the pair chain: RxNav, interaction service,
// curated pairs, label text heuristics
func (a *App) interactionSources(throttles *ratelimit.Registry, curated *external.CuratedRegistry) []external.InteractionSource {
	cfg := a.Config.Registries
	var sources []external.InteractionSource

	if cfg.RxNav.Enabled {
		sources = append(sources, external.WithInteractionBreaker(a.rxnav(throttles), a.Breakers))
	}
	if cfg.InteractionService.Enabled {
		sources = append(sources, external.WithInteractionBreaker(external.NewInteractionServiceClient(external.InteractionServiceConfig{
			BaseURL: cfg.InteractionService.BaseURL,
			APIKey:  cfg.InteractionService.APIKey,
			Timeout: a.Config.Analysis.CallTimeout,
			Limiter: throttles.For(external.SourceInteractionService, cfg.InteractionService.MinInterval),
		}), a.Breakers))
	}
	return append(sources, curated, external.NewLabelTextSource())
}

func (a *App) rxnav(throttles *ratelimit.Registry) *external.RxNavClient {
	return external.NewRxNavClient(external.RxNavConfig{
		BaseURL: a.Config.Registries.RxNav.BaseURL,
		Timeout: a.Config.Analysis.CallTimeout,
		Limiter: throttles.For(external.SourceRxNav, a.Config.Registries.RxNav.MinInterval),
	})
}

// completer returns nil when no provider is configured; the generator then
// always returns its safe fallback
func (a *App) completer(throttles *ratelimit.Registry) domain.Completer {
	cfg := a.Config.Completion
	if cfg.APIKey == "" {
		if cfg.Provider != "none" && cfg.Provider != "" {
			a.Logger.WithField("provider", cfg.Provider).Warn("No completion API key configured, alternatives disabled")
		}
		return nil
	}

	switch cfg.Provider {
	case external.ProviderAnthropic:
		return external.WithCompleterBreaker(external.NewAnthropicCompleter(external.AnthropicConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Limiter: throttles.For(external.ProviderAnthropic, cfg.MinInterval),
		}), a.Breakers)
	case external.ProviderGemini:
		return external.WithCompleterBreaker(external.NewGeminiCompleter(external.GeminiConfig{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
			Timeout: cfg.Timeout,
			Limiter: throttles.For(external.ProviderGemini, cfg.MinInterval),
		}), a.Breakers)
	default:
		return nil
	}
}

func (a *App) buildSweeper() error {
	interval := a.Config.Cache.SweepInterval
	a.Sweeper = scheduler.NewSweeper(30*time.Second, a.Logger)

	jobs := []scheduler.Job{
		scheduler.SweepJob("medications", interval, a.medications),
		scheduler.SweepJob("interactions", interval, a.pairs),
		scheduler.CleanupJob("idempotency", a.Config.Idempotency.CleanupInterval, a.results),
	}
	if a.Limiter != nil {
		jobs = append(jobs, scheduler.CleanupJob("client_buckets", interval, a.Limiter))
	}
	if pruner, ok := a.AuditStore.(scheduler.Pruner); ok {
		jobs = append(jobs, scheduler.RetentionJob("audit_retention", time.Hour, a.Config.Audit.Retention, pruner))
	}

	for _, job := range jobs {
		if err := a.Sweeper.Add(job); err != nil {
			return err
		}
	}
	return nil
}

func (a *App) registerGauges() {
	a.Metrics.GaugeFunc("cache_entries_medications", "Entries in the medication cache", func() float64 {
		return float64(a.medications.Len())
	})
	a.Metrics.GaugeFunc("cache_entries_interactions", "Entries in the interaction pair cache", func() float64 {
		return float64(a.pairs.Len())
	})
	a.Metrics.GaugeFunc("idempotency_records", "Stored analysis results", func() float64 {
		return float64(a.results.Len())
	})
	a.Metrics.GaugeFunc("audit_events_pending", "Audit events waiting to be written", func() float64 {
		return float64(a.Audit.Pending())
	})
	a.Metrics.GaugeFunc("audit_events_dropped", "Audit events dropped because the buffer was full", func() float64 {
		return float64(a.Audit.GetStats().Dropped)
	})
	a.Metrics.GaugeFunc("audit_events_failed", "Audit events the sink failed to write", func() float64 {
		return float64(a.Audit.GetStats().Failed)
	})
	if a.Limiter != nil {
		a.Metrics.GaugeFunc("ratelimit_clients", "Tracked HTTP client buckets", func() float64 {
			return float64(a.Limiter.Clients())
		})
	}
}

// APIOptions returns the HTTP server collaborators
func (a *App) APIOptions() api.Options {
	checks := map[string]api.HealthCheck{}
	if a.db != nil {
		checks["audit_db"] = a.db.Health
	}
	if a.redis != nil {
		redis := a.redis
		checks["shared_cache"] = func(ctx context.Context) error {
			if !redis.IsHealthy(ctx) {
				return errors.New("redis ping failed")
			}
			return nil
		}
	}

	return api.Options{
		Analyzer: a.Analyzer,
		Logger:   a.Logger,
		Breakers: a.Breakers,
		CacheSizes: map[string]func() int{
			"medications":  a.medications.Len,
			"interactions": a.pairs.Len,
			"idempotency":  a.results.Len,
		},
		Checks:  checks,
		Metrics: a.Metrics,
		Limiter: a.Limiter,
	}
}

// Close stops the scheduler, drains the audit buffer and closes stores
func (a *App) Close(ctx context.Context) error {
	if a.Sweeper != nil {
		a.Sweeper.Stop()
	}

	var errs []error
	if a.Audit != nil {
		if err := a.Audit.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain audit events: %w", err))
		}
	}
	a.closeStores()
	return errors.Join(errs...)
}

func (a *App) closeStores() {
	if a.Audit == nil && a.AuditStore != nil {
		_ = a.AuditStore.Close()
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.db != nil {
		a.db.Close()
		a.db = nil
	}
}
