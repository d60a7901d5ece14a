// Package metrics provides the Prometheus collectors for the analysis
// pipeline, the external source guards and the HTTP transport.
//
// Collectors are registered on a private registry so that several
// instances can coexist in one process (tests, CLI and server).
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sony/gobreaker"
)

const namespace = "medsafe"

// Metrics implements service.Recorder and exposes guard and HTTP hooks
type Metrics struct {
	registry *prometheus.Registry

	resolutions  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec
	pairLookups  *prometheus.CounterVec
	generations  *prometheus.HistogramVec
	analyses     *prometheus.HistogramVec
	breakerState *prometheus.GaugeVec
	throttleWait *prometheus.HistogramVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpInFlight prometheus.Gauge
}

// New creates and registers all collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "resolutions_total",
			Help:      "Medication resolutions by answering source and outcome",
		}, []string{"source", "outcome"}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Cache lookups by cache and result",
		}, []string{"cache", "result"}),
		pairLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pair_lookups_total",
			Help:      "Drug-drug pair lookups by answering source and outcome",
		}, []string{"source", "outcome"}),
		generations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Alternative generation latency by provider and outcome",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"provider", "outcome"}),
		analyses: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "analysis_duration_seconds",
			Help:      "End-to-end analysis latency by outcome",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"outcome"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state per source (0 closed, 1 half-open, 2 open)",
		}, []string{"source"}),
		throttleWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "throttle_wait_seconds",
			Help:      "Time spent waiting for a per-source request window",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2},
		}, []string{"source"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_request_total",
			Help: "Total HTTP requests",
		}, []string{"method", "path", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"method", "path"}),
		httpInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_request_in_flight",
			Help: "Current in-flight requests",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.resolutions,
		m.cacheLookups,
		m.pairLookups,
		m.generations,
		m.analyses,
		m.breakerState,
		m.throttleWait,
		m.httpRequests,
		m.httpDuration,
		m.httpInFlight,
	)
	return m
}

// Registry returns the registry backing the collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveResolution counts a medication resolution
func (m *Metrics) ObserveResolution(source, outcome string) {
	m.resolutions.WithLabelValues(source, outcome).Inc()
}

// ObserveCacheLookup counts a cache hit or miss
func (m *Metrics) ObserveCacheLookup(cache string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(cache, result).Inc()
}

// ObservePairLookup counts a drug-drug pair lookup
func (m *Metrics) ObservePairLookup(source, outcome string) {
	m.pairLookups.WithLabelValues(source, outcome).Inc()
}

// ObserveGeneration records one generator call
func (m *Metrics) ObserveGeneration(provider, outcome string, duration time.Duration) {
	m.generations.WithLabelValues(provider, outcome).Observe(duration.Seconds())
}

// ObserveAnalysis records one analysis request
func (m *Metrics) ObserveAnalysis(outcome string, duration time.Duration) {
	m.analyses.WithLabelValues(outcome).Observe(duration.Seconds())
}

// OnBreakerStateChange matches the external.NewBreakers state change hook
func (m *Metrics) OnBreakerStateChange(name string, _, to gobreaker.State) {
	m.breakerState.WithLabelValues(name).Set(float64(to))
}

// OnThrottleWait matches the ratelimit.NewRegistry wait hook
func (m *Metrics) OnThrottleWait(source string, waited time.Duration) {
	m.throttleWait.WithLabelValues(source).Observe(waited.Seconds())
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
// It is used for cache sizes and audit dispatcher counters.
func (m *Metrics) GaugeFunc(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}

// Middleware records HTTP request counts, latency and in-flight requests
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		m.httpInFlight.Inc()
		defer m.httpInFlight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		m.httpRequests.WithLabelValues(c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		m.httpDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
