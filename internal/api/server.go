// Package api exposes the analysis pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/metrics"
	"github.com/medsafe-analysis-server/internal/middleware"
	"github.com/medsafe-analysis-server/internal/ratelimit"
	"github.com/medsafe-analysis-server/pkg/external"
)

// Version is reported by the health endpoint
const Version = "1.0.0"

// maxBodyBytes bounds an analysis request body
const maxBodyBytes = 64 << 10

// Analyzer runs one medication analysis
type Analyzer interface {
	Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error)
}

// BreakerReporter reports circuit breaker states
type BreakerReporter interface {
	Health() []external.ServiceHealth
}

// HealthCheck probes one dependency
type HealthCheck func(ctx context.Context) error

// Options carries the collaborators of the HTTP server. Only Analyzer and
// Logger are required.
type Options struct {
	Analyzer   Analyzer
	Logger     *logrus.Logger
	Breakers   BreakerReporter
	CacheSizes map[string]func() int
	Checks     map[string]HealthCheck
	Metrics    *metrics.Metrics
	Limiter    *ratelimit.ClientLimiter
}

// Server represents the HTTP server
type Server struct {
	configManager domain.ConfigManager
	opts          Options
	router        *gin.Engine
	server        *http.Server
}

// HealthResponse is the body of GET /health
type HealthResponse struct {
	Status    string                   `json:"status"`
	Version   string                   `json:"version"`
	Timestamp time.Time                `json:"timestamp"`
	Breakers  []external.ServiceHealth `json:"breakers"`
	Caches    map[string]int           `json:"caches"`
	Checks    map[string]string        `json:"checks"`
}

// NewServer creates a new HTTP server instance
func NewServer(configManager domain.ConfigManager, opts Options) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(middleware.SecurityHeaders())
	router.Use(corsMiddleware())
	router.Use(middleware.RequestLogger(opts.Logger))
	if opts.Metrics != nil {
		router.Use(opts.Metrics.Middleware())
	}

	server := &Server{
		configManager: configManager,
		opts:          opts,
		router:        router,
	}

	// Setup routes
	server.setupRoutes(cfg)

	return server
}

// Handler returns the HTTP handler, mostly for tests
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.opts.Logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes(cfg *domain.Config) {
	s.router.GET("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.opts.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	if s.opts.Limiter != nil {
		v1.Use(middleware.RateLimit(s.opts.Limiter))
	}
	v1.Use(middleware.RequestTimeout(cfg.Analysis.RequestTimeout))
	{
		v1.POST("/analyze", s.handleAnalyze)
	}
}

// handleAnalyze runs one analysis
func (s *Server) handleAnalyze(c *gin.Context) {
	requestID := middleware.GetRequestID(c)
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes)

	var req domain.AnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, domain.NewAPIError(
			domain.ErrInvalidInput,
			"Request body must be a JSON analysis request",
			"",
			requestID,
		))
		return
	}

	result, err := s.opts.Analyzer.Analyze(c.Request.Context(), req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, domain.NewAPIError(
				domain.ErrValidation,
				ve.Message,
				ve.Field,
				requestID,
			))
			return
		}

		s.opts.Logger.WithError(err).WithField("request_id", requestID).Error("Analysis failed")
		c.JSON(http.StatusInternalServerError, domain.NewAPIError(
			domain.ErrInternalServer,
			"Analysis could not be completed",
			"",
			requestID,
		))
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleHealth reports breaker states, cache sizes and dependency checks.
// Open breakers degrade the service; failed checks make it unhealthy.
func (s *Server) handleHealth(c *gin.Context) {
	resp := HealthResponse{
		Status:    "healthy",
		Version:   Version,
		Timestamp: time.Now().UTC(),
		Breakers:  []external.ServiceHealth{},
		Caches:    make(map[string]int, len(s.opts.CacheSizes)),
		Checks:    make(map[string]string, len(s.opts.Checks)),
	}

	if s.opts.Breakers != nil {
		resp.Breakers = s.opts.Breakers.Health()
		for _, b := range resp.Breakers {
			if b.State != "closed" {
				resp.Status = "degraded"
			}
		}
	}

	for name, size := range s.opts.CacheSizes {
		resp.Caches[name] = size()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	names := make([]string, 0, len(s.opts.Checks))
	for name := range s.opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := s.opts.Checks[name](ctx); err != nil {
			s.opts.Logger.WithError(err).WithField("check", name).Warn("Health check failed")
			resp.Checks[name] = "unhealthy"
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "healthy"
	}

	c.JSON(status, resp)
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-Request-ID")
		c.Header("Access-Control-Expose-Headers", "Content-Length, X-Request-ID, Retry-After")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
