// Package config loads the engine configuration from defaults, an optional
// YAML file, an optional .env file and MEDSAFE_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/external"
)

// EnvPrefix is prepended to every environment override, e.g. MEDSAFE_SERVER_PORT
const EnvPrefix = "MEDSAFE"

// Manager loads and validates configuration using Viper
type Manager struct {
	v          *viper.Viper
	config     *domain.Config
	configFile string
}

// Option customizes a Manager
type Option func(*Manager)

// WithConfigFile reads an explicit file instead of searching for config.yaml
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// LoadDotEnv loads variables from an optional .env file. Existing environment
// variables win. A missing file is not an error.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, path := range paths {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
	}
	return nil
}

// DefaultLogging is used for messages logged before configuration is loaded
func DefaultLogging() domain.LoggingConfig {
	return domain.LoggingConfig{Level: "info", Format: "json"}
}

func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/medsafe/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// The file is optional; defaults and environment variables still apply
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "45s")
	v.SetDefault("server.idle_timeout", "120s")

	// Analysis pipeline
	v.SetDefault("analysis.request_timeout", "30s")
	v.SetDefault("analysis.call_timeout", "5s")
	v.SetDefault("analysis.max_current_medications", 9)

	// Registries
	v.SetDefault("registries.openfda.enabled", true)
	v.SetDefault("registries.openfda.base_url", "https://api.fda.gov")
	v.SetDefault("registries.openfda.api_key", "")
	v.SetDefault("registries.openfda.min_interval", "1s")
	v.SetDefault("registries.rxnav.enabled", true)
	v.SetDefault("registries.rxnav.base_url", "https://rxnav.nlm.nih.gov")
	v.SetDefault("registries.rxnav.min_interval", "1s")
	v.SetDefault("registries.interaction_service.enabled", false)
	v.SetDefault("registries.interaction_service.base_url", "")
	v.SetDefault("registries.interaction_service.api_key", "")
	v.SetDefault("registries.interaction_service.min_interval", "1s")

	// Completion provider
	v.SetDefault("completion.provider", external.ProviderAnthropic)
	v.SetDefault("completion.api_key", "")
	v.SetDefault("completion.base_url", "")
	v.SetDefault("completion.model", "")
	v.SetDefault("completion.temperature", 0.3)
	v.SetDefault("completion.max_tokens", 2048)
	v.SetDefault("completion.timeout", "30s")
	v.SetDefault("completion.safety_filters", true)
	v.SetDefault("completion.min_interval", "1s")

	// Cache defaults
	v.SetDefault("cache.resolver_ttl", "1h")
	v.SetDefault("cache.interaction_ttl", "24h")
	v.SetDefault("cache.max_entries", 5000)
	v.SetDefault("cache.sweep_interval", "5m")
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")
	v.SetDefault("cache.max_retries", 3)

	// Idempotency
	v.SetDefault("idempotency.ttl", "1h")
	v.SetDefault("idempotency.cleanup_interval", "10m")

	// Audit
	v.SetDefault("audit.driver", "log")
	v.SetDefault("audit.sqlite_path", AuditDBPath(DefaultDataDir()))
	v.SetDefault("audit.buffer_size", 256)
	v.SetDefault("audit.retention", "0s")

	// Database defaults (Postgres audit backend)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "medsafe")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.migrations_path", "migrations")

	// Client rate limiting
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_second", 3)
	v.SetDefault("ratelimit.burst", 30)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// ConfigFileUsed returns the file that was read, or "" when none was found
func (m *Manager) ConfigFileUsed() string {
	return m.v.ConfigFileUsed()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return Validate(m.config)
}

// Validate checks a configuration for values the engine cannot run safely with
func Validate(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Analysis.RequestTimeout <= 0 {
		return fmt.Errorf("analysis request timeout must be positive")
	}
	if config.Analysis.CallTimeout <= 0 || config.Analysis.CallTimeout > config.Analysis.RequestTimeout {
		return fmt.Errorf("analysis call timeout must be positive and at most the request timeout")
	}
	if config.Analysis.MaxCurrentMedications < 0 || config.Analysis.MaxCurrentMedications > 9 {
		return fmt.Errorf("max current medications must be between 0 and 9, got %d", config.Analysis.MaxCurrentMedications)
	}

	if config.Registries.OpenFDA.Enabled && config.Registries.OpenFDA.BaseURL == "" {
		return fmt.Errorf("openFDA base URL is required")
	}
	if config.Registries.RxNav.Enabled && config.Registries.RxNav.BaseURL == "" {
		return fmt.Errorf("RxNav base URL is required")
	}
	if config.Registries.InteractionService.Enabled && config.Registries.InteractionService.BaseURL == "" {
		return fmt.Errorf("interaction service base URL is required when enabled")
	}

	switch config.Completion.Provider {
	case external.ProviderAnthropic, external.ProviderGemini, "none", "":
	default:
		return fmt.Errorf("unknown completion provider: %s", config.Completion.Provider)
	}
	if config.Completion.Temperature < 0 || config.Completion.Temperature > 0.4 {
		return fmt.Errorf("completion temperature must be between 0 and 0.4, got %.2f", config.Completion.Temperature)
	}
	if !config.Completion.SafetyFilters {
		return fmt.Errorf("completion safety filters cannot be disabled")
	}

	if config.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache max entries must be positive")
	}
	if config.Cache.ResolverTTL <= 0 || config.Cache.InteractionTTL <= 0 {
		return fmt.Errorf("cache TTLs must be positive")
	}
	if config.Idempotency.TTL <= 0 {
		return fmt.Errorf("idempotency TTL must be positive")
	}

	if config.Audit.Retention < 0 {
		return fmt.Errorf("audit retention cannot be negative")
	}
	switch config.Audit.Driver {
	case "log":
	case "sqlite":
		if config.Audit.SQLitePath == "" {
			return fmt.Errorf("audit sqlite path is required")
		}
	case "postgres":
		if config.Database.Host == "" || config.Database.Database == "" || config.Database.Username == "" {
			return fmt.Errorf("database host, name and username are required for the postgres audit driver")
		}
	default:
		return fmt.Errorf("unknown audit driver: %s", config.Audit.Driver)
	}

	if config.RateLimit.Enabled && (config.RateLimit.RequestsPerSecond <= 0 || config.RateLimit.Burst <= 0) {
		return fmt.Errorf("rate limit requires positive requests per second and burst")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}
