package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Analysis    AnalysisConfig    `mapstructure:"analysis"`
	Registries  RegistriesConfig  `mapstructure:"registries"`
	Completion  CompletionConfig  `mapstructure:"completion"`
	Cache       CacheConfig       `mapstructure:"cache"`
	Idempotency IdempotencyConfig `mapstructure:"idempotency"`
	Audit       AuditConfig       `mapstructure:"audit"`
	Database    DatabaseConfig    `mapstructure:"database"`
	RateLimit   RateLimitConfig   `mapstructure:"ratelimit"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// AnalysisConfig bounds the analysis pipeline
type AnalysisConfig struct {
	RequestTimeout        time.Duration `mapstructure:"request_timeout"`
	CallTimeout           time.Duration `mapstructure:"call_timeout"`
	MaxCurrentMedications int           `mapstructure:"max_current_medications"`
}

// RegistriesConfig holds the external registry clients' configuration
type RegistriesConfig struct {
	OpenFDA            RegistryConfig `mapstructure:"openfda"`
	RxNav              RegistryConfig `mapstructure:"rxnav"`
	InteractionService RegistryConfig `mapstructure:"interaction_service"`
}

// RegistryConfig represents a single external registry
type RegistryConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	MinInterval time.Duration `mapstructure:"min_interval"`
}

// CompletionConfig represents the generative completion provider
type CompletionConfig struct {
	Provider      string        `mapstructure:"provider"` // "anthropic", "gemini"
	APIKey        string        `mapstructure:"api_key"`
	BaseURL       string        `mapstructure:"base_url"`
	Model         string        `mapstructure:"model"`
	Temperature   float64       `mapstructure:"temperature"`
	MaxTokens     int           `mapstructure:"max_tokens"`
	Timeout       time.Duration `mapstructure:"timeout"`
	SafetyFilters bool          `mapstructure:"safety_filters"`
	MinInterval   time.Duration `mapstructure:"min_interval"`
}

// CacheConfig represents cache configuration
type CacheConfig struct {
	ResolverTTL    time.Duration `mapstructure:"resolver_ttl"`
	InteractionTTL time.Duration `mapstructure:"interaction_ttl"`
	MaxEntries     int           `mapstructure:"max_entries"`
	SweepInterval  time.Duration `mapstructure:"sweep_interval"`
	RedisURL       string        `mapstructure:"redis_url"`
	PoolSize       int           `mapstructure:"pool_size"`
	PoolTimeout    time.Duration `mapstructure:"pool_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
}

// IdempotencyConfig represents the idempotency store configuration
type IdempotencyConfig struct {
	TTL             time.Duration `mapstructure:"ttl"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// AuditConfig selects and configures the audit sink
type AuditConfig struct {
	Driver     string `mapstructure:"driver"` // "log", "sqlite", "postgres"
	SQLitePath string `mapstructure:"sqlite_path"`
	BufferSize int    `mapstructure:"buffer_size"`

	// Retention prunes persisted events older than this; zero keeps everything
	Retention time.Duration `mapstructure:"retention"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RateLimitConfig represents per-client HTTP rate limiting
type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int64   `mapstructure:"burst"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
