package config

import (
	"os"
	"path/filepath"

	"github.com/medsafe-analysis-server/internal/domain"
)

// DefaultDataDir returns the base directory for local data files.
func DefaultDataDir() string {
	if v := os.Getenv(EnvPrefix + "_DATA_DIR"); v != "" {
		return v
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return ".medsafe"
	}
	return filepath.Join(homeDir, ".medsafe")
}

// AuditDBPath returns the path to the SQLite audit database under dataDir.
func AuditDBPath(dataDir string) string {
	return filepath.Join(dataDir, "audit.db")
}

// ExportDir returns the directory for audit JSON exports under dataDir.
func ExportDir(dataDir string) string {
	return filepath.Join(dataDir, "exports")
}

// EnsureDataDir creates the data and export directories if they don't exist.
func EnsureDataDir(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return err
	}
	return os.MkdirAll(ExportDir(dataDir), 0755)
}

// ApplyLite turns config into a standalone configuration that needs no
// external databases: no Redis tier and a local SQLite audit store instead
// of Postgres.
func ApplyLite(config *domain.Config, dataDir string) {
	config.Cache.RedisURL = ""
	if config.Audit.Driver == "postgres" {
		config.Audit.Driver = "sqlite"
	}
	if config.Audit.Driver == "sqlite" {
		config.Audit.SQLitePath = AuditDBPath(dataDir)
	}
}

// ApplyOffline disables every network registry and the completion provider.
// Resolution and pair checks then run against the curated registry only and
// the generator returns its safe fallback.
func ApplyOffline(config *domain.Config) {
	config.Registries.OpenFDA.Enabled = false
	config.Registries.RxNav.Enabled = false
	config.Registries.InteractionService.Enabled = false
	config.Completion.Provider = "none"
	ApplyLite(config, DefaultDataDir())
}
