package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func TestDefaultDataDir(t *testing.T) {
	t.Setenv("MEDSAFE_DATA_DIR", "")
	assert.Equal(t, ".medsafe", filepath.Base(DefaultDataDir()))

	t.Setenv("MEDSAFE_DATA_DIR", "/tmp/medsafe-test")
	assert.Equal(t, "/tmp/medsafe-test", DefaultDataDir())
}

func TestDataPaths(t *testing.T) {
	assert.Equal(t, filepath.Join("/data", "audit.db"), AuditDBPath("/data"))
	assert.Equal(t, filepath.Join("/data", "exports"), ExportDir("/data"))
}

func TestEnsureDataDir(t *testing.T) {
	dataDir := filepath.Join(t.TempDir(), "nested", "medsafe")

	require.NoError(t, EnsureDataDir(dataDir))

	info, err := os.Stat(dataDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	info, err = os.Stat(ExportDir(dataDir))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestApplyLite(t *testing.T) {
	cfg := &domain.Config{
		Cache: domain.CacheConfig{RedisURL: "redis://localhost:6379/0"},
		Audit: domain.AuditConfig{Driver: "postgres"},
	}

	ApplyLite(cfg, "/data")

	assert.Empty(t, cfg.Cache.RedisURL)
	assert.Equal(t, "sqlite", cfg.Audit.Driver)
	assert.Equal(t, AuditDBPath("/data"), cfg.Audit.SQLitePath)

	logOnly := &domain.Config{Audit: domain.AuditConfig{Driver: "log"}}
	ApplyLite(logOnly, "/data")
	assert.Equal(t, "log", logOnly.Audit.Driver)
	assert.Empty(t, logOnly.Audit.SQLitePath)
}

func TestApplyOffline(t *testing.T) {
	t.Setenv("MEDSAFE_DATA_DIR", t.TempDir())

	manager, err := NewManager()
	require.NoError(t, err)
	cfg := manager.GetConfig()

	ApplyOffline(cfg)

	assert.False(t, cfg.Registries.OpenFDA.Enabled)
	assert.False(t, cfg.Registries.RxNav.Enabled)
	assert.False(t, cfg.Registries.InteractionService.Enabled)
	assert.Equal(t, "none", cfg.Completion.Provider)
	assert.NoError(t, Validate(cfg))
}
