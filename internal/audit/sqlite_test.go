package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
)

func createTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "audit.db")
	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	return store
}

func sampleEvent(id string, at time.Time) *domain.AuditEvent {
	return &domain.AuditEvent{
		ID:    id,
		Event: "medication_analyzed",
		Metadata: map[string]interface{}{
			"category":    "Anticoagulant",
			"is_critical": true,
			"findings":    2,
		},
		RecordedAt: at,
	}
}

func TestNewSQLiteStore(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "audit.db")

	store, err := NewSQLiteStore(dbPath)
	require.NoError(t, err)
	require.NotNil(t, store)
	defer store.Close()

	_, err = os.Stat(dbPath)
	assert.NoError(t, err, "Database file should exist")
}

func TestSQLiteStore_SaveAndList(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.Save(ctx, sampleEvent("a", base)))
	require.NoError(t, store.Save(ctx, sampleEvent("b", base.Add(time.Minute))))

	// Duplicate IDs are ignored
	require.NoError(t, store.Save(ctx, sampleEvent("a", base.Add(time.Hour))))

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	events, err := store.List(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[0].ID)
	assert.Equal(t, "a", events[1].ID)
	assert.Equal(t, "Anticoagulant", events[0].Metadata["category"])
	assert.Equal(t, true, events[0].Metadata["is_critical"])
	assert.True(t, base.Equal(events[1].RecordedAt))

	page, err := store.List(ctx, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].ID)
}

func TestSQLiteStore_DeleteBefore(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	now := time.Now().UTC()
	require.NoError(t, store.Save(ctx, sampleEvent("old", now.Add(-48*time.Hour))))
	require.NoError(t, store.Save(ctx, sampleEvent("new", now)))

	removed, err := store.DeleteBefore(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	count, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSQLiteStore_ExportJSON(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, sampleEvent("a", time.Now())))

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(ctx, &buf))

	var export Export
	require.NoError(t, json.Unmarshal(buf.Bytes(), &export))
	assert.Equal(t, "1.0", export.Version)
	assert.Equal(t, 1, export.Count)
	require.Len(t, export.Events, 1)
	assert.Equal(t, "medication_analyzed", export.Events[0].Event)
}

func TestSQLiteStore_ExportEmpty(t *testing.T) {
	store := createTestStore(t)
	defer store.Close()

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(context.Background(), &buf))
	assert.Contains(t, buf.String(), `"events": []`)
}
