// Package audit persists the PII-free audit events emitted by the analysis
// pipeline. Events are handed to an asynchronous Dispatcher and written to a
// log, SQLite or PostgreSQL sink.
package audit

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/medsafe-analysis-server/internal/domain"
)

// Sink receives audit events
type Sink interface {
	// Save writes one event. It must not retain the event after returning.
	Save(ctx context.Context, event *domain.AuditEvent) error

	// Close releases resources held by the sink.
	Close() error
}

// Store is a queryable Sink backed by a database.
type Store interface {
	Sink

	// List returns events newest first with pagination.
	List(ctx context.Context, limit, offset int) ([]*domain.AuditEvent, error)

	// Count returns the total number of stored events.
	Count(ctx context.Context) (int64, error)

	// ExportJSON writes every stored event to writer.
	ExportJSON(ctx context.Context, writer io.Writer) error
}

// Export represents the JSON export format.
type Export struct {
	Version    string               `json:"version"`
	ExportedAt time.Time            `json:"exported_at"`
	Count      int                  `json:"count"`
	Events     []*domain.AuditEvent `json:"events"`
}

// maxExportLimit is the maximum number of events exported at once.
const maxExportLimit = 1000000

// forbiddenKeys never reach a sink, whatever the caller sends
var forbiddenKeys = []string{
	"medication", "medication_name", "patient", "age", "condition",
	"allerg", "pregnan", "name", "prompt", "ip", "email",
}

// Scrub returns a copy of metadata without keys that could identify a
// patient or the medication they asked about
func Scrub(metadata map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(metadata))
	for key, value := range metadata {
		if isForbidden(key) {
			continue
		}
		out[key] = value
	}
	return out
}

func isForbidden(key string) bool {
	lower := strings.ToLower(key)
	for _, f := range forbiddenKeys {
		if lower == f || strings.HasPrefix(lower, f) {
			return true
		}
	}
	return false
}
