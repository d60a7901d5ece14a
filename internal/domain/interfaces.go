package domain

import (
	"context"
	"time"
)

// MedicationResolver resolves a sanitized medication name to a canonical record.
// When no registry resolves the name it returns a soft-failure record together
// with an error (wrapping ErrNotFound when every registry answered "no record");
// the record is never nil.
type MedicationResolver interface {
	Resolve(ctx context.Context, name string) (*MedicationRecord, error)
}

// InteractionChecker produces ranked drug-drug, allergy, condition, age and
// pregnancy findings for a medication set. It never fails; degraded lookups
// are reported through InteractionReport.Degraded.
type InteractionChecker interface {
	Check(ctx context.Context, medications []*MedicationRecord, factors *PatientFactors) *InteractionReport
}

// AlternativeGenerator produces post-validated natural alternatives for a medication.
// It never fails; on any upstream or parse problem it returns the safe fallback.
type AlternativeGenerator interface {
	Generate(ctx context.Context, medication *MedicationRecord) *GeneratorOutput
}

// CompletionOptions are the sampling and safety settings passed to a completion provider
type CompletionOptions struct {
	System        string
	Temperature   float64
	MaxTokens     int
	SafetyFilters bool
}

// Completer is a generative text completion provider
type Completer interface {
	Name() string
	Complete(ctx context.Context, prompt string, opts CompletionOptions) (string, error)
}

// AuditEvent is a PII-free record of something the engine did
type AuditEvent struct {
	ID         string                 `json:"id"`
	Event      string                 `json:"event"`
	Metadata   map[string]interface{} `json:"metadata"`
	RecordedAt time.Time              `json:"recorded_at"`
}

// ConfigManager provides access to the loaded configuration
type ConfigManager interface {
	GetConfig() *Config
	GetServerConfig() *ServerConfig
}
