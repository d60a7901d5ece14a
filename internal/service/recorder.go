package service

import "time"

// Recorder receives pipeline measurements. internal/metrics provides the
// Prometheus implementation.
type Recorder interface {
	ObserveResolution(source, outcome string)
	ObserveCacheLookup(cache string, hit bool)
	ObservePairLookup(source, outcome string)
	ObserveGeneration(provider, outcome string, duration time.Duration)
	ObserveAnalysis(outcome string, duration time.Duration)
}

// AuditRecorder accepts fire-and-forget audit events. Metadata must not carry PII.
type AuditRecorder interface {
	Emit(event string, metadata map[string]interface{})
}

type nopRecorder struct{}

func (nopRecorder) ObserveResolution(string, string)                {}
func (nopRecorder) ObserveCacheLookup(string, bool)                 {}
func (nopRecorder) ObservePairLookup(string, string)                {}
func (nopRecorder) ObserveGeneration(string, string, time.Duration) {}
func (nopRecorder) ObserveAnalysis(string, time.Duration)           {}

type nopAudit struct{}

func (nopAudit) Emit(string, map[string]interface{}) {}

// Outcome labels shared by the recorder methods
const (
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
	OutcomeFallback = "fallback"
	OutcomeDegraded = "degraded"
)
