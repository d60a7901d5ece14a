package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/idempotency"
	"github.com/medsafe-analysis-server/pkg/external"
)

// captureAudit records emitted audit events
type captureAudit struct {
	mu     sync.Mutex
	events []domain.AuditEvent
}

func (c *captureAudit) Emit(event string, metadata map[string]interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, domain.AuditEvent{Event: event, Metadata: metadata})
}

func (c *captureAudit) Events() []domain.AuditEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.AuditEvent(nil), c.events...)
}

type analyzerFixture struct {
	analyzer  *MedicationAnalyzer
	completer *MockCompleter
	audit     *captureAudit
}

func newAnalyzerFixture(t *testing.T, completer *MockCompleter) *analyzerFixture {
	t.Helper()
	logger := quietLogger()
	curated := external.NewCuratedRegistry()

	resolver := NewResolver([]external.MedicationSource{curated}, newRecordCache(t), ResolverConfig{}, nil, logger)
	engine := NewInteractionEngine([]external.InteractionSource{curated}, newPairCache(t), InteractionEngineConfig{}, nil, logger)
	generator := NewGenerator(completer, curated, GeneratorConfig{Timeout: time.Second}, nil, logger)
	results := idempotency.NewStore[*domain.AnalysisResult](idempotency.Config[*domain.AnalysisResult]{
		TTL:  time.Hour,
		Keep: func(r *domain.AnalysisResult) bool { return !r.Degraded },
	}, logger)
	audit := &captureAudit{}

	return &analyzerFixture{
		analyzer:  NewMedicationAnalyzer(resolver, engine, generator, results, audit, nil, AnalyzerConfig{RequestTimeout: 5 * time.Second}, logger),
		completer: completer,
		audit:     audit,
	}
}

func completerReturning(text string, err error) *MockCompleter {
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything).Return(text, err)
	return completer
}

func TestAnalyze_CriticalMedication(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))

	result, err := fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{MedicationName: "Warfarin"})
	require.NoError(t, err)

	assert.Equal(t, "Warfarin", result.MedicationName)
	assert.True(t, result.MedicationInfo.IsCritical)
	assert.Equal(t, domain.CategoryAnticoagulant, result.MedicationInfo.Category)
	assert.Contains(t, result.Warnings, fmt.Sprintf(DiscontinuationWarning, "Warfarin"))
	assert.Equal(t, CriticalEmergencyWarning, result.EmergencyWarning)
	assert.Equal(t, Disclaimer, result.Disclaimer)
	assert.True(t, result.RequiresConsultation)
	assert.False(t, result.Degraded)

	require.NotEmpty(t, result.Alternatives)
	for _, alt := range result.Alternatives {
		assert.Contains(t, alt.EffectivenessLabel, "complement")
	}
	assert.LessOrEqual(t, result.Confidence, 1.0)
}

func TestAnalyze_GeneralMedication(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))

	result, err := fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{MedicationName: "Melatonin"})
	require.NoError(t, err)

	assert.False(t, result.MedicationInfo.IsCritical)
	assert.NotContains(t, result.Warnings, fmt.Sprintf(DiscontinuationWarning, "Melatonin"))
	assert.NotEmpty(t, result.EmergencyWarning)
	assert.Equal(t, Disclaimer, result.Disclaimer)
}

func TestAnalyze_RejectsInvalidInput(t *testing.T) {
	age := 200
	tooMany := make([]string, DefaultMaxCurrentMedications+1)
	for i := range tooMany {
		tooMany[i] = fmt.Sprintf("Drug%d", i)
	}

	tests := []struct {
		name  string
		req   domain.AnalysisRequest
		field string
	}{
		{"markup", domain.AnalysisRequest{MedicationName: "<script>alert(1)</script>"}, "medicationName"},
		{"sql", domain.AnalysisRequest{MedicationName: "aspirin; DROP TABLE users"}, "medicationName"},
		{"empty", domain.AnalysisRequest{MedicationName: "   "}, "medicationName"},
		{"age out of range", domain.AnalysisRequest{MedicationName: "Aspirin", PatientFactors: &domain.PatientFactors{Age: &age}}, "patientFactors.age"},
		{"too many medications", domain.AnalysisRequest{MedicationName: "Aspirin", PatientFactors: &domain.PatientFactors{CurrentMedications: tooMany}}, "patientFactors.currentMedications"},
		{"hostile current medication", domain.AnalysisRequest{MedicationName: "Aspirin", PatientFactors: &domain.PatientFactors{CurrentMedications: []string{"Sertraline", "<img src=x>"}}}, "patientFactors.currentMedications[1]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			completer := &MockCompleter{}
			fx := newAnalyzerFixture(t, completer)

			result, err := fx.analyzer.Analyze(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, result)

			ve, ok := err.(*domain.ValidationError)
			require.True(t, ok, "expected *domain.ValidationError, got %T", err)
			assert.Equal(t, tt.field, ve.Field)
			completer.AssertNotCalled(t, "Complete", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestAnalyze_GeneratorFailureStillReturnsDisclaimer(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning("", context.DeadlineExceeded))
	ctx := context.Background()

	result, err := fx.analyzer.Analyze(ctx, domain.AnalysisRequest{MedicationName: "Warfarin"})
	require.NoError(t, err)

	assert.NotNil(t, result.Alternatives)
	assert.Empty(t, result.Alternatives)
	assert.Equal(t, Disclaimer, result.Disclaimer)
	assert.True(t, result.Degraded)
	assert.LessOrEqual(t, result.Confidence, 0.3)
	assert.Contains(t, result.Warnings, FallbackWarning)
	assert.Contains(t, result.Warnings, DegradedWarning)

	// Degraded results are not replayed
	_, err = fx.analyzer.Analyze(ctx, domain.AnalysisRequest{MedicationName: "Warfarin"})
	require.NoError(t, err)
	fx.completer.AssertNumberOfCalls(t, "Complete", 2)
}

func TestAnalyze_ReplaysIdenticalRequests(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))
	ctx := context.Background()
	age := 45

	first, err := fx.analyzer.Analyze(ctx, domain.AnalysisRequest{
		MedicationName: "Sertraline",
		PatientFactors: &domain.PatientFactors{Age: &age, Conditions: []string{"Asthma", "Bipolar disorder"}},
	})
	require.NoError(t, err)

	// Same request with different casing and ordering
	second, err := fx.analyzer.Analyze(ctx, domain.AnalysisRequest{
		MedicationName: "sertraline",
		PatientFactors: &domain.PatientFactors{Age: &age, Conditions: []string{"bipolar disorder", "asthma"}},
	})
	require.NoError(t, err)

	assert.Same(t, first, second)
	fx.completer.AssertNumberOfCalls(t, "Complete", 1)
}

func TestAnalyze_ConcurrentIdenticalRequestsCollapse(t *testing.T) {
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(time.After(50*time.Millisecond)).
		Return(validCompletion, nil)
	fx := newAnalyzerFixture(t, completer)

	const callers = 8
	var wg sync.WaitGroup
	results := make([]*domain.AnalysisResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{MedicationName: "Lisinopril"})
		}(i)
	}
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Same(t, results[0], results[i])
	}
	completer.AssertNumberOfCalls(t, "Complete", 1)
}

func TestAnalyze_CurrentMedicationInteractions(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))

	result, err := fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{
		MedicationName: "Phenelzine",
		PatientFactors: &domain.PatientFactors{CurrentMedications: []string{"Sertraline", "phenelzine"}},
	})
	require.NoError(t, err)

	require.True(t, result.Interactions.HasInteractions)
	assert.Equal(t, domain.SeverityContraindicated, result.Interactions.Findings[0].Severity)
	assert.Greater(t, result.Interactions.SeveritySummary.Contraindicated, 0)

	var critical bool
	for _, w := range result.Warnings {
		if len(w) > 9 && w[:9] == "CRITICAL:" {
			critical = true
		}
	}
	assert.True(t, critical)
}

func TestAnalyze_UnresolvedMedication(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))

	result, err := fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{MedicationName: "Zzyzxorin"})
	require.NoError(t, err)

	assert.True(t, result.MedicationInfo.ValidationWarning)
	assert.Equal(t, domain.CategoryUnknown, result.MedicationInfo.Category)
	assert.Contains(t, result.Warnings, UnverifiedWarning)
	assert.LessOrEqual(t, result.Confidence, 0.3)
	assert.False(t, result.Degraded)
}

func TestAnalyze_AuditEventCarriesNoPatientData(t *testing.T) {
	fx := newAnalyzerFixture(t, completerReturning(validCompletion, nil))
	age := 30

	_, err := fx.analyzer.Analyze(context.Background(), domain.AnalysisRequest{
		MedicationName: "Ibuprofen",
		PatientFactors: &domain.PatientFactors{
			Age:        &age,
			Conditions: []string{"kidney disease"},
			Allergies:  []domain.Allergy{{Allergen: "penicillin"}},
		},
	})
	require.NoError(t, err)

	events := fx.audit.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "medication_analyzed", events[0].Event)
	assert.Equal(t, true, events[0].Metadata["has_factors"])
	for key, value := range events[0].Metadata {
		assert.NotContains(t, []string{"medication", "age", "conditions", "allergies"}, key)
		assert.NotEqual(t, "kidney disease", value)
	}
}

func TestAnalyze_CancelledCallerGetsDegradedResult(t *testing.T) {
	completer := &MockCompleter{}
	completer.On("Complete", mock.Anything, mock.Anything, mock.Anything).
		WaitUntil(time.After(200*time.Millisecond)).
		Return(validCompletion, nil)
	fx := newAnalyzerFixture(t, completer)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result, err := fx.analyzer.Analyze(ctx, domain.AnalysisRequest{MedicationName: "Metformin"})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, Disclaimer, result.Disclaimer)
	assert.Empty(t, result.Alternatives)
}
