package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/internal/idempotency"
	"github.com/medsafe-analysis-server/pkg/medname"
)

// Limits applied to patient factors
const (
	DefaultMaxCurrentMedications = 9
	maxAge                       = 130
)

// AnalyzerConfig represents configuration for the analysis pipeline
type AnalyzerConfig struct {
	RequestTimeout        time.Duration `json:"request_timeout"`
	MaxCurrentMedications int           `json:"max_current_medications"`
}

// MedicationAnalyzer runs validation, resolution, interaction checking,
// generation and warning composition for one request
type MedicationAnalyzer struct {
	resolver  domain.MedicationResolver
	checker   domain.InteractionChecker
	generator domain.AlternativeGenerator
	results   *idempotency.Store[*domain.AnalysisResult]
	audit     AuditRecorder
	recorder  Recorder
	config    AnalyzerConfig
	logger    *logrus.Logger
	now       func() time.Time
}

// NewMedicationAnalyzer wires the pipeline. audit and recorder may be nil.
func NewMedicationAnalyzer(
	resolver domain.MedicationResolver,
	checker domain.InteractionChecker,
	generator domain.AlternativeGenerator,
	results *idempotency.Store[*domain.AnalysisResult],
	audit AuditRecorder,
	recorder Recorder,
	config AnalyzerConfig,
	logger *logrus.Logger,
) *MedicationAnalyzer {
	if config.RequestTimeout == 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.MaxCurrentMedications == 0 {
		config.MaxCurrentMedications = DefaultMaxCurrentMedications
	}
	if audit == nil {
		audit = nopAudit{}
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &MedicationAnalyzer{
		resolver:  resolver,
		checker:   checker,
		generator: generator,
		results:   results,
		audit:     audit,
		recorder:  recorder,
		config:    config,
		logger:    logger,
		now:       time.Now,
	}
}

// Analyze returns a complete result for req. The only error it returns is a
// *domain.ValidationError for bad input; every other failure yields a
// degraded result that still carries the disclaimer.
func (a *MedicationAnalyzer) Analyze(ctx context.Context, req domain.AnalysisRequest) (*domain.AnalysisResult, error) {
	start := time.Now()

	name, factors, err := a.validate(req)
	if err != nil {
		a.recorder.ObserveAnalysis("invalid", time.Since(start))
		return nil, err
	}

	key := idempotency.Key("analyze_medication", requestParams(name, factors))

	result, err := a.results.Do(ctx, key, func(workCtx context.Context) (*domain.AnalysisResult, error) {
		runCtx, cancel := context.WithTimeout(workCtx, a.config.RequestTimeout)
		defer cancel()
		return a.run(runCtx, name, factors), nil
	})
	if err != nil {
		a.logger.WithFields(logrus.Fields{
			"medication": name,
			"error":      err.Error(),
		}).Warn("Analysis abandoned, returning degraded result")
		a.recorder.ObserveAnalysis(OutcomeDegraded, time.Since(start))
		return a.degradedResult(name), nil
	}

	outcome := OutcomeSuccess
	if result.Degraded {
		outcome = OutcomeDegraded
	}
	a.recorder.ObserveAnalysis(outcome, time.Since(start))
	return result, nil
}

func (a *MedicationAnalyzer) run(ctx context.Context, name string, factors *domain.PatientFactors) *domain.AnalysisResult {
	start := time.Now()

	subject, resolveErr := a.resolver.Resolve(ctx, name)
	degraded := resolveErr != nil && !errors.Is(resolveErr, domain.ErrNotFound)

	medications := []*domain.MedicationRecord{subject}
	if factors != nil {
		for _, current := range factors.CurrentMedications {
			rec, err := a.resolver.Resolve(ctx, current)
			if err != nil && !errors.Is(err, domain.ErrNotFound) {
				degraded = true
			}
			medications = append(medications, rec)
		}
	}

	var report *domain.InteractionReport
	var generated *domain.GeneratorOutput

	// Both stages recover internally; the group only joins them
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		report = a.checker.Check(gctx, medications, factors)
		return nil
	})
	g.Go(func() error {
		generated = a.generator.Generate(gctx, subject)
		return nil
	})
	_ = g.Wait()

	if report == nil {
		report = domain.EmptyInteractionReport()
		report.Degraded = true
	}
	if generated == nil {
		generated = FallbackOutput()
	}
	degraded = degraded || report.Degraded || generated.Fallback || ctx.Err() != nil

	composition := Compose(subject, report, generated, degraded)

	confidence := generated.Confidence
	if degraded || subject.ValidationWarning {
		confidence = minFloat(confidence, 0.3)
	}

	result := &domain.AnalysisResult{
		MedicationName:       name,
		MedicationInfo:       subject.Info(),
		Alternatives:         composition.Alternatives,
		Warnings:             composition.Warnings,
		Recommendations:      generated.Recommendations,
		Interactions:         *report,
		Disclaimer:           composition.Disclaimer,
		EmergencyWarning:     composition.EmergencyWarning,
		Confidence:           confidence,
		RequiresConsultation: true,
		Degraded:             degraded,
		AnalyzedAt:           a.now(),
	}

	a.audit.Emit("medication_analyzed", map[string]interface{}{
		"category":         subject.Category,
		"is_critical":      subject.IsCritical,
		"resolved":         !subject.ValidationWarning,
		"source":           subject.Source,
		"findings":         len(report.Findings),
		"contraindicated":  report.SeveritySummary.Contraindicated,
		"alternatives":     len(result.Alternatives),
		"generator_failed": generated.Fallback,
		"degraded":         degraded,
		"has_factors":      factors != nil,
		"duration_ms":      time.Since(start).Milliseconds(),
	})

	a.logger.WithFields(logrus.Fields{
		"medication":   name,
		"category":     subject.Category,
		"is_critical":  subject.IsCritical,
		"findings":     len(report.Findings),
		"alternatives": len(result.Alternatives),
		"degraded":     degraded,
		"duration_ms":  time.Since(start).Milliseconds(),
	}).Info("Medication analysis completed")

	return result
}

// degradedResult is returned when the pipeline could not run for this caller
func (a *MedicationAnalyzer) degradedResult(name string) *domain.AnalysisResult {
	subject := &domain.MedicationRecord{
		Name:              name,
		GenericName:       name,
		BrandNames:        []string{},
		Category:          domain.CategoryUnknown,
		Source:            "unresolved",
		ValidationWarning: true,
	}
	generated := FallbackOutput()
	report := domain.EmptyInteractionReport()
	report.Degraded = true
	composition := Compose(subject, report, generated, true)

	return &domain.AnalysisResult{
		MedicationName:       name,
		MedicationInfo:       subject.Info(),
		Alternatives:         composition.Alternatives,
		Warnings:             composition.Warnings,
		Recommendations:      generated.Recommendations,
		Interactions:         *report,
		Disclaimer:           composition.Disclaimer,
		EmergencyWarning:     composition.EmergencyWarning,
		Confidence:           0,
		RequiresConsultation: true,
		Degraded:             true,
		AnalyzedAt:           a.now(),
	}
}

// validate sanitizes every string that reaches a registry query or prompt
// and normalizes patient factors
func (a *MedicationAnalyzer) validate(req domain.AnalysisRequest) (string, *domain.PatientFactors, error) {
	name, err := medname.Validate(req.MedicationName)
	if err != nil {
		return "", nil, err
	}
	if req.PatientFactors == nil {
		return name, nil, nil
	}

	in := req.PatientFactors
	if in.Age != nil && (*in.Age < 0 || *in.Age > maxAge) {
		return "", nil, domain.NewValidationError("patientFactors.age", fmt.Sprintf("age must be between 0 and %d", maxAge), *in.Age)
	}
	if len(in.CurrentMedications) > a.config.MaxCurrentMedications {
		return "", nil, domain.NewValidationError("patientFactors.currentMedications",
			fmt.Sprintf("at most %d current medications are supported", a.config.MaxCurrentMedications), len(in.CurrentMedications))
	}

	out := &domain.PatientFactors{Age: in.Age, Pregnant: in.Pregnant}
	seen := map[string]bool{strings.ToLower(name): true}
	for i, med := range in.CurrentMedications {
		sanitized, err := medname.Validate(med)
		if err != nil {
			var ve *domain.ValidationError
			if errors.As(err, &ve) {
				return "", nil, domain.NewValidationError(fmt.Sprintf("patientFactors.currentMedications[%d]", i), ve.Message, nil)
			}
			return "", nil, err
		}
		if lower := strings.ToLower(sanitized); !seen[lower] {
			seen[lower] = true
			out.CurrentMedications = append(out.CurrentMedications, sanitized)
		}
	}
	for _, condition := range in.Conditions {
		if c := medname.Sanitize(condition); c != "" {
			out.Conditions = append(out.Conditions, c)
		}
	}
	for _, allergy := range in.Allergies {
		allergen := medname.Sanitize(allergy.Allergen)
		if allergen == "" {
			continue
		}
		clean := domain.Allergy{Allergen: allergen}
		for _, s := range allergy.Synonyms {
			if synonym := medname.Sanitize(s); synonym != "" {
				clean.Synonyms = append(clean.Synonyms, synonym)
			}
		}
		out.Allergies = append(out.Allergies, clean)
	}
	return name, out, nil
}

// requestParams builds order-independent idempotency parameters
func requestParams(name string, factors *domain.PatientFactors) map[string]interface{} {
	params := map[string]interface{}{
		"medication": strings.ToLower(name),
	}
	if factors == nil {
		return params
	}

	if factors.Age != nil {
		params["age"] = *factors.Age
	}
	params["pregnant"] = factors.Pregnant
	params["conditions"] = sortedLower(factors.Conditions)
	params["current_medications"] = sortedLower(factors.CurrentMedications)

	allergies := make([]string, 0, len(factors.Allergies))
	for _, allergy := range factors.Allergies {
		allergies = append(allergies, strings.ToLower(allergy.Allergen)+"="+strings.Join(sortedLower(allergy.Synonyms), ","))
	}
	sort.Strings(allergies)
	params["allergies"] = allergies
	return params
}

func sortedLower(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	sort.Strings(out)
	return out
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
