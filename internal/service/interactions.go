package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/cache"
	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/external"
)

// PairResult is the cached outcome of one drug-drug lookup. An empty Records
// slice is a documented miss: every source answered that it had no data.
type PairResult struct {
	Records []external.InteractionRecord `json:"records"`
	Source  string                       `json:"source"`
}

// InteractionEngineConfig represents configuration for the interaction engine
type InteractionEngineConfig struct {
	CallTimeout time.Duration `json:"call_timeout"`
}

// InteractionEngine combines drug-drug lookups with allergy, condition, age
// and pregnancy rules into one ranked report
type InteractionEngine struct {
	sources     []external.InteractionSource
	pairs       *cache.Tiered[PairResult]
	callTimeout time.Duration
	recorder    Recorder
	logger      *logrus.Logger
}

// NewInteractionEngine creates an interaction engine. Sources are consulted
// in the given order for every pair.
func NewInteractionEngine(
	sources []external.InteractionSource,
	pairs *cache.Tiered[PairResult],
	config InteractionEngineConfig,
	recorder Recorder,
	logger *logrus.Logger,
) *InteractionEngine {
	if config.CallTimeout == 0 {
		config.CallTimeout = 5 * time.Second
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &InteractionEngine{
		sources:     sources,
		pairs:       pairs,
		callTimeout: config.CallTimeout,
		recorder:    recorder,
		logger:      logger,
	}
}

// PairKey returns the order-independent cache key for two medication names
func PairKey(a, b string) string {
	names := []string{canonicalName(a), canonicalName(b)}
	sort.Strings(names)
	sum := sha256.Sum256([]byte("pair::" + names[0] + "|" + names[1]))
	return hex.EncodeToString(sum[:])
}

// Check returns ranked findings for medications. The first medication is the
// analysis subject; patient rules apply to every medication in the set.
func (e *InteractionEngine) Check(ctx context.Context, medications []*domain.MedicationRecord, factors *domain.PatientFactors) *domain.InteractionReport {
	report := domain.EmptyInteractionReport()
	var findings []domain.InteractionFinding

	for i := 0; i < len(medications); i++ {
		for j := i + 1; j < len(medications); j++ {
			if ctx.Err() != nil {
				report.Degraded = true
				break
			}
			pairFindings, ok := e.checkPair(ctx, medications[i], medications[j])
			if !ok {
				report.Degraded = true
			}
			findings = append(findings, pairFindings...)
		}
	}

	if factors != nil {
		for _, med := range medications {
			findings = append(findings, allergyFindings(med, factors.Allergies)...)
			findings = append(findings, conditionFindings(med, factors.Conditions)...)
			if factors.Age != nil {
				findings = append(findings, ageFindings(med, *factors.Age)...)
			}
			if factors.Pregnant {
				findings = append(findings, pregnancyFindings(med)...)
			}
		}
	}

	ranked, summary := Rank(findings)
	report.Findings = ranked
	report.SeveritySummary = summary
	report.HasInteractions = len(ranked) > 0

	e.logger.WithFields(logrus.Fields{
		"medications": len(medications),
		"findings":    len(ranked),
		"degraded":    report.Degraded,
	}).Debug("Interaction check completed")

	return report
}

// checkPair returns the findings for one pair; ok is false when the lookup
// could not complete and the absence of findings is not authoritative
func (e *InteractionEngine) checkPair(ctx context.Context, a, b *domain.MedicationRecord) ([]domain.InteractionFinding, bool) {
	key := PairKey(pairName(a), pairName(b))

	if cached, ok := e.pairs.Get(ctx, key); ok {
		e.recorder.ObserveCacheLookup(e.pairs.Memory().Name(), true)
		return pairFindings(a, b, cached), true
	}
	e.recorder.ObserveCacheLookup(e.pairs.Memory().Name(), false)

	steps := make([]external.Step[[]external.InteractionRecord], 0, len(e.sources))
	for _, source := range e.sources {
		source := source
		steps = append(steps, external.Step[[]external.InteractionRecord]{
			Name: source.Name(),
			Call: func(ctx context.Context) ([]external.InteractionRecord, error) {
				return source.Interactions(ctx, a, b)
			},
		})
	}

	chain := external.Chain[[]external.InteractionRecord]{
		Operation:   "interaction_pair",
		Steps:       steps,
		CallTimeout: e.callTimeout,
		Logger:      e.logger,
	}

	records, source, err := chain.Run(ctx)
	switch {
	case err == nil:
		result := PairResult{Records: records, Source: source}
		e.pairs.Set(ctx, key, result)
		e.recorder.ObservePairLookup(source, OutcomeSuccess)
		return pairFindings(a, b, result), true

	case errors.Is(err, domain.ErrNotFound):
		// Every source answered: cache the documented miss
		e.pairs.Set(ctx, key, PairResult{Records: []external.InteractionRecord{}})
		e.recorder.ObservePairLookup("none", OutcomeNotFound)
		return nil, true

	default:
		e.recorder.ObservePairLookup("none", OutcomeError)
		e.logger.WithFields(logrus.Fields{
			"subject_a": pairName(a),
			"subject_b": pairName(b),
			"error":     err.Error(),
		}).Error("All interaction sources failed for pair")
		return nil, false
	}
}

func pairFindings(a, b *domain.MedicationRecord, result PairResult) []domain.InteractionFinding {
	findings := make([]domain.InteractionFinding, 0, len(result.Records))
	for _, rec := range result.Records {
		sev := NormalizeSeverity(rec.Severity)
		findings = append(findings, domain.InteractionFinding{
			SubjectA:       a.Name,
			SubjectB:       b.Name,
			Kind:           domain.KindDrugDrug,
			Severity:       sev,
			Description:    rec.Description,
			Mechanism:      rec.Mechanism,
			Recommendation: recommendationFor(sev),
			Source:         rec.Source,
			Confidence:     rec.Confidence,
		})
	}
	return findings
}

// pairName prefers the generic name so brand and generic spellings share a cache entry
func pairName(rec *domain.MedicationRecord) string {
	if rec.GenericName != "" {
		return rec.GenericName
	}
	return rec.Name
}

func canonicalName(name string) string {
	return strings.ToLower(strings.Join(strings.Fields(name), " "))
}
