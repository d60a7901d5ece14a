package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/external"
)

// ComplementLabel replaces any effectiveness claim the generator is not allowed to make
const ComplementLabel = "Moderate (as complement)"

// Messages used by the safe fallback
const (
	FallbackWarning        = "AI analysis is temporarily unavailable. No natural alternatives could be generated."
	FallbackRecommendation = "Consult your healthcare provider or pharmacist about complementary options for this medication."
)

// AlternativeAnnotator reports known interactions between a medication and a
// free-text alternative name
type AlternativeAnnotator interface {
	AnnotateAlternative(subject *domain.MedicationRecord, alternative string) []external.InteractionRecord
}

// GeneratorConfig represents configuration for the alternative generator
type GeneratorConfig struct {
	Provider    string        `json:"provider"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Timeout     time.Duration `json:"timeout"`
}

// Generator drives the completion provider under a fixed safety contract and
// post-validates everything it returns
type Generator struct {
	completer domain.Completer
	annotator AlternativeAnnotator
	config    GeneratorConfig
	recorder  Recorder
	logger    *logrus.Logger
}

// generatorResponse is the strict schema the completion must match
type generatorResponse struct {
	Alternatives []struct {
		Name              string   `json:"name"`
		Description       string   `json:"description"`
		Evidence          string   `json:"evidence"`
		Effectiveness     string   `json:"effectiveness"`
		Dosage            string   `json:"dosage"`
		SideEffects       []string `json:"sideEffects"`
		Interactions      []string `json:"interactions"`
		Contraindications []string `json:"contraindications"`
		Cost              string   `json:"cost"`
	} `json:"alternatives"`
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
	Confidence      *float64 `json:"confidence"`
}

// NewGenerator creates a generator. completer may be nil, in which case every
// call returns the safe fallback. Temperature is capped at MaxTemperature and
// safety filtering is always requested.
func NewGenerator(completer domain.Completer, annotator AlternativeAnnotator, config GeneratorConfig, recorder Recorder, logger *logrus.Logger) *Generator {
	if config.Temperature <= 0 || config.Temperature > MaxTemperature {
		config.Temperature = 0.3
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = 2048
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if completer != nil && config.Provider == "" {
		config.Provider = completer.Name()
	}

	return &Generator{
		completer: completer,
		annotator: annotator,
		config:    config,
		recorder:  recorder,
		logger:    logger,
	}
}

// Generate returns post-validated alternatives for med. It never fails; any
// timeout, upstream error or malformed output yields FallbackOutput.
func (g *Generator) Generate(ctx context.Context, med *domain.MedicationRecord) *domain.GeneratorOutput {
	if g.completer == nil {
		g.recorder.ObserveGeneration("none", OutcomeFallback, 0)
		return FallbackOutput()
	}

	start := time.Now()
	system, prompt := BuildPrompt(med)

	callCtx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	text, err := g.completer.Complete(callCtx, prompt, domain.CompletionOptions{
		System:        system,
		Temperature:   g.config.Temperature,
		MaxTokens:     g.config.MaxTokens,
		SafetyFilters: true,
	})
	if err != nil {
		g.recorder.ObserveGeneration(g.config.Provider, OutcomeError, time.Since(start))
		g.logger.WithFields(logrus.Fields{
			"provider": g.config.Provider,
			"error":    err.Error(),
		}).Warn("Completion failed, returning safe fallback")
		return FallbackOutput()
	}

	output, err := ParseGeneratorResponse(text)
	if err != nil {
		g.recorder.ObserveGeneration(g.config.Provider, OutcomeFallback, time.Since(start))
		g.logger.WithFields(logrus.Fields{
			"provider": g.config.Provider,
			"error":    err.Error(),
		}).Warn("Completion did not match schema, returning safe fallback")
		return FallbackOutput()
	}

	g.postValidate(med, output)
	g.recorder.ObserveGeneration(g.config.Provider, OutcomeSuccess, time.Since(start))
	return output
}

// ParseGeneratorResponse extracts and strictly decodes the JSON object in text
func ParseGeneratorResponse(text string) (*domain.GeneratorOutput, error) {
	raw, err := extractJSON(text)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()

	var resp generatorResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, &domain.ParseError{Reason: "response does not match schema", Err: err}
	}
	if resp.Alternatives == nil {
		return nil, &domain.ParseError{Reason: "missing required field alternatives"}
	}
	if resp.Confidence == nil {
		return nil, &domain.ParseError{Reason: "missing required field confidence"}
	}

	output := &domain.GeneratorOutput{
		Alternatives:    make([]domain.Alternative, 0, len(resp.Alternatives)),
		Warnings:        nonNil(resp.Warnings),
		Recommendations: nonNil(resp.Recommendations),
		Confidence:      *resp.Confidence,
	}
	for i, alt := range resp.Alternatives {
		if strings.TrimSpace(alt.Name) == "" || strings.TrimSpace(alt.Description) == "" {
			return nil, &domain.ParseError{Reason: fmt.Sprintf("alternative %d is missing name or description", i)}
		}
		output.Alternatives = append(output.Alternatives, domain.Alternative{
			Name:                    strings.TrimSpace(alt.Name),
			Description:             strings.TrimSpace(alt.Description),
			EvidenceLevel:           alt.Evidence,
			EffectivenessLabel:      alt.Effectiveness,
			DosageGuidance:          alt.Dosage,
			SideEffects:             alt.SideEffects,
			InteractionsWithSubject: nonNil(alt.Interactions),
			Contraindications:       nonNil(alt.Contraindications),
			Cost:                    alt.Cost,
		})
	}
	return output, nil
}

// postValidate enforces the claims policy on parsed output. It rewrites
// effectiveness claims, clamps confidence and adds curated interactions.
func (g *Generator) postValidate(med *domain.MedicationRecord, output *domain.GeneratorOutput) {
	output.Confidence = clamp(output.Confidence, 0, 1)

	for i := range output.Alternatives {
		alt := &output.Alternatives[i]
		if overstatedEffectiveness(alt.EffectivenessLabel) {
			g.logger.WithFields(logrus.Fields{
				"alternative":   alt.Name,
				"effectiveness": alt.EffectivenessLabel,
			}).Info("Rewriting overstated effectiveness claim")
			alt.EffectivenessLabel = ComplementLabel
		}

		if g.annotator == nil {
			continue
		}
		for _, rec := range g.annotator.AnnotateAlternative(med, alt.Name) {
			alt.InteractionsWithSubject = appendUnique(alt.InteractionsWithSubject,
				fmt.Sprintf("%s: %s", strings.ToUpper(NormalizeSeverity(rec.Severity).String()), rec.Description))
		}
	}
}

// FallbackOutput is the safe empty result used whenever generation fails
func FallbackOutput() *domain.GeneratorOutput {
	return &domain.GeneratorOutput{
		Alternatives:    []domain.Alternative{},
		Warnings:        []string{FallbackWarning},
		Recommendations: []string{FallbackRecommendation},
		Confidence:      0,
		Fallback:        true,
	}
}

func overstatedEffectiveness(label string) bool {
	lower := strings.ToLower(strings.TrimSpace(label))
	return lower == "high" || lower == "guaranteed" || strings.Contains(lower, "guarantee")
}

// extractJSON returns the text between the first '{' and the last '}'
func extractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end == -1 || end <= start {
		return "", &domain.ParseError{Reason: "no JSON object found in response"}
	}
	return s[start : end+1], nil
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func appendUnique(values []string, v string) []string {
	for _, existing := range values {
		if existing == v {
			return values
		}
	}
	return append(values, v)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
