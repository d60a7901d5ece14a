package external

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
)

// SourceLabelText names findings extracted from registry label text
const SourceLabelText = "label-text"

var (
	labelContraindicatedPattern = regexp.MustCompile(`(?i)\bcontraindicated\b`)
	labelMajorPattern           = regexp.MustCompile(`(?i)\b(avoid|serious|fatal|life-threatening|severe)\b`)
	sentenceSplit               = regexp.MustCompile(`[.;]\s+`)
)

// LabelTextSource extracts interactions by scanning one medication's label
// interaction section for the other medication's names
type LabelTextSource struct{}

// NewLabelTextSource creates the heuristic label-text source
func NewLabelTextSource() *LabelTextSource {
	return &LabelTextSource{}
}

// Name returns the source name
func (s *LabelTextSource) Name() string {
	return SourceLabelText
}

// Interactions searches the label text of a for b and of b for a
func (s *LabelTextSource) Interactions(ctx context.Context, a, b *domain.MedicationRecord) ([]InteractionRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []InteractionRecord
	if rec, ok := scanLabel(a, b); ok {
		records = append(records, rec)
	}
	if rec, ok := scanLabel(b, a); ok {
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("label text mention: %w", domain.ErrNotFound)
	}
	return records, nil
}

func scanLabel(labeled, other *domain.MedicationRecord) (InteractionRecord, bool) {
	text := labeled.LabelInteractionText
	if text == "" {
		return InteractionRecord{}, false
	}
	lower := strings.ToLower(text)

	for _, name := range other.Names() {
		if len(name) < 3 || !containsWord(lower, name) {
			continue
		}
		sentence := mentioningSentence(text, name)
		return InteractionRecord{
			Severity:    labelSeverity(sentence),
			Description: fmt.Sprintf("The %s label mentions %s: %s", displayName(labeled), name, sentence),
			Source:      SourceLabelText,
			Confidence:  0.4,
		}, true
	}
	return InteractionRecord{}, false
}

// mentioningSentence returns the first sentence of text that names name
func mentioningSentence(text, name string) string {
	for _, sentence := range sentenceSplit.Split(text, -1) {
		if containsWord(strings.ToLower(sentence), name) {
			return strings.TrimSpace(sentence)
		}
	}
	return strings.TrimSpace(text)
}

func labelSeverity(sentence string) string {
	switch {
	case labelContraindicatedPattern.MatchString(sentence):
		return "contraindicated"
	case labelMajorPattern.MatchString(sentence):
		return "major"
	default:
		return "moderate"
	}
}
