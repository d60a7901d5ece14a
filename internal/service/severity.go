package service

import (
	"sort"
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
)

// severityVocabulary maps source-specific severity labels onto the canonical scale
var severityVocabulary = map[string]domain.Severity{
	"contraindicated":  domain.SeverityContraindicated,
	"contraindication": domain.SeverityContraindicated,
	"do not use":       domain.SeverityContraindicated,
	"critical":         domain.SeverityMajor,
	"major":            domain.SeverityMajor,
	"high":             domain.SeverityMajor,
	"severe":           domain.SeverityMajor,
	"serious":          domain.SeverityMajor,
	"moderate":         domain.SeverityModerate,
	"medium":           domain.SeverityModerate,
	"significant":      domain.SeverityModerate,
	"minor":            domain.SeverityMinor,
	"low":              domain.SeverityMinor,
	"mild":             domain.SeverityMinor,
	"minimal":          domain.SeverityMinor,
}

// NormalizeSeverity maps a raw severity label onto the canonical scale.
// Unmapped labels, including "N/A", become unknown.
func NormalizeSeverity(raw string) domain.Severity {
	if sev, ok := severityVocabulary[strings.ToLower(strings.TrimSpace(raw))]; ok {
		return sev
	}
	return domain.SeverityUnknown
}

// Rank sorts findings by severity weight, highest first, preserving discovery
// order within a level, and counts them per level. The input is not modified.
func Rank(findings []domain.InteractionFinding) ([]domain.InteractionFinding, domain.SeveritySummary) {
	ranked := make([]domain.InteractionFinding, len(findings))
	copy(ranked, findings)

	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Severity.Weight() > ranked[j].Severity.Weight()
	})

	var summary domain.SeveritySummary
	for _, f := range ranked {
		summary.Add(f.Severity)
	}
	return ranked, summary
}

// HighestSeverity returns the top severity among findings, or unknown for none
func HighestSeverity(findings []domain.InteractionFinding) domain.Severity {
	highest := domain.SeverityUnknown
	for _, f := range findings {
		if f.Severity.Weight() > highest.Weight() {
			highest = f.Severity
		}
	}
	return highest
}

func recommendationFor(sev domain.Severity) string {
	switch sev {
	case domain.SeverityContraindicated:
		return "Do not combine. Contact your healthcare provider before taking these together."
	case domain.SeverityMajor:
		return "Avoid this combination unless your healthcare provider has approved it."
	case domain.SeverityModerate:
		return "Use with caution and discuss monitoring with your healthcare provider."
	case domain.SeverityMinor:
		return "Usually manageable. Mention it to your pharmacist."
	default:
		return "Significance is unclear. Ask your pharmacist or healthcare provider."
	}
}
