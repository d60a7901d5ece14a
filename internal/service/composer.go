package service

import (
	"fmt"
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
)

// Fixed texts attached to every result
const (
	Disclaimer = "This information is for educational purposes only and is not medical advice. " +
		"It does not replace consultation with a qualified healthcare provider. Never start, stop or change " +
		"a medication without professional guidance. Natural products are not evaluated by the FDA to diagnose, " +
		"treat, cure or prevent any disease."

	BaseWarning = "Consult your healthcare provider before combining any natural product with your medication."

	DiscontinuationWarning = "Do not stop or change %s without medical supervision. Stopping this medication suddenly can cause serious harm."

	DegradedWarning = "Part of this analysis is temporarily unavailable. Results may be incomplete; confirm with a pharmacist."

	UnverifiedWarning = "This medication could not be verified in a drug registry. Double-check the spelling and confirm with a pharmacist."

	CriticalEmergencyWarning = "If you experience chest pain, difficulty breathing, severe bleeding, fainting, seizures, " +
		"swelling of the face or throat, or thoughts of self-harm, call emergency services (911) immediately."

	GeneralEmergencyWarning = "In a medical emergency, call 911 or your local emergency number."

	complementSuffix = " (as complement)"
)

var supplementBoilerplate = []string{
	"Supplement quality and potency vary between brands. Choose products verified by an independent testing program.",
	"If you are pregnant, planning a pregnancy or breastfeeding, do not use any supplement without your provider's approval.",
}

// Composition is the warning composer's contribution to an analysis result
type Composition struct {
	Warnings         []string
	Alternatives     []domain.Alternative
	Disclaimer       string
	EmergencyWarning string
}

// Compose merges category, interaction, degradation and boilerplate warnings
// in a fixed order and applies complementary framing for critical medications
func Compose(med *domain.MedicationRecord, report *domain.InteractionReport, gen *domain.GeneratorOutput, degraded bool) Composition {
	warnings := []string{BaseWarning}

	if med.IsCritical {
		warnings = append(warnings, fmt.Sprintf(DiscontinuationWarning, med.Name))
	}

	if report != nil && report.HasInteractions {
		warnings = append(warnings, interactionWarning(report))
	}

	if med.ValidationWarning {
		warnings = append(warnings, UnverifiedWarning)
	}
	if degraded || (report != nil && report.Degraded) {
		warnings = append(warnings, DegradedWarning)
	}

	alternatives := []domain.Alternative{}
	if gen != nil {
		for _, w := range gen.Warnings {
			warnings = appendUnique(warnings, w)
		}
		alternatives = frameAlternatives(med, gen.Alternatives)
	}

	warnings = append(warnings, supplementBoilerplate...)

	return Composition{
		Warnings:         warnings,
		Alternatives:     alternatives,
		Disclaimer:       Disclaimer,
		EmergencyWarning: EmergencyWarning(med),
	}
}

// EmergencyWarning returns the emergency call-to-action for med
func EmergencyWarning(med *domain.MedicationRecord) string {
	if med != nil && med.IsCritical {
		return CriticalEmergencyWarning
	}
	return GeneralEmergencyWarning
}

func interactionWarning(report *domain.InteractionReport) string {
	s := report.SeveritySummary
	switch {
	case s.Contraindicated > 0:
		return fmt.Sprintf("CRITICAL: %d contraindicated interaction(s) found. Do not take these together without speaking to your healthcare provider.", s.Contraindicated)
	case s.Major > 0:
		return fmt.Sprintf("%d major interaction(s) found. Review them with your healthcare provider before use.", s.Major)
	default:
		return fmt.Sprintf("%d potential interaction(s) found. Review them with your pharmacist.", s.Total())
	}
}

// frameAlternatives copies alts, restricting them to complementary framing
// when med is critical
func frameAlternatives(med *domain.MedicationRecord, alts []domain.Alternative) []domain.Alternative {
	framed := make([]domain.Alternative, len(alts))
	copy(framed, alts)
	if !med.IsCritical {
		return framed
	}

	for i := range framed {
		alt := &framed[i]
		if !strings.Contains(strings.ToLower(alt.EffectivenessLabel), "complement") {
			label := alt.EffectivenessLabel
			if label == "" {
				label = "Unknown"
			}
			alt.EffectivenessLabel = label + complementSuffix
		}
		alt.Description = fmt.Sprintf("%s Complementary use only; never a replacement for %s.", alt.Description, med.Name)
	}
	return framed
}
