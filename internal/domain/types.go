// Package domain contains the core entities of the medication safety analysis engine:
// resolved medication records, interaction findings and their canonical severity scale,
// patient context, and the final analysis result returned to callers.
package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Severity is the canonical ranking of an interaction or contraindication finding.
// Higher values rank first.
type Severity int

const (
	SeverityUnknown Severity = iota
	SeverityMinor
	SeverityModerate
	SeverityMajor
	SeverityContraindicated
)

// AllSeverities lists every level from highest to lowest.
var AllSeverities = []Severity{
	SeverityContraindicated,
	SeverityMajor,
	SeverityModerate,
	SeverityMinor,
	SeverityUnknown,
}

var severityNames = map[Severity]string{
	SeverityContraindicated: "contraindicated",
	SeverityMajor:           "major",
	SeverityModerate:        "moderate",
	SeverityMinor:           "minor",
	SeverityUnknown:         "unknown",
}

// ErrInvalidSeverity is returned when a canonical severity name cannot be parsed
var ErrInvalidSeverity = errors.New("invalid severity")

// String returns the canonical lowercase name
func (s Severity) String() string {
	if name, ok := severityNames[s]; ok {
		return name
	}
	return severityNames[SeverityUnknown]
}

// Weight returns the ranking weight used for sorting
func (s Severity) Weight() int {
	if s < SeverityUnknown || s > SeverityContraindicated {
		return int(SeverityUnknown)
	}
	return int(s)
}

// IsValid reports whether s is one of the five canonical levels
func (s Severity) IsValid() bool {
	_, ok := severityNames[s]
	return ok
}

// ParseSeverity parses a canonical severity name. Source-specific vocabularies
// are normalized by the severity classifier, not here.
func ParseSeverity(value string) (Severity, error) {
	v := strings.ToLower(strings.TrimSpace(value))
	for sev, name := range severityNames {
		if name == v {
			return sev, nil
		}
	}
	return SeverityUnknown, fmt.Errorf("%w: %q", ErrInvalidSeverity, value)
}

// MarshalJSON encodes the severity as its canonical name
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a canonical severity name
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// InteractionKind identifies what the subject medication interacts with
type InteractionKind string

const (
	KindDrugDrug      InteractionKind = "drug-drug"
	KindDrugFood      InteractionKind = "drug-food"
	KindDrugAllergy   InteractionKind = "drug-allergy"
	KindDrugCondition InteractionKind = "drug-condition"
	KindDrugAge       InteractionKind = "drug-age"
	KindDrugPregnancy InteractionKind = "drug-pregnancy"
)

// PregnancyCategory is the FDA letter category found on a drug label
type PregnancyCategory string

const (
	PregnancyUnknown PregnancyCategory = ""
	PregnancyA       PregnancyCategory = "A"
	PregnancyB       PregnancyCategory = "B"
	PregnancyC       PregnancyCategory = "C"
	PregnancyD       PregnancyCategory = "D"
	PregnancyX       PregnancyCategory = "X"
)

// MedicationRecord is the canonical record produced by the resolver.
// Records are replaced wholesale on re-resolution and never mutated.
type MedicationRecord struct {
	Name              string            `json:"name"`
	GenericName       string            `json:"genericName"`
	BrandNames        []string          `json:"brandNames"`
	Category          string            `json:"category"`
	PharmClasses      []string          `json:"pharmClasses,omitempty"`
	ActiveIngredients []string          `json:"activeIngredients,omitempty"`
	PregnancyCategory PregnancyCategory `json:"pregnancyCategory,omitempty"`
	NormalizedID      string            `json:"normalizedId,omitempty"`
	FDAApproved       bool              `json:"fdaApproved"`
	IsCritical        bool              `json:"isCritical"`
	Source            string            `json:"source"`
	ResolvedAt        time.Time         `json:"resolvedAt"`
	ValidationWarning bool              `json:"validationWarning,omitempty"`

	// LabelInteractionText holds free-text interaction notes from the labeling
	// registry, used for heuristic extraction. It survives the shared cache
	// tier; Info leaves it out of the public result.
	LabelInteractionText string `json:"labelInteractionText,omitempty"`
}

// Names returns the distinct lowercase names the record is known by:
// name, generic name, brand names and active ingredients.
func (m *MedicationRecord) Names() []string {
	seen := make(map[string]bool)
	var names []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		names = append(names, v)
	}
	add(m.Name)
	add(m.GenericName)
	for _, b := range m.BrandNames {
		add(b)
	}
	for _, a := range m.ActiveIngredients {
		add(a)
	}
	return names
}

// MedicationInfo is the subset of a MedicationRecord exposed in an analysis result
type MedicationInfo struct {
	Name              string   `json:"name"`
	GenericName       string   `json:"genericName"`
	BrandNames        []string `json:"brandNames"`
	Category          string   `json:"category"`
	NormalizedID      string   `json:"normalizedId,omitempty"`
	FDAApproved       bool     `json:"fdaApproved"`
	IsCritical        bool     `json:"isCritical"`
	Source            string   `json:"source"`
	ValidationWarning bool     `json:"validationWarning"`
}

// Info projects the record onto its public subset
func (m *MedicationRecord) Info() MedicationInfo {
	brands := m.BrandNames
	if brands == nil {
		brands = []string{}
	}
	return MedicationInfo{
		Name:              m.Name,
		GenericName:       m.GenericName,
		BrandNames:        brands,
		Category:          m.Category,
		NormalizedID:      m.NormalizedID,
		FDAApproved:       m.FDAApproved,
		IsCritical:        m.IsCritical,
		Source:            m.Source,
		ValidationWarning: m.ValidationWarning,
	}
}

// InteractionFinding is a single drug-drug, allergy, condition, age or pregnancy finding
type InteractionFinding struct {
	SubjectA       string          `json:"subjectA"`
	SubjectB       string          `json:"subjectB"`
	Kind           InteractionKind `json:"kind"`
	Severity       Severity        `json:"severity"`
	Description    string          `json:"description"`
	Mechanism      string          `json:"mechanism,omitempty"`
	Recommendation string          `json:"recommendation"`
	Source         string          `json:"source"`
	Confidence     float64         `json:"confidence"`
}

// SeveritySummary counts findings per severity level
type SeveritySummary struct {
	Contraindicated int `json:"contraindicated"`
	Major           int `json:"major"`
	Moderate        int `json:"moderate"`
	Minor           int `json:"minor"`
	Unknown         int `json:"unknown"`
}

// Add increments the counter for sev
func (s *SeveritySummary) Add(sev Severity) {
	switch sev {
	case SeverityContraindicated:
		s.Contraindicated++
	case SeverityMajor:
		s.Major++
	case SeverityModerate:
		s.Moderate++
	case SeverityMinor:
		s.Minor++
	default:
		s.Unknown++
	}
}

// Count returns the counter for sev
func (s SeveritySummary) Count(sev Severity) int {
	switch sev {
	case SeverityContraindicated:
		return s.Contraindicated
	case SeverityMajor:
		return s.Major
	case SeverityModerate:
		return s.Moderate
	case SeverityMinor:
		return s.Minor
	default:
		return s.Unknown
	}
}

// Total returns the number of findings counted
func (s SeveritySummary) Total() int {
	return s.Contraindicated + s.Major + s.Moderate + s.Minor + s.Unknown
}

// InteractionReport is the merged, ranked output of the interaction engine
type InteractionReport struct {
	HasInteractions bool                 `json:"hasInteractions"`
	Findings        []InteractionFinding `json:"findings"`
	SeveritySummary SeveritySummary      `json:"severitySummary"`
	Degraded        bool                 `json:"degraded,omitempty"`
}

// EmptyInteractionReport is the safe fallback when the engine cannot run
func EmptyInteractionReport() *InteractionReport {
	return &InteractionReport{Findings: []InteractionFinding{}}
}

// Allergy is a patient allergen with optional synonyms
type Allergy struct {
	Allergen string   `json:"allergen"`
	Synonyms []string `json:"synonyms,omitempty"`
}

// PatientFactors is read-only patient context supplied once per request
type PatientFactors struct {
	Age                *int      `json:"age,omitempty"`
	Conditions         []string  `json:"conditions,omitempty"`
	Allergies          []Allergy `json:"allergies,omitempty"`
	Pregnant           bool      `json:"pregnant,omitempty"`
	CurrentMedications []string  `json:"currentMedications,omitempty"`
}

// AnalysisRequest is the input to the analysis pipeline
type AnalysisRequest struct {
	MedicationName string          `json:"medicationName"`
	PatientFactors *PatientFactors `json:"patientFactors,omitempty"`
}

// Alternative is a natural alternative suggested by the generator
type Alternative struct {
	Name                    string   `json:"name"`
	Description             string   `json:"description"`
	EvidenceLevel           string   `json:"evidenceLevel"`
	EffectivenessLabel      string   `json:"effectivenessLabel"`
	DosageGuidance          string   `json:"dosageGuidance"`
	SideEffects             []string `json:"sideEffects,omitempty"`
	InteractionsWithSubject []string `json:"interactionsWithSubject"`
	Contraindications       []string `json:"contraindications"`
	Cost                    string   `json:"cost,omitempty"`
}

// GeneratorOutput is the post-validated output of the alternative generator
type GeneratorOutput struct {
	Alternatives    []Alternative `json:"alternatives"`
	Warnings        []string      `json:"warnings"`
	Recommendations []string      `json:"recommendations"`
	Confidence      float64       `json:"confidence"`
	Fallback        bool          `json:"-"`
}

// AnalysisResult is the final, immutable result of one analysis request
type AnalysisResult struct {
	MedicationName       string            `json:"medicationName"`
	MedicationInfo       MedicationInfo    `json:"medicationInfo"`
	Alternatives         []Alternative     `json:"alternatives"`
	Warnings             []string          `json:"warnings"`
	Recommendations      []string          `json:"recommendations"`
	Interactions         InteractionReport `json:"interactions"`
	Disclaimer           string            `json:"disclaimer"`
	EmergencyWarning     string            `json:"emergencyWarning"`
	Confidence           float64           `json:"confidence"`
	RequiresConsultation bool              `json:"requiresConsultation"`
	Degraded             bool              `json:"degraded"`
	AnalyzedAt           time.Time         `json:"analyzedAt"`
}

// Medication categories derived from pharmacologic class metadata
const (
	CategoryAnticoagulant     = "Anticoagulant"
	CategoryCardiovascular    = "Cardiovascular"
	CategoryDiabetes          = "Diabetes"
	CategoryAntidepressant    = "Antidepressant"
	CategoryAntipsychotic     = "Antipsychotic"
	CategoryAntibiotic        = "Antibiotic"
	CategoryHormone           = "Hormone/Thyroid"
	CategorySeizure           = "Seizure/Epilepsy"
	CategoryImmunosuppressant = "Immunosuppressant"
	CategoryOncology          = "Oncology"
	CategoryGeneral           = "General"
	CategoryUnknown           = "Unknown"
)

// criticalCategories is the single criticality model shared by the resolver,
// the generator prompt and the warning composer.
var criticalCategories = map[string]bool{
	CategoryAnticoagulant:     true,
	CategoryCardiovascular:    true,
	CategoryDiabetes:          true,
	CategoryAntidepressant:    true,
	CategoryAntipsychotic:     true,
	CategoryHormone:           true,
	CategorySeizure:           true,
	CategoryImmunosuppressant: true,
	CategoryOncology:          true,
}

// IsCriticalCategory reports whether unsupervised discontinuation of a medication
// in category carries elevated risk
func IsCriticalCategory(category string) bool {
	return criticalCategories[category]
}
