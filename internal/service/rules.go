package service

import (
	"fmt"
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
)

const (
	pediatricAgeLimit = 18
	geriatricAgeLimit = 65
)

// ageRule applies to patients inside [minAge, maxAge)
type ageRule struct {
	band        string
	minAge      int
	maxAge      int
	drugTerms   []string
	severity    domain.Severity
	description string
}

var ageRules = []ageRule{
	{"pediatric", 0, pediatricAgeLimit, []string{"aspirin", "acetylsalicylic", "salicylate"}, domain.SeverityMajor, "Aspirin in children and teenagers is associated with Reye's syndrome."},
	{"pediatric", 0, 12, []string{"tramadol", "codeine"}, domain.SeverityContraindicated, "Tramadol and codeine are contraindicated in children under 12 due to respiratory depression."},
	{"pediatric", 0, pediatricAgeLimit, []string{"fluoroquinolone", "ciprofloxacin", "levofloxacin"}, domain.SeverityModerate, "Fluoroquinolones carry a risk of joint and tendon problems in patients under 18."},
	{"pediatric", 0, 8, []string{"tetracycline", "doxycycline"}, domain.SeverityMajor, "Tetracyclines can permanently discolor developing teeth in children under 8."},
	{"pediatric", 0, pediatricAgeLimit, []string{"antidepressant", "serotonin reuptake inhibitor"}, domain.SeverityModerate, "Antidepressants carry a boxed warning for suicidal thoughts in young patients."},
	{"geriatric", geriatricAgeLimit, 200, []string{"benzodiazepine", "lorazepam", "diazepam", "alprazolam"}, domain.SeverityMajor, "Benzodiazepines increase fall, fracture and confusion risk in older adults."},
	{"geriatric", geriatricAgeLimit, 200, []string{"nonsteroidal anti-inflammatory", "ibuprofen", "naproxen"}, domain.SeverityModerate, "NSAIDs increase gastrointestinal bleeding and kidney injury risk in older adults."},
	{"geriatric", geriatricAgeLimit, 200, []string{"antipsychotic"}, domain.SeverityMajor, "Antipsychotics increase mortality in elderly patients with dementia."},
	{"geriatric", geriatricAgeLimit, 200, []string{"diphenhydramine", "anticholinergic", "tricyclic"}, domain.SeverityModerate, "Anticholinergic drugs can cause confusion and urinary retention in older adults."},
	{"geriatric", geriatricAgeLimit, 200, []string{"anticoagulant", "vitamin k antagonist", "factor xa inhibitor"}, domain.SeverityModerate, "Older adults have a higher bleeding risk on anticoagulants and need closer monitoring."},
	{"geriatric", geriatricAgeLimit, 200, []string{"digoxin", "cardiac glycoside"}, domain.SeverityModerate, "Reduced kidney function in older adults raises digoxin toxicity risk."},
}

type conditionRule struct {
	conditionTerms []string
	drugTerms      []string
	severity       domain.Severity
	description    string
}

var conditionRules = []conditionRule{
	{[]string{"kidney", "renal", "ckd"}, []string{"nonsteroidal anti-inflammatory", "ibuprofen", "naproxen"}, domain.SeverityMajor, "NSAIDs can worsen kidney function."},
	{[]string{"kidney", "renal", "ckd"}, []string{"metformin", "biguanide"}, domain.SeverityMajor, "Metformin can accumulate and cause lactic acidosis with impaired kidney function."},
	{[]string{"liver", "hepatic", "cirrhosis", "hepatitis"}, []string{"acetaminophen", "paracetamol"}, domain.SeverityMajor, "Acetaminophen can cause further liver injury in liver disease."},
	{[]string{"liver", "hepatic", "cirrhosis", "hepatitis"}, []string{"hmg-coa reductase", "statin", "methotrexate"}, domain.SeverityMajor, "This medication can be hepatotoxic in liver disease."},
	{[]string{"asthma", "copd"}, []string{"beta-adrenergic blocker", "beta blocker", "propranolol"}, domain.SeverityMajor, "Beta blockers can trigger bronchospasm."},
	{[]string{"asthma"}, []string{"aspirin", "nonsteroidal anti-inflammatory"}, domain.SeverityModerate, "NSAIDs can provoke asthma attacks in sensitive patients."},
	{[]string{"bleeding", "ulcer", "hemophilia"}, []string{"anticoagulant", "vitamin k antagonist", "factor xa inhibitor", "platelet aggregation inhibitor"}, domain.SeverityContraindicated, "Anticoagulants and antiplatelets are contraindicated with active bleeding or ulcers."},
	{[]string{"bleeding", "ulcer"}, []string{"nonsteroidal anti-inflammatory", "ibuprofen", "naproxen"}, domain.SeverityMajor, "NSAIDs increase the risk of gastrointestinal bleeding."},
	{[]string{"bipolar", "mania"}, []string{"antidepressant", "serotonin reuptake inhibitor", "monoamine oxidase inhibitor"}, domain.SeverityMajor, "Antidepressants can trigger mania in bipolar disorder."},
	{[]string{"hypertension", "high blood pressure"}, []string{"decongestant", "pseudoephedrine", "phenylephrine"}, domain.SeverityModerate, "Decongestants can raise blood pressure."},
	{[]string{"seizure", "epilepsy"}, []string{"bupropion", "aminoketone", "tramadol"}, domain.SeverityMajor, "This medication lowers the seizure threshold."},
	{[]string{"diabetes"}, []string{"corticosteroid", "glucocorticoid", "prednisone"}, domain.SeverityModerate, "Corticosteroids raise blood glucose."},
	{[]string{"heart failure"}, []string{"thiazolidinedione", "nonsteroidal anti-inflammatory"}, domain.SeverityMajor, "This medication can cause fluid retention and worsen heart failure."},
	{[]string{"glaucoma"}, []string{"anticholinergic", "diphenhydramine", "tricyclic"}, domain.SeverityModerate, "Anticholinergic effects can worsen angle-closure glaucoma."},
}

// crossSensitivity expands an allergen class into ingredients that commonly cross-react
var crossSensitivity = map[string][]string{
	"penicillin":      {"amoxicillin", "ampicillin", "penicillin", "piperacillin", "dicloxacillin", "nafcillin"},
	"sulfa":           {"sulfamethoxazole", "sulfasalazine", "sulfadiazine", "sulfonamide"},
	"sulfonamide":     {"sulfamethoxazole", "sulfasalazine", "sulfadiazine"},
	"nsaid":           {"ibuprofen", "naproxen", "diclofenac", "celecoxib", "ketorolac", "aspirin", "nonsteroidal anti-inflammatory"},
	"aspirin":         {"acetylsalicylic acid", "salicylate"},
	"cephalosporin":   {"cephalexin", "cefazolin", "ceftriaxone", "cefuroxime"},
	"codeine":         {"codeine", "morphine", "hydrocodone"},
	"opioid":          {"codeine", "morphine", "hydrocodone", "oxycodone", "tramadol"},
	"statin":          {"atorvastatin", "simvastatin", "rosuvastatin", "pravastatin"},
	"macrolide":       {"erythromycin", "clarithromycin", "azithromycin"},
	"fluoroquinolone": {"ciprofloxacin", "levofloxacin", "moxifloxacin"},
}

// medicationProfile is the lower-case text rule terms are matched against
func medicationProfile(med *domain.MedicationRecord) string {
	parts := append(med.Names(), med.PharmClasses...)
	parts = append(parts, med.Category)
	return strings.ToLower(strings.Join(parts, " | "))
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if term != "" && strings.Contains(text, term) {
			return true
		}
	}
	return false
}

func ageFindings(med *domain.MedicationRecord, age int) []domain.InteractionFinding {
	profile := medicationProfile(med)
	var findings []domain.InteractionFinding
	for _, rule := range ageRules {
		if age < rule.minAge || age >= rule.maxAge || !containsAny(profile, rule.drugTerms) {
			continue
		}
		findings = append(findings, domain.InteractionFinding{
			SubjectA:       med.Name,
			SubjectB:       fmt.Sprintf("age %d (%s)", age, rule.band),
			Kind:           domain.KindDrugAge,
			Severity:       rule.severity,
			Description:    rule.description,
			Recommendation: recommendationFor(rule.severity),
			Source:         "age-rules",
			Confidence:     0.8,
		})
	}
	return findings
}

func conditionFindings(med *domain.MedicationRecord, conditions []string) []domain.InteractionFinding {
	profile := medicationProfile(med)
	var findings []domain.InteractionFinding
	for _, condition := range conditions {
		lower := strings.ToLower(strings.TrimSpace(condition))
		if lower == "" {
			continue
		}
		for _, rule := range conditionRules {
			if !containsAny(lower, rule.conditionTerms) || !containsAny(profile, rule.drugTerms) {
				continue
			}
			findings = append(findings, domain.InteractionFinding{
				SubjectA:       med.Name,
				SubjectB:       condition,
				Kind:           domain.KindDrugCondition,
				Severity:       rule.severity,
				Description:    rule.description,
				Recommendation: recommendationFor(rule.severity),
				Source:         "condition-rules",
				Confidence:     0.8,
			})
		}
	}
	return findings
}

func pregnancyFindings(med *domain.MedicationRecord) []domain.InteractionFinding {
	var sev domain.Severity
	var description string
	switch med.PregnancyCategory {
	case domain.PregnancyC:
		sev = domain.SeverityModerate
		description = "Pregnancy category C: risk cannot be ruled out."
	case domain.PregnancyD:
		sev = domain.SeverityMajor
		description = "Pregnancy category D: positive evidence of fetal risk."
	case domain.PregnancyX:
		sev = domain.SeverityContraindicated
		description = "Pregnancy category X: contraindicated in pregnancy."
	default:
		return nil
	}

	return []domain.InteractionFinding{{
		SubjectA:       med.Name,
		SubjectB:       "pregnancy",
		Kind:           domain.KindDrugPregnancy,
		Severity:       sev,
		Description:    description,
		Recommendation: recommendationFor(sev),
		Source:         "pregnancy-category",
		Confidence:     0.9,
	}}
}

// allergyFindings matches a medication's names and ingredients against each
// allergen, its synonyms and its cross-sensitivity class. Any match is
// contraindicated whatever the source confidence.
func allergyFindings(med *domain.MedicationRecord, allergies []domain.Allergy) []domain.InteractionFinding {
	medTerms := append(med.Names(), lowerAll(med.PharmClasses)...)

	var findings []domain.InteractionFinding
	for _, allergy := range allergies {
		terms := allergyTerms(allergy)
		matched := matchAllergy(medTerms, terms)
		if matched == "" {
			continue
		}
		findings = append(findings, domain.InteractionFinding{
			SubjectA:       med.Name,
			SubjectB:       allergy.Allergen,
			Kind:           domain.KindDrugAllergy,
			Severity:       domain.SeverityContraindicated,
			Description:    fmt.Sprintf("%s matches the reported %s allergy (%s).", med.Name, allergy.Allergen, matched),
			Recommendation: "DO NOT ADMINISTER. Contact your healthcare provider.",
			Source:         "allergy-match",
			Confidence:     1.0,
		})
	}
	return findings
}

func allergyTerms(allergy domain.Allergy) []string {
	seen := make(map[string]bool)
	var terms []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if len(v) < 3 || seen[v] {
			return
		}
		seen[v] = true
		terms = append(terms, v)
	}

	add(allergy.Allergen)
	for _, s := range allergy.Synonyms {
		add(s)
	}
	for _, term := range append([]string(nil), terms...) {
		for _, related := range crossSensitivity[term] {
			add(related)
		}
	}
	return terms
}

// matchAllergy returns the first allergy term that is a substring of a
// medication term or vice versa
func matchAllergy(medTerms, allergyTerms []string) string {
	for _, allergen := range allergyTerms {
		for _, term := range medTerms {
			if len(term) < 3 {
				continue
			}
			if strings.Contains(term, allergen) || strings.Contains(allergen, term) {
				return allergen
			}
		}
	}
	return ""
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}
