package service

import (
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
)

type categoryKeywords struct {
	category string
	keywords []string
}

// Evaluated in order; the first category with a matching keyword wins
var categoryTable = []categoryKeywords{
	{domain.CategoryAnticoagulant, []string{"anticoagulant", "vitamin k antagonist", "factor xa inhibitor", "thrombin inhibitor", "heparin", "platelet aggregation inhibitor", "p2y12"}},
	{domain.CategoryCardiovascular, []string{"cardiovascular", "beta-adrenergic blocker", "beta adrenergic blocker", "beta blocker", "angiotensin", "calcium channel blocker", "cardiac glycoside", "antiarrhythmic", "hmg-coa reductase", "statin", "diuretic", "nitrate vasodilator", "antihypertensive", "aldosterone antagonist"}},
	{domain.CategoryDiabetes, []string{"diabetes", "antidiabetic", "biguanide", "insulin", "sulfonylurea", "dipeptidyl peptidase", "glucagon-like peptide", "sodium-glucose", "sglt2", "thiazolidinedione", "hypoglycemic", "blood glucose lowering"}},
	{domain.CategoryAntidepressant, []string{"antidepressant", "serotonin reuptake inhibitor", "serotonin and norepinephrine reuptake", "monoamine oxidase inhibitor", "tricyclic", "aminoketone"}},
	{domain.CategoryAntipsychotic, []string{"antipsychotic", "phenothiazine", "butyrophenone", "mood stabilizer"}},
	{domain.CategoryAntibiotic, []string{"antibacterial", "antibiotic", "antimicrobial", "penicillin", "cephalosporin", "fluoroquinolone", "macrolide", "tetracycline", "aminoglycoside"}},
	{domain.CategoryHormone, []string{"thyroid", "thyroxine", "hormone", "estrogen", "progestin", "corticosteroid", "glucocorticoid", "androgen"}},
	{domain.CategorySeizure, []string{"anticonvulsant", "antiepileptic", "anti-epileptic", "seizure", "epilepsy"}},
	{domain.CategoryImmunosuppressant, []string{"immunosuppressant", "immunosuppressive", "calcineurin inhibitor", "mtor inhibitor"}},
	{domain.CategoryOncology, []string{"antineoplastic", "kinase inhibitor", "alkylating", "chemotherapy", "folate analog"}},
}

// Categorize derives a category from pharmacologic class metadata, falling
// back to the medication's names when no class matches
func Categorize(pharmClasses []string, names []string) string {
	if category := matchCategory(strings.ToLower(strings.Join(pharmClasses, " | "))); category != "" {
		return category
	}
	if category := matchCategory(strings.ToLower(strings.Join(names, " | "))); category != "" {
		return category
	}
	return domain.CategoryGeneral
}

func matchCategory(text string) string {
	if text == "" {
		return ""
	}
	for _, entry := range categoryTable {
		for _, keyword := range entry.keywords {
			if strings.Contains(text, keyword) {
				return entry.category
			}
		}
	}
	return ""
}
