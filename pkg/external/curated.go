package external

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/medsafe-analysis-server/internal/domain"
)

// SourceCurated is the embedded offline registry name
const SourceCurated = "curated"

type curatedMedication struct {
	generic      string
	brands       []string
	pharmClasses []string
	ingredients  []string
	pregnancy    domain.PregnancyCategory
	tags         []string
}

// Curated medications: well-known critical drugs and the common drugs and
// supplements that appear in curated pairs. Pharm classes use the openFDA
// EPC/MoA vocabulary so categorization is identical across sources.
var curatedMedications = []curatedMedication{
	{"Warfarin", []string{"Coumadin", "Jantoven"}, []string{"Vitamin K Antagonist [EPC]", "Anticoagulant"}, []string{"warfarin sodium"}, domain.PregnancyX, []string{"warfarin", "anticoagulant"}},
	{"Apixaban", []string{"Eliquis"}, []string{"Factor Xa Inhibitor [EPC]", "Anticoagulant"}, nil, domain.PregnancyUnknown, []string{"anticoagulant"}},
	{"Rivaroxaban", []string{"Xarelto"}, []string{"Factor Xa Inhibitor [EPC]", "Anticoagulant"}, nil, domain.PregnancyUnknown, []string{"anticoagulant"}},
	{"Clopidogrel", []string{"Plavix"}, []string{"P2Y12 Platelet Inhibitor [EPC]", "Platelet Aggregation Inhibitor [EPC]"}, []string{"clopidogrel bisulfate"}, domain.PregnancyB, []string{"anticoagulant"}},
	{"Aspirin", []string{"Bayer", "Ecotrin"}, []string{"Platelet Aggregation Inhibitor [EPC]", "Nonsteroidal Anti-inflammatory Drug [EPC]"}, []string{"acetylsalicylic acid"}, domain.PregnancyD, []string{"nsaid", "aspirin"}},
	{"Ibuprofen", []string{"Advil", "Motrin"}, []string{"Nonsteroidal Anti-inflammatory Drug [EPC]", "Cyclooxygenase Inhibitors [MoA]"}, nil, domain.PregnancyC, []string{"nsaid"}},
	{"Naproxen", []string{"Aleve", "Naprosyn"}, []string{"Nonsteroidal Anti-inflammatory Drug [EPC]", "Cyclooxygenase Inhibitors [MoA]"}, []string{"naproxen sodium"}, domain.PregnancyC, []string{"nsaid"}},
	{"Acetaminophen", []string{"Tylenol"}, []string{"Analgesic"}, []string{"paracetamol"}, domain.PregnancyB, []string{"acetaminophen"}},
	{"Metoprolol", []string{"Lopressor", "Toprol-XL"}, []string{"beta-Adrenergic Blocker [EPC]"}, []string{"metoprolol tartrate", "metoprolol succinate"}, domain.PregnancyC, []string{"beta-blocker"}},
	{"Propranolol", []string{"Inderal"}, []string{"beta-Adrenergic Blocker [EPC]"}, nil, domain.PregnancyC, []string{"beta-blocker"}},
	{"Lisinopril", []string{"Prinivil", "Zestril"}, []string{"Angiotensin Converting Enzyme Inhibitor [EPC]"}, nil, domain.PregnancyD, []string{"ace-inhibitor"}},
	{"Spironolactone", []string{"Aldactone"}, []string{"Aldosterone Antagonist [EPC]", "Potassium-sparing Diuretic"}, nil, domain.PregnancyC, []string{"potassium-sparing"}},
	{"Amiodarone", []string{"Pacerone", "Cordarone"}, []string{"Antiarrhythmic [EPC]"}, nil, domain.PregnancyD, []string{"amiodarone", "cyp3a4-inhibitor"}},
	{"Digoxin", []string{"Lanoxin"}, []string{"Cardiac Glycoside [EPC]"}, nil, domain.PregnancyC, []string{"digoxin"}},
	{"Atorvastatin", []string{"Lipitor"}, []string{"HMG-CoA Reductase Inhibitor [EPC]"}, []string{"atorvastatin calcium"}, domain.PregnancyX, []string{"statin"}},
	{"Simvastatin", []string{"Zocor"}, []string{"HMG-CoA Reductase Inhibitor [EPC]"}, nil, domain.PregnancyX, []string{"statin"}},
	{"Nitroglycerin", []string{"Nitrostat"}, []string{"Nitrate Vasodilator [EPC]"}, nil, domain.PregnancyC, []string{"nitrate"}},
	{"Sildenafil", []string{"Viagra", "Revatio"}, []string{"Phosphodiesterase 5 Inhibitor [EPC]"}, nil, domain.PregnancyB, []string{"pde5"}},
	{"Metformin", []string{"Glucophage"}, []string{"Biguanide [EPC]"}, []string{"metformin hydrochloride"}, domain.PregnancyB, []string{"metformin"}},
	{"Insulin Glargine", []string{"Lantus", "Basaglar"}, []string{"Insulin Analog [EPC]"}, nil, domain.PregnancyC, []string{"insulin"}},
	{"Sertraline", []string{"Zoloft"}, []string{"Serotonin Reuptake Inhibitor [EPC]"}, []string{"sertraline hydrochloride"}, domain.PregnancyC, []string{"ssri", "serotonergic"}},
	{"Fluoxetine", []string{"Prozac"}, []string{"Serotonin Reuptake Inhibitor [EPC]"}, []string{"fluoxetine hydrochloride"}, domain.PregnancyC, []string{"ssri", "serotonergic"}},
	{"Escitalopram", []string{"Lexapro"}, []string{"Serotonin Reuptake Inhibitor [EPC]"}, nil, domain.PregnancyC, []string{"ssri", "serotonergic"}},
	{"Phenelzine", []string{"Nardil"}, []string{"Monoamine Oxidase Inhibitor [EPC]"}, []string{"phenelzine sulfate"}, domain.PregnancyC, []string{"maoi"}},
	{"Tranylcypromine", []string{"Parnate"}, []string{"Monoamine Oxidase Inhibitor [EPC]"}, nil, domain.PregnancyC, []string{"maoi"}},
	{"Selegiline", []string{"Emsam", "Eldepryl"}, []string{"Monoamine Oxidase Inhibitor [EPC]", "Antidepressant"}, nil, domain.PregnancyC, []string{"maoi"}},
	{"Bupropion", []string{"Wellbutrin", "Zyban"}, []string{"Aminoketone [EPC]", "Antidepressant"}, nil, domain.PregnancyC, []string{"bupropion"}},
	{"Tramadol", []string{"Ultram"}, []string{"Opioid Agonist [EPC]"}, nil, domain.PregnancyC, []string{"serotonergic", "cns-depressant"}},
	{"Quetiapine", []string{"Seroquel"}, []string{"Atypical Antipsychotic [EPC]"}, nil, domain.PregnancyC, []string{"cns-depressant"}},
	{"Olanzapine", []string{"Zyprexa"}, []string{"Atypical Antipsychotic [EPC]"}, nil, domain.PregnancyC, []string{"cns-depressant"}},
	{"Lithium", []string{"Lithobid"}, []string{"Mood Stabilizer", "Antipsychotic"}, []string{"lithium carbonate"}, domain.PregnancyD, []string{"lithium"}},
	{"Lorazepam", []string{"Ativan"}, []string{"Benzodiazepine [EPC]"}, nil, domain.PregnancyD, []string{"cns-depressant"}},
	{"Levothyroxine", []string{"Synthroid", "Levoxyl"}, []string{"L-Thyroxine [EPC]", "Thyroid Hormone"}, []string{"levothyroxine sodium"}, domain.PregnancyA, []string{"thyroid"}},
	{"Prednisone", []string{"Deltasone"}, []string{"Corticosteroid [EPC]", "Glucocorticoid"}, nil, domain.PregnancyC, []string{"corticosteroid"}},
	{"Phenytoin", []string{"Dilantin"}, []string{"Anti-epileptic Agent [EPC]", "Anticonvulsant"}, nil, domain.PregnancyD, []string{"cyp3a4-inducer"}},
	{"Levetiracetam", []string{"Keppra"}, []string{"Anti-epileptic Agent [EPC]", "Anticonvulsant"}, nil, domain.PregnancyC, nil},
	{"Tacrolimus", []string{"Prograf"}, []string{"Calcineurin Inhibitor Immunosuppressant [EPC]"}, nil, domain.PregnancyC, []string{"calcineurin"}},
	{"Cyclosporine", []string{"Neoral", "Sandimmune"}, []string{"Calcineurin Inhibitor Immunosuppressant [EPC]"}, nil, domain.PregnancyC, []string{"calcineurin"}},
	{"Methotrexate", []string{"Trexall", "Otrexup"}, []string{"Folate Analog Metabolic Inhibitor [EPC]", "Antineoplastic"}, []string{"methotrexate sodium"}, domain.PregnancyX, []string{"methotrexate"}},
	{"Tamoxifen", []string{"Soltamox"}, []string{"Antineoplastic", "Estrogen Receptor Antagonist [EPC]"}, []string{"tamoxifen citrate"}, domain.PregnancyD, nil},
	{"Isotretinoin", []string{"Absorica", "Claravis"}, []string{"Retinoid [EPC]"}, nil, domain.PregnancyX, nil},
	{"Amoxicillin", []string{"Amoxil"}, []string{"Penicillin-class Antibacterial [EPC]"}, nil, domain.PregnancyB, []string{"penicillin"}},
	{"Ciprofloxacin", []string{"Cipro"}, []string{"Fluoroquinolone Antibacterial [EPC]"}, []string{"ciprofloxacin hydrochloride"}, domain.PregnancyC, []string{"fluoroquinolone"}},
	{"Clarithromycin", []string{"Biaxin"}, []string{"Macrolide Antimicrobial [EPC]", "Antibacterial"}, nil, domain.PregnancyC, []string{"cyp3a4-inhibitor"}},
	{"Sulfamethoxazole", []string{"Bactrim", "Septra"}, []string{"Sulfonamide Antibacterial [EPC]"}, []string{"sulfamethoxazole", "trimethoprim"}, domain.PregnancyD, []string{"sulfonamide"}},
	{"Pseudoephedrine", []string{"Sudafed"}, []string{"Decongestant", "alpha-Adrenergic Agonist [EPC]"}, []string{"pseudoephedrine hydrochloride"}, domain.PregnancyC, []string{"sympathomimetic", "decongestant"}},
	{"Melatonin", nil, []string{"Dietary Supplement"}, nil, domain.PregnancyUnknown, []string{"cns-depressant"}},
}

// Interaction tags for supplements that usually appear only as generated alternatives
var supplementTags = map[string][]string{
	"st. john's wort": {"serotonergic", "cyp3a4-inducer"},
	"st john's wort":  {"serotonergic", "cyp3a4-inducer"},
	"st johns wort":   {"serotonergic", "cyp3a4-inducer"},
	"ginkgo":          {"antiplatelet-herbal"},
	"garlic":          {"antiplatelet-herbal"},
	"fish oil":        {"antiplatelet-herbal"},
	"omega-3":         {"antiplatelet-herbal"},
	"turmeric":        {"antiplatelet-herbal"},
	"curcumin":        {"antiplatelet-herbal"},
	"ginseng":         {"antiplatelet-herbal"},
	"vitamin k":       {"vitamin-k"},
	"grapefruit":      {"cyp3a4-inhibitor"},
	"5-htp":           {"serotonergic"},
	"same":            {"serotonergic"},
	"s-adenosyl":      {"serotonergic"},
	"valerian":        {"cns-depressant"},
	"kava":            {"cns-depressant", "hepatotoxic"},
	"chamomile":       {"cns-depressant", "antiplatelet-herbal"},
	"potassium":       {"potassium"},
	"licorice":        {"licorice"},
	"berberine":       {"glucose-lowering"},
	"cinnamon":        {"glucose-lowering"},
	"alcohol":         {"cns-depressant", "hepatotoxic"},
}

// Interaction tags implied by openFDA EPC/MoA pharm classes, so records from
// any registry pick up class-level pairs. Keywords match lowercased class text.
var pharmClassTags = []struct {
	keyword string
	tags    []string
}{
	{"monoamine oxidase inhibitor", []string{"maoi"}},
	{"serotonin reuptake inhibitor", []string{"ssri", "serotonergic"}},
	{"serotonin and norepinephrine reuptake inhibitor", []string{"serotonergic"}},
	{"nonsteroidal anti-inflammatory", []string{"nsaid"}},
	{"vitamin k antagonist", []string{"anticoagulant", "warfarin"}},
	{"factor xa inhibitor", []string{"anticoagulant"}},
	{"direct thrombin inhibitor", []string{"anticoagulant"}},
	{"nitrate vasodilator", []string{"nitrate"}},
	{"phosphodiesterase 5 inhibitor", []string{"pde5"}},
	{"hmg-coa reductase inhibitor", []string{"statin"}},
	{"calcineurin inhibitor", []string{"calcineurin"}},
	{"angiotensin converting enzyme inhibitor", []string{"ace-inhibitor"}},
	{"fluoroquinolone", []string{"fluoroquinolone"}},
	{"benzodiazepine", []string{"cns-depressant"}},
}

type curatedPair struct {
	tagA, tagB     string
	severity       string
	description    string
	mechanism      string
	recommendation string
}

var curatedPairs = []curatedPair{
	{"maoi", "ssri", "contraindicated", "Combining an MAO inhibitor with an SSRI can cause serotonin syndrome.", "Additive serotonergic activity", "Do not combine. Allow a washout period as directed by a clinician."},
	{"maoi", "serotonergic", "contraindicated", "MAO inhibitors with serotonergic agents risk serotonin syndrome.", "Additive serotonergic activity", "Do not combine."},
	{"maoi", "sympathomimetic", "contraindicated", "MAO inhibitors with sympathomimetics can cause hypertensive crisis.", "Impaired catecholamine breakdown", "Do not combine."},
	{"maoi", "bupropion", "contraindicated", "MAO inhibitors with bupropion increase the risk of hypertensive reactions.", "Increased catecholamine activity", "Do not combine."},
	{"pde5", "nitrate", "contraindicated", "PDE5 inhibitors with nitrates can cause profound hypotension.", "Additive vasodilation", "Do not combine."},
	{"ssri", "serotonergic", "major", "Additional serotonergic agents increase serotonin syndrome risk.", "Additive serotonergic activity", "Avoid unless supervised by a clinician."},
	{"anticoagulant", "nsaid", "major", "NSAIDs increase bleeding risk with anticoagulants.", "Platelet inhibition and GI mucosal injury", "Avoid combination; consult a clinician about safer analgesics."},
	{"anticoagulant", "antiplatelet-herbal", "major", "This supplement may increase bleeding risk with anticoagulants.", "Additive antiplatelet effect", "Avoid unless approved by a clinician; monitor for bleeding."},
	{"warfarin", "vitamin-k", "major", "Vitamin K reduces the anticoagulant effect of warfarin.", "Pharmacodynamic antagonism", "Keep vitamin K intake consistent; monitor INR."},
	{"warfarin", "cyp3a4-inducer", "major", "Enzyme inducers can reduce warfarin levels and effect.", "CYP induction", "Avoid combination; INR monitoring required if unavoidable."},
	{"warfarin", "fluoroquinolone", "moderate", "Fluoroquinolones can increase the effect of warfarin.", "Altered warfarin metabolism", "Monitor INR closely."},
	{"calcineurin", "cyp3a4-inducer", "major", "Enzyme inducers can lower immunosuppressant levels, risking rejection.", "CYP3A4 induction", "Avoid combination."},
	{"statin", "cyp3a4-inhibitor", "major", "CYP3A4 inhibitors raise statin levels and myopathy risk.", "CYP3A4 inhibition", "Avoid or adjust dose under supervision."},
	{"ace-inhibitor", "potassium-sparing", "major", "Combination can cause dangerous hyperkalemia.", "Additive potassium retention", "Monitor potassium closely."},
	{"ace-inhibitor", "potassium", "major", "Potassium supplements with ACE inhibitors can cause hyperkalemia.", "Additive potassium retention", "Avoid supplementation unless prescribed."},
	{"digoxin", "amiodarone", "major", "Amiodarone increases digoxin levels.", "Reduced digoxin clearance", "Dose adjustment and monitoring required."},
	{"digoxin", "licorice", "major", "Licorice can lower potassium and increase digoxin toxicity.", "Hypokalemia", "Avoid licorice."},
	{"methotrexate", "nsaid", "major", "NSAIDs can increase methotrexate toxicity.", "Reduced renal clearance", "Avoid unless supervised."},
	{"methotrexate", "sulfonamide", "major", "Sulfonamides increase methotrexate toxicity.", "Additive antifolate effect", "Avoid combination."},
	{"lithium", "nsaid", "major", "NSAIDs can raise lithium to toxic levels.", "Reduced renal lithium clearance", "Avoid or monitor lithium levels."},
	{"ssri", "nsaid", "moderate", "SSRIs with NSAIDs increase gastrointestinal bleeding risk.", "Impaired platelet serotonin uptake", "Use with caution."},
	{"ssri", "antiplatelet-herbal", "moderate", "This supplement may add to SSRI-related bleeding risk.", "Additive antiplatelet effect", "Use with caution."},
	{"cns-depressant", "cns-depressant", "moderate", "Combined sedatives increase drowsiness and respiratory depression.", "Additive CNS depression", "Avoid driving; use only under supervision."},
	{"insulin", "glucose-lowering", "moderate", "This supplement may add to glucose lowering and cause hypoglycemia.", "Additive hypoglycemic effect", "Monitor blood glucose."},
	{"metformin", "glucose-lowering", "moderate", "This supplement may add to glucose lowering.", "Additive hypoglycemic effect", "Monitor blood glucose."},
	{"acetaminophen", "hepatotoxic", "major", "Combined hepatotoxic exposure increases liver injury risk.", "Additive hepatotoxicity", "Avoid combination."},
}

// CuratedRegistry is the embedded offline registry of known-critical medications and pairs
type CuratedRegistry struct {
	byName map[string]*curatedMedication
	now    func() time.Time
}

// NewCuratedRegistry builds the name index
func NewCuratedRegistry() *CuratedRegistry {
	r := &CuratedRegistry{
		byName: make(map[string]*curatedMedication),
		now:    time.Now,
	}
	for i := range curatedMedications {
		med := &curatedMedications[i]
		r.byName[strings.ToLower(med.generic)] = med
		for _, b := range med.brands {
			r.byName[strings.ToLower(b)] = med
		}
		for _, ing := range med.ingredients {
			if _, exists := r.byName[ing]; !exists {
				r.byName[ing] = med
			}
		}
	}
	return r
}

// Name returns the registry name
func (r *CuratedRegistry) Name() string {
	return SourceCurated
}

// Lookup resolves a curated medication by generic, brand or ingredient name
func (r *CuratedRegistry) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	med, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("curated medication %q: %w", name, domain.ErrNotFound)
	}

	ingredients := append([]string{strings.ToLower(med.generic)}, med.ingredients...)
	return &domain.MedicationRecord{
		Name:              name,
		GenericName:       med.generic,
		BrandNames:        append([]string(nil), med.brands...),
		PharmClasses:      append([]string(nil), med.pharmClasses...),
		ActiveIngredients: ingredients,
		PregnancyCategory: med.pregnancy,
		FDAApproved:       len(med.brands) > 0,
		Source:            SourceCurated,
		ResolvedAt:        r.now(),
	}, nil
}

// Interactions returns curated pair findings for a and b
func (r *CuratedRegistry) Interactions(ctx context.Context, a, b *domain.MedicationRecord) ([]InteractionRecord, error) {
	records := matchPairs(r.tagsForRecord(a), r.tagsForRecord(b))
	if len(records) == 0 {
		return nil, fmt.Errorf("curated pair: %w", domain.ErrNotFound)
	}
	return records, nil
}

// AnnotateAlternative returns curated findings between a resolved medication
// and a free-text alternative name such as "Ginkgo biloba"
func (r *CuratedRegistry) AnnotateAlternative(subject *domain.MedicationRecord, alternative string) []InteractionRecord {
	return matchPairs(r.tagsForRecord(subject), r.TagsForName(alternative))
}

// TagsForName returns interaction tags for a free-text name
func (r *CuratedRegistry) TagsForName(name string) []string {
	lower := strings.ToLower(strings.TrimSpace(name))
	if med, ok := r.byName[lower]; ok {
		return med.tags
	}

	var tags []string
	for key, t := range supplementTags {
		if containsWord(lower, key) {
			tags = append(tags, t...)
		}
	}
	for key, med := range r.byName {
		if containsWord(lower, key) {
			tags = append(tags, med.tags...)
		}
	}
	return tags
}

func (r *CuratedRegistry) tagsForRecord(rec *domain.MedicationRecord) []string {
	tags := TagsForPharmClasses(rec.PharmClasses)
	for _, name := range rec.Names() {
		tags = append(tags, r.TagsForName(name)...)
	}
	return tags
}

// TagsForPharmClasses returns interaction tags implied by pharm classes
func TagsForPharmClasses(classes []string) []string {
	var tags []string
	for _, class := range classes {
		lower := strings.ToLower(class)
		for _, entry := range pharmClassTags {
			if strings.Contains(lower, entry.keyword) {
				tags = append(tags, entry.tags...)
			}
		}
	}
	return tags
}

func matchPairs(tagsA, tagsB []string) []InteractionRecord {
	setA := toSet(tagsA)
	setB := toSet(tagsB)

	var records []InteractionRecord
	for _, pair := range curatedPairs {
		if (setA[pair.tagA] && setB[pair.tagB]) || (setA[pair.tagB] && setB[pair.tagA]) {
			records = append(records, InteractionRecord{
				Severity:    pair.severity,
				Description: pair.description + " " + pair.recommendation,
				Mechanism:   pair.mechanism,
				Source:      SourceCurated,
				Confidence:  0.95,
			})
		}
	}
	return records
}

func toSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		set[v] = true
	}
	return set
}

// containsWord reports whether needle occurs in haystack on word boundaries
func containsWord(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(haystack[start:], needle)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(needle)
		before := idx == 0 || !isWordByte(haystack[idx-1])
		after := end == len(haystack) || !isWordByte(haystack[end])
		if before && after {
			return true
		}
		start = idx + 1
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}
