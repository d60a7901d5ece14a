package service

import (
	"fmt"
	"strings"

	"github.com/medsafe-analysis-server/internal/domain"
	"github.com/medsafe-analysis-server/pkg/medname"
)

// MaxTemperature is the highest sampling temperature the generator will request
const MaxTemperature = 0.4

const safetyPreamble = `You are a medication safety assistant that suggests evidence-informed natural complements.
You must follow these rules without exception:
1. Always recommend consulting a licensed healthcare provider before any change.
2. Never suggest stopping, reducing or replacing a prescribed medication.
3. Always disclose known or possible interaction risks with the medication.
4. Never diagnose a condition or claim to treat a disease.
5. Never guarantee or overstate effectiveness.
6. When evidence is weak or uncertain, say so and default to caution.`

const criticalAmplifier = `CRITICAL MEDICATION NOTICE:
This medication belongs to a category where unsupervised discontinuation can cause serious harm.
- Frame every alternative as COMPLEMENTARY ONLY. No alternative may replace this medication.
- State explicitly that stopping this medication without medical supervision is dangerous.
- Flag every alternative that may interact with this medication.`

const responseSchema = `Respond with ONLY a JSON object in exactly this schema, with no markdown and no extra fields:
{
  "alternatives": [
    {
      "name": "<alternative name>",
      "description": "<what it is and how it may help>",
      "evidence": "<Strong|Moderate|Limited|Insufficient>",
      "effectiveness": "<Moderate|Low|Unknown>",
      "dosage": "<typical dosage guidance>",
      "sideEffects": ["<side effect>"],
      "interactions": ["<interaction with the medication>"],
      "contraindications": ["<who should not use it>"],
      "cost": "<Low|Medium|High>"
    }
  ],
  "warnings": ["<warning>"],
  "recommendations": ["<recommendation>"],
  "confidence": <number between 0 and 1>
}`

// BuildPrompt returns the system and user prompt for med. The critical
// amplifier is appended to the system prompt for critical medications.
func BuildPrompt(med *domain.MedicationRecord) (system, user string) {
	system = safetyPreamble
	if med.IsCritical {
		system += "\n\n" + criticalAmplifier
	}

	// Registry-supplied names pass through the same filter as user input
	name := medname.Sanitize(med.Name)
	generic := medname.Sanitize(med.GenericName)
	var brands []string
	for _, brand := range med.BrandNames {
		if brand = medname.Sanitize(brand); brand != "" {
			brands = append(brands, brand)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Medication: %s\n", name)
	if generic != "" && !strings.EqualFold(generic, name) {
		fmt.Fprintf(&b, "Generic name: %s\n", generic)
	}
	if len(brands) > 0 {
		fmt.Fprintf(&b, "Brand names: %s\n", strings.Join(brands, ", "))
	}
	fmt.Fprintf(&b, "Category: %s\n", med.Category)
	if med.IsCritical {
		b.WriteString("Critical medication: yes\n")
	}
	if med.ValidationWarning {
		b.WriteString("Note: this medication could not be verified in a drug registry. Be especially cautious.\n")
	}
	b.WriteString("\nSuggest up to 5 natural complements for this medication.\n\n")
	b.WriteString(responseSchema)

	return system, b.String()
}
