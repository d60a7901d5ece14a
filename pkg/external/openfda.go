package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/medsafe-analysis-server/internal/domain"
)

// SourceOpenFDA is the labeling registry name
const SourceOpenFDA = "openFDA"

// OpenFDAClient looks medications up in the openFDA drug label API
type OpenFDAClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  Waiter
	now        func() time.Time
}

// OpenFDAConfig represents configuration for the openFDA client
type OpenFDAConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
	Limiter Waiter        `json:"-"`
}

// openFDALabelResponse is the subset of /drug/label.json the engine reads
type openFDALabelResponse struct {
	Results []struct {
		OpenFDA struct {
			GenericName   []string `json:"generic_name"`
			BrandName     []string `json:"brand_name"`
			SubstanceName []string `json:"substance_name"`
			RxCUI         []string `json:"rxcui"`
			PharmClassEPC []string `json:"pharm_class_epc"`
			PharmClassMOA []string `json:"pharm_class_moa"`
			PharmClassCS  []string `json:"pharm_class_cs"`
			PharmClassPE  []string `json:"pharm_class_pe"`
		} `json:"openfda"`
		ActiveIngredient   []string `json:"active_ingredient"`
		DrugInteractions   []string `json:"drug_interactions"`
		Pregnancy          []string `json:"pregnancy"`
		TeratogenicEffects []string `json:"teratogenic_effects"`
	} `json:"results"`
}

var pregnancyCategoryPattern = regexp.MustCompile(`(?i)pregnancy\s+category\s*[:\-]?\s*([ABCDX])\b`)

// NewOpenFDAClient creates a new openFDA API client
func NewOpenFDAClient(config OpenFDAConfig) *OpenFDAClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://api.fda.gov"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &OpenFDAClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: defaultLimiter(config.Limiter),
		now:       time.Now,
	}
}

// Name returns the registry name
func (c *OpenFDAClient) Name() string {
	return SourceOpenFDA
}

// Lookup searches drug labels by generic or brand name
func (c *OpenFDAClient) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, err
	}

	quoted := strconvQuote(name)
	params := url.Values{
		"search": {fmt.Sprintf("openfda.generic_name:%s+openfda.brand_name:%s", quoted, quoted)},
		"limit":  {"1"},
	}
	if c.apiKey != "" {
		params.Set("api_key", c.apiKey)
	}

	// openFDA expects a literal '+' between search clauses
	fullURL := fmt.Sprintf("%s/drug/label.json?%s", c.baseURL, strings.ReplaceAll(params.Encode(), "%2B", "+"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create label request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstreamError(SourceOpenFDA, err)
	}
	defer resp.Body.Close()

	// openFDA answers 404 when the search matches no label
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("openFDA label for %q: %w", name, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(SourceOpenFDA, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, upstreamError(SourceOpenFDA, err)
	}

	var labels openFDALabelResponse
	if err := json.Unmarshal(body, &labels); err != nil {
		return nil, fmt.Errorf("failed to parse openFDA label response: %w", err)
	}
	if len(labels.Results) == 0 {
		return nil, fmt.Errorf("openFDA label for %q: %w", name, domain.ErrNotFound)
	}

	label := labels.Results[0]
	of := label.OpenFDA

	record := &domain.MedicationRecord{
		Name:              name,
		GenericName:       firstOr(of.GenericName, name),
		BrandNames:        titleAll(of.BrandName),
		PharmClasses:      concat(of.PharmClassEPC, of.PharmClassMOA, of.PharmClassCS, of.PharmClassPE),
		ActiveIngredients: lowerAll(of.SubstanceName),
		NormalizedID:      firstOr(of.RxCUI, ""),
		FDAApproved:       true,
		Source:            SourceOpenFDA,
		ResolvedAt:        c.now(),
	}
	record.GenericName = titleCase(record.GenericName)
	record.PregnancyCategory = parsePregnancyCategory(append(label.Pregnancy, label.TeratogenicEffects...))
	record.LabelInteractionText = strings.Join(label.DrugInteractions, " ")

	return record, nil
}

func parsePregnancyCategory(sections []string) domain.PregnancyCategory {
	for _, text := range sections {
		if m := pregnancyCategoryPattern.FindStringSubmatch(text); m != nil {
			return domain.PregnancyCategory(strings.ToUpper(m[1]))
		}
	}
	return domain.PregnancyUnknown
}

func strconvQuote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, "") + `"`
}

func firstOr(values []string, fallback string) string {
	if len(values) > 0 && values[0] != "" {
		return values[0]
	}
	return fallback
}

func concat(groups ...[]string) []string {
	var out []string
	for _, g := range groups {
		out = append(out, g...)
	}
	return out
}

func lowerAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, strings.ToLower(v))
	}
	return out
}

func titleAll(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		out = append(out, titleCase(v))
	}
	return out
}

// titleCase turns registry upper-case names such as "WARFARIN SODIUM" into "Warfarin Sodium"
func titleCase(s string) string {
	return cases.Title(language.English).String(strings.ToLower(strings.Join(strings.Fields(s), " ")))
}
