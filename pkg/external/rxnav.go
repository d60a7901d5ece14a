package external

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medsafe-analysis-server/internal/domain"
)

// SourceRxNav is the normalized-nomenclature registry name
const SourceRxNav = "RxNav"

// RxNavClient handles interactions with the NLM RxNav REST API
type RxNavClient struct {
	baseURL    string
	httpClient *http.Client
	rateLimit  Waiter
	now        func() time.Time
}

// RxNavConfig represents configuration for the RxNav client
type RxNavConfig struct {
	BaseURL string        `json:"base_url"`
	Timeout time.Duration `json:"timeout"`
	Limiter Waiter        `json:"-"`
}

type rxcuiResponse struct {
	IDGroup struct {
		RxNormID []string `json:"rxnormId"`
	} `json:"idGroup"`
}

type approximateTermResponse struct {
	ApproximateGroup struct {
		Candidate []struct {
			RxCUI string `json:"rxcui"`
			Score string `json:"score"`
			Rank  string `json:"rank"`
		} `json:"candidate"`
	} `json:"approximateGroup"`
}

type propertiesResponse struct {
	Properties *struct {
		RxCUI   string `json:"rxcui"`
		Name    string `json:"name"`
		Synonym string `json:"synonym"`
		TTY     string `json:"tty"`
	} `json:"properties"`
}

// drugClassTypes are the RxClass class types that describe the drug itself.
// DISEASE classes (may_treat, ci_with) describe indications and must not
// reach categorization.
var drugClassTypes = map[string]bool{
	"EPC":    true,
	"MOA":    true,
	"PE":     true,
	"CHEM":   true,
	"ATC1-4": true,
	"VA":     true,
	"MESHPA": true,
	"STRUCT": true,
	"TC":     true,
}

type rxClassResponse struct {
	RxClassDrugInfoList struct {
		RxClassDrugInfo []struct {
			RxClassMinConceptItem struct {
				ClassName string `json:"className"`
				ClassType string `json:"classType"`
			} `json:"rxclassMinConceptItem"`
			Rela       string `json:"rela"`
			RelaSource string `json:"relaSource"`
		} `json:"rxclassDrugInfo"`
	} `json:"rxclassDrugInfoList"`
}

type interactionListResponse struct {
	FullInteractionTypeGroup []struct {
		SourceName          string `json:"sourceName"`
		FullInteractionType []struct {
			InteractionPair []struct {
				Severity    string `json:"severity"`
				Description string `json:"description"`
			} `json:"interactionPair"`
		} `json:"fullInteractionType"`
	} `json:"fullInteractionTypeGroup"`
}

// NewRxNavClient creates a new RxNav API client
func NewRxNavClient(config RxNavConfig) *RxNavClient {
	if config.BaseURL == "" {
		config.BaseURL = "https://rxnav.nlm.nih.gov"
	}
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &RxNavClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: defaultLimiter(config.Limiter),
		now:       time.Now,
	}
}

// Name returns the registry name
func (c *RxNavClient) Name() string {
	return SourceRxNav
}

// ResolveID resolves a name to an RxCUI, falling back to approximate matching
func (c *RxNavClient) ResolveID(ctx context.Context, name string) (string, error) {
	var exact rxcuiResponse
	if err := c.get(ctx, "/REST/rxcui.json", url.Values{"name": {name}, "search": {"2"}}, &exact); err != nil {
		return "", fmt.Errorf("failed to resolve RxCUI: %w", err)
	}
	if len(exact.IDGroup.RxNormID) > 0 {
		return exact.IDGroup.RxNormID[0], nil
	}

	var approx approximateTermResponse
	if err := c.get(ctx, "/REST/approximateTerm.json", url.Values{"term": {name}, "maxEntries": {"1"}}, &approx); err != nil {
		return "", fmt.Errorf("failed to resolve approximate RxCUI: %w", err)
	}
	if len(approx.ApproximateGroup.Candidate) > 0 && approx.ApproximateGroup.Candidate[0].RxCUI != "" {
		return approx.ApproximateGroup.Candidate[0].RxCUI, nil
	}

	return "", fmt.Errorf("RxCUI for %q: %w", name, domain.ErrNotFound)
}

// Lookup resolves name and reads its properties and drug classes
func (c *RxNavClient) Lookup(ctx context.Context, name string) (*domain.MedicationRecord, error) {
	rxcui, err := c.ResolveID(ctx, name)
	if err != nil {
		return nil, err
	}

	var props propertiesResponse
	if err := c.get(ctx, "/REST/rxcui/"+url.PathEscape(rxcui)+"/properties.json", nil, &props); err != nil {
		return nil, fmt.Errorf("failed to get RxNav properties: %w", err)
	}
	if props.Properties == nil {
		return nil, fmt.Errorf("RxNav properties for %s: %w", rxcui, domain.ErrNotFound)
	}

	var classes rxClassResponse
	if err := c.get(ctx, "/REST/rxclass/class/byRxcui.json", url.Values{"rxcui": {rxcui}}, &classes); err != nil {
		return nil, fmt.Errorf("failed to get RxClass classes: %w", err)
	}

	var pharmClasses []string
	seen := make(map[string]bool)
	for _, info := range classes.RxClassDrugInfoList.RxClassDrugInfo {
		className := info.RxClassMinConceptItem.ClassName
		if !drugClassTypes[strings.ToUpper(info.RxClassMinConceptItem.ClassType)] {
			continue
		}
		if className != "" && !seen[className] {
			seen[className] = true
			pharmClasses = append(pharmClasses, className)
		}
	}

	var brands []string
	if props.Properties.Synonym != "" && !strings.EqualFold(props.Properties.Synonym, props.Properties.Name) {
		brands = append(brands, titleCase(props.Properties.Synonym))
	}

	return &domain.MedicationRecord{
		Name:              name,
		GenericName:       titleCase(props.Properties.Name),
		BrandNames:        brands,
		PharmClasses:      pharmClasses,
		ActiveIngredients: []string{strings.ToLower(props.Properties.Name)},
		NormalizedID:      rxcui,
		Source:            SourceRxNav,
		ResolvedAt:        c.now(),
	}, nil
}

// Interactions lists interactions between two medications
func (c *RxNavClient) Interactions(ctx context.Context, a, b *domain.MedicationRecord) ([]InteractionRecord, error) {
	idA, err := c.idFor(ctx, a)
	if err != nil {
		return nil, err
	}
	idB, err := c.idFor(ctx, b)
	if err != nil {
		return nil, err
	}

	var list interactionListResponse
	if err := c.get(ctx, "/REST/interaction/list.json", url.Values{"rxcuis": {idA + " " + idB}}, &list); err != nil {
		return nil, fmt.Errorf("failed to list RxNav interactions: %w", err)
	}

	var records []InteractionRecord
	for _, group := range list.FullInteractionTypeGroup {
		for _, typ := range group.FullInteractionType {
			for _, pair := range typ.InteractionPair {
				records = append(records, InteractionRecord{
					Severity:    pair.Severity,
					Description: pair.Description,
					Source:      SourceRxNav + "/" + group.SourceName,
					Confidence:  0.9,
				})
			}
		}
	}

	if len(records) == 0 {
		return nil, fmt.Errorf("RxNav interactions for %s+%s: %w", idA, idB, domain.ErrNotFound)
	}
	return records, nil
}

func (c *RxNavClient) idFor(ctx context.Context, rec *domain.MedicationRecord) (string, error) {
	if rec.NormalizedID != "" {
		return rec.NormalizedID, nil
	}
	name := rec.GenericName
	if name == "" {
		name = rec.Name
	}
	return c.ResolveID(ctx, name)
}

func (c *RxNavClient) get(ctx context.Context, path string, params url.Values, dest interface{}) error {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return err
	}

	fullURL := c.baseURL + path
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return upstreamError(SourceRxNav, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("RxNav %s: %w", path, domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return statusError(SourceRxNav, resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to parse RxNav response: %w", err)
	}
	return nil
}
