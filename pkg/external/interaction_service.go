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

// SourceInteractionService is the secondary interaction registry name
const SourceInteractionService = "InteractionService"

// InteractionServiceClient queries a secondary JSON interaction registry
type InteractionServiceClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rateLimit  Waiter
}

// InteractionServiceConfig represents configuration for the secondary registry
type InteractionServiceConfig struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Timeout time.Duration `json:"timeout"`
	Limiter Waiter        `json:"-"`
}

type interactionServiceResponse struct {
	Interactions []struct {
		Severity    string  `json:"severity"`
		Description string  `json:"description"`
		Mechanism   string  `json:"mechanism"`
		Confidence  float64 `json:"confidence"`
	} `json:"interactions"`
}

// NewInteractionServiceClient creates a new secondary interaction registry client
func NewInteractionServiceClient(config InteractionServiceConfig) *InteractionServiceClient {
	if config.Timeout == 0 {
		config.Timeout = 5 * time.Second
	}

	return &InteractionServiceClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: defaultLimiter(config.Limiter),
	}
}

// Name returns the registry name
func (c *InteractionServiceClient) Name() string {
	return SourceInteractionService
}

// Interactions queries GET {base}/v1/interactions?a=&b=
func (c *InteractionServiceClient) Interactions(ctx context.Context, a, b *domain.MedicationRecord) ([]InteractionRecord, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return nil, err
	}

	params := url.Values{
		"a": {displayName(a)},
		"b": {displayName(b)},
	}
	fullURL := fmt.Sprintf("%s/v1/interactions?%s", c.baseURL, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create interaction request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, upstreamError(SourceInteractionService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("interaction service pair: %w", domain.ErrNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(SourceInteractionService, resp)
	}

	var body interactionServiceResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to parse interaction service response: %w", err)
	}
	if len(body.Interactions) == 0 {
		return nil, fmt.Errorf("interaction service pair: %w", domain.ErrNotFound)
	}

	records := make([]InteractionRecord, 0, len(body.Interactions))
	for _, item := range body.Interactions {
		confidence := item.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.7
		}
		records = append(records, InteractionRecord{
			Severity:    item.Severity,
			Description: item.Description,
			Mechanism:   item.Mechanism,
			Source:      SourceInteractionService,
			Confidence:  confidence,
		})
	}
	return records, nil
}

func displayName(rec *domain.MedicationRecord) string {
	if rec.GenericName != "" {
		return strings.ToLower(rec.GenericName)
	}
	return strings.ToLower(rec.Name)
}
