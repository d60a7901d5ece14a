package external

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/medsafe-analysis-server/internal/domain"
)

// ProviderGemini is the Gemini completion provider name
const ProviderGemini = "gemini"

// Harm categories blocked when safety filtering is enabled
var geminiSafetyCategories = []string{
	"HARM_CATEGORY_DANGEROUS_CONTENT",
	"HARM_CATEGORY_HARASSMENT",
	"HARM_CATEGORY_HATE_SPEECH",
	"HARM_CATEGORY_SEXUALLY_EXPLICIT",
}

// GeminiCompleter calls the generateContent REST endpoint
type GeminiCompleter struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	rateLimit  Waiter
}

// GeminiConfig represents configuration for the Gemini completer
type GeminiConfig struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
	Limiter Waiter        `json:"-"`
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiSafetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type geminiRequest struct {
	Contents          []geminiContent       `json:"contents"`
	SystemInstruction *geminiContent        `json:"systemInstruction,omitempty"`
	SafetySettings    []geminiSafetySetting `json:"safetySettings,omitempty"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// NewGeminiCompleter creates a new Gemini REST completer
func NewGeminiCompleter(config GeminiConfig) *GeminiCompleter {
	if config.BaseURL == "" {
		config.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if config.Model == "" {
		config.Model = "gemini-1.5-flash"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &GeminiCompleter{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		model:   config.Model,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		rateLimit: defaultLimiter(config.Limiter),
	}
}

// Name returns the provider name
func (c *GeminiCompleter) Name() string {
	return ProviderGemini
}

// Complete posts prompt to generateContent and joins the first candidate's text parts
func (c *GeminiCompleter) Complete(ctx context.Context, prompt string, opts domain.CompletionOptions) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", err
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	if opts.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: opts.System}}}
	}
	if opts.SafetyFilters {
		for _, category := range geminiSafetyCategories {
			body.SafetySettings = append(body.SafetySettings, geminiSafetySetting{
				Category:  category,
				Threshold: "BLOCK_MEDIUM_AND_ABOVE",
			})
		}
	}
	body.GenerationConfig.Temperature = opts.Temperature
	body.GenerationConfig.MaxOutputTokens = opts.MaxTokens
	body.GenerationConfig.ResponseMimeType = "application/json"

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to encode gemini request: %w", err)
	}

	fullURL := fmt.Sprintf("%s/v1beta/models/%s:generateContent?key=%s",
		c.baseURL, url.PathEscape(c.model), url.QueryEscape(c.apiKey))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fullURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create gemini request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", upstreamError(ProviderGemini, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(ProviderGemini, resp)
	}

	var out geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &domain.ParseError{Reason: "invalid gemini envelope", Err: err}
	}
	if out.PromptFeedback.BlockReason != "" {
		return "", &domain.UpstreamError{Source: ProviderGemini, Err: fmt.Errorf("prompt blocked: %s", out.PromptFeedback.BlockReason)}
	}
	if len(out.Candidates) == 0 {
		return "", &domain.ParseError{Reason: "no candidates"}
	}

	candidate := out.Candidates[0]
	if candidate.FinishReason == "SAFETY" {
		return "", &domain.UpstreamError{Source: ProviderGemini, Err: fmt.Errorf("completion blocked by safety filter")}
	}

	var text strings.Builder
	for _, part := range candidate.Content.Parts {
		text.WriteString(part.Text)
	}
	if text.Len() == 0 {
		return "", &domain.ParseError{Reason: "empty completion"}
	}
	return text.String(), nil
}
