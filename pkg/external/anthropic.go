package external

import (
	"context"
	"fmt"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/medsafe-analysis-server/internal/domain"
)

// ProviderAnthropic is the Anthropic completion provider name
const ProviderAnthropic = "anthropic"

// AnthropicCompleter drives the Messages API
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	rateLimit Waiter
}

// AnthropicConfig represents configuration for the Anthropic completer
type AnthropicConfig struct {
	APIKey  string        `json:"api_key"`
	BaseURL string        `json:"base_url"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
	Limiter Waiter        `json:"-"`
}

// NewAnthropicCompleter creates a completer backed by the Anthropic SDK.
// Retries are disabled because the circuit breaker and fallback own that policy.
func NewAnthropicCompleter(config AnthropicConfig) *AnthropicCompleter {
	if config.Model == "" {
		config.Model = "claude-3-5-haiku-latest"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithRequestTimeout(config.Timeout),
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}

	return &AnthropicCompleter{
		client:    anthropic.NewClient(opts...),
		model:     config.Model,
		rateLimit: defaultLimiter(config.Limiter),
	}
}

// Name returns the provider name
func (c *AnthropicCompleter) Name() string {
	return ProviderAnthropic
}

// Complete sends prompt as a single user message and returns the text reply
func (c *AnthropicCompleter) Complete(ctx context.Context, prompt string, opts domain.CompletionOptions) (string, error) {
	if err := c.rateLimit.Wait(ctx); err != nil {
		return "", err
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(opts.MaxTokens),
		Temperature: anthropic.Float(opts.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if params.MaxTokens <= 0 {
		params.MaxTokens = 2048
	}
	if opts.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: opts.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", upstreamError(ProviderAnthropic, err)
	}

	// Safety filtering is enforced by the model; a refusal carries no usable output
	if opts.SafetyFilters && string(msg.StopReason) == "refusal" {
		return "", &domain.UpstreamError{Source: ProviderAnthropic, Err: fmt.Errorf("completion refused by safety filter")}
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", &domain.ParseError{Reason: "empty completion"}
	}
	return text.String(), nil
}
