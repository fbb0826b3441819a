package llm

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ppiankov/refcheck/internal/util"
)

const defaultAnthropicModel = "claude-sonnet-4-5"

// AnthropicMessager is the slice of the SDK client the provider needs
type AnthropicMessager interface {
	New(ctx context.Context, params anthropic.MessageNewParams, opts ...option.RequestOption) (*anthropic.Message, error)
}

// AnthropicProvider implements the Provider interface for Anthropic Claude models
type AnthropicProvider struct {
	messages AnthropicMessager
	config   Config
}

// NewAnthropicProvider creates a new Anthropic provider
func NewAnthropicProvider(config Config) (*AnthropicProvider, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithHTTPClient(util.NewHTTPClient(0, config.HTTPProxy, config.HTTPSProxy, config.NoProxy)),
		// Retries are handled by the validator's policy
		option.WithMaxRetries(0),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(config.BaseURL, "/")+"/"))
	}

	client := anthropic.NewClient(opts...)
	return &AnthropicProvider{
		messages: &client.Messages,
		config:   config,
	}, nil
}

// NewAnthropicProviderWithMessager creates a provider over an existing messages client
func NewAnthropicProviderWithMessager(messages AnthropicMessager, config Config) *AnthropicProvider {
	return &AnthropicProvider{messages: messages, config: config}
}

// Name returns the provider name
func (p *AnthropicProvider) Name() string {
	return "anthropic"
}

// IsAvailable checks the key with a minimal completion
func (p *AnthropicProvider) IsAvailable(ctx context.Context) bool {
	_, err := p.messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model("")),
		MaxTokens: 1,
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock("Hi"))},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Anthropic API check failed: %v\n", err)
		return false
	}
	return true
}

// Complete sends the prompt through the Messages API
func (p *AnthropicProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	model := p.model(req.Model)

	timeout := time.Duration(p.config.Timeout) * time.Second
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	ctxWithTimeout, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(model),
		MaxTokens:   int64(p.config.maxTokens(req)),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt))},
		Temperature: anthropic.Float(p.config.temperature(req)),
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := p.messages.New(ctxWithTimeout, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic API error: %w", err)
	}

	var sb strings.Builder
	for _, b := range resp.Content {
		if b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}

	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, fmt.Errorf("anthropic: %w", ErrEmptyResponse)
	}

	respModel := string(resp.Model)
	if respModel == "" {
		respModel = model
	}

	return &CompletionResponse{
		Text:       text,
		Model:      respModel,
		TokensUsed: int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
	}, nil
}

func (p *AnthropicProvider) model(override string) string {
	if override != "" {
		return override
	}
	if p.config.Model != "" {
		return p.config.Model
	}
	return defaultAnthropicModel
}
