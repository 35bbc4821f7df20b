// Package anthropic provides an LLM provider for the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/oceanbase/recall-go/pkg/llm"
)

// DefaultModel is used when Config.Model is empty.
const DefaultModel = "claude-3-5-haiku-latest"

// Client is an Anthropic LLM client implementing llm.Provider.
type Client struct {
	client anthropic.Client
	model  string
}

// Config is the configuration for the Anthropic client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// MaxRetries overrides the SDK retry count when positive.
	MaxRetries int
}

// NewClient creates a new Anthropic client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &Client{
		client: anthropic.NewClient(opts...),
		model:  model,
	}, nil
}

// Complete generates text for the prompt.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	options := llm.ApplyGenerateOptions(opts)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(options.MaxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
		Temperature: anthropic.Float(options.Temperature),
	}
	if systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(options.Stop) > 0 {
		params.StopSequences = options.Stop
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, err
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, errors.New("llm generation failed: no text content returned from Anthropic API")
	}

	return &llm.Completion{
		Text:             text.String(),
		PromptTokens:     int(msg.Usage.InputTokens),
		CompletionTokens: int(msg.Usage.OutputTokens),
	}, nil
}

// Close is a no-op; the SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
