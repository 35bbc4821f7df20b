// Package openai provides an LLM provider for OpenAI and OpenAI-compatible
// chat completion endpoints (DeepSeek, Qwen compatible mode, Ollama).
package openai

import (
	"context"
	"errors"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/oceanbase/recall-go/pkg/llm"
)

// Client is an OpenAI LLM client.
// It implements the llm.Provider interface on top of the chat completions API.
type Client struct {
	client *openai.Client
	model  string
}

// Config is the configuration for OpenAI LLM.
// APIKey: API key (may be empty for local Ollama)
// Model: Model name to use, defaults to the provider preset
// BaseURL: API base URL, defaults to the provider preset
type Config struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

// Preset holds the defaults for an OpenAI-compatible provider.
type Preset struct {
	BaseURL string
	Model   string
}

// Presets lists the OpenAI-compatible providers and their defaults.
var Presets = map[string]Preset{
	"openai":   {BaseURL: "https://api.openai.com/v1", Model: "gpt-4o-mini"},
	"deepseek": {BaseURL: "https://api.deepseek.com", Model: "deepseek-chat"},
	"qwen":     {BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1", Model: "qwen-plus"},
	"ollama":   {BaseURL: "http://localhost:11434/v1", Model: "llama3.1"},
}

// NewClient creates a new OpenAI-compatible LLM client.
//
// Args:
//   - cfg: configuration containing Provider, APIKey, Model, and BaseURL
//
// Returns:
//   - *Client: client instance
//   - error: Returns an error if the provider is unknown
func NewClient(cfg *Config) (*Client, error) {
	provider := strings.ToLower(cfg.Provider)
	if provider == "" {
		provider = "openai"
	}
	preset, ok := Presets[provider]
	if !ok {
		return nil, errors.New("unknown OpenAI-compatible provider: " + cfg.Provider)
	}

	config := openai.DefaultConfig(cfg.APIKey)
	config.BaseURL = preset.BaseURL
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = preset.Model
	}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}, nil
}

// Complete generates text for the prompt.
func (c *Client) Complete(ctx context.Context, prompt, systemPrompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	options := llm.ApplyGenerateOptions(opts)

	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if systemPrompt != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})

	req := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: float32(options.Temperature),
		MaxTokens:   options.MaxTokens,
		TopP:        float32(options.TopP),
		Stop:        options.Stop,
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, err
	}

	if len(resp.Choices) == 0 {
		return nil, errors.New("llm generation failed: no choices returned from OpenAI API")
	}

	return &llm.Completion{
		Text:             resp.Choices[0].Message.Content,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
	}, nil
}

// Close is a no-op; the OpenAI SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
