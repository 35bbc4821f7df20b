// Package llm provides interfaces and utilities for Large Language Model (LLM) providers.
//
// It defines the Provider interface that all LLM implementations must satisfy,
// along with completion results and generation options.
package llm

import (
	"context"
	"encoding/json"
	"strings"
)

// Provider defines the interface for LLM providers.
//
// All LLM implementations (OpenAI-compatible, Anthropic) must implement this interface.
type Provider interface {
	// Complete generates text for a prompt.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - prompt: The user prompt text
	//   - systemPrompt: Optional system instructions ("" for none)
	//   - opts: Optional generation parameters (temperature, max tokens, etc.)
	//
	// Returns the completion and any error.
	Complete(ctx context.Context, prompt, systemPrompt string, opts ...GenerateOption) (*Completion, error)

	// Close closes the provider and releases resources.
	Close() error
}

// Completion is the result of a single completion call.
type Completion struct {
	// Text is the generated text.
	Text string

	PromptTokens     int
	CompletionTokens int
}

// TokensUsed returns the total number of tokens billed for the call.
func (c *Completion) TokensUsed() int {
	return c.PromptTokens + c.CompletionTokens
}

// GenerateOptions contains options for text generation.
type GenerateOptions struct {
	// Temperature controls randomness (0.0-2.0). Higher = more random.
	Temperature float64

	// MaxTokens limits the maximum number of tokens in the response.
	MaxTokens int

	// TopP controls nucleus sampling (0.0-1.0). Higher = more diverse.
	TopP float64

	// Stop contains stop sequences that will end generation.
	Stop []string
}

// GenerateOption is a function type for configuring generation options.
type GenerateOption func(*GenerateOptions)

// WithTemperature sets the temperature for text generation.
//
// Example:
//
//	c, _ := provider.Complete(ctx, "Hello", "", llm.WithTemperature(0.2))
func WithTemperature(temp float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Temperature = temp
	}
}

// WithMaxTokens sets the maximum number of tokens in the response.
func WithMaxTokens(max int) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.MaxTokens = max
	}
}

// WithTopP sets the top-p (nucleus sampling) parameter.
func WithTopP(topP float64) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.TopP = topP
	}
}

// WithStop sets stop sequences.
func WithStop(stop ...string) GenerateOption {
	return func(opts *GenerateOptions) {
		opts.Stop = stop
	}
}

// ApplyGenerateOptions applies a slice of GenerateOption functions to create GenerateOptions.
//
// Default values: Temperature=0.7, MaxTokens=1000, TopP=1.0.
func ApplyGenerateOptions(opts []GenerateOption) *GenerateOptions {
	options := &GenerateOptions{
		Temperature: 0.7,
		MaxTokens:   1000,
		TopP:        1.0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// ExtractJSON decodes the first JSON object embedded in text into v.
//
// Models often wrap JSON in prose or code fences; everything outside the
// outermost braces is ignored.
func ExtractJSON(text string, v interface{}) error {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return json.Unmarshal([]byte(text), v)
	}
	return json.Unmarshal([]byte(text[start:end+1]), v)
}
