// Package openai provides an embedding provider for OpenAI and
// OpenAI-compatible endpoints (DashScope/Qwen compatible mode, Ollama, vLLM).
package openai

import (
	"context"
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

// Client is an OpenAI embedding client.
type Client struct {
	client     *openai.Client
	model      openai.EmbeddingModel
	dimensions int
}

// Config is the configuration for the OpenAI embedding client.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string

	// Dimensions requests shortened vectors from models that support it.
	Dimensions int
}

// NewClient creates a new OpenAI embedding client.
func NewClient(cfg *Config) (*Client, error) {
	config := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		config.BaseURL = cfg.BaseURL
	}

	model := openai.SmallEmbedding3
	if cfg.Model != "" {
		model = openai.EmbeddingModel(cfg.Model)
	}

	dimensions := cfg.Dimensions
	if dimensions == 0 {
		dimensions = 1536 // Default dimension for text-embedding-3-small
	}

	return &Client{
		client:     openai.NewClientWithConfig(config),
		model:      model,
		dimensions: dimensions,
	}, nil
}

// Embed generates an embedding for a single text.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	embeddings, err := c.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(embeddings) == 0 {
		return nil, errors.New("embedding generation failed: no data returned from OpenAI API")
	}
	return embeddings[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
func (c *Client) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      texts,
		Model:      c.model,
		Dimensions: c.requestDimensions(),
	})
	if err != nil {
		return nil, err
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding generation failed: unexpected number of results from OpenAI API (got %d, expected %d)", len(resp.Data), len(texts))
	}

	embeddings := make([][]float64, len(texts))
	for _, data := range resp.Data {
		if data.Index < 0 || data.Index >= len(texts) {
			return nil, fmt.Errorf("embedding generation failed: result index %d out of range", data.Index)
		}
		embedding64 := make([]float64, len(data.Embedding))
		for j, v := range data.Embedding {
			embedding64[j] = float64(v)
		}
		embeddings[data.Index] = embedding64
	}

	return embeddings, nil
}

// requestDimensions only sends the dimensions field to models that accept it.
func (c *Client) requestDimensions() int {
	switch c.model {
	case openai.SmallEmbedding3, openai.LargeEmbedding3:
		return c.dimensions
	default:
		return 0
	}
}

// Dimensions returns the dimension of the embedding vectors.
func (c *Client) Dimensions() int {
	return c.dimensions
}

// Close is a no-op; the OpenAI SDK client holds no resources.
func (c *Client) Close() error {
	return nil
}
