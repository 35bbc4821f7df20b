// Package embedder provides interfaces and utilities for embedding providers.
//
// It defines the Provider interface that all embedding implementations must
// satisfy, plus a caching decorator used for query embeddings.
package embedder

import "context"

// Provider defines the interface for embedding providers.
//
// All embedding implementations (OpenAI-compatible, hash) must implement this interface.
type Provider interface {
	// Embed generates an embedding vector for a single text.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeout
	//   - text: The input text to embed
	//
	// Returns the embedding vector and any error.
	Embed(ctx context.Context, text string) ([]float64, error)

	// EmbedBatch generates embedding vectors for multiple texts.
	//
	// The returned slice has the same length and order as texts.
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)

	// Dimensions returns the dimension of the embedding vectors.
	Dimensions() int

	// Close closes the provider and releases resources.
	Close() error
}
