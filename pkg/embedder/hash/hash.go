// Package hash provides a deterministic, offline embedding provider.
//
// Vectors are built by feature hashing lower-cased word tokens, so texts that
// share words point in similar directions. It needs no network access and is
// used by tests, examples and air-gapped deployments.
package hash

import (
	"context"
	"hash/fnv"
	"math"

	"github.com/oceanbase/recall-go/pkg/text"
)

// Embedder is a feature-hashing embedding provider.
type Embedder struct {
	dimensions int
}

// New creates a hash embedder. dimensions defaults to 256.
func New(dimensions int) *Embedder {
	if dimensions <= 0 {
		dimensions = 256
	}
	return &Embedder{dimensions: dimensions}
}

// Embed creates a deterministic, unit-length embedding from text.
func (e *Embedder) Embed(ctx context.Context, content string) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vec := make([]float64, e.dimensions)
	for _, token := range text.Tokenize(content) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(token))
		sum := h.Sum64()

		idx := int(sum % uint64(e.dimensions))
		sign := 1.0
		if (sum>>63)&1 == 1 {
			sign = -1.0
		}
		vec[idx] += sign
	}
	return normalize(vec), nil
}

// EmbedBatch embeds each text in order.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions returns the embedding size.
func (e *Embedder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op.
func (e *Embedder) Close() error {
	return nil
}

func normalize(vec []float64) []float64 {
	var norm float64
	for _, v := range vec {
		norm += v * v
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}
