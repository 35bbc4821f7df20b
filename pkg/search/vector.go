package search

import (
	"context"
	"fmt"

	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// VectorStrategy ranks items by cosine similarity of their embeddings to the
// query embedding. Negative similarities are clamped to 0.
type VectorStrategy struct {
	index    storage.VectorIndex
	embedder embedder.Provider
}

// NewVectorStrategy creates a vector strategy. The embedder is only used for
// queries without a precomputed embedding; wrap it in an
// embedder.CachedProvider to avoid re-embedding repeated queries.
func NewVectorStrategy(index storage.VectorIndex, p embedder.Provider) *VectorStrategy {
	return &VectorStrategy{index: index, embedder: p}
}

// Name returns model.StrategyVector.
func (s *VectorStrategy) Name() model.StrategyName {
	return model.StrategyVector
}

// Search embeds the query when needed and asks the index for the nearest items.
func (s *VectorStrategy) Search(ctx context.Context, q *Query, limit int) ([]model.SearchResult, error) {
	vec := q.Embedding
	if len(vec) == 0 {
		if s.embedder == nil {
			return nil, fmt.Errorf("vector search: no query embedding and no embedder: %w", model.ErrBackendUnavailable)
		}
		var err error
		vec, err = s.embedder.Embed(ctx, q.Text)
		if err != nil {
			return nil, fmt.Errorf("vector search: %w: %v", model.ErrEmbeddingFailed, err)
		}
	}

	hits, err := s.index.Search(ctx, q.TenantID, vec, limit, nil)
	if err != nil {
		return nil, fmt.Errorf("vector search: %w", err)
	}

	results := make([]model.SearchResult, 0, len(hits))
	for _, h := range hits {
		results = append(results, model.SearchResult{
			ItemID:   h.ID,
			Score:    model.Clamp01(h.Similarity),
			Strategy: model.StrategyVector,
		})
	}
	return sortResults(results, limit), nil
}
