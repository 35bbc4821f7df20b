// Package search implements hybrid retrieval over a tenant's memory.
//
// Four strategies (dense vector, graph traversal, sparse BM25 and full-text)
// run concurrently for every query. Their scores are normalized and combined
// with per-strategy weights into a single ranking. A failing strategy
// degrades the answer instead of failing the query.
package search

import (
	"context"
	"sort"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// Strategy is one retrieval method.
//
// The set of strategies is closed: Vector, Graph, Sparse and FullText.
type Strategy interface {
	// Name returns the strategy identifier used for weights and reporting.
	Name() model.StrategyName

	// Search returns up to limit hits ordered by score descending.
	// Scores are in [0, 1]. Implementations stop when ctx is done.
	Search(ctx context.Context, q *Query, limit int) ([]model.SearchResult, error)
}

// Query is a single hybrid search request.
type Query struct {
	TenantID string

	// Text is the query text. It may be empty when Embedding is set.
	Text string

	// Embedding is an optional precomputed query vector.
	Embedding []float64

	// Limit is the maximum number of fused results (0 uses the engine default).
	Limit int

	// Weights overrides the strategy weights. Missing strategies weigh 0.
	Weights Weights

	// Strategies restricts the strategies that run (empty means all configured).
	Strategies []model.StrategyName

	// Layers restricts results to items in these layers (empty means all).
	Layers []model.Layer

	// Deadline bounds the whole query when set.
	Deadline time.Time

	// Rewrite asks the engine's rewriter to clarify Text with the tenant's
	// profile memories before searching.
	Rewrite bool
}

// ItemSource reads live memory items. layers.Manager implements it.
type ItemSource interface {
	Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error)
	List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*model.MemoryItem, error)
}

// sortResults orders hits by score descending, then item id, and keeps the first limit.
func sortResults(results []model.SearchResult, limit int) []model.SearchResult {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ItemID < results[j].ItemID
	})
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results
}
