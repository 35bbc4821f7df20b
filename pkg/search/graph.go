package search

import (
	"context"
	"fmt"
	"sort"

	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/text"
)

// GraphConfig contains the graph traversal parameters.
type GraphConfig struct {
	// MaxDepth is the number of hops walked from a matched node. Default: 2
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"gte=0"`

	// DepthDecay damps the score of every hop on top of the edge weight. Default: 0.5
	DepthDecay float64 `json:"depth_decay" yaml:"depth_decay" validate:"gte=0,lte=1"`

	// MaxNodesVisited caps the walk. Default: 50
	MaxNodesVisited int `json:"max_nodes_visited" yaml:"max_nodes_visited" validate:"gte=0"`
}

func (c GraphConfig) withDefaults() GraphConfig {
	if c.MaxDepth == 0 {
		c.MaxDepth = 2
	}
	if c.DepthDecay == 0 {
		c.DepthDecay = 0.5
	}
	if c.MaxNodesVisited == 0 {
		c.MaxNodesVisited = 50
	}
	return c
}

// SnapshotSource serves committed graph snapshots. graph.Manager implements it.
type SnapshotSource interface {
	Snapshot(ctx context.Context, tenantID string) (*graph.Snapshot, error)
}

// GraphStrategy finds the nodes named in the query and walks their
// neighbourhood breadth first. A node reached over edges w1..wd scores
// w1·…·wd·DepthDecay^d; a matched node scores 1. Every item linked to a
// visited node accumulates the node's score, capped at 1.
type GraphStrategy struct {
	graphs SnapshotSource
	cfg    GraphConfig
}

// NewGraphStrategy creates a graph strategy. Zero config fields take their defaults.
func NewGraphStrategy(graphs SnapshotSource, cfg GraphConfig) *GraphStrategy {
	return &GraphStrategy{graphs: graphs, cfg: cfg.withDefaults()}
}

// Name returns model.StrategyGraph.
func (s *GraphStrategy) Name() model.StrategyName {
	return model.StrategyGraph
}

// Search walks the tenant graph from the nodes matching the query entities.
func (s *GraphStrategy) Search(ctx context.Context, q *Query, limit int) ([]model.SearchResult, error) {
	g, err := s.graphs.Snapshot(ctx, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("graph search: %w", err)
	}

	nodeScores := s.walk(g, s.startNodes(g, q.Text))
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	itemScores := make(map[string]float64)
	for id, score := range nodeScores {
		n, _ := g.Node(id)
		for _, mid := range linkedMemories(n) {
			itemScores[mid] += score
		}
	}

	results := make([]model.SearchResult, 0, len(itemScores))
	for id, score := range itemScores {
		results = append(results, model.SearchResult{
			ItemID:   id,
			Score:    model.Clamp01(score),
			Strategy: model.StrategyGraph,
		})
	}
	return sortResults(results, limit), nil
}

// startNodes matches the query entities and terms against node labels.
func (s *GraphStrategy) startNodes(g *graph.Snapshot, query string) []string {
	candidates := graph.Entities(query, 0)
	candidates = append(candidates, text.Terms(query)...)

	seen := make(map[string]struct{})
	var ids []string
	for _, label := range candidates {
		n, ok := g.NodeByLabel(label)
		if !ok {
			continue
		}
		if _, dup := seen[n.ID]; dup {
			continue
		}
		seen[n.ID] = struct{}{}
		ids = append(ids, n.ID)
	}
	return ids
}

// walk returns the score of every visited node. Each node is scored at the
// depth it is first reached, keeping the best path at that depth.
func (s *GraphStrategy) walk(g *graph.Snapshot, start []string) map[string]float64 {
	scores := make(map[string]float64)
	frontier := make([]string, 0, len(start))
	for _, id := range start {
		if len(scores) >= s.cfg.MaxNodesVisited {
			break
		}
		scores[id] = 1
		frontier = append(frontier, id)
	}

	for depth := 1; depth <= s.cfg.MaxDepth && len(frontier) > 0; depth++ {
		next := make(map[string]float64)
		for _, id := range frontier {
			for _, nb := range g.Neighbors(id) {
				if _, visited := scores[nb.NodeID]; visited {
					continue
				}
				score := scores[id] * nb.Edge.Weight * s.cfg.DepthDecay
				if score > next[nb.NodeID] {
					next[nb.NodeID] = score
				}
			}
		}

		frontier = frontier[:0]
		for _, id := range rankNodes(next) {
			if len(scores) >= s.cfg.MaxNodesVisited {
				return scores
			}
			scores[id] = next[id]
			frontier = append(frontier, id)
		}
	}
	return scores
}

func rankNodes(scores map[string]float64) []string {
	ids := make([]string, 0, len(scores))
	for id := range scores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if scores[ids[i]] != scores[ids[j]] {
			return scores[ids[i]] > scores[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// linkedMemories returns the memory ids a node was extracted from, including
// ids recorded in the "memory_ids" and "source_memory_id" properties.
func linkedMemories(n model.GraphNode) []string {
	ids := append([]string(nil), n.MemoryIDs...)
	switch v := n.Properties["memory_ids"].(type) {
	case []string:
		ids = append(ids, v...)
	case []interface{}:
		for _, x := range v {
			if s, ok := x.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	if s, ok := n.Properties["source_memory_id"].(string); ok {
		ids = append(ids, s)
	}
	return model.NormalizeSet(ids)
}
