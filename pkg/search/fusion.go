package search

import (
	"sort"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
)

// Weights maps each strategy to its share of the fused score.
type Weights map[model.StrategyName]float64

// DefaultWeights returns {vector: 0.4, graph: 0.3, sparse: 0.2, fulltext: 0.1}.
func DefaultWeights() Weights {
	return Weights{
		model.StrategyVector:   0.4,
		model.StrategyGraph:    0.3,
		model.StrategySparse:   0.2,
		model.StrategyFullText: 0.1,
	}
}

// Normalized returns the weights of names scaled to sum to 1. Negative
// weights count as 0. When every weight is 0 the names share equally.
func (w Weights) Normalized(names []model.StrategyName) Weights {
	out := make(Weights, len(names))
	var sum float64
	for _, n := range names {
		if v := w[n]; v > 0 {
			out[n] = v
			sum += v
		}
	}
	if sum == 0 {
		for _, n := range names {
			out[n] = 1 / float64(len(names))
		}
		return out
	}
	for _, n := range names {
		out[n] /= sum
	}
	return out
}

// Normalizer maps the scores of one strategy onto [0, 1] before weighting.
type Normalizer string

const (
	// NormalizeClamp keeps scores as they are, limited to [0, 1].
	NormalizeClamp Normalizer = "clamp"

	// NormalizeMax divides by the best score of the strategy.
	NormalizeMax Normalizer = "max"

	// NormalizeRank replaces scores by (n - rank) / n.
	NormalizeRank Normalizer = "rank"
)

// Valid reports whether n is a known normalizer.
func (n Normalizer) Valid() bool {
	switch n {
	case NormalizeClamp, NormalizeMax, NormalizeRank:
		return true
	}
	return false
}

// Apply returns the normalized score per item id. Duplicate ids keep their best score.
func (n Normalizer) Apply(results []model.SearchResult) map[string]float64 {
	best := make(map[string]float64, len(results))
	for _, r := range results {
		if s, ok := best[r.ItemID]; !ok || r.Score > s {
			best[r.ItemID] = r.Score
		}
	}

	switch n {
	case NormalizeMax:
		var max float64
		for _, s := range best {
			if s > max {
				max = s
			}
		}
		for id, s := range best {
			if max > 0 {
				best[id] = model.Clamp01(s / max)
			} else {
				best[id] = 0
			}
		}
	case NormalizeRank:
		ids := make([]string, 0, len(best))
		for id := range best {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if best[ids[i]] != best[ids[j]] {
				return best[ids[i]] > best[ids[j]]
			}
			return ids[i] < ids[j]
		})
		total := float64(len(ids))
		for rank, id := range ids {
			best[id] = (total - float64(rank)) / total
		}
	default:
		for id, s := range best {
			best[id] = model.Clamp01(s)
		}
	}
	return best
}

// Fuse merges per-strategy hits by item id:
//
//	fused = Σ_s weights[s] · normalize(score_s)
//
// An item missing from a strategy contributes 0 for it. Results are ordered
// by fused score descending, then newer updatedAt, then item id, so equal
// inputs always produce the same order.
func Fuse(results map[model.StrategyName][]model.SearchResult, weights Weights, norm Normalizer, updatedAt map[string]time.Time) []model.FusedResult {
	byID := make(map[string]*model.FusedResult)
	for _, name := range model.StrategyNames {
		hits, ok := results[name]
		if !ok {
			continue
		}
		for id, score := range norm.Apply(hits) {
			f, ok := byID[id]
			if !ok {
				f = &model.FusedResult{
					ItemID:         id,
					StrategyScores: make(map[model.StrategyName]float64),
					UpdatedAt:      updatedAt[id],
				}
				byID[id] = f
			}
			f.StrategyScores[name] = score
			f.ContributingStrategies = append(f.ContributingStrategies, name)
		}
	}

	out := make([]model.FusedResult, 0, len(byID))
	for _, f := range byID {
		// Summed in canonical strategy order for reproducible floating point.
		for _, name := range f.ContributingStrategies {
			f.FusedScore += weights[name] * f.StrategyScores[name]
		}
		out = append(out, *f)
	}
	sortFused(out)
	return out
}

func sortFused(out []model.FusedResult) {
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FusedScore != b.FusedScore {
			return a.FusedScore > b.FusedScore
		}
		if !a.UpdatedAt.Equal(b.UpdatedAt) {
			return a.UpdatedAt.After(b.UpdatedAt)
		}
		return a.ItemID < b.ItemID
	})
}
