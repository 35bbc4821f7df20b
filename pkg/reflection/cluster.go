package reflection

import (
	"sort"

	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/model"
)

// cluster is a group of episodes whose embeddings are linked by similarity.
type cluster struct {
	items    []*model.MemoryItem
	vectors  [][]float64
	cohesion float64
}

func (c cluster) ids() []string {
	out := make([]string, len(c.items))
	for i, it := range c.items {
		out[i] = it.ID
	}
	return out
}

// clusterEpisodes links every pair of items with cosine similarity at or
// above threshold and returns the connected groups of at least minSize
// items. Members are ordered by id and groups by their first id, so the
// result does not depend on input order.
func clusterEpisodes(items []*model.MemoryItem, vectors [][]float64, threshold float64, minSize int) []cluster {
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return items[idx[a]].ID < items[idx[b]].ID })

	parent := make([]int, len(items))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(x int) int {
		if parent[x] != x {
			parent[x] = find(parent[x])
		}
		return parent[x]
	}

	for a := 0; a < len(idx); a++ {
		for b := a + 1; b < len(idx); b++ {
			i, j := idx[a], idx[b]
			if intelligence.CosineSimilarity(vectors[i], vectors[j]) < threshold {
				continue
			}
			ri, rj := find(i), find(j)
			if ri == rj {
				continue
			}
			// The root is always the member that sorts first.
			if items[ri].ID < items[rj].ID {
				parent[rj] = ri
			} else {
				parent[ri] = rj
			}
		}
	}

	groups := make(map[int][]int)
	var roots []int
	for _, i := range idx {
		r := find(i)
		if _, ok := groups[r]; !ok {
			roots = append(roots, r)
		}
		groups[r] = append(groups[r], i)
	}

	var out []cluster
	for _, r := range roots {
		members := groups[r]
		if len(members) < minSize {
			continue
		}
		c := cluster{}
		for _, i := range members {
			c.items = append(c.items, items[i])
			c.vectors = append(c.vectors, vectors[i])
		}
		centroid := intelligence.Centroid(c.vectors)
		var sum float64
		for _, v := range c.vectors {
			sum += intelligence.CosineSimilarity(v, centroid)
		}
		c.cohesion = model.Clamp01(sum / float64(len(c.vectors)))
		out = append(out, c)
	}
	return out
}
