package graph

import "time"

// RecomputeCentrality returns g with every node's centrality set to its
// weighted degree divided by the largest weighted degree in the graph.
func RecomputeCentrality(g *Snapshot, at time.Time) (*Snapshot, *Delta) {
	var maxDegree float64
	degrees := make(map[string]float64, len(g.nodes))
	for id := range g.nodes {
		d := g.WeightedDegree(id)
		degrees[id] = d
		if d > maxDegree {
			maxDegree = d
		}
	}

	b := newBuilder(g)
	delta := &Delta{}
	for id, n := range g.nodes {
		c := 0.0
		if maxDegree > 0 {
			c = degrees[id] / maxDegree
		}
		if c == n.Centrality {
			continue
		}
		n = n.Clone()
		n.Centrality = c
		b.putNode(n)
		delta.UpdatedNodes = append(delta.UpdatedNodes, id)
	}
	if delta.Empty() {
		return g, delta
	}
	return b.build(at), delta
}
