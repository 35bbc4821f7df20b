// Package graph maintains the per-tenant knowledge graph: an immutable
// snapshot type, the pure update operator that derives the next snapshot
// from an observation and an action, convergence diagnostics, and a manager
// that commits snapshots with compare-and-swap.
package graph

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// Snapshot is an immutable view of a tenant's graph at one version.
//
// A Snapshot is never modified after construction; every update produces a
// new one. It is safe for concurrent readers.
type Snapshot struct {
	version   int64
	updatedAt time.Time

	nodes map[string]model.GraphNode
	edges map[string]model.GraphEdge

	// incident maps a node id to the ids of edges touching it, sorted.
	incident map[string][]string
	// labels maps a lower-cased label to its node id.
	labels map[string]string
}

// Empty returns a graph with no nodes at version 0.
func Empty() *Snapshot {
	return newSnapshot(0, time.Time{}, map[string]model.GraphNode{}, map[string]model.GraphEdge{})
}

func newSnapshot(version int64, updatedAt time.Time, nodes map[string]model.GraphNode, edges map[string]model.GraphEdge) *Snapshot {
	s := &Snapshot{
		version:   version,
		updatedAt: updatedAt,
		nodes:     nodes,
		edges:     edges,
		incident:  make(map[string][]string, len(nodes)),
		labels:    make(map[string]string, len(nodes)),
	}
	for id, n := range nodes {
		s.labels[labelKey(n.Label)] = id
	}
	for id, e := range edges {
		s.incident[e.SourceID] = append(s.incident[e.SourceID], id)
		if e.TargetID != e.SourceID {
			s.incident[e.TargetID] = append(s.incident[e.TargetID], id)
		}
	}
	for _, ids := range s.incident {
		sort.Strings(ids)
	}
	return s
}

// FromRecord rebuilds a snapshot from its persisted form.
//
// Edges whose endpoints are missing are dropped; one
// model.ErrConsistencyViolation is returned per dropped edge.
func FromRecord(rec *storage.GraphRecord) (*Snapshot, []error) {
	nodes := make(map[string]model.GraphNode, len(rec.Nodes))
	for _, n := range rec.Nodes {
		nodes[n.ID] = n.Clone()
	}

	var violations []error
	edges := make(map[string]model.GraphEdge, len(rec.Edges))
	for _, e := range rec.Edges {
		if _, ok := nodes[e.SourceID]; !ok {
			violations = append(violations, orphanEdge(e.ID, e.SourceID))
			continue
		}
		if _, ok := nodes[e.TargetID]; !ok {
			violations = append(violations, orphanEdge(e.ID, e.TargetID))
			continue
		}
		edges[e.ID] = e
	}
	return newSnapshot(rec.Version, rec.UpdatedAt, nodes, edges), violations
}

func orphanEdge(edgeID, nodeID string) error {
	return fmt.Errorf("edge %s references missing node %s: %w", edgeID, nodeID, model.ErrConsistencyViolation)
}

// Record returns the persisted form of the snapshot, nodes and edges sorted by id.
func (s *Snapshot) Record() *storage.GraphRecord {
	return &storage.GraphRecord{
		Version:   s.version,
		Nodes:     s.Nodes(),
		Edges:     s.Edges(),
		UpdatedAt: s.updatedAt,
	}
}

// Version returns the committed version (0 for a graph never committed).
func (s *Snapshot) Version() int64 {
	return s.version
}

// UpdatedAt returns the time of the last change.
func (s *Snapshot) UpdatedAt() time.Time {
	return s.updatedAt
}

// NodeCount returns the number of nodes.
func (s *Snapshot) NodeCount() int {
	return len(s.nodes)
}

// EdgeCount returns the number of edges.
func (s *Snapshot) EdgeCount() int {
	return len(s.edges)
}

// Node returns a copy of the node with id.
func (s *Snapshot) Node(id string) (model.GraphNode, bool) {
	n, ok := s.nodes[id]
	if !ok {
		return model.GraphNode{}, false
	}
	return n.Clone(), true
}

// Edge returns the edge with id.
func (s *Snapshot) Edge(id string) (model.GraphEdge, bool) {
	e, ok := s.edges[id]
	return e, ok
}

// NodeByLabel finds a node by case-insensitive label.
func (s *Snapshot) NodeByLabel(label string) (model.GraphNode, bool) {
	id, ok := s.labels[labelKey(label)]
	if !ok {
		return model.GraphNode{}, false
	}
	return s.Node(id)
}

// Nodes returns copies of all nodes sorted by id.
func (s *Snapshot) Nodes() []model.GraphNode {
	out := make([]model.GraphNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Edges returns all edges sorted by id.
func (s *Snapshot) Edges() []model.GraphEdge {
	out := make([]model.GraphEdge, 0, len(s.edges))
	for _, e := range s.edges {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Neighbor is a node adjacent to another through Edge, in either direction.
type Neighbor struct {
	NodeID string
	Edge   model.GraphEdge
}

// Neighbors returns the nodes adjacent to id ordered by edge weight
// descending, then neighbor id.
func (s *Snapshot) Neighbors(id string) []Neighbor {
	ids := s.incident[id]
	out := make([]Neighbor, 0, len(ids))
	for _, eid := range ids {
		e := s.edges[eid]
		other := e.TargetID
		if other == id {
			other = e.SourceID
		}
		out = append(out, Neighbor{NodeID: other, Edge: e})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Edge.Weight != out[j].Edge.Weight {
			return out[i].Edge.Weight > out[j].Edge.Weight
		}
		return out[i].NodeID < out[j].NodeID
	})
	return out
}

// WeightedDegree returns the sum of weights of the edges touching id.
func (s *Snapshot) WeightedDegree(id string) float64 {
	var sum float64
	for _, eid := range s.incident[id] {
		sum += s.edges[eid].Weight
	}
	return sum
}

func (s *Snapshot) withVersion(version int64) *Snapshot {
	c := *s
	c.version = version
	return &c
}

func labelKey(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
