package graph

import (
	"time"

	"github.com/google/uuid"

	"github.com/oceanbase/recall-go/pkg/model"
)

// ActionType is the kind of graph transformation.
type ActionType string

const (
	ActionAddNode          ActionType = "add_node"
	ActionAddEdge          ActionType = "add_edge"
	ActionUpdateEdgeWeight ActionType = "update_edge_weight"
	ActionMergeNodes       ActionType = "merge_nodes"
	ActionPruneNode        ActionType = "prune_node"
	ActionPruneEdge        ActionType = "prune_edge"
)

// Action is one graph transformation. Which fields are read depends on Type:
//   - AddNode: Node (ID may be empty; it is then derived from Label)
//   - AddEdge: Edge.Relation plus endpoints from Edge.SourceID/TargetID, or
//     SourceLabel/TargetLabel when the ids are empty
//   - UpdateEdgeWeight: EdgeID (empty means every edge) and Weight; a nil
//     Weight applies time decay instead of setting the weight
//   - MergeNodes: NodeID (kept) and OtherID (merged into NodeID)
//   - PruneNode: NodeID
//   - PruneEdge: EdgeID
type Action struct {
	Type ActionType

	Node *model.GraphNode
	Edge *model.GraphEdge

	SourceLabel string
	TargetLabel string

	NodeID  string
	OtherID string
	EdgeID  string

	Weight *float64
}

// Observation carries the context an action is applied in.
type Observation struct {
	// At is the time of the observation; decay is measured up to it.
	At time.Time

	// MemoryID is the memory item the observation came from, if any.
	// Nodes added under it record the id in MemoryIDs.
	MemoryID string
}

// AddNode returns an action adding (or refreshing) a node.
func AddNode(node model.GraphNode) Action {
	return Action{Type: ActionAddNode, Node: &node}
}

// AddEdge returns an action adding or strengthening sourceID -relation-> targetID.
func AddEdge(sourceID, relation, targetID string) Action {
	return Action{Type: ActionAddEdge, Edge: &model.GraphEdge{SourceID: sourceID, TargetID: targetID, Relation: relation}}
}

// AddEdgeByLabel returns an AddEdge action whose endpoints are resolved by node label.
func AddEdgeByLabel(sourceLabel, relation, targetLabel string) Action {
	return Action{Type: ActionAddEdge, Edge: &model.GraphEdge{Relation: relation}, SourceLabel: sourceLabel, TargetLabel: targetLabel}
}

// DecayEdges returns an action decaying every edge up to the observation time.
func DecayEdges() Action {
	return Action{Type: ActionUpdateEdgeWeight}
}

// SetEdgeWeight returns an action setting the weight of one edge.
func SetEdgeWeight(edgeID string, weight float64) Action {
	return Action{Type: ActionUpdateEdgeWeight, EdgeID: edgeID, Weight: &weight}
}

// MergeNodes returns an action merging other into keep.
func MergeNodes(keep, other string) Action {
	return Action{Type: ActionMergeNodes, NodeID: keep, OtherID: other}
}

// PruneNode returns an action removing a node and its edges.
func PruneNode(id string) Action {
	return Action{Type: ActionPruneNode, NodeID: id}
}

// PruneEdge returns an action removing one edge.
func PruneEdge(id string) Action {
	return Action{Type: ActionPruneEdge, EdgeID: id}
}

var nodeNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://github.com/oceanbase/recall-go/graph/node"))

// NodeID returns the deterministic id of the node labelled label.
// Labels differing only in case or surrounding space share an id.
func NodeID(label string) string {
	return uuid.NewSHA1(nodeNamespace, []byte(labelKey(label))).String()
}

// Delta lists what one or more actions changed.
type Delta struct {
	AddedNodes   []string
	UpdatedNodes []string
	RemovedNodes []string

	AddedEdges   []string
	UpdatedEdges []string
	RemovedEdges []string

	// Violations holds the consistency violations found (and healed) while applying.
	Violations []error
}

// Changes returns the number of node and edge changes.
func (d *Delta) Changes() int {
	return len(d.AddedNodes) + len(d.UpdatedNodes) + len(d.RemovedNodes) +
		len(d.AddedEdges) + len(d.UpdatedEdges) + len(d.RemovedEdges)
}

// Empty reports whether nothing changed.
func (d *Delta) Empty() bool {
	return d.Changes() == 0
}

func (d *Delta) merge(o *Delta) {
	d.AddedNodes = append(d.AddedNodes, o.AddedNodes...)
	d.UpdatedNodes = append(d.UpdatedNodes, o.UpdatedNodes...)
	d.RemovedNodes = append(d.RemovedNodes, o.RemovedNodes...)
	d.AddedEdges = append(d.AddedEdges, o.AddedEdges...)
	d.UpdatedEdges = append(d.UpdatedEdges, o.UpdatedEdges...)
	d.RemovedEdges = append(d.RemovedEdges, o.RemovedEdges...)
	d.Violations = append(d.Violations, o.Violations...)
}
