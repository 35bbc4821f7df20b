package model

import (
	"time"
)

// GraphNode is an entity in the knowledge graph.
type GraphNode struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Type  string `json:"type,omitempty"`

	// Importance is the node importance (0.0-1.0).
	Importance float64 `json:"importance"`

	// Centrality is recomputed from edge weights and is not set by callers.
	Centrality float64 `json:"centrality"`

	// MemoryIDs are the memory items this entity was extracted from.
	MemoryIDs []string `json:"memory_ids,omitempty"`

	Properties map[string]interface{} `json:"properties,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a deep copy of the node.
func (n GraphNode) Clone() GraphNode {
	c := n
	c.MemoryIDs = append([]string(nil), n.MemoryIDs...)
	if n.Properties != nil {
		c.Properties = make(map[string]interface{}, len(n.Properties))
		for k, v := range n.Properties {
			c.Properties[k] = v
		}
	}
	return c
}

// GraphEdge is a weighted, directed relation between two nodes.
type GraphEdge struct {
	ID       string `json:"id"`
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Relation string `json:"relation"`

	// Weight is the edge strength (0.0-1.0). It decays between reinforcements.
	Weight float64 `json:"weight"`

	Confidence    float64 `json:"confidence"`
	EvidenceCount int     `json:"evidence_count"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EdgeID returns the canonical id of the edge source -relation-> target.
func EdgeID(sourceID, relation, targetID string) string {
	return sourceID + "_" + relation + "_" + targetID
}
