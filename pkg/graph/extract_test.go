package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/model"
)

func TestEntities(t *testing.T) {
	assert.Equal(t, []string{"dark mode", "Alice", "VS Code"},
		graph.Entities(`Alice enabled "dark mode" in VS Code`, 0))
	assert.Equal(t, []string{"prefers", "green", "coffee"},
		graph.Entities("she prefers green tea over coffee", 3))
	assert.Empty(t, graph.Entities("it is what it is", 0))
}

func TestExtractEntitiesBuildsCoOccurrence(t *testing.T) {
	item := &model.MemoryItem{ID: "m1", TenantID: "t1", Content: "Alice met Bob in Paris", Importance: 0.6}
	actions := graph.ExtractEntities(item, 0)
	require.Len(t, actions, 6)

	op := graph.NewOperator(graph.Config{}, nil)
	g, delta := op.ApplyAll(graph.Empty(), graph.Observation{At: t0, MemoryID: item.ID}, actions...)
	assert.Empty(t, delta.Violations)
	assert.Equal(t, 3, g.NodeCount())
	assert.Equal(t, 3, g.EdgeCount())

	alice, ok := g.NodeByLabel("alice")
	require.True(t, ok)
	assert.Equal(t, []string{"m1"}, alice.MemoryIDs)
	assert.Equal(t, 0.6, alice.Importance)
	_, ok = g.Edge(model.EdgeID(graph.NodeID("Alice"), graph.RelationCoOccurs, graph.NodeID("Bob")))
	assert.True(t, ok)
}
