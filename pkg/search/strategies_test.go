package search_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/embedder/hash"
	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/search"
	"github.com/oceanbase/recall-go/pkg/storage/chromem"
	"github.com/oceanbase/recall-go/pkg/storage/memory"
)

func scores(results []model.SearchResult) map[string]float64 {
	out := make(map[string]float64, len(results))
	for _, r := range results {
		out[r.ItemID] = r.Score
	}
	return out
}

func TestSparseStrategy(t *testing.T) {
	m, _ := setupItems(t,
		item("doc1", "Dark mode is enabled in the editor"),
		item("doc2", "The user prefers dark chocolate"),
		item("doc3", "Meeting scheduled on Monday"),
	)
	s := search.NewSparseStrategy(m, search.BM25Config{})
	assert.Equal(t, model.StrategySparse, s.Name())

	results, err := s.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode"}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc1", results[0].ItemID)
	assert.Equal(t, 1.0, results[0].Score)
	assert.Equal(t, "doc2", results[1].ItemID)
	assert.Greater(t, results[1].Score, 0.0)
	assert.Less(t, results[1].Score, 1.0)

	none, err := s.Search(context.Background(), &search.Query{TenantID: "t1", Text: "the and of"}, 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestFullTextStrategy(t *testing.T) {
	m, _ := setupItems(t,
		item("exact", "Dark mode is enabled in the editor"),
		item("near", "A dark blue mode for the terminal"),
		item("reversed", "Mode set to dark"),
	)
	s := search.NewFullTextStrategy(m)

	results, err := s.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode"}, 10)
	require.NoError(t, err)
	got := scores(results)
	assert.Len(t, got, 2)
	assert.Equal(t, 1.0, got["exact"])
	assert.InDelta(t, 0.5+0.4*2.0/3, got["near"], 1e-9)
	assert.Equal(t, "exact", results[0].ItemID)

	quoted, err := s.Search(context.Background(), &search.Query{TenantID: "t1", Text: `"the editor" settings`}, 10)
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"exact": 1.0}, scores(quoted))
}

func TestGraphStrategy(t *testing.T) {
	ctx := context.Background()
	graphs := graph.NewManager(memory.NewStore(), graph.ManagerConfig{}, nil, nil)
	_, err := graphs.Ingest(ctx, &model.MemoryItem{ID: "m1", TenantID: "t1", Content: "Alice works at Acme"})
	require.NoError(t, err)
	_, err = graphs.Ingest(ctx, &model.MemoryItem{ID: "m2", TenantID: "t1", Content: "Acme hired Bob"})
	require.NoError(t, err)

	s := search.NewGraphStrategy(graphs, search.GraphConfig{})
	results, err := s.Search(ctx, &search.Query{TenantID: "t1", Text: "who is alice"}, 10)
	require.NoError(t, err)
	got := scores(results)
	assert.Equal(t, 1.0, got["m1"])
	// Acme at depth 1 (0.7·0.5) plus Bob at depth 2 (0.7·0.5·0.7·0.5).
	assert.InDelta(t, 0.35+0.1225, got["m2"], 1e-9)

	shallow := search.NewGraphStrategy(graphs, search.GraphConfig{MaxDepth: 1})
	results, err = shallow.Search(ctx, &search.Query{TenantID: "t1", Text: "who is alice"}, 10)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, scores(results)["m2"], 1e-9)

	results, err = s.Search(ctx, &search.Query{TenantID: "t1", Text: "unknown person"}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestVectorStrategy(t *testing.T) {
	ctx := context.Background()
	index, err := chromem.NewIndex(nil)
	require.NoError(t, err)
	emb := hash.New(256)

	for id, content := range map[string]string{
		"ui":   "user prefers dark mode in the editor",
		"food": "grandma bakes apple pie on sundays",
	} {
		vec, err := emb.Embed(ctx, content)
		require.NoError(t, err)
		require.NoError(t, index.Upsert(ctx, "t1", id, vec, nil))
	}

	s := search.NewVectorStrategy(index, emb)
	results, err := s.Search(ctx, &search.Query{TenantID: "t1", Text: "dark mode editor"}, 2)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "ui", results[0].ItemID)
	for _, r := range results {
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
	}

	_, err = search.NewVectorStrategy(index, nil).Search(ctx, &search.Query{TenantID: "t1", Text: "x"}, 2)
	assert.ErrorIs(t, err, model.ErrBackendUnavailable)
}
