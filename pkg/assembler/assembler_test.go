package assembler_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/model"
)

// item returns an item whose content estimates to exactly tokens tokens.
func item(id string, layer model.Layer, tokens int) *model.MemoryItem {
	return &model.MemoryItem{
		ID:         id,
		TenantID:   "t1",
		Content:    strings.Repeat("x", 4*tokens),
		Layer:      layer,
		Kind:       model.KindEpisodic,
		Importance: 0.5,
	}
}

func ids(wc *model.WorkingContext) []string {
	var out []string
	for _, it := range wc.Items() {
		out = append(out, it.ID)
	}
	return out
}

func TestAssembleSkipsOversizedCandidates(t *testing.T) {
	a := assembler.New(assembler.Config{})
	wc, stats := a.Assemble(context.Background(), assembler.Request{
		Candidates: []assembler.Candidate{
			{Item: item("big", model.LayerReflective, 100), Relevance: 1.0},
			{Item: item("small1", model.LayerWorking, 10), Relevance: 0.5},
			{Item: item("small2", model.LayerWorking, 10), Relevance: 0.4},
		},
		Budget:     50,
		Complexity: 0.5,
		Preference: assembler.PreferQuality,
	})

	// big ranks first but does not fit; the smaller items still do.
	assert.Equal(t, []string{"small1", "small2"}, ids(wc))
	assert.Equal(t, 20, wc.TokensUsed)
	assert.Equal(t, 50, wc.Budget)
	assert.LessOrEqual(t, wc.TokensUsed, wc.Budget)

	assert.Equal(t, 2, stats.SelectedCount)
	assert.Equal(t, 3, stats.TotalCandidates)
	assert.Equal(t, 1, stats.Skipped)
	assert.InDelta(t, 0.75, stats.Beta, 1e-9)
	assert.InDelta(t, 1-20.0/120.0, stats.CompressionRatio, 1e-9)
	assert.InDelta(t, 0.92/1.82, stats.EstimatedRelevanceRetained, 1e-9)
	assert.NoError(t, stats.Reason)

	assert.InDelta(t, 0.5, wc.Entries[0].Relevance, 1e-9)
	assert.InDelta(t, 0.5-0.75*10.0/120.0*0.9, wc.Entries[0].IBScore, 1e-9)
}

func TestAssembleTinyBudgetIsEmpty(t *testing.T) {
	a := assembler.New(assembler.Config{})
	wc, stats := a.Assemble(context.Background(), assembler.Request{
		Candidates: []assembler.Candidate{
			{Item: item("a", model.LayerWorking, 10), Relevance: 0.9},
			{Item: item("b", model.LayerWorking, 12), Relevance: 0.8},
		},
		Budget: 5,
	})

	require.NotNil(t, wc)
	assert.True(t, wc.Empty())
	assert.Equal(t, 0, wc.TokensUsed)
	assert.Equal(t, 2, stats.Skipped)
	assert.ErrorIs(t, stats.Reason, model.ErrBudgetExceeded)
	assert.Equal(t, 1.0, stats.CompressionRatio)
}

func TestAssembleNoCandidates(t *testing.T) {
	wc, stats := assembler.New(assembler.Config{}).Assemble(context.Background(), assembler.Request{})
	assert.True(t, wc.Empty())
	assert.Equal(t, 4000, wc.Budget)
	assert.NoError(t, stats.Reason)
	assert.Zero(t, stats.CompressionRatio)
}

func TestAssemblePrefersCondensedLayers(t *testing.T) {
	a := assembler.New(assembler.Config{})
	wc, _ := a.Assemble(context.Background(), assembler.Request{
		Candidates: []assembler.Candidate{
			{Item: item("a", model.LayerSensory, 10), Relevance: 0.6},
			{Item: item("z", model.LayerReflective, 10), Relevance: 0.6},
		},
		Budget: 100,
	})
	assert.Equal(t, []string{"z", "a"}, ids(wc))
}

func TestAssembleStopsWhenBudgetExhausted(t *testing.T) {
	a := assembler.New(assembler.Config{})
	wc, stats := a.Assemble(context.Background(), assembler.Request{
		Candidates: []assembler.Candidate{
			{Item: item("a", model.LayerWorking, 10), Relevance: 0.9},
			{Item: item("b", model.LayerWorking, 10), Relevance: 0.8},
			{Item: item("c", model.LayerWorking, 10), Relevance: 0.7},
		},
		Budget: 20,
	})
	assert.Equal(t, []string{"a", "b"}, ids(wc))
	assert.Equal(t, 20, stats.TokensUsed)
	assert.Equal(t, 1, stats.Skipped)
}

func TestAssembleFiltersCandidates(t *testing.T) {
	a := assembler.New(assembler.Config{MinRelevance: 0.3})
	deleted := item("gone", model.LayerWorking, 10)
	now := time.Now()
	deleted.DeletedAt = &now

	wc, stats := a.Assemble(context.Background(), assembler.Request{
		Candidates: []assembler.Candidate{
			{Item: item("a", model.LayerWorking, 10), Relevance: 0.9},
			{Item: item("a", model.LayerWorking, 10), Relevance: 0.1},
			{Item: item("low", model.LayerWorking, 10), Relevance: 0.1},
			{Item: deleted, Relevance: 1},
			{Item: nil, Relevance: 1},
		},
		Budget: 100,
	})
	assert.Equal(t, []string{"a"}, ids(wc))
	assert.Equal(t, 2, stats.TotalCandidates)
	assert.Equal(t, 1, stats.BelowRelevance)
}

func TestAdaptiveBeta(t *testing.T) {
	cases := []struct {
		pref        assembler.Preference
		complexity  float64
		budgetRatio float64
		want        float64
	}{
		{assembler.PreferBalanced, 0.5, 0.5, 1.0},
		{"", 0.5, 0.5, 1.0},
		{assembler.PreferQuality, 0.8, 1.0, 0.5 * 0.7 * 0.8},
		{assembler.PreferEfficiency, 0.1, 0.1, 2.0 * 1.3 * 1.5},
		{assembler.PreferBalanced, 0.7, 0.8, 1.0},
	}
	for _, c := range cases {
		assert.InDelta(t, c.want, assembler.AdaptiveBeta(c.pref, c.complexity, c.budgetRatio), 1e-9,
			"%s %.1f %.1f", c.pref, c.complexity, c.budgetRatio)
	}
}

func TestFromFused(t *testing.T) {
	a := item("a", model.LayerWorking, 2)
	got := assembler.FromFused([]model.FusedResult{
		{ItemID: "a", FusedScore: 0.7, Item: a},
		{ItemID: "b", FusedScore: 0.5},
	})
	require.Len(t, got, 1)
	assert.Same(t, a, got[0].Item)
	assert.Equal(t, 0.7, got[0].Relevance)
}

func TestRender(t *testing.T) {
	assert.Empty(t, assembler.Render(&model.WorkingContext{}))

	it := &model.MemoryItem{
		ID: "a", Content: " prefers dark mode ", Layer: model.LayerLongTerm,
		Kind: model.KindSemantic, Tags: []string{"editor", "ui"}, Importance: 0.8,
	}
	out := assembler.Render(&model.WorkingContext{Entries: []model.ContextEntry{{Item: it, Importance: 0.8}}})
	assert.Equal(t, "## Relevant Memories\n- [long_term/semantic] prefers dark mode (tags: editor, ui) importance=0.80\n", out)
}
