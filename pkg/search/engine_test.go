package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/search"
	"github.com/oceanbase/recall-go/pkg/storage/memory"
)

type fakeStrategy struct {
	name  model.StrategyName
	hits  []model.SearchResult
	err   error
	delay time.Duration
}

func (f *fakeStrategy) Name() model.StrategyName {
	return f.name
}

func (f *fakeStrategy) Search(ctx context.Context, q *search.Query, limit int) ([]model.SearchResult, error) {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.hits, f.err
}

func item(id, content string) *model.MemoryItem {
	return &model.MemoryItem{
		ID:         id,
		TenantID:   "t1",
		Content:    content,
		Layer:      model.LayerWorking,
		Kind:       model.KindSemantic,
		Importance: 0.5,
	}
}

func setupItems(t *testing.T, items ...*model.MemoryItem) (*layers.Manager, func(time.Duration)) {
	t.Helper()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	m, err := layers.NewManager(memory.NewStore(), layers.Config{}, layers.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	for _, it := range items {
		_, err := m.Store(context.Background(), it)
		require.NoError(t, err)
	}
	return m, func(d time.Duration) { now = now.Add(d) }
}

// scenarioStrategies returns vector [A:0.9, B:0.4], sparse [A:0.7, C:0.6] and empty graph/fulltext.
func scenarioStrategies() []*fakeStrategy {
	return []*fakeStrategy{
		{name: model.StrategyVector, hits: []model.SearchResult{hit(model.StrategyVector, "A", 0.9), hit(model.StrategyVector, "B", 0.4)}},
		{name: model.StrategyGraph},
		{name: model.StrategySparse, hits: []model.SearchResult{hit(model.StrategySparse, "A", 0.7), hit(model.StrategySparse, "C", 0.6)}},
		{name: model.StrategyFullText},
	}
}

func newEngine(t *testing.T, items search.ItemSource, cfg search.Config, strategies []*fakeStrategy, opts ...search.Option) *search.Engine {
	t.Helper()
	for _, s := range strategies {
		opts = append(opts, search.WithStrategy(s))
	}
	e, err := search.NewEngine(items, cfg, opts...)
	require.NoError(t, err)
	return e
}

func scenarioItems(t *testing.T) *layers.Manager {
	m, _ := setupItems(t,
		item("A", "User prefers dark mode"),
		item("B", "Editor theme settings"),
		item("C", "Dark chocolate preference"),
	)
	return m
}

func ids(results []model.FusedResult) []string {
	out := make([]string, 0, len(results))
	for _, r := range results {
		out = append(out, r.ItemID)
	}
	return out
}

func TestEngineDarkModeScenario(t *testing.T) {
	m := scenarioItems(t)
	cfg := search.DefaultConfig()
	cfg.Reinforce = false
	e := newEngine(t, m, cfg, scenarioStrategies())

	resp, err := e.Search(context.Background(), &search.Query{
		TenantID: "t1",
		Text:     "dark mode preference",
		Weights:  search.DefaultWeights(),
	})
	require.NoError(t, err)
	assert.Equal(t, search.StatusOK, resp.Status)
	assert.Empty(t, resp.Failed)
	require.Equal(t, []string{"A", "B", "C"}, ids(resp.Results))
	assert.InDelta(t, 0.50, resp.Results[0].FusedScore, 1e-9)
	assert.InDelta(t, 0.16, resp.Results[1].FusedScore, 1e-9)
	assert.InDelta(t, 0.12, resp.Results[2].FusedScore, 1e-9)
	require.NotNil(t, resp.Results[0].Item)
	assert.Equal(t, "User prefers dark mode", resp.Results[0].Item.Content)
}

func TestEnginePartialFailureRenormalizes(t *testing.T) {
	m := scenarioItems(t)
	strategies := scenarioStrategies()
	strategies[1].err = errors.New("graph store down")

	e := newEngine(t, m, search.Config{}, strategies)
	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode preference", Weights: search.DefaultWeights()})
	require.NoError(t, err)

	assert.Equal(t, search.StatusPartial, resp.Status)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, model.StrategyGraph, resp.Failed[0].Strategy)
	assert.Equal(t, search.ReasonError, resp.Failed[0].Reason)
	assert.InDelta(t, 0.4/0.7, resp.Weights[model.StrategyVector], 1e-9)
	assert.InDelta(t, 0.5/0.7, resp.Results[0].FusedScore, 1e-9)
	assert.Equal(t, []string{"A", "B", "C"}, ids(resp.Results))
}

func TestEngineAllStrategiesFailIsDegraded(t *testing.T) {
	m := scenarioItems(t)
	strategies := scenarioStrategies()
	for _, s := range strategies {
		s.err = model.ErrBackendUnavailable
	}

	e := newEngine(t, m, search.Config{}, strategies)
	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode"})
	require.NoError(t, err)
	assert.Equal(t, search.StatusDegraded, resp.Status)
	assert.Empty(t, resp.Results)
	assert.Len(t, resp.Failed, 4)
}

func TestEngineSlowStrategyTimesOut(t *testing.T) {
	m := scenarioItems(t)
	strategies := scenarioStrategies()
	strategies[0].delay = 5 * time.Second

	e := newEngine(t, m, search.Config{StrategyTimeout: 50 * time.Millisecond}, strategies)
	start := time.Now()
	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode preference", Weights: search.DefaultWeights()})
	require.NoError(t, err)

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, search.StatusPartial, resp.Status)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, search.ReasonTimeout, resp.Failed[0].Reason)
	assert.Equal(t, []string{"A", "C"}, ids(resp.Results))
}

func TestEngineHonorsQueryDeadline(t *testing.T) {
	for name, deadline := range map[string]time.Duration{
		"short":    50 * time.Millisecond,
		"past due": -time.Second,
	} {
		t.Run(name, func(t *testing.T) {
			m := scenarioItems(t)
			strategies := scenarioStrategies()
			for _, s := range strategies {
				s.delay = 5 * time.Second
			}

			e := newEngine(t, m, search.Config{StrategyTimeout: 10 * time.Second}, strategies)
			start := time.Now()
			resp, err := e.Search(context.Background(), &search.Query{
				TenantID: "t1",
				Text:     "dark mode preference",
				Deadline: time.Now().Add(deadline),
			})
			require.NoError(t, err)

			assert.Less(t, time.Since(start), time.Second)
			assert.Equal(t, search.StatusDegraded, resp.Status)
			assert.Empty(t, resp.Results)
			require.Len(t, resp.Failed, 4)
			for _, f := range resp.Failed {
				assert.Equal(t, search.ReasonTimeout, f.Reason)
			}
		})
	}
}

func TestEngineBreakerOpens(t *testing.T) {
	m := scenarioItems(t)
	strategies := scenarioStrategies()
	strategies[1].err = errors.New("boom")

	cfg := search.Config{Breaker: search.BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}}
	e := newEngine(t, m, cfg, strategies)
	q := &search.Query{TenantID: "t1", Text: "dark mode"}

	for i := 0; i < 2; i++ {
		resp, err := e.Search(context.Background(), q)
		require.NoError(t, err)
		assert.Equal(t, search.ReasonError, resp.Failed[0].Reason)
	}
	resp, err := e.Search(context.Background(), q)
	require.NoError(t, err)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, search.ReasonBreakerOpen, resp.Failed[0].Reason)
}

func TestEngineDropsDeletedItemsAndReinforces(t *testing.T) {
	m := scenarioItems(t)
	require.NoError(t, m.Delete(context.Background(), "t1", "C"))

	e := newEngine(t, m, search.DefaultConfig(), scenarioStrategies(), search.WithReinforcer(m))
	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode preference", Weights: search.DefaultWeights()})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(resp.Results))

	a, err := m.Get(context.Background(), "t1", "A")
	require.NoError(t, err)
	assert.Equal(t, 1, a.AccessCount)
	assert.InDelta(t, 0.55, a.Importance, 1e-9)
}

func TestEngineLimitAndLayerFilter(t *testing.T) {
	m := scenarioItems(t)
	cfg := search.Config{}
	e := newEngine(t, m, cfg, scenarioStrategies())

	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode preference", Weights: search.DefaultWeights(), Limit: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids(resp.Results))

	resp, err = e.Search(context.Background(), &search.Query{TenantID: "t1", Text: "dark mode", Layers: []model.Layer{model.LayerLongTerm}})
	require.NoError(t, err)
	assert.Equal(t, search.StatusOK, resp.Status)
	assert.Empty(t, resp.Results)
}

func TestEngineStrategySelection(t *testing.T) {
	m := scenarioItems(t)
	e := newEngine(t, m, search.Config{}, scenarioStrategies())

	resp, err := e.Search(context.Background(), &search.Query{
		TenantID:   "t1",
		Text:       "dark mode",
		Strategies: []model.StrategyName{model.StrategySparse},
	})
	require.NoError(t, err)
	assert.Equal(t, search.Weights{model.StrategySparse: 1}, resp.Weights)
	assert.Equal(t, []string{"A", "C"}, ids(resp.Results))
	assert.InDelta(t, 0.7, resp.Results[0].FusedScore, 1e-9)

	resp, err = e.Search(context.Background(), &search.Query{
		TenantID: "t1",
		Text:     "dark mode",
		Weights:  search.Weights{model.StrategyVector: 1},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B"}, ids(resp.Results))
}

func TestEngineClassifiesIntent(t *testing.T) {
	m := scenarioItems(t)
	e := newEngine(t, m, search.DefaultConfig(), scenarioStrategies())

	resp, err := e.Search(context.Background(), &search.Query{TenantID: "t1", Text: `"dark mode"`})
	require.NoError(t, err)
	assert.Contains(t, resp.Intents, search.IntentExact)
	assert.Greater(t, resp.Weights[model.StrategyFullText], 0.1)
}

func TestEngineRejectsInvalidQueries(t *testing.T) {
	m := scenarioItems(t)
	e := newEngine(t, m, search.Config{}, scenarioStrategies())
	ctx := context.Background()

	_, err := e.Search(ctx, &search.Query{Text: "x"})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = e.Search(ctx, &search.Query{TenantID: "t1", Text: "  "})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = e.Search(ctx, &search.Query{TenantID: "t1", Text: "x", Strategies: []model.StrategyName{"semantic"}})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = search.NewEngine(m, search.Config{})
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}
