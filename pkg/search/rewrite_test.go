package search_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/llm/llmtest"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/search"
)

func profileItem(id, content string) *model.MemoryItem {
	it := item(id, content)
	it.Kind = model.KindProfile
	return it
}

func TestQueryRewriter(t *testing.T) {
	ctx := context.Background()
	items, _ := setupItems(t,
		profileItem("P1", "The user lives in Berlin"),
		item("A", "Weather was sunny yesterday"),
	)

	t.Run("uses profile memories", func(t *testing.T) {
		provider := &llmtest.Scripted{Default: `"weather in Berlin today"`}
		rw := search.NewQueryRewriter(provider, items, search.RewriteConfig{}).Rewrite(ctx, "t1", "weather here today")

		require.NoError(t, rw.Err)
		assert.True(t, rw.Rewritten)
		assert.Equal(t, "weather in Berlin today", rw.Query)
		assert.Equal(t, "weather here today", rw.Original)
		assert.Equal(t, 1, rw.ProfileItems)

		prompts := provider.Prompts()
		require.Len(t, prompts, 1)
		assert.Contains(t, prompts[0], "- The user lives in Berlin")
		assert.NotContains(t, prompts[0], "sunny")
		assert.Contains(t, prompts[0], search.DefaultRewriteInstructions)
	})

	t.Run("short query is kept", func(t *testing.T) {
		provider := &llmtest.Scripted{Default: "anything"}
		rw := search.NewQueryRewriter(provider, items, search.RewriteConfig{}).Rewrite(ctx, "t1", "hi")
		assert.False(t, rw.Rewritten)
		assert.Equal(t, "hi", rw.Query)
		assert.Empty(t, provider.Prompts())
	})

	t.Run("tenant without profile is kept", func(t *testing.T) {
		provider := &llmtest.Scripted{Default: "anything"}
		rw := search.NewQueryRewriter(provider, items, search.RewriteConfig{}).Rewrite(ctx, "t2", "weather here today")
		assert.False(t, rw.Rewritten)
		assert.Empty(t, provider.Prompts())
	})

	t.Run("llm failure keeps the query", func(t *testing.T) {
		provider := &llmtest.Scripted{Rules: []llmtest.Rule{{Match: "Query", Err: errors.New("boom")}}}
		rw := search.NewQueryRewriter(provider, items, search.RewriteConfig{}).Rewrite(ctx, "t1", "weather here today")
		assert.ErrorIs(t, rw.Err, model.ErrLLMOperation)
		assert.False(t, rw.Rewritten)
		assert.Equal(t, "weather here today", rw.Query)
	})

	t.Run("unchanged answer is not a rewrite", func(t *testing.T) {
		provider := &llmtest.Scripted{Default: "weather here today"}
		rw := search.NewQueryRewriter(provider, items, search.RewriteConfig{}).Rewrite(ctx, "t1", "weather here today")
		require.NoError(t, rw.Err)
		assert.False(t, rw.Rewritten)
	})
}

func TestEngineRewritesOnRequest(t *testing.T) {
	ctx := context.Background()
	items, _ := setupItems(t,
		profileItem("P1", "The user lives in Berlin"),
		item("A", "Berlin weather was sunny yesterday"),
		item("B", "Paris trip planned for May"),
	)
	provider := &llmtest.Scripted{Default: "Berlin weather"}
	e, err := search.NewEngine(items, search.DefaultConfig(),
		search.WithStrategy(search.NewFullTextStrategy(items)),
		search.WithRewriter(search.NewQueryRewriter(provider, items, search.RewriteConfig{})))
	require.NoError(t, err)

	resp, err := e.Search(ctx, &search.Query{TenantID: "t1", Text: "weather where I live"})
	require.NoError(t, err)
	assert.Nil(t, resp.Rewrite)
	assert.Empty(t, provider.Prompts())

	resp, err = e.Search(ctx, &search.Query{TenantID: "t1", Text: "weather where I live", Rewrite: true})
	require.NoError(t, err)
	require.NotNil(t, resp.Rewrite)
	assert.True(t, resp.Rewrite.Rewritten)
	assert.Equal(t, "Berlin weather", resp.Rewrite.Query)
	require.NotEmpty(t, resp.Results)
	assert.Equal(t, "A", resp.Results[0].ItemID)
}

func TestEngineRewriteIsBounded(t *testing.T) {
	ctx := context.Background()
	items, _ := setupItems(t,
		profileItem("P1", "The user lives in Berlin"),
		item("A", "Berlin weather was sunny yesterday"),
	)
	query := "weather where I live"

	newSlowEngine := func(t *testing.T, timeout time.Duration) *search.Engine {
		provider := &llmtest.Scripted{Default: "Berlin weather", Delay: 2 * time.Second}
		cfg := search.DefaultConfig()
		cfg.StrategyTimeout = timeout
		e, err := search.NewEngine(items, cfg,
			search.WithStrategy(search.NewFullTextStrategy(items)),
			search.WithRewriter(search.NewQueryRewriter(provider, items, search.RewriteConfig{})))
		require.NoError(t, err)
		return e
	}

	t.Run("query deadline", func(t *testing.T) {
		e := newSlowEngine(t, 10*time.Second)
		start := time.Now()
		resp, err := e.Search(ctx, &search.Query{
			TenantID: "t1",
			Text:     query,
			Rewrite:  true,
			Deadline: time.Now().Add(100 * time.Millisecond),
		})
		require.NoError(t, err)

		assert.Less(t, time.Since(start), time.Second)
		require.NotNil(t, resp.Rewrite)
		assert.ErrorIs(t, resp.Rewrite.Err, context.DeadlineExceeded)
		assert.False(t, resp.Rewrite.Rewritten)
		assert.Equal(t, query, resp.Rewrite.Query)
	})

	t.Run("strategy timeout", func(t *testing.T) {
		e := newSlowEngine(t, 100*time.Millisecond)
		start := time.Now()
		resp, err := e.Search(ctx, &search.Query{TenantID: "t1", Text: query, Rewrite: true})
		require.NoError(t, err)

		assert.Less(t, time.Since(start), time.Second)
		require.NotNil(t, resp.Rewrite)
		assert.ErrorIs(t, resp.Rewrite.Err, context.DeadlineExceeded)
		assert.False(t, resp.Rewrite.Rewritten)
		assert.Equal(t, search.StatusOK, resp.Status)
		// The original query does not match "Berlin weather was sunny yesterday".
		assert.Empty(t, resp.Results)
	})
}
