package reflection_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/llm/llmtest"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/storage/memory"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

func setupEngine(t *testing.T, opts ...reflection.Option) (*reflection.Engine, *layers.Manager) {
	t.Helper()
	m, err := layers.NewManager(memory.NewStore(), layers.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	p := &llmtest.Scripted{
		Rules:   []llmtest.Rule{{Match: scoreRule, Response: `{"importance": 0.9, "confidence": 0.8}`}},
		Default: "The user prefers dark mode.",
	}
	r, err := reflection.NewReflector(p, topicEmbedder{}, reflection.Config{}, nil)
	require.NoError(t, err)
	e, err := reflection.NewEngine(m, r, opts...)
	require.NoError(t, err)
	return e, m
}

func storeEpisodes(t *testing.T, m *layers.Manager, topic string, n int) []string {
	t.Helper()
	var ids []string
	for i := 0; i < n; i++ {
		id, err := m.Store(context.Background(), &model.MemoryItem{
			TenantID:   "t1",
			Content:    fmt.Sprintf("%s episode %d", topic, i),
			Layer:      model.LayerWorking,
			Kind:       model.KindEpisodic,
			Importance: 0.5,
		})
		require.NoError(t, err)
		ids = append(ids, id)
	}
	return ids
}

func reflections(t *testing.T, m *layers.Manager) []*model.MemoryItem {
	t.Helper()
	layer := model.LayerReflective
	items, err := m.List(context.Background(), "t1", storage.ListOptions{Layer: &layer})
	require.NoError(t, err)
	return items
}

func TestEngineSameClusterTwiceStoresOneReflection(t *testing.T) {
	e, m := setupEngine(t)
	dark := storeEpisodes(t, m, "dark", 5)
	storeEpisodes(t, m, "coffee", 2)

	report, err := e.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, reflection.StageStored, report.Stage)
	assert.Equal(t, 7, report.Episodes)
	assert.Equal(t, 1, report.Clusters)
	assert.Len(t, report.StoredIDs, 1)
	assert.Empty(t, report.Errors)

	stored := reflections(t, m)
	require.Len(t, stored, 1)
	got := stored[0]
	assert.Equal(t, model.KindReflection, got.Kind)
	assert.Equal(t, "The user prefers dark mode.", got.Content)
	assert.Equal(t, model.NormalizeSet(dark), got.RelatedIDs)
	assert.Equal(t, model.ClusterHash(dark), got.MetadataString(reflection.MetaClusterHash))
	assert.Equal(t, 0.9, got.Importance)

	report, err = e.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, reflection.StageStored, report.Stage)
	assert.Equal(t, 1, report.Duplicates)
	assert.Empty(t, report.StoredIDs)
	assert.Len(t, reflections(t, m), 1)

	// A fresh engine finds the hash on the stored reflection.
	p := &llmtest.Scripted{Default: "Another insight about dark."}
	r, err := reflection.NewReflector(p, topicEmbedder{}, reflection.Config{}, nil)
	require.NoError(t, err)
	fresh, err := reflection.NewEngine(m, r)
	require.NoError(t, err)
	report, err = fresh.Run(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Duplicates)
	assert.Empty(t, p.Prompts())
	assert.Len(t, reflections(t, m), 1)
}

func TestEngineRunIsExclusivePerTenant(t *testing.T) {
	locks := tenantlock.New()
	e, _ := setupEngine(t, reflection.WithLocker(locks))

	unlock, err := locks.TryLock(reflection.JobReflect, "t1")
	require.NoError(t, err)
	defer unlock()

	_, err = e.Run(context.Background(), "t1")
	assert.ErrorIs(t, err, model.ErrTenantBusy)

	report, err := e.Run(context.Background(), "t2")
	require.NoError(t, err)
	assert.Zero(t, report.Episodes)
}

func TestEngineRunRejectsEmptyTenant(t *testing.T) {
	e, _ := setupEngine(t)
	_, err := e.Run(context.Background(), " ")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestEngineRecordsEvaluatedOutcomes(t *testing.T) {
	e, m := setupEngine(t)
	actor := reflection.NewActor(reflection.LLMRunner{Provider: &llmtest.Scripted{Default: "Use dark mode at night."}})

	out, err := actor.Act(context.Background(), reflection.Task{ID: "task-1", TenantID: "t1", Prompt: "Which theme should I use?"})
	require.NoError(t, err)
	ev := reflection.Evaluator{}.Evaluate(out, reflection.Criteria{MustContain: []string{"light"}})

	id, err := e.Record(context.Background(), out, ev)
	require.NoError(t, err)

	item, err := m.Get(context.Background(), "t1", id)
	require.NoError(t, err)
	assert.Equal(t, model.LayerWorking, item.Layer)
	assert.True(t, strings.HasSuffix(item.Content, "Outcome: Use dark mode at night."))

	got, ok := reflection.EvaluationFromItem(item)
	require.True(t, ok)
	assert.Equal(t, id, got.EpisodeID)
	assert.Equal(t, "task-1", got.TaskID)
	assert.False(t, got.Success)
	assert.Equal(t, 1.0, got.Confidence)
	assert.Equal(t, `missing "light"`, got.FailureReason)

	_, ok = reflection.EvaluationFromItem(&model.MemoryItem{ID: "plain"})
	assert.False(t, ok)
}
