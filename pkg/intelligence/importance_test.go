package intelligence_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/llm/llmtest"
	"github.com/oceanbase/recall-go/pkg/model"
)

func TestEvaluateWithLLM(t *testing.T) {
	provider := &llmtest.Scripted{Default: `Sure: {"importance_score": 0.85}`}
	evaluator := intelligence.NewImportanceEvaluator(provider)

	score := evaluator.Evaluate(context.Background(), "User is allergic to peanuts", nil)
	assert.InDelta(t, 0.85, score, 1e-9)
	assert.Len(t, provider.Prompts(), 1)
}

func TestEvaluateParsesBareNumber(t *testing.T) {
	provider := &llmtest.Scripted{Default: "0.4"}
	evaluator := intelligence.NewImportanceEvaluator(provider)

	assert.InDelta(t, 0.4, evaluator.Evaluate(context.Background(), "weather is fine", nil), 1e-9)
}

func TestEvaluateFallsBackToRules(t *testing.T) {
	provider := &llmtest.Scripted{Rules: []llmtest.Rule{{Match: "Memory:", Err: errors.New("rate limited")}}}
	evaluator := intelligence.NewImportanceEvaluator(provider)

	content := "Remember: user prefers dark mode"
	assert.Equal(t, intelligence.EvaluateWithRules(content, nil), evaluator.Evaluate(context.Background(), content, nil))
}

func TestEvaluateWithRules(t *testing.T) {
	plain := intelligence.EvaluateWithRules("ok", nil)
	assert.Equal(t, 0.5, plain)

	keyword := intelligence.EvaluateWithRules("This is important, remember it", nil)
	assert.Greater(t, keyword, plain)

	high := intelligence.EvaluateWithRules("ok", map[string]interface{}{"priority": "high"})
	assert.InDelta(t, 0.7, high, 1e-9)

	assert.LessOrEqual(t, intelligence.EvaluateWithRules(
		"important critical urgent remember note prefer like dislike hate love always never!", nil), 1.0)
}

func TestScorerPrepare(t *testing.T) {
	scorer := intelligence.NewScorer(nil, intelligence.DecayConfig{})

	item := &model.MemoryItem{Content: "ok", Layer: model.LayerSensory, Kind: model.KindSensory}
	scorer.Prepare(context.Background(), item)
	assert.Equal(t, 0.5, item.Importance)
	assert.Equal(t, scorer.Decay().DefaultRate(model.LayerSensory), item.DecayRate)

	explicit := &model.MemoryItem{Content: "ok", Layer: model.LayerWorking, Importance: 0.9, DecayRate: 0.01}
	scorer.Prepare(context.Background(), explicit)
	assert.Equal(t, 0.9, explicit.Importance)
	assert.Equal(t, 0.01, explicit.DecayRate)
}
