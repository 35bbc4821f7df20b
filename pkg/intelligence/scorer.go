package intelligence

import (
	"context"

	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/model"
)

// Scorer assigns initial scores to new items and owns the decay engine.
//
// It combines:
//   - ImportanceEvaluator: importance of items stored without one
//   - DecayEngine: default decay rates, decay steps and reinforcement
type Scorer struct {
	evaluator *ImportanceEvaluator
	decay     *DecayEngine
}

// NewScorer creates a scorer. provider may be nil.
func NewScorer(provider llm.Provider, cfg DecayConfig) *Scorer {
	return &Scorer{
		evaluator: NewImportanceEvaluator(provider),
		decay:     NewDecayEngine(cfg),
	}
}

// Decay returns the decay engine.
func (s *Scorer) Decay() *DecayEngine {
	return s.decay
}

// Prepare fills in the importance and decay rate of item when they are unset.
func (s *Scorer) Prepare(ctx context.Context, item *model.MemoryItem) {
	if item.Importance <= 0 {
		item.Importance = s.evaluator.Evaluate(ctx, item.Content, item.Metadata)
	}
	if item.DecayRate <= 0 {
		item.DecayRate = s.decay.DefaultRate(item.Layer)
	}
}
