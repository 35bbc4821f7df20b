package core

import (
	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/search"
)

// ContextResult is the answer of BuildContext.
type ContextResult struct {
	// Context holds the selected items in selection order.
	Context *model.WorkingContext

	Stats *assembler.Stats

	// Prompt is Context rendered for injection into a prompt ("" when empty).
	Prompt string

	// Search is the candidate search the context was assembled from.
	Search *search.Response
}

// TaskResult is the answer of RunTask.
type TaskResult struct {
	Outcome    reflection.Outcome
	Evaluation reflection.EvaluationResult

	// EpisodeID is the id of the episodic item the outcome was recorded as.
	EpisodeID string
}
