package core

import (
	"context"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/reflection"
)

// RunTask runs task with the LLM provider, evaluates the outcome against
// criteria and records it as an episode, so the next reflection run can
// learn from it.
//
// A task that fails in the runner is still evaluated and recorded; only
// invalid tasks, a missing LLM and store failures return an error.
//
// Example:
//
//	res, err := client.RunTask(ctx,
//	    reflection.Task{ID: "t-42", TenantID: "user_001", Prompt: "Summarize my preferences"},
//	    reflection.Criteria{MustContain: []string{"Python"}},
//	)
func (c *Client) RunTask(ctx context.Context, task reflection.Task, criteria reflection.Criteria) (*TaskResult, error) {
	if c.llm == nil {
		return nil, NewMemoryError("RunTask", ErrLLMDisabled)
	}
	actor := reflection.NewActor(reflection.LLMRunner{Provider: c.llm})
	out, err := actor.Act(ctx, task)
	if err != nil {
		return nil, NewMemoryError("RunTask", err)
	}
	eval := reflection.Evaluator{}.Evaluate(out, criteria)

	id, err := c.RecordOutcome(ctx, out, eval)
	if err != nil {
		return nil, err
	}
	eval.EpisodeID = id

	c.logger.Debug("task recorded",
		zap.String("tenant_id", task.TenantID),
		zap.String("task_id", task.ID),
		zap.Bool("success", eval.Success),
		zap.Float64("confidence", eval.Confidence))
	return &TaskResult{Outcome: out, Evaluation: eval, EpisodeID: id}, nil
}

// RecordOutcome stores an outcome produced outside the client, with its
// evaluation, as an episodic working memory. It works without an LLM.
func (c *Client) RecordOutcome(ctx context.Context, out reflection.Outcome, eval reflection.EvaluationResult) (string, error) {
	id, err := reflection.RecordOutcome(ctx, c.layers, out, eval)
	if err != nil {
		return "", NewMemoryError("RecordOutcome", err)
	}
	c.tenants.add(out.TenantID)
	return id, nil
}
