// Package reflection distills episodic memories into higher-level reflections.
//
// It follows the actor, evaluator and reflector cycle. Each role is a plain
// value-in, value-out component: the Actor turns a Task into an Outcome, the
// Evaluator scores an Outcome against Criteria, and the Reflector clusters
// episodes and asks the language model for one insight per cluster. The
// Engine persists the results through the layer manager.
package reflection

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/model"
)

// Task is one unit of work handed to the Actor.
type Task struct {
	ID           string
	TenantID     string
	Prompt       string
	SystemPrompt string
}

// TraceStep is one entry of an Outcome trace.
type TraceStep struct {
	At     time.Time `json:"at"`
	Step   string    `json:"step"`
	Detail string    `json:"detail,omitempty"`
}

// Outcome is the result of running a Task. A runner failure is recorded in
// Err rather than returned, so it can still be evaluated.
type Outcome struct {
	TaskID     string
	TenantID   string
	Prompt     string
	Output     string
	Err        string
	TokensUsed int
	StartedAt  time.Time
	FinishedAt time.Time
	Trace      []TraceStep
}

// Latency returns the wall time the task took.
func (o Outcome) Latency() time.Duration {
	return o.FinishedAt.Sub(o.StartedAt)
}

// TaskRunner performs a task and returns its output and the tokens spent.
type TaskRunner interface {
	Run(ctx context.Context, task Task) (string, int, error)
}

// LLMRunner runs tasks as single completions.
type LLMRunner struct {
	Provider llm.Provider
	Options  []llm.GenerateOption
}

// Run completes the task prompt.
func (r LLMRunner) Run(ctx context.Context, task Task) (string, int, error) {
	c, err := r.Provider.Complete(ctx, task.Prompt, task.SystemPrompt, r.Options...)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", model.ErrLLMOperation, err)
	}
	return c.Text, c.TokensUsed(), nil
}

// Actor runs tasks and records what happened.
type Actor struct {
	runner TaskRunner
	now    func() time.Time
}

// NewActor creates an actor around runner.
func NewActor(runner TaskRunner) *Actor {
	return &Actor{runner: runner, now: time.Now}
}

// Act runs task. The returned error is only set for an invalid task.
func (a *Actor) Act(ctx context.Context, task Task) (Outcome, error) {
	if strings.TrimSpace(task.TenantID) == "" {
		return Outcome{}, model.NewMemoryError("Act", model.NewValidationError("tenant_id", "must not be empty"))
	}
	if strings.TrimSpace(task.Prompt) == "" {
		return Outcome{}, model.NewMemoryError("Act", model.NewValidationError("prompt", "must not be empty"))
	}

	out := Outcome{TaskID: task.ID, TenantID: task.TenantID, Prompt: task.Prompt, StartedAt: a.now()}
	out.Trace = append(out.Trace, TraceStep{At: out.StartedAt, Step: "start"})

	text, tokens, err := a.runner.Run(ctx, task)
	out.FinishedAt = a.now()
	if err != nil {
		out.Err = err.Error()
		out.Trace = append(out.Trace, TraceStep{At: out.FinishedAt, Step: "error", Detail: out.Err})
		return out, nil
	}
	out.Output = text
	out.TokensUsed = tokens
	out.Trace = append(out.Trace, TraceStep{At: out.FinishedAt, Step: "complete", Detail: strconv.Itoa(tokens) + " tokens"})
	return out, nil
}

// Criteria are the checks an Outcome must pass. Zero fields are not checked.
type Criteria struct {
	MustContain    []string
	MustNotContain []string
	MinLength      int
	MaxLatency     time.Duration
}

// EvaluationResult is the verdict on one Outcome.
type EvaluationResult struct {
	TaskID     string  `json:"task_id"`
	Success    bool    `json:"success"`
	Confidence float64 `json:"confidence"`

	// FailureReason lists the failed checks, separated by "; ".
	FailureReason string `json:"failure_reason,omitempty"`

	// EpisodeID is the memory item recording the outcome, once stored.
	EpisodeID string `json:"episode_id,omitempty"`
}

// Evaluator scores outcomes. It has no state.
type Evaluator struct{}

// Evaluate checks o against c. A runner error fails with full confidence.
// Otherwise confidence is 0.5 plus half the share of checks agreeing with
// the verdict; an outcome with no applicable check passes at 0.5.
func (Evaluator) Evaluate(o Outcome, c Criteria) EvaluationResult {
	res := EvaluationResult{TaskID: o.TaskID}
	if o.Err != "" {
		res.Confidence = 1
		res.FailureReason = "runner error: " + o.Err
		return res
	}

	var total int
	var failed []string
	check := func(ok bool, reason string) {
		total++
		if !ok {
			failed = append(failed, reason)
		}
	}

	lower := strings.ToLower(o.Output)
	for _, s := range c.MustContain {
		check(strings.Contains(lower, strings.ToLower(s)), fmt.Sprintf("missing %q", s))
	}
	for _, s := range c.MustNotContain {
		check(!strings.Contains(lower, strings.ToLower(s)), fmt.Sprintf("contains %q", s))
	}
	if c.MinLength > 0 {
		check(len(strings.TrimSpace(o.Output)) >= c.MinLength, fmt.Sprintf("shorter than %d", c.MinLength))
	}
	if c.MaxLatency > 0 {
		check(o.Latency() <= c.MaxLatency, fmt.Sprintf("slower than %s", c.MaxLatency))
	}

	if total == 0 {
		res.Success = true
		res.Confidence = 0.5
		return res
	}
	res.Success = len(failed) == 0
	agreeing := total - len(failed)
	if !res.Success {
		agreeing = len(failed)
		res.FailureReason = strings.Join(failed, "; ")
	}
	res.Confidence = 0.5 + 0.5*float64(agreeing)/float64(total)
	return res
}
