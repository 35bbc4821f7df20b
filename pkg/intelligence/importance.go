package intelligence

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/oceanbase/recall-go/pkg/llm"
)

const importanceSystemPrompt = `You rate how important a piece of agent memory is for future conversations.
Consider personal relevance, novelty, emotional weight, actionability and durability of the fact.
Reply with a JSON object: {"importance_score": <number between 0.0 and 1.0>}`

// ImportanceEvaluator scores memory content in [0, 1].
//
// It asks the LLM when one is configured and falls back to keyword rules
// when there is no LLM or the call fails.
//
// Example usage:
//
//	evaluator := NewImportanceEvaluator(provider)
//	score := evaluator.Evaluate(ctx, "User's birthday is March 15th", nil)
type ImportanceEvaluator struct {
	llm llm.Provider
}

// NewImportanceEvaluator creates an evaluator. provider may be nil for rule-based scoring only.
func NewImportanceEvaluator(provider llm.Provider) *ImportanceEvaluator {
	return &ImportanceEvaluator{llm: provider}
}

// Evaluate returns the importance of content.
func (e *ImportanceEvaluator) Evaluate(ctx context.Context, content string, metadata map[string]interface{}) float64 {
	if e.llm != nil {
		if score, err := e.evaluateWithLLM(ctx, content); err == nil {
			return score
		}
	}
	return EvaluateWithRules(content, metadata)
}

func (e *ImportanceEvaluator) evaluateWithLLM(ctx context.Context, content string) (float64, error) {
	prompt := fmt.Sprintf("Memory: %s\n\nReturn JSON: {\"importance_score\": 0.0-1.0}", content)
	completion, err := e.llm.Complete(ctx, prompt, importanceSystemPrompt, llm.WithTemperature(0), llm.WithMaxTokens(50))
	if err != nil {
		return 0, err
	}
	return parseImportanceResponse(completion.Text)
}

var numberPattern = regexp.MustCompile(`\d+(\.\d+)?`)

// parseImportanceResponse reads the score from a JSON answer, or from the
// first number in a free-form answer.
func parseImportanceResponse(text string) (float64, error) {
	var result struct {
		ImportanceScore *float64 `json:"importance_score"`
	}
	if err := llm.ExtractJSON(text, &result); err == nil && result.ImportanceScore != nil {
		return clampScore(*result.ImportanceScore), nil
	}

	if m := numberPattern.FindString(text); m != "" {
		if score, err := strconv.ParseFloat(m, 64); err == nil {
			return clampScore(score), nil
		}
	}
	return 0, fmt.Errorf("no importance score in %q", text)
}

var importantKeywords = []string{
	"important", "critical", "urgent", "remember", "note",
	"prefer", "like", "dislike", "hate", "love",
	"always", "never", "allergic", "birthday", "deadline",
}

// EvaluateWithRules scores content with keyword and shape heuristics.
// The baseline for unremarkable content is 0.5.
func EvaluateWithRules(content string, metadata map[string]interface{}) float64 {
	score := 0.5
	lower := strings.ToLower(content)

	switch {
	case len(content) > 100:
		score += 0.1
	case len(content) > 50:
		score += 0.05
	}

	for _, keyword := range importantKeywords {
		if strings.Contains(lower, keyword) {
			score += 0.1
		}
	}

	if strings.Contains(content, "!") {
		score += 0.05
	}

	if priority, ok := metadata["priority"].(string); ok {
		switch priority {
		case "high":
			score += 0.2
		case "medium":
			score += 0.1
		case "low":
			score -= 0.1
		}
	}

	return clampScore(score)
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
