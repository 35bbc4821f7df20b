// Package llmtest provides a scripted llm.Provider for tests.
package llmtest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/oceanbase/recall-go/pkg/llm"
)

// Rule answers prompts whose text contains Match.
type Rule struct {
	Match    string
	Response string
	Err      error
}

// Scripted returns canned completions. The first rule whose Match is a
// substring of the prompt (or system prompt) wins; Default answers the rest.
type Scripted struct {
	Rules   []Rule
	Default string

	// Delay holds every completion for the given time without watching ctx,
	// the way a provider stuck on a slow connection behaves.
	Delay time.Duration

	mu      sync.Mutex
	prompts []string
}

// Complete returns the scripted response for prompt.
func (s *Scripted) Complete(ctx context.Context, prompt, systemPrompt string, opts ...llm.GenerateOption) (*llm.Completion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.Delay > 0 {
		time.Sleep(s.Delay)
	}
	s.mu.Lock()
	s.prompts = append(s.prompts, prompt)
	s.mu.Unlock()

	for _, r := range s.Rules {
		if strings.Contains(prompt, r.Match) || strings.Contains(systemPrompt, r.Match) {
			if r.Err != nil {
				return nil, r.Err
			}
			return &llm.Completion{Text: r.Response, PromptTokens: len(prompt) / 4, CompletionTokens: len(r.Response) / 4}, nil
		}
	}
	return &llm.Completion{Text: s.Default, PromptTokens: len(prompt) / 4, CompletionTokens: len(s.Default) / 4}, nil
}

// Prompts returns the prompts received so far.
func (s *Scripted) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Close is a no-op.
func (s *Scripted) Close() error {
	return nil
}
