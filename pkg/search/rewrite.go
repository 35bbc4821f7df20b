package search

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// DefaultRewriteInstructions is the instruction text used when
// RewriteConfig.Instructions is empty.
const DefaultRewriteInstructions = `Use the user information to fill in any vague or ambiguous parts of the query.
Preserve the original intent of the query.
If the query is already clear and unambiguous, leave it unchanged.`

const rewriteTemplate = `# Task
Rewrite the query by clarifying any ambiguous or underspecified references based on the provided user information, making the query more precise.

# User Information
%s

# Requirements
%s

# Output
Output only the rewritten query, without explanations.

# Query
%s`

const rewriteSystemPrompt = "You are a helpful query rewriting assistant."

// RewriteConfig contains the query rewrite parameters.
type RewriteConfig struct {
	// Instructions replaces DefaultRewriteInstructions when set.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`

	// MaxProfileItems caps the profile memories put in the prompt. Default: 20
	MaxProfileItems int `json:"max_profile_items" yaml:"max_profile_items" validate:"gte=0"`

	// MinQueryLength is the shortest query worth rewriting. Default: 3
	MinQueryLength int `json:"min_query_length" yaml:"min_query_length" validate:"gte=0"`
}

func (c RewriteConfig) withDefaults() RewriteConfig {
	if c.Instructions == "" {
		c.Instructions = DefaultRewriteInstructions
	}
	if c.MaxProfileItems <= 0 {
		c.MaxProfileItems = 20
	}
	if c.MinQueryLength <= 0 {
		c.MinQueryLength = 3
	}
	return c
}

// Rewrite is the outcome of rewriting one query. A failed rewrite keeps the
// original query and records the error.
type Rewrite struct {
	Original string
	Query    string

	// Rewritten is false when Query equals Original.
	Rewritten bool

	// ProfileItems is the number of profile memories the rewrite used.
	ProfileItems int

	Took time.Duration
	Err  error
}

// QueryRewriter clarifies vague queries with what the tenant's profile
// memories say about them.
type QueryRewriter struct {
	llm   llm.Provider
	items ItemSource
	cfg   RewriteConfig
}

// NewQueryRewriter creates a rewriter. Zero config fields take their defaults.
func NewQueryRewriter(provider llm.Provider, items ItemSource, cfg RewriteConfig) *QueryRewriter {
	return &QueryRewriter{llm: provider, items: items, cfg: cfg.withDefaults()}
}

// Rewrite rewrites query for tenantID. Queries shorter than MinQueryLength
// and tenants without profile memories are returned unchanged.
func (r *QueryRewriter) Rewrite(ctx context.Context, tenantID, query string) Rewrite {
	res := Rewrite{Original: query, Query: query}
	trimmed := strings.TrimSpace(query)
	if len(trimmed) < r.cfg.MinQueryLength {
		return res
	}

	start := time.Now()
	defer func() { res.Took = time.Since(start) }()

	profile, err := r.items.List(ctx, tenantID, storage.ListOptions{
		Kinds: []model.Kind{model.KindProfile},
		Limit: r.cfg.MaxProfileItems,
	})
	if err != nil {
		res.Err = fmt.Errorf("rewrite: list profile: %w", err)
		return res
	}
	if len(profile) == 0 {
		return res
	}
	res.ProfileItems = len(profile)

	var b strings.Builder
	for _, item := range profile {
		fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(item.Content))
	}
	prompt := fmt.Sprintf(rewriteTemplate, strings.TrimSuffix(b.String(), "\n"), r.cfg.Instructions, trimmed)

	completion, err := r.llm.Complete(ctx, prompt, rewriteSystemPrompt, llm.WithTemperature(0))
	if err != nil {
		res.Err = fmt.Errorf("rewrite: %w: %v", model.ErrLLMOperation, err)
		return res
	}

	rewritten := strings.Trim(strings.TrimSpace(completion.Text), `"'`)
	if rewritten != "" && rewritten != trimmed {
		res.Query = rewritten
		res.Rewritten = true
	}
	return res
}
