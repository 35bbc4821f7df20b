// Package assembler selects the working context handed to an LLM from fused
// search results. Selection follows the information bottleneck trade-off:
// every candidate is scored by relevance minus a β-weighted compression cost
// and the best candidates are packed greedily into the token budget.
package assembler

import (
	"context"
	"math"
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/text"
)

// Preference selects the base β of a request.
type Preference string

const (
	// PreferQuality keeps more context (β 0.5).
	PreferQuality Preference = "quality"

	// PreferBalanced is the default (β 1.0).
	PreferBalanced Preference = "balanced"

	// PreferEfficiency compresses aggressively (β 2.0).
	PreferEfficiency Preference = "efficiency"
)

// Valid reports whether p is a known preference. The empty preference is balanced.
func (p Preference) Valid() bool {
	switch p {
	case "", PreferQuality, PreferBalanced, PreferEfficiency:
		return true
	}
	return false
}

// Candidate is an item eligible for the context.
type Candidate struct {
	Item *model.MemoryItem

	// Relevance is the fused search score in [0, 1].
	Relevance float64
}

// FromFused converts resolved fused results into candidates. Results without
// an attached item are dropped.
func FromFused(results []model.FusedResult) []Candidate {
	out := make([]Candidate, 0, len(results))
	for _, r := range results {
		if r.Item == nil {
			continue
		}
		out = append(out, Candidate{Item: r.Item, Relevance: r.FusedScore})
	}
	return out
}

// Request describes one assembly.
type Request struct {
	Candidates []Candidate

	// Budget is the token budget. Zero uses Config.DefaultBudget.
	Budget int

	// Complexity of the query in [0, 1]. Complex queries lower β.
	Complexity float64

	// Preference is empty to use Config.Preference.
	Preference Preference
}

// Stats describes the outcome of an assembly.
type Stats struct {
	SelectedCount   int `json:"selected_count"`
	TotalCandidates int `json:"total_candidates"`
	TokensUsed      int `json:"tokens_used"`

	// Skipped counts candidates that did not fit the remaining budget.
	Skipped int `json:"skipped"`

	// BelowRelevance counts candidates dropped by Config.MinRelevance.
	BelowRelevance int `json:"below_relevance"`

	// EstimatedRelevanceRetained is selected relevance over candidate relevance.
	EstimatedRelevanceRetained float64 `json:"estimated_relevance_retained"`

	Beta float64 `json:"beta"`

	// CompressionRatio is 1 - selected tokens / candidate tokens.
	CompressionRatio float64 `json:"compression_ratio"`

	// Reason is model.ErrBudgetExceeded when candidates existed but none fit.
	Reason error `json:"-"`
}

// Config contains the assembler parameters.
type Config struct {
	// DefaultBudget applies to requests without a budget. Default: 4000
	DefaultBudget int `json:"default_budget" yaml:"default_budget" validate:"gte=0"`

	// ReferenceBudget is the budget size β adapts against. Default: 4000
	ReferenceBudget int `json:"reference_budget" yaml:"reference_budget" validate:"gte=0"`

	// RelevanceWeight is the share of the fused score in relevance; the rest
	// comes from importance. Default: 0.8
	RelevanceWeight float64 `json:"relevance_weight" yaml:"relevance_weight" validate:"gte=0,lte=1"`

	// MinRelevance drops candidates below it before selection. Default: 0 (off)
	MinRelevance float64 `json:"min_relevance" yaml:"min_relevance" validate:"gte=0,lte=1"`

	// Preference applies to requests without one. Default: balanced
	Preference Preference `json:"preference" yaml:"preference"`
}

func (c Config) withDefaults() Config {
	if c.DefaultBudget == 0 {
		c.DefaultBudget = 4000
	}
	if c.ReferenceBudget == 0 {
		c.ReferenceBudget = 4000
	}
	if c.RelevanceWeight == 0 {
		c.RelevanceWeight = 0.8
	}
	if c.Preference == "" {
		c.Preference = PreferBalanced
	}
	return c
}

// Option is a function type for configuring an Assembler.
type Option func(*Assembler)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *Assembler) {
		a.logger = observability.OrNop(l)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(a *Assembler) {
		a.metrics = m
	}
}

// Assembler builds working contexts. It holds no per-request state and is
// safe for concurrent use.
type Assembler struct {
	cfg     Config
	logger  *zap.Logger
	metrics *observability.Metrics
}

// New creates an assembler. Zero config fields take their defaults.
func New(cfg Config, opts ...Option) *Assembler {
	a := &Assembler{cfg: cfg.withDefaults(), logger: zap.NewNop()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

type scored struct {
	entry model.ContextEntry
	cost  float64
}

// Assemble selects candidates into a context of at most the budget's tokens.
// A budget too small for any candidate yields an empty context with
// Stats.Reason set; it is not an error.
func (a *Assembler) Assemble(ctx context.Context, req Request) (*model.WorkingContext, *Stats) {
	budget := req.Budget
	if budget == 0 {
		budget = a.cfg.DefaultBudget
	}
	_, span := observability.StartSpan(ctx, "assembler.Assemble",
		attribute.Int("budget", budget),
		attribute.Int("candidates", len(req.Candidates)),
	)

	pref := req.Preference
	if pref == "" {
		pref = a.cfg.Preference
	}
	beta := AdaptiveBeta(pref, req.Complexity, float64(budget)/float64(a.cfg.ReferenceBudget))
	stats := &Stats{Beta: beta}
	wc := &model.WorkingContext{Budget: budget}

	pool := a.score(req.Candidates, stats)
	totalTokens := 0
	for _, s := range pool {
		totalTokens += s.entry.Tokens
	}
	var totalRelevance float64
	for i := range pool {
		s := &pool[i]
		s.cost = float64(s.entry.Tokens) / math.Max(1, float64(totalTokens)) * layerFactor(s.entry.Item)
		s.entry.IBScore = s.entry.Relevance - beta*s.cost
		totalRelevance += s.entry.Relevance
	}
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].entry.IBScore != pool[j].entry.IBScore {
			return pool[i].entry.IBScore > pool[j].entry.IBScore
		}
		return pool[i].entry.Item.ID < pool[j].entry.Item.ID
	})

	var selectedRelevance float64
	for i, s := range pool {
		remaining := budget - wc.TokensUsed
		if remaining <= 0 {
			stats.Skipped += len(pool) - i
			break
		}
		if s.entry.Tokens > remaining {
			stats.Skipped++
			continue
		}
		wc.Entries = append(wc.Entries, s.entry)
		wc.TokensUsed += s.entry.Tokens
		selectedRelevance += s.entry.Relevance
	}

	stats.SelectedCount = len(wc.Entries)
	stats.TokensUsed = wc.TokensUsed
	if totalRelevance > 0 {
		stats.EstimatedRelevanceRetained = selectedRelevance / totalRelevance
	}
	if totalTokens > 0 {
		stats.CompressionRatio = 1 - float64(wc.TokensUsed)/float64(totalTokens)
	}
	if len(pool) > 0 && wc.Empty() {
		stats.Reason = model.ErrBudgetExceeded
	}

	span.SetAttributes(
		attribute.Int("selected", stats.SelectedCount),
		attribute.Int("tokens_used", stats.TokensUsed),
		attribute.Float64("beta", beta),
	)
	observability.EndSpan(span, nil)
	a.metrics.ObserveContext(wc.TokensUsed, stats.SelectedCount)
	a.logger.Debug("context assembled",
		zap.Int("budget", budget),
		zap.Int("candidates", stats.TotalCandidates),
		zap.Int("selected", stats.SelectedCount),
		zap.Int("skipped", stats.Skipped),
		zap.Int("tokens_used", stats.TokensUsed),
		zap.Float64("beta", beta),
		zap.Float64("compression_ratio", stats.CompressionRatio),
	)
	return wc, stats
}

// score computes tokens and relevance per candidate. Duplicate, missing and
// tombstoned items are dropped.
func (a *Assembler) score(candidates []Candidate, stats *Stats) []scored {
	seen := make(map[string]struct{}, len(candidates))
	pool := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if c.Item == nil || c.Item.IsDeleted() {
			continue
		}
		if _, dup := seen[c.Item.ID]; dup {
			continue
		}
		seen[c.Item.ID] = struct{}{}
		stats.TotalCandidates++

		relevance := a.cfg.RelevanceWeight*model.Clamp01(c.Relevance) +
			(1-a.cfg.RelevanceWeight)*model.Clamp01(c.Item.Importance)
		if relevance < a.cfg.MinRelevance {
			stats.BelowRelevance++
			continue
		}
		pool = append(pool, scored{entry: model.ContextEntry{
			Item:       c.Item,
			Tokens:     text.EstimateTokens(c.Item.Content),
			Relevance:  relevance,
			Importance: c.Item.Importance,
		}})
	}
	return pool
}

// layerFactor discounts the cost of condensed knowledge: reflections are the
// cheapest to keep, raw episodes the most expensive.
func layerFactor(item *model.MemoryItem) float64 {
	switch {
	case item.Layer == model.LayerReflective:
		return 0.5
	case item.Kind == model.KindSemantic:
		return 0.7
	case item.Layer == model.LayerLongTerm:
		return 0.6
	case item.Layer == model.LayerWorking:
		return 0.9
	default:
		return 1.0
	}
}

// NeutralComplexity is a complexity that leaves β unchanged.
const NeutralComplexity = 0.5

// AdaptiveBeta returns β for a request. budgetRatio is the budget relative
// to the reference budget.
func AdaptiveBeta(p Preference, complexity, budgetRatio float64) float64 {
	beta := 1.0
	switch p {
	case PreferQuality:
		beta = 0.5
	case PreferEfficiency:
		beta = 2.0
	}

	switch {
	case complexity > 0.7:
		beta *= 0.7
	case complexity < 0.3:
		beta *= 1.3
	}

	switch {
	case budgetRatio < 0.2:
		beta *= 1.5
	case budgetRatio > 0.8:
		beta *= 0.8
	}
	return beta
}
