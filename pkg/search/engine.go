package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
)

// Status tells how complete a search answer is.
type Status string

const (
	// StatusOK: every strategy answered.
	StatusOK Status = "ok"

	// StatusPartial: some strategies failed; weights were renormalized over the rest.
	StatusPartial Status = "partial"

	// StatusDegraded: every strategy failed; the result is empty.
	StatusDegraded Status = "degraded"
)

// Failure reasons reported in StrategyFailure.Reason.
const (
	ReasonTimeout     = "timeout"
	ReasonBreakerOpen = "breaker_open"
	ReasonCanceled    = "canceled"
	ReasonError       = "error"
)

// StrategyFailure describes a strategy that did not contribute.
type StrategyFailure struct {
	Strategy model.StrategyName
	Reason   string
	Err      error
}

// Response is the answer to a Query.
type Response struct {
	Results []model.FusedResult
	Status  Status
	Failed  []StrategyFailure

	// Weights are the weights applied to the surviving strategies.
	Weights Weights

	// Intents are the intents detected when weights came from ClassifyQuery.
	Intents []Intent

	// Rewrite is set when the query asked for a rewrite and a rewriter is configured.
	Rewrite *Rewrite

	Took time.Duration
}

// BreakerConfig configures the per-strategy circuit breakers.
type BreakerConfig struct {
	// ConsecutiveFailures trips the breaker. Default: 5
	ConsecutiveFailures uint32 `json:"consecutive_failures" yaml:"consecutive_failures"`

	// OpenTimeout is how long a tripped breaker rejects calls. Default: 30s
	OpenTimeout time.Duration `json:"open_timeout" yaml:"open_timeout"`

	// Interval clears the failure counts of a closed breaker. Default: 60s
	Interval time.Duration `json:"interval" yaml:"interval"`

	// HalfOpenRequests is the number of trial calls let through when half open. Default: 1
	HalfOpenRequests uint32 `json:"half_open_requests" yaml:"half_open_requests"`
}

// Config contains the search engine configuration.
type Config struct {
	// Weights are the default strategy weights.
	Weights Weights `json:"weights" yaml:"weights"`

	// Normalizer maps strategy scores onto [0, 1] before fusion. Default: clamp
	Normalizer Normalizer `json:"normalizer" yaml:"normalizer"`

	// StrategyTimeout bounds each strategy. A strategy that runs over counts as failed. Default: 2s
	StrategyTimeout time.Duration `json:"strategy_timeout" yaml:"strategy_timeout"`

	// DefaultLimit is used when a query sets no limit. Default: 10
	DefaultLimit int `json:"default_limit" yaml:"default_limit" validate:"gte=0"`

	// CandidateFactor multiplies the limit asked from each strategy. Default: 3
	CandidateFactor int `json:"candidate_factor" yaml:"candidate_factor" validate:"gte=0"`

	// ClassifyIntent derives weights from the query when the caller sets none.
	ClassifyIntent bool `json:"classify_intent" yaml:"classify_intent"`

	// Reinforce records an access on every returned item.
	Reinforce bool `json:"reinforce" yaml:"reinforce"`

	Breaker BreakerConfig `json:"breaker" yaml:"breaker"`
	Graph   GraphConfig   `json:"graph" yaml:"graph"`
	BM25    BM25Config    `json:"bm25" yaml:"bm25"`
	Rewrite RewriteConfig `json:"rewrite" yaml:"rewrite"`
}

// DefaultConfig returns the default search configuration.
func DefaultConfig() Config {
	return Config{
		Weights:         DefaultWeights(),
		Normalizer:      NormalizeClamp,
		StrategyTimeout: 2 * time.Second,
		DefaultLimit:    10,
		CandidateFactor: 3,
		ClassifyIntent:  true,
		Reinforce:       true,
		Breaker: BreakerConfig{
			ConsecutiveFailures: 5,
			OpenTimeout:         30 * time.Second,
			Interval:            60 * time.Second,
			HalfOpenRequests:    1,
		},
		Graph:   GraphConfig{}.withDefaults(),
		BM25:    BM25Config{}.withDefaults(),
		Rewrite: RewriteConfig{}.withDefaults(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if len(c.Weights) == 0 {
		c.Weights = def.Weights
	}
	if c.Normalizer == "" {
		c.Normalizer = def.Normalizer
	}
	if c.StrategyTimeout <= 0 {
		c.StrategyTimeout = def.StrategyTimeout
	}
	if c.DefaultLimit <= 0 {
		c.DefaultLimit = def.DefaultLimit
	}
	if c.CandidateFactor <= 0 {
		c.CandidateFactor = def.CandidateFactor
	}
	if c.Breaker.ConsecutiveFailures == 0 {
		c.Breaker.ConsecutiveFailures = def.Breaker.ConsecutiveFailures
	}
	if c.Breaker.OpenTimeout <= 0 {
		c.Breaker.OpenTimeout = def.Breaker.OpenTimeout
	}
	if c.Breaker.Interval <= 0 {
		c.Breaker.Interval = def.Breaker.Interval
	}
	if c.Breaker.HalfOpenRequests == 0 {
		c.Breaker.HalfOpenRequests = def.Breaker.HalfOpenRequests
	}
	return c
}

// Reinforcer records accesses to retrieved items. layers.Manager implements it.
type Reinforcer interface {
	Reinforce(ctx context.Context, tenantID string, ids []string) error
}

// Option is a function type for configuring an Engine.
type Option func(*Engine)

// WithStrategy registers a strategy, replacing one with the same name.
func WithStrategy(s Strategy) Option {
	return func(e *Engine) {
		e.strategies[s.Name()] = s
	}
}

// WithReinforcer sets where accesses of returned items are recorded.
func WithReinforcer(r Reinforcer) Option {
	return func(e *Engine) {
		e.reinforcer = r
	}
}

// WithRewriter enables query rewriting for queries that ask for it.
func WithRewriter(r *QueryRewriter) Option {
	return func(e *Engine) {
		e.rewriter = r
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		e.logger = observability.OrNop(l)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// Engine runs the configured strategies concurrently and fuses their results.
//
// It is safe for concurrent use.
type Engine struct {
	cfg        Config
	items      ItemSource
	strategies map[model.StrategyName]Strategy
	breakers   map[model.StrategyName]*gobreaker.CircuitBreaker
	reinforcer Reinforcer
	rewriter   *QueryRewriter
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewEngine creates a search engine. items resolves hit ids to live items;
// hits whose item is gone or tombstoned are dropped.
func NewEngine(items ItemSource, cfg Config, opts ...Option) (*Engine, error) {
	if items == nil {
		return nil, fmt.Errorf("search: %w: item source is required", model.ErrInvalidConfig)
	}
	cfg = cfg.withDefaults()
	if !cfg.Normalizer.Valid() {
		return nil, fmt.Errorf("search: %w: unknown normalizer %q", model.ErrInvalidConfig, cfg.Normalizer)
	}

	e := &Engine{
		cfg:        cfg,
		items:      items,
		strategies: make(map[model.StrategyName]Strategy),
		breakers:   make(map[model.StrategyName]*gobreaker.CircuitBreaker),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if len(e.strategies) == 0 {
		return nil, fmt.Errorf("search: %w: no strategy configured", model.ErrInvalidConfig)
	}
	for name := range e.strategies {
		e.breakers[name] = e.newBreaker(name)
	}
	return e, nil
}

func (e *Engine) newBreaker(name model.StrategyName) *gobreaker.CircuitBreaker {
	bc := e.cfg.Breaker
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "search." + string(name),
		MaxRequests: bc.HalfOpenRequests,
		Interval:    bc.Interval,
		Timeout:     bc.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= bc.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("strategy circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
		// A caller giving up is not a backend failure.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
	})
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Search answers q. Strategy failures never fail the query: they are
// reported in Response.Failed and Response.Status. An error is returned only
// for an invalid query.
func (e *Engine) Search(ctx context.Context, q *Query) (resp *Response, err error) {
	if q == nil || q.TenantID == "" {
		return nil, model.NewMemoryError("Search", model.NewValidationError("tenant_id", "is required"))
	}
	if strings.TrimSpace(q.Text) == "" && len(q.Embedding) == 0 {
		return nil, model.NewMemoryError("Search", model.NewValidationError("text", "query text or embedding is required"))
	}
	names, err := e.selected(q)
	if err != nil {
		return nil, model.NewMemoryError("Search", err)
	}

	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "search.Search",
		attribute.String("tenant_id", q.TenantID),
		attribute.Int("strategies", len(names)))
	defer func() { observability.EndSpan(span, err) }()

	if !q.Deadline.IsZero() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, q.Deadline)
		defer cancel()
	}

	rewrite := e.rewrite(ctx, q)
	if rewrite != nil && rewrite.Rewritten {
		rq := *q
		rq.Text = rewrite.Query
		q = &rq
	}

	limit := q.Limit
	if limit <= 0 {
		limit = e.cfg.DefaultLimit
	}
	weights, intents := e.weightsFor(q, names)

	outcomes := make([]outcome, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			outcomes[i] = e.run(ctx, name, q, limit*e.cfg.CandidateFactor)
			return nil
		})
	}
	_ = g.Wait()

	resp = &Response{Intents: intents, Rewrite: rewrite}
	results := make(map[model.StrategyName][]model.SearchResult, len(names))
	var survivors []model.StrategyName
	for i, o := range outcomes {
		if o.err != nil {
			resp.Failed = append(resp.Failed, StrategyFailure{Strategy: names[i], Reason: o.reason, Err: o.err})
			e.logger.Warn("search strategy failed",
				zap.String("tenant_id", q.TenantID),
				zap.String("strategy", string(names[i])),
				zap.String("reason", o.reason),
				zap.Error(o.err))
			continue
		}
		results[names[i]] = o.hits
		survivors = append(survivors, names[i])
	}

	switch {
	case len(survivors) == 0:
		resp.Status = StatusDegraded
	case len(resp.Failed) > 0:
		resp.Status = StatusPartial
	default:
		resp.Status = StatusOK
	}

	if len(survivors) > 0 {
		resp.Weights = weights.Normalized(survivors)
		resp.Results = e.fuse(ctx, q, results, resp.Weights, limit)
		e.reinforce(ctx, q.TenantID, resp.Results)
	}

	resp.Took = time.Since(start)
	e.metrics.ObserveSearch(string(resp.Status), resp.Took)
	e.logger.Debug("search finished",
		zap.String("tenant_id", q.TenantID),
		zap.String("status", string(resp.Status)),
		zap.Int("results", len(resp.Results)),
		zap.Duration("took", resp.Took))
	return resp, nil
}

// rewrite runs the query rewriter when q asks for it, bounded by the
// strategy timeout and whatever deadline ctx already carries. A failed or
// abandoned rewrite leaves the query unchanged.
func (e *Engine) rewrite(ctx context.Context, q *Query) *Rewrite {
	if !q.Rewrite || e.rewriter == nil || strings.TrimSpace(q.Text) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StrategyTimeout)
	defer cancel()

	done := make(chan Rewrite, 1)
	go func() { done <- e.rewriter.Rewrite(ctx, q.TenantID, q.Text) }()

	var rw Rewrite
	select {
	case rw = <-done:
	case <-ctx.Done():
		rw = Rewrite{Original: q.Text, Query: q.Text, Err: fmt.Errorf("rewrite: %w", ctx.Err())}
	}
	if rw.Err != nil {
		e.logger.Warn("query rewrite failed",
			zap.String("tenant_id", q.TenantID),
			zap.Error(rw.Err))
	} else if rw.Rewritten {
		e.logger.Debug("query rewritten",
			zap.String("tenant_id", q.TenantID),
			zap.String("query", rw.Query),
			zap.Int("profile_items", rw.ProfileItems))
	}
	return &rw
}

// selected returns the strategies to run in canonical order.
func (e *Engine) selected(q *Query) ([]model.StrategyName, error) {
	want := make(map[model.StrategyName]bool)
	for _, n := range q.Strategies {
		if _, ok := e.strategies[n]; !ok {
			return nil, model.NewValidationError("strategies", "strategy %q is not configured", n)
		}
		want[n] = true
	}

	var names []model.StrategyName
	for _, n := range model.StrategyNames {
		if _, ok := e.strategies[n]; !ok {
			continue
		}
		if len(want) > 0 && !want[n] {
			continue
		}
		if len(q.Weights) > 0 && q.Weights[n] <= 0 {
			continue
		}
		names = append(names, n)
	}
	if len(names) == 0 {
		return nil, model.NewValidationError("weights", "no strategy has a positive weight")
	}
	return names, nil
}

func (e *Engine) weightsFor(q *Query, names []model.StrategyName) (Weights, []Intent) {
	switch {
	case len(q.Weights) > 0:
		return q.Weights.Normalized(names), nil
	case e.cfg.ClassifyIntent && strings.TrimSpace(q.Text) != "":
		c := ClassifyQuery(q.Text)
		return c.Weights.Normalized(names), c.Intents
	default:
		return e.cfg.Weights.Normalized(names), nil
	}
}

type outcome struct {
	hits   []model.SearchResult
	err    error
	reason string
}

// run executes one strategy behind its breaker and timeout. The strategy is
// abandoned, not awaited, once its context is done.
func (e *Engine) run(ctx context.Context, name model.StrategyName, q *Query, limit int) outcome {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.StrategyTimeout)
	defer cancel()
	ctx, span := observability.StartSpan(ctx, "search.Strategy", attribute.String("strategy", string(name)))

	start := time.Now()
	v, err := e.breakers[name].Execute(func() (interface{}, error) {
		return runStrategy(ctx, e.strategies[name], q, limit)
	})
	observability.EndSpan(span, err)

	o := outcome{err: err}
	if err == nil {
		o.hits, _ = v.([]model.SearchResult)
	} else {
		o.reason = failureReason(err)
	}
	e.metrics.ObserveStrategy(string(name), o.reason, time.Since(start))
	return o
}

func runStrategy(ctx context.Context, s Strategy, q *Query, limit int) ([]model.SearchResult, error) {
	type result struct {
		hits []model.SearchResult
		err  error
	}
	done := make(chan result, 1)
	go func() {
		hits, err := s.Search(ctx, q, limit)
		done <- result{hits, err}
	}()

	select {
	case r := <-done:
		return r.hits, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, context.Canceled):
		return ReasonCanceled
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return ReasonBreakerOpen
	default:
		return ReasonError
	}
}

// fuse resolves hit ids to live items, fuses the survivors and attaches the items.
func (e *Engine) fuse(ctx context.Context, q *Query, results map[model.StrategyName][]model.SearchResult, weights Weights, limit int) []model.FusedResult {
	layers := make(map[model.Layer]bool, len(q.Layers))
	for _, l := range q.Layers {
		layers[l] = true
	}

	items := make(map[string]*model.MemoryItem)
	missing := make(map[string]bool)
	for _, hits := range results {
		for _, h := range hits {
			if items[h.ItemID] != nil || missing[h.ItemID] {
				continue
			}
			item, err := e.items.Get(ctx, q.TenantID, h.ItemID)
			if err != nil {
				if !errors.Is(err, model.ErrNotFound) {
					e.logger.Warn("search hit not resolved",
						zap.String("tenant_id", q.TenantID),
						zap.String("item_id", h.ItemID),
						zap.Error(err))
				}
				missing[h.ItemID] = true
				continue
			}
			if len(layers) > 0 && !layers[item.Layer] {
				missing[h.ItemID] = true
				continue
			}
			items[h.ItemID] = item
		}
	}

	live := make(map[model.StrategyName][]model.SearchResult, len(results))
	updatedAt := make(map[string]time.Time, len(items))
	for name, hits := range results {
		kept := make([]model.SearchResult, 0, len(hits))
		for _, h := range hits {
			if item := items[h.ItemID]; item != nil {
				kept = append(kept, h)
				updatedAt[h.ItemID] = item.UpdatedAt
			}
		}
		live[name] = kept
	}

	fused := Fuse(live, weights, e.cfg.Normalizer, updatedAt)
	if len(fused) > limit {
		fused = fused[:limit]
	}
	for i := range fused {
		fused[i].Item = items[fused[i].ItemID]
	}
	return fused
}

func (e *Engine) reinforce(ctx context.Context, tenantID string, results []model.FusedResult) {
	if !e.cfg.Reinforce || e.reinforcer == nil || len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.ItemID)
	}
	if err := e.reinforcer.Reinforce(context.WithoutCancel(ctx), tenantID, ids); err != nil {
		e.logger.Warn("search reinforcement failed", zap.String("tenant_id", tenantID), zap.Error(err))
	}
}
