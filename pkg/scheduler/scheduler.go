// Package scheduler runs the periodic maintenance jobs: consolidation, decay,
// reflection and graph upkeep. Every job runs once per tenant; tenants run
// in parallel and a tenant whose previous run is still going is skipped.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/reflection"
)

// Job names.
const (
	JobConsolidate = layers.JobConsolidate
	JobDecay       = layers.JobDecay
	JobReflect     = reflection.JobReflect
	JobGraph       = "graph"
)

// Jobs lists every job name in run order.
var Jobs = []string{JobConsolidate, JobDecay, JobReflect, JobGraph}

// Disabled turns a job off when used as its spec.
const Disabled = "off"

// Config contains the job schedules. Specs use the standard five-field cron
// syntax or descriptors such as "@every 1h".
type Config struct {
	// ConsolidateSpec Default: "@every 1h"
	ConsolidateSpec string `json:"consolidate_spec" yaml:"consolidate_spec"`

	// DecaySpec Default: "@every 6h"
	DecaySpec string `json:"decay_spec" yaml:"decay_spec"`

	// ReflectSpec Default: "@every 12h"
	ReflectSpec string `json:"reflect_spec" yaml:"reflect_spec"`

	// GraphSpec schedules edge decay followed by centrality. Default: "@daily"
	GraphSpec string `json:"graph_spec" yaml:"graph_spec"`

	// JobTimeout bounds one scheduled run over all tenants. Default: 30m
	JobTimeout time.Duration `json:"job_timeout" yaml:"job_timeout" validate:"gte=0"`

	// Concurrency is the number of tenants processed at once. Default: 4
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.ConsolidateSpec == "" {
		c.ConsolidateSpec = "@every 1h"
	}
	if c.DecaySpec == "" {
		c.DecaySpec = "@every 6h"
	}
	if c.ReflectSpec == "" {
		c.ReflectSpec = "@every 12h"
	}
	if c.GraphSpec == "" {
		c.GraphSpec = "@daily"
	}
	if c.JobTimeout == 0 {
		c.JobTimeout = 30 * time.Minute
	}
	if c.Concurrency == 0 {
		c.Concurrency = 4
	}
	return c
}

func (c Config) spec(job string) string {
	switch job {
	case JobConsolidate:
		return c.ConsolidateSpec
	case JobDecay:
		return c.DecaySpec
	case JobReflect:
		return c.ReflectSpec
	default:
		return c.GraphSpec
	}
}

// TenantSource lists the tenants the jobs run for.
type TenantSource func(ctx context.Context) ([]string, error)

// LayerJobs runs the layer maintenance. layers.Manager implements it.
type LayerJobs interface {
	Consolidate(ctx context.Context, tenantID string) (*layers.ConsolidationReport, error)
	RunDecay(ctx context.Context, tenantID string) (*layers.DecayReport, error)
}

// ReflectionJob runs reflection. reflection.Engine implements it.
type ReflectionJob interface {
	Run(ctx context.Context, tenantID string) (*reflection.Report, error)
}

// GraphJobs runs the graph upkeep. graph.Manager implements it.
type GraphJobs interface {
	DecayEdges(ctx context.Context, tenantID string) (*graph.Delta, error)
	RecomputeCentrality(ctx context.Context, tenantID string) (*graph.Delta, error)
}

// Option is a function type for configuring a Scheduler.
type Option func(*Scheduler)

// WithLayers enables the consolidate and decay jobs.
func WithLayers(l LayerJobs) Option {
	return func(s *Scheduler) {
		s.layers = l
	}
}

// WithReflection enables the reflect job.
func WithReflection(r ReflectionJob) Option {
	return func(s *Scheduler) {
		s.reflection = r
	}
}

// WithGraph enables the graph job.
func WithGraph(g GraphJobs) Option {
	return func(s *Scheduler) {
		s.graph = g
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) {
		s.logger = observability.OrNop(l)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) {
		s.metrics = m
	}
}

// Summary is the result of one job over all tenants.
type Summary struct {
	Job     string
	Tenants int

	// Busy counts tenants skipped because the job was already running for them.
	Busy int

	// Errors holds one entry per failed tenant.
	Errors []error
}

// Scheduler drives the jobs on their cron schedules.
type Scheduler struct {
	cfg        Config
	tenants    TenantSource
	layers     LayerJobs
	reflection ReflectionJob
	graph      GraphJobs
	logger     *zap.Logger
	metrics    *observability.Metrics

	cron    *cron.Cron
	entries map[string]cron.EntryID

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. Jobs without a configured component, or whose
// spec is Disabled, are not scheduled.
func New(cfg Config, tenants TenantSource, opts ...Option) (*Scheduler, error) {
	if tenants == nil {
		return nil, model.NewMemoryError("NewScheduler", fmt.Errorf("%w: tenant source is required", model.ErrInvalidConfig))
	}
	s := &Scheduler{
		cfg:     cfg.withDefaults(),
		tenants: tenants,
		logger:  zap.NewNop(),
		entries: make(map[string]cron.EntryID),
	}
	for _, opt := range opts {
		opt(s)
	}

	cl := cronLogger{s.logger}
	s.cron = cron.New(
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)
	for _, job := range Jobs {
		spec := s.cfg.spec(job)
		if spec == Disabled || !s.enabled(job) {
			continue
		}
		job := job
		id, err := s.cron.AddFunc(spec, func() { s.scheduled(job) })
		if err != nil {
			return nil, model.NewMemoryError("NewScheduler",
				fmt.Errorf("%w: %s spec %q: %v", model.ErrInvalidConfig, job, spec, err))
		}
		s.entries[job] = id
	}
	return s, nil
}

// Scheduled returns the names of the scheduled jobs, sorted.
func (s *Scheduler) Scheduled() []string {
	out := make([]string, 0, len(s.entries))
	for job := range s.entries {
		out = append(out, job)
	}
	sort.Strings(out)
	return out
}

// Next returns the next run time of job, or the zero time when it is not scheduled.
func (s *Scheduler) Next(job string) time.Time {
	id, ok := s.entries[job]
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}

// Start begins running jobs on their schedules.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Strings("jobs", s.Scheduled()))
}

// Stop stops scheduling and cancels running jobs. The returned context is
// done once they have returned.
func (s *Scheduler) Stop() context.Context {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()
	ctx := s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		return context.Background()
	}
	return s.ctx
}

func (s *Scheduler) scheduled(job string) {
	ctx, cancel := context.WithTimeout(s.runContext(), s.cfg.JobTimeout)
	defer cancel()

	sum, err := s.RunOnce(ctx, job)
	if err != nil {
		s.logger.Error("scheduled job failed", zap.String("job", job), zap.Error(err))
		return
	}
	s.logger.Info("scheduled job finished",
		zap.String("job", job),
		zap.Int("tenants", sum.Tenants),
		zap.Int("busy", sum.Busy),
		zap.Int("errors", len(sum.Errors)))
}

func (s *Scheduler) enabled(job string) bool {
	switch job {
	case JobConsolidate, JobDecay:
		return s.layers != nil
	case JobReflect:
		return s.reflection != nil
	case JobGraph:
		return s.graph != nil
	}
	return false
}

// RunOnce runs job for every tenant now. Tenant failures are collected in
// the summary; the error is set only for an unknown or unconfigured job or
// when the tenants cannot be listed.
func (s *Scheduler) RunOnce(ctx context.Context, job string) (*Summary, error) {
	if !s.enabled(job) {
		return nil, model.NewMemoryError("RunJob", model.NewValidationError("job", "%q is unknown or not configured", job))
	}
	tenants, err := s.tenants(ctx)
	if err != nil {
		return nil, model.NewMemoryError("RunJob", err)
	}
	tenants = model.NormalizeSet(tenants)

	sum := &Summary{Job: job, Tenants: len(tenants)}
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, tenantID := range tenants {
		tenantID := tenantID
		g.Go(func() error {
			err := s.runTenant(gctx, job, tenantID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
			case errors.Is(err, model.ErrTenantBusy):
				sum.Busy++
				s.logger.Debug("tenant busy, skipped", zap.String("job", job), zap.String("tenant_id", tenantID))
			default:
				sum.Errors = append(sum.Errors, fmt.Errorf("tenant %s: %w", tenantID, err))
				s.logger.Warn("job failed for tenant",
					zap.String("job", job),
					zap.String("tenant_id", tenantID),
					zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()
	return sum, nil
}

func (s *Scheduler) runTenant(ctx context.Context, job, tenantID string) error {
	switch job {
	case JobConsolidate:
		_, err := s.layers.Consolidate(ctx, tenantID)
		return err
	case JobDecay:
		_, err := s.layers.RunDecay(ctx, tenantID)
		return err
	case JobReflect:
		_, err := s.reflection.Run(ctx, tenantID)
		return err
	default:
		_, err := s.graph.DecayEdges(ctx, tenantID)
		if err == nil {
			_, err = s.graph.RecomputeCentrality(ctx, tenantID)
		}
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		s.metrics.ObserveJob(JobGraph, outcome, 0)
		return err
	}
}

// cronLogger routes cron's own messages to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}
