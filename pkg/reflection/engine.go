package reflection

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

// JobReflect is the tenant lock key of reflection runs.
const JobReflect = "reflect"

// Metadata keys written on stored reflections and recorded episodes.
const (
	MetaClusterHash          = "cluster_hash"
	MetaReflectionLevel      = "reflection_level"
	MetaNoveltyScore         = "novelty_score"
	MetaConfidence           = "confidence"
	MetaTaskID               = "task_id"
	MetaEvaluationSuccess    = "evaluation_success"
	MetaEvaluationConfidence = "evaluation_confidence"
	MetaFailureReason        = "failure_reason"
	MetaTokensUsed           = "tokens_used"
)

// ItemStore is the part of the layer manager the engine writes through.
type ItemStore interface {
	Store(ctx context.Context, item *model.MemoryItem) (string, error)
	List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*model.MemoryItem, error)
}

// Report describes one reflection run.
type Report struct {
	TenantID string

	// Stage is the last stage reached; StageStored means every reflection was written.
	Stage Stage

	Episodes   int
	Clusters   int
	Generated  int
	Duplicates int

	// StoredIDs lists the reflections written in this run.
	StoredIDs []string

	// Errors holds per-cluster and per-reflection failures. Reflections
	// stored before a failure stay stored.
	Errors []error

	StartedAt  time.Time
	FinishedAt time.Time
}

// Option is a function type for configuring an Engine.
type Option func(*Engine)

// WithLocker shares a tenant locker with other background jobs.
func WithLocker(l *tenantlock.Locker) Option {
	return func(e *Engine) {
		e.locks = l
	}
}

// WithHashIndex shares a cluster hash index.
func WithHashIndex(h *HashIndex) Option {
	return func(e *Engine) {
		e.index = h
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

// Engine runs reflection passes and stores their results in the reflective layer.
type Engine struct {
	items     ItemStore
	reflector *Reflector
	locks     *tenantlock.Locker
	index     *HashIndex
	logger    *zap.Logger
	metrics   *observability.Metrics
	now       func() time.Time
}

// NewEngine creates a reflection engine.
func NewEngine(items ItemStore, reflector *Reflector, opts ...Option) (*Engine, error) {
	if items == nil || reflector == nil {
		return nil, model.NewMemoryError("NewEngine", fmt.Errorf("%w: item store and reflector are required", model.ErrInvalidConfig))
	}
	e := &Engine{
		items:     items,
		reflector: reflector,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.locks == nil {
		e.locks = tenantlock.New()
	}
	if e.index == nil {
		e.index = NewHashIndex()
	}
	return e, nil
}

// Run reflects on the tenant's episodic items. It returns model.ErrTenantBusy
// when a run for the same tenant is in progress.
func (e *Engine) Run(ctx context.Context, tenantID string) (report *Report, err error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, model.NewMemoryError("Reflect", model.NewValidationError("tenant_id", "must not be empty"))
	}
	unlock, err := e.locks.TryLock(JobReflect, tenantID)
	if err != nil {
		return nil, model.NewMemoryError("Reflect", err)
	}
	defer unlock()

	ctx, span := observability.StartSpan(ctx, "reflection.Run", attribute.String("tenant_id", tenantID))
	defer func() { observability.EndSpan(span, err) }()

	report = &Report{TenantID: tenantID, Stage: StagePending, StartedAt: e.now()}
	defer func() {
		report.FinishedAt = e.now()
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		e.metrics.ObserveJob(JobReflect, outcome, len(report.Errors))
		e.metrics.AddReflections("stored", len(report.StoredIDs))
		e.metrics.AddReflections("duplicate", report.Duplicates)
		e.metrics.AddReflections("failed", len(report.Errors))
	}()

	episodes, err := e.items.List(ctx, tenantID, storage.ListOptions{
		Kinds: []model.Kind{model.KindEpisodic},
		Limit: e.reflector.cfg.MaxEpisodes,
	})
	if err != nil {
		return report, model.NewMemoryError("Reflect", err)
	}
	reflective := model.LayerReflective
	existing, err := e.items.List(ctx, tenantID, storage.ListOptions{Layer: &reflective})
	if err != nil {
		return report, model.NewMemoryError("Reflect", err)
	}
	report.Episodes = len(episodes)

	known := e.index.Known(tenantID)
	for _, it := range existing {
		if h := it.MetadataString(MetaClusterHash); h != "" {
			known[h] = struct{}{}
		}
	}
	var evals []EvaluationResult
	for _, it := range episodes {
		if ev, ok := EvaluationFromItem(it); ok {
			evals = append(evals, ev)
		}
	}

	batch, err := e.reflector.Reflect(ctx, Input{
		TenantID:    tenantID,
		Episodes:    episodes,
		Evaluations: evals,
		Existing:    existing,
		Reflected:   known,
	})
	report.Stage = batch.Stage
	report.Clusters = batch.Clusters
	report.Duplicates = batch.Duplicates
	report.Generated = len(batch.Reflections)
	report.Errors = append(report.Errors, batch.Errors...)
	if err != nil {
		return report, err
	}

	for _, r := range batch.Reflections {
		id, err := e.items.Store(ctx, reflectionItem(r))
		if err != nil {
			e.logger.Warn("storing reflection failed",
				zap.String("tenant_id", tenantID),
				zap.String("reflection_id", r.ID),
				zap.Error(err))
			report.Errors = append(report.Errors, model.ItemError{ItemID: r.ID, Err: err})
			continue
		}
		e.index.Add(tenantID, r.ClusterHash)
		report.StoredIDs = append(report.StoredIDs, id)
	}
	if len(report.StoredIDs) == len(batch.Reflections) {
		report.Stage = StageStored
	}

	e.logger.Info("reflection finished",
		zap.String("tenant_id", tenantID),
		zap.String("stage", string(report.Stage)),
		zap.Int("episodes", report.Episodes),
		zap.Int("clusters", report.Clusters),
		zap.Int("stored", len(report.StoredIDs)),
		zap.Int("duplicates", report.Duplicates),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

// Record stores an evaluated outcome as an episodic working memory so later
// runs can reflect on it. It returns the id of the stored item.
func (e *Engine) Record(ctx context.Context, o Outcome, ev EvaluationResult) (string, error) {
	return RecordOutcome(ctx, e.items, o, ev)
}

// RecordOutcome stores an evaluated outcome in items. It needs no reflector,
// so outcomes can be collected before reflection is enabled.
func RecordOutcome(ctx context.Context, items ItemStore, o Outcome, ev EvaluationResult) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", strings.TrimSpace(o.Prompt))
	if o.Err != "" {
		fmt.Fprintf(&b, "Error: %s", o.Err)
	} else {
		fmt.Fprintf(&b, "Outcome: %s", strings.TrimSpace(o.Output))
	}

	meta := map[string]interface{}{
		MetaEvaluationSuccess:    ev.Success,
		MetaEvaluationConfidence: ev.Confidence,
		MetaTokensUsed:           o.TokensUsed,
	}
	if o.TaskID != "" {
		meta[MetaTaskID] = o.TaskID
	}
	if ev.FailureReason != "" {
		meta[MetaFailureReason] = ev.FailureReason
	}

	id, err := items.Store(ctx, &model.MemoryItem{
		TenantID:  o.TenantID,
		Content:   b.String(),
		Layer:     model.LayerWorking,
		Kind:      model.KindEpisodic,
		Tags:      []string{"outcome"},
		CreatedAt: o.FinishedAt,
		Metadata:  meta,
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// EvaluationFromItem reads back the evaluation recorded on an episode.
func EvaluationFromItem(item *model.MemoryItem) (EvaluationResult, bool) {
	if item == nil || item.Metadata == nil {
		return EvaluationResult{}, false
	}
	success, ok := item.Metadata[MetaEvaluationSuccess].(bool)
	if !ok {
		return EvaluationResult{}, false
	}
	ev := EvaluationResult{
		TaskID:        item.MetadataString(MetaTaskID),
		Success:       success,
		FailureReason: item.MetadataString(MetaFailureReason),
		EpisodeID:     item.ID,
	}
	if c, ok := item.Metadata[MetaEvaluationConfidence].(float64); ok {
		ev.Confidence = c
	}
	return ev, true
}

func reflectionItem(r model.Reflection) *model.MemoryItem {
	return &model.MemoryItem{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Content:    r.Content,
		Layer:      model.LayerReflective,
		Kind:       model.KindReflection,
		Importance: r.ImportanceScore,
		RelatedIDs: r.SourceIDs,
		Tags:       []string{"reflection", r.Level.String()},
		CreatedAt:  r.CreatedAt,
		Metadata: map[string]interface{}{
			MetaClusterHash:     r.ClusterHash,
			MetaReflectionLevel: int(r.Level),
			MetaNoveltyScore:    r.NoveltyScore,
			MetaConfidence:      r.Confidence,
		},
	}
}
