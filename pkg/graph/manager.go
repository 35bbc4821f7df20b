package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// ManagerConfig contains the graph manager configuration.
type ManagerConfig struct {
	Operator    Config            `json:"operator" yaml:"operator"`
	Convergence ConvergenceConfig `json:"convergence" yaml:"convergence"`

	// MaxEntities bounds the entities extracted from one item. Default: 6
	MaxEntities int `json:"max_entities" yaml:"max_entities" validate:"gte=0"`

	// CommitRetries is how often a commit that lost a version race is retried. Default: 3
	CommitRetries int `json:"commit_retries" yaml:"commit_retries" validate:"gte=0"`
}

// Manager serializes graph writes per tenant and serves the last committed
// snapshot to readers without locking.
//
// Commits go through storage.GraphStore.SaveGraph with the version the
// update was based on, so writers in other processes are detected and the
// update is replayed on the fresh graph.
type Manager struct {
	store   storage.GraphStore
	op      *Operator
	cfg     ManagerConfig
	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	mu      sync.Mutex
	tenants map[string]*tenantGraph
}

type tenantGraph struct {
	// writeMu serializes writers; readers only load current.
	writeMu sync.Mutex
	current atomic.Pointer[Snapshot]
	conv    *Convergence
}

// NewManager creates a graph manager.
func NewManager(store storage.GraphStore, cfg ManagerConfig, logger *zap.Logger, metrics *observability.Metrics) *Manager {
	if cfg.MaxEntities == 0 {
		cfg.MaxEntities = DefaultMaxEntities
	}
	if cfg.CommitRetries == 0 {
		cfg.CommitRetries = 3
	}
	logger = observability.OrNop(logger)
	return &Manager{
		store:   store,
		op:      NewOperator(cfg.Operator, logger),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
		now:     time.Now,
		tenants: make(map[string]*tenantGraph),
	}
}

// SetClock overrides the time source.
func (m *Manager) SetClock(now func() time.Time) {
	m.now = now
}

// Operator returns the update operator.
func (m *Manager) Operator() *Operator {
	return m.op
}

func (m *Manager) tenant(tenantID string) *tenantGraph {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[tenantID]
	if !ok {
		t = &tenantGraph{conv: NewConvergence(m.cfg.Convergence)}
		m.tenants[tenantID] = t
	}
	return t
}

// Snapshot returns the last committed graph of tenantID, loading it from the
// store on first use.
func (m *Manager) Snapshot(ctx context.Context, tenantID string) (*Snapshot, error) {
	t := m.tenant(tenantID)
	if s := t.current.Load(); s != nil {
		return s, nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if s := t.current.Load(); s != nil {
		return s, nil
	}
	s, err := m.load(ctx, tenantID)
	if err != nil {
		return nil, model.NewMemoryError("GraphSnapshot", err)
	}
	t.current.Store(s)
	return s, nil
}

func (m *Manager) load(ctx context.Context, tenantID string) (*Snapshot, error) {
	rec, err := m.store.LoadGraph(ctx, tenantID)
	if errors.Is(err, model.ErrNotFound) {
		return Empty(), nil
	}
	if err != nil {
		return nil, err
	}
	s, violations := FromRecord(rec)
	for _, v := range violations {
		m.logger.Warn("graph consistency violation", zap.String("tenant_id", tenantID), zap.Error(v))
	}
	return s, nil
}

// Update applies actions to the committed graph of tenantID and commits the
// result. Nothing is committed when the actions change nothing.
//
// It returns model.ErrConflict when the commit keeps losing against writers
// in other processes after CommitRetries attempts.
func (m *Manager) Update(ctx context.Context, tenantID string, obs Observation, actions ...Action) (*Snapshot, *Delta, error) {
	return m.commit(ctx, tenantID, func(base *Snapshot) (*Snapshot, *Delta) {
		if obs.At.IsZero() {
			obs.At = m.now()
		}
		return m.op.ApplyAll(base, obs, actions...)
	})
}

func (m *Manager) commit(ctx context.Context, tenantID string, fn func(*Snapshot) (*Snapshot, *Delta)) (*Snapshot, *Delta, error) {
	ctx, span := observability.StartSpan(ctx, "graph.Commit")
	var err error
	defer func() { observability.EndSpan(span, err) }()

	if _, err = m.Snapshot(ctx, tenantID); err != nil {
		return nil, nil, err
	}
	t := m.tenant(tenantID)
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	base := t.current.Load()
	for attempt := 0; ; attempt++ {
		next, delta := fn(base)
		if delta.Empty() {
			return base, delta, nil
		}
		next = next.withVersion(base.Version() + 1)

		err = m.store.SaveGraph(ctx, tenantID, next.Record(), base.Version())
		if err == nil {
			t.current.Store(next)
			diag := t.conv.Observe(delta, next)
			m.metrics.ObserveGraphCommit("committed", diag.LastChurn)
			m.logger.Debug("graph committed",
				zap.String("tenant_id", tenantID),
				zap.Int64("version", next.Version()),
				zap.Int("changes", delta.Changes()),
				zap.Float64("churn", diag.LastChurn))
			return next, delta, nil
		}

		if !errors.Is(err, model.ErrConflict) || attempt >= m.cfg.CommitRetries {
			result := "error"
			if errors.Is(err, model.ErrConflict) {
				result = "conflict"
			}
			m.metrics.ObserveGraphCommit(result, 0)
			err = model.NewMemoryError("GraphCommit", err)
			return nil, nil, err
		}

		m.logger.Info("graph commit conflict, reloading",
			zap.String("tenant_id", tenantID),
			zap.Int64("expected_version", base.Version()))
		base, err = m.load(ctx, tenantID)
		if err != nil {
			err = model.NewMemoryError("GraphCommit", err)
			return nil, nil, err
		}
		t.current.Store(base)
	}
}

// Ingest adds the entities of item and their co-occurrence edges.
func (m *Manager) Ingest(ctx context.Context, item *model.MemoryItem) (*Delta, error) {
	actions := ExtractEntities(item, m.cfg.MaxEntities)
	if len(actions) == 0 {
		return &Delta{}, nil
	}
	_, delta, err := m.Update(ctx, item.TenantID, Observation{At: m.now(), MemoryID: item.ID}, actions...)
	return delta, err
}

// DecayEdges decays every edge of tenantID to now and prunes the weak ones.
func (m *Manager) DecayEdges(ctx context.Context, tenantID string) (*Delta, error) {
	_, delta, err := m.Update(ctx, tenantID, Observation{At: m.now()}, DecayEdges())
	return delta, err
}

// RecomputeCentrality refreshes node centrality of tenantID.
func (m *Manager) RecomputeCentrality(ctx context.Context, tenantID string) (*Delta, error) {
	_, delta, err := m.commit(ctx, tenantID, func(base *Snapshot) (*Snapshot, *Delta) {
		return RecomputeCentrality(base, m.now())
	})
	return delta, err
}

// Diagnostics returns the convergence diagnostics of the latest commit of tenantID.
func (m *Manager) Diagnostics(tenantID string) Diagnostics {
	return m.tenant(tenantID).conv.Last()
}

// Tenants returns the tenants with a loaded graph.
func (m *Manager) Tenants() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.tenants))
	for id := range m.tenants {
		out = append(out, id)
	}
	return out
}
