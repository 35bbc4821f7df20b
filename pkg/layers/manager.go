// Package layers implements the memory layer manager: it stores items in the
// sensory and working layers, moves them between layers as they age and gain
// or lose importance, and tombstones what is no longer worth keeping.
package layers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

// Config contains the layer transition thresholds.
type Config struct {
	// PromoteThreshold is the importance at or above which items move up a layer. Default: 0.6
	PromoteThreshold float64 `json:"promote_threshold" yaml:"promote_threshold" validate:"gte=0,lte=1"`

	// PruneThreshold is the importance below which long-term items are tombstoned. Default: 0.1
	PruneThreshold float64 `json:"prune_threshold" yaml:"prune_threshold" validate:"gte=0,lte=1"`

	// MinDwellTime is the minimum age of a working item before promotion. Default: 24h
	MinDwellTime time.Duration `json:"min_dwell_time" yaml:"min_dwell_time" validate:"gte=0"`

	// SensoryTTL is how long sensory items live before they are promoted or dropped. Default: 1h
	SensoryTTL time.Duration `json:"sensory_ttl" yaml:"sensory_ttl" validate:"gte=0"`

	// NodeID is the snowflake node id used for item ids (0-1023). Default: 1
	NodeID int64 `json:"node_id" yaml:"node_id" validate:"gte=0,lte=1023"`

	// EmbedWorkers is the number of background embedding workers. Default: 4
	EmbedWorkers int `json:"embed_workers" yaml:"embed_workers" validate:"gte=0"`

	// EmbedQueueSize is the capacity of the embedding queue. Default: 256
	EmbedQueueSize int `json:"embed_queue_size" yaml:"embed_queue_size" validate:"gte=0"`
}

// DefaultConfig returns the default layer configuration.
func DefaultConfig() Config {
	return Config{
		PromoteThreshold: 0.6,
		PruneThreshold:   0.1,
		MinDwellTime:     24 * time.Hour,
		SensoryTTL:       time.Hour,
		NodeID:           1,
		EmbedWorkers:     4,
		EmbedQueueSize:   256,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.PromoteThreshold == 0 {
		c.PromoteThreshold = def.PromoteThreshold
	}
	if c.PruneThreshold == 0 {
		c.PruneThreshold = def.PruneThreshold
	}
	if c.MinDwellTime == 0 {
		c.MinDwellTime = def.MinDwellTime
	}
	if c.SensoryTTL == 0 {
		c.SensoryTTL = def.SensoryTTL
	}
	if c.NodeID == 0 {
		c.NodeID = def.NodeID
	}
	if c.EmbedWorkers == 0 {
		c.EmbedWorkers = def.EmbedWorkers
	}
	if c.EmbedQueueSize == 0 {
		c.EmbedQueueSize = def.EmbedQueueSize
	}
	return c
}

// Manager owns the lifecycle of memory items.
//
// The manager is safe for concurrent use. Background jobs (Consolidate,
// RunDecay) are mutually exclusive per tenant and run in parallel across
// tenants.
type Manager struct {
	cfg Config

	store    storage.ItemStore
	index    storage.VectorIndex
	embedder embedder.Provider
	scorer   *intelligence.Scorer
	locks    *tenantlock.Locker
	node     *snowflake.Node

	logger  *zap.Logger
	metrics *observability.Metrics
	now     func() time.Time

	jobs    chan embedJob
	workers sync.WaitGroup
	pending sync.WaitGroup

	// closeMu guards closed and the send side of jobs.
	closeMu sync.RWMutex
	closed  bool
}

// NewManager creates a layer manager on top of store.
//
// Parameters:
//   - store: Item store that persists every item
//   - cfg: Layer thresholds (zero fields take defaults)
//   - opts: Optional vector index, embedder, scorer, logger, metrics, clock
//
// Returns the manager with its embedding workers started.
func NewManager(store storage.ItemStore, cfg Config, opts ...Option) (*Manager, error) {
	if store == nil {
		return nil, model.NewMemoryError("NewManager", errors.New("item store is required"))
	}
	cfg = cfg.withDefaults()

	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, model.NewMemoryError("NewManager", err)
	}

	m := &Manager{
		cfg:    cfg,
		store:  store,
		node:   node,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.scorer == nil {
		m.scorer = intelligence.NewScorer(nil, intelligence.DecayConfig{})
	}
	if m.locks == nil {
		m.locks = tenantlock.New()
	}

	m.startWorkers()
	return m, nil
}

// Config returns the effective configuration.
func (m *Manager) Config() Config {
	return m.cfg
}

// Store validates item, fills in its defaults and persists it.
//
// New items enter the sensory or working layer. The reflective layer only
// accepts reflection and strategy items. Importance and decay rate are
// assigned by the scorer when unset, and the id is generated when empty.
// Embedding generation is scheduled in the background.
//
// Returns the id of the stored item.
func (m *Manager) Store(ctx context.Context, item *model.MemoryItem) (string, error) {
	if item == nil {
		return "", model.NewMemoryError("Store", model.NewValidationError("item", "must not be nil"))
	}
	item = item.Clone()
	item.Normalize()

	if item.Layer == model.LayerLongTerm {
		return "", model.NewMemoryError("Store", model.NewValidationError("layer",
			"items enter the sensory or working layer, long_term is reached by consolidation"))
	}
	if err := model.ValidateLayerKind(item.Layer, item.Kind); err != nil {
		return "", model.NewMemoryError("Store", err)
	}

	m.scorer.Prepare(ctx, item)
	if err := item.Validate(); err != nil {
		return "", model.NewMemoryError("Store", err)
	}

	now := m.now()
	if item.ID == "" {
		item.ID = m.node.Generate().String()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.DeletedAt = nil

	if err := m.store.Put(ctx, item); err != nil {
		return "", model.NewMemoryError("Store", err)
	}

	m.logger.Debug("item stored",
		zap.String("tenant_id", item.TenantID),
		zap.String("item_id", item.ID),
		zap.String("layer", string(item.Layer)),
		zap.Float64("importance", item.Importance))

	m.scheduleEmbedding(ctx, item)
	return item.ID, nil
}

// Get returns a live item. Tombstoned items are reported as model.ErrNotFound.
func (m *Manager) Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error) {
	item, err := m.store.Get(ctx, tenantID, id)
	if err != nil {
		return nil, model.NewMemoryError("Get", err)
	}
	if item.IsDeleted() {
		return nil, model.NewMemoryError("Get", model.ErrNotFound)
	}
	return item, nil
}

// List returns live items ordered by CreatedAt descending.
func (m *Manager) List(ctx context.Context, tenantID string, opts storage.ListOptions) ([]*model.MemoryItem, error) {
	opts.IncludeDeleted = false
	items, err := m.store.List(ctx, tenantID, &opts)
	if err != nil {
		return nil, model.NewMemoryError("List", err)
	}
	return items, nil
}

// Delete tombstones an item and removes its vector.
func (m *Manager) Delete(ctx context.Context, tenantID, id string) error {
	if err := m.store.SoftDelete(ctx, tenantID, id, m.now()); err != nil {
		return model.NewMemoryError("Delete", err)
	}
	m.dropVector(ctx, tenantID, id)
	return nil
}

// Sync returns every change (tombstones included) after sinceVersion.
func (m *Manager) Sync(ctx context.Context, tenantID string, sinceVersion int64) ([]*model.MemoryItem, error) {
	items, err := m.store.ChangesSince(ctx, tenantID, sinceVersion)
	if err != nil {
		return nil, model.NewMemoryError("Sync", err)
	}
	return items, nil
}

// Reinforce records an access to each item: the access count grows and
// importance moves toward 1.0. Missing and tombstoned items are skipped.
//
// Long-term items are settled to their decayed importance before the
// reinforcement is added, since the write restarts their decay clock.
func (m *Manager) Reinforce(ctx context.Context, tenantID string, ids []string) error {
	now := m.now()
	var errs []error
	for _, id := range model.NormalizeSet(ids) {
		item, err := m.store.Get(ctx, tenantID, id)
		if errors.Is(err, model.ErrNotFound) {
			continue
		}
		if err != nil {
			errs = append(errs, model.ItemError{ItemID: id, Err: err})
			continue
		}
		if item.IsDeleted() {
			continue
		}

		item.AccessCount++
		accessed := now
		item.LastAccessedAt = &accessed
		engine := m.scorer.Decay()
		if item.Layer == model.LayerLongTerm {
			item.Importance = engine.Settle(item, now)
		}
		item.Importance = engine.Reinforce(item.Importance, 1)
		item.UpdatedAt = now
		if err := m.store.Put(ctx, item); err != nil {
			errs = append(errs, model.ItemError{ItemID: id, Err: err})
		}
	}
	return model.NewMemoryError("Reinforce", errors.Join(errs...))
}

// Close stops the embedding workers after the queue drains.
func (m *Manager) Close() error {
	m.closeMu.Lock()
	if m.closed {
		m.closeMu.Unlock()
		return nil
	}
	m.closed = true
	close(m.jobs)
	m.closeMu.Unlock()

	m.workers.Wait()
	return nil
}

func (m *Manager) dropVector(ctx context.Context, tenantID, id string) {
	if m.index == nil {
		return
	}
	if err := m.index.Delete(ctx, tenantID, id); err != nil {
		m.logger.Warn("vector delete failed",
			zap.String("tenant_id", tenantID),
			zap.String("item_id", id),
			zap.Error(err))
	}
}
