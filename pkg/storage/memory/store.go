// Package memory provides an in-process implementation of the item and graph
// stores. It is used by tests, examples and single-process deployments.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// Store implements storage.ItemStore and storage.GraphStore in memory.
//
// Values are cloned on the way in and out, so callers never share state with the store.
type Store struct {
	mu sync.RWMutex

	// items maps tenant -> id -> item.
	items map[string]map[string]*model.MemoryItem

	// versions holds the per-tenant item version counter.
	versions map[string]int64

	graphs map[string]*storage.GraphRecord
}

var (
	_ storage.ItemStore  = (*Store)(nil)
	_ storage.GraphStore = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		items:    make(map[string]map[string]*model.MemoryItem),
		versions: make(map[string]int64),
		graphs:   make(map[string]*storage.GraphRecord),
	}
}

// Get retrieves a single item by id.
func (s *Store) Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[tenantID][id]
	if !ok {
		return nil, model.ErrNotFound
	}
	return item.Clone(), nil
}

// Put inserts or replaces an item and assigns its version.
func (s *Store) Put(ctx context.Context, item *model.MemoryItem) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tenant, ok := s.items[item.TenantID]
	if !ok {
		tenant = make(map[string]*model.MemoryItem)
		s.items[item.TenantID] = tenant
	}
	s.versions[item.TenantID]++
	item.Version = s.versions[item.TenantID]

	stored := item.Clone()
	stored.Embedding = nil
	tenant[item.ID] = stored
	return nil
}

// List returns items ordered by CreatedAt descending, then id.
func (s *Store) List(ctx context.Context, tenantID string, opts *storage.ListOptions) ([]*model.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &storage.ListOptions{}
	}

	s.mu.RLock()
	result := make([]*model.MemoryItem, 0, len(s.items[tenantID]))
	for _, item := range s.items[tenantID] {
		if matches(item, opts) {
			result = append(result, item.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID < result[j].ID
	})

	return paginate(result, opts.Offset, opts.Limit), nil
}

// SoftDelete tombstones an item.
func (s *Store) SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[tenantID][id]
	if !ok {
		return model.ErrNotFound
	}
	if item.DeletedAt != nil {
		return nil
	}
	deletedAt := at
	item.DeletedAt = &deletedAt
	item.UpdatedAt = at
	s.versions[tenantID]++
	item.Version = s.versions[tenantID]
	return nil
}

// ChangesSince returns items with a version greater than sinceVersion.
func (s *Store) ChangesSince(ctx context.Context, tenantID string, sinceVersion int64) ([]*model.MemoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	var result []*model.MemoryItem
	for _, item := range s.items[tenantID] {
		if item.Version > sinceVersion {
			result = append(result, item.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}

// LoadGraph returns the last committed graph for the tenant.
func (s *Store) LoadGraph(ctx context.Context, tenantID string) (*storage.GraphRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.graphs[tenantID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return cloneRecord(rec), nil
}

// SaveGraph commits rec when the stored version equals expectedVersion.
func (s *Store) SaveGraph(ctx context.Context, tenantID string, rec *storage.GraphRecord, expectedVersion int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var current int64
	if existing, ok := s.graphs[tenantID]; ok {
		current = existing.Version
	}
	if current != expectedVersion {
		return model.ErrConflict
	}
	s.graphs[tenantID] = cloneRecord(rec)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func matches(item *model.MemoryItem, opts *storage.ListOptions) bool {
	if item.DeletedAt != nil && !opts.IncludeDeleted {
		return false
	}
	if opts.Layer != nil && item.Layer != *opts.Layer {
		return false
	}
	if len(opts.Kinds) > 0 {
		for _, k := range opts.Kinds {
			if item.Kind == k {
				return true
			}
		}
		return false
	}
	return true
}

func paginate(items []*model.MemoryItem, offset, limit int) []*model.MemoryItem {
	if offset > 0 {
		if offset >= len(items) {
			return []*model.MemoryItem{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func cloneRecord(rec *storage.GraphRecord) *storage.GraphRecord {
	c := &storage.GraphRecord{
		Version:   rec.Version,
		UpdatedAt: rec.UpdatedAt,
		Nodes:     make([]model.GraphNode, len(rec.Nodes)),
		Edges:     append([]model.GraphEdge(nil), rec.Edges...),
	}
	for i, n := range rec.Nodes {
		c.Nodes[i] = n.Clone()
	}
	return c
}
