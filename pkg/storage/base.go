// Package storage defines the backing-store interfaces used by recall:
// the item store, the vector index and the graph snapshot store.
//
// Implementations live in sub-packages (memory, sqlite, postgres, oceanbase,
// chromem). Every call is scoped to a single tenant.
package storage

import (
	"context"
	"time"

	"github.com/oceanbase/recall-go/pkg/model"
)

// ItemStore persists memory items.
//
// All implementations must satisfy:
//   - Get returns model.ErrNotFound for unknown ids (tombstoned items are returned)
//   - Put assigns item.Version from a per-tenant monotonically increasing counter
//   - List excludes tombstoned items unless ListOptions.IncludeDeleted is set
//   - SoftDelete sets DeletedAt and bumps Version; it never removes the row
type ItemStore interface {
	// Get retrieves a single item by id.
	Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error)

	// Put inserts or replaces an item.
	//
	// On success item.Version holds the version assigned by the store.
	Put(ctx context.Context, item *model.MemoryItem) error

	// List returns items ordered by CreatedAt descending, then id.
	List(ctx context.Context, tenantID string, opts *ListOptions) ([]*model.MemoryItem, error)

	// SoftDelete tombstones an item.
	SoftDelete(ctx context.Context, tenantID, id string, at time.Time) error

	// ChangesSince returns every item (tombstones included) whose version is
	// greater than sinceVersion, ordered by version ascending.
	ChangesSince(ctx context.Context, tenantID string, sinceVersion int64) ([]*model.MemoryItem, error)

	// Close releases the underlying resources.
	Close() error
}

// ListOptions contains options for listing items.
type ListOptions struct {
	// Layer restricts the listing to one layer (nil means all layers).
	Layer *model.Layer

	// Kinds restricts the listing to the given kinds (empty means all kinds).
	Kinds []model.Kind

	// IncludeDeleted includes tombstoned items.
	IncludeDeleted bool

	// Limit is the maximum number of items to return (0 means no limit).
	Limit int

	// Offset is the number of items to skip.
	Offset int
}

// VectorIndex stores item embeddings and answers nearest-neighbour queries.
type VectorIndex interface {
	// Upsert inserts or replaces the vector for item id.
	Upsert(ctx context.Context, tenantID, id string, vector []float64, metadata map[string]string) error

	// Search returns up to topK hits ordered by similarity descending.
	// Only entries whose metadata contains every filter pair are considered.
	Search(ctx context.Context, tenantID string, vector []float64, topK int, filter map[string]string) ([]VectorHit, error)

	// Delete removes the vector for item id. Deleting an unknown id is not an error.
	Delete(ctx context.Context, tenantID, id string) error

	// Close releases the underlying resources.
	Close() error
}

// VectorHit is a single vector search result.
type VectorHit struct {
	ID string

	// Similarity is the cosine similarity in [-1, 1].
	Similarity float64

	Metadata map[string]string
}

// GraphStore persists per-tenant graph snapshots.
type GraphStore interface {
	// LoadGraph returns the last committed graph, or model.ErrNotFound.
	LoadGraph(ctx context.Context, tenantID string) (*GraphRecord, error)

	// SaveGraph commits rec if the stored version equals expectedVersion
	// (0 for a tenant without a graph). It returns model.ErrConflict otherwise.
	SaveGraph(ctx context.Context, tenantID string, rec *GraphRecord, expectedVersion int64) error

	// Close releases the underlying resources.
	Close() error
}

// GraphRecord is the persisted form of a graph snapshot.
type GraphRecord struct {
	Version   int64             `json:"version"`
	Nodes     []model.GraphNode `json:"nodes"`
	Edges     []model.GraphEdge `json:"edges"`
	UpdatedAt time.Time         `json:"updated_at"`
}
