// Package chromem provides a storage.VectorIndex backed by chromem-go, a pure
// Go embedded vector database. Each tenant gets its own collection.
package chromem

import (
	"context"
	"fmt"
	"sync"

	chromemgo "github.com/philippgille/chromem-go"

	"github.com/oceanbase/recall-go/pkg/storage"
)

// Index implements storage.VectorIndex using chromem-go.
type Index struct {
	db     *chromemgo.DB
	prefix string

	mu          sync.RWMutex
	collections map[string]*chromemgo.Collection
}

var _ storage.VectorIndex = (*Index)(nil)

// Config contains configuration for the chromem vector index.
type Config struct {
	// PersistDir enables on-disk persistence when set.
	PersistDir string

	// Compress gzip-compresses persisted documents.
	Compress bool

	// CollectionPrefix is prepended to every per-tenant collection name.
	CollectionPrefix string
}

// NewIndex creates a chromem vector index. A nil or empty config keeps everything in memory.
func NewIndex(cfg *Config) (*Index, error) {
	if cfg == nil {
		cfg = &Config{}
	}

	db := chromemgo.NewDB()
	if cfg.PersistDir != "" {
		var err error
		db, err = chromemgo.NewPersistentDB(cfg.PersistDir, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("NewChromemIndex: %w", err)
		}
	}

	prefix := cfg.CollectionPrefix
	if prefix == "" {
		prefix = "recall"
	}

	return &Index{
		db:          db,
		prefix:      prefix,
		collections: make(map[string]*chromemgo.Collection),
	}, nil
}

// collection returns the tenant's collection, creating it on first use.
func (x *Index) collection(tenantID string) (*chromemgo.Collection, error) {
	x.mu.RLock()
	col, ok := x.collections[tenantID]
	x.mu.RUnlock()
	if ok {
		return col, nil
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	if col, ok := x.collections[tenantID]; ok {
		return col, nil
	}

	// Embeddings are always supplied by the caller, so no embedding func is configured.
	col, err := x.db.GetOrCreateCollection(fmt.Sprintf("%s_%s", x.prefix, tenantID), nil, nil)
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}
	x.collections[tenantID] = col
	return col, nil
}

// Upsert inserts or replaces the vector for item id.
func (x *Index) Upsert(ctx context.Context, tenantID, id string, vector []float64, metadata map[string]string) error {
	if len(vector) == 0 {
		return fmt.Errorf("Upsert: empty vector for %s", id)
	}
	col, err := x.collection(tenantID)
	if err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}

	// AddDocument replaces an existing document with the same id.
	doc := chromemgo.Document{
		ID:        id,
		Metadata:  metadata,
		Embedding: toFloat32(vector),
		Content:   id,
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		return fmt.Errorf("Upsert: %w", err)
	}
	return nil
}

// Search returns up to topK hits ordered by similarity descending.
func (x *Index) Search(ctx context.Context, tenantID string, vector []float64, topK int, filter map[string]string) ([]storage.VectorHit, error) {
	if topK <= 0 || len(vector) == 0 {
		return nil, nil
	}
	col, err := x.collection(tenantID)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	// chromem-go requires nResults <= collection size.
	n := topK
	if count := col.Count(); count < n {
		n = count
	}
	if n == 0 {
		return nil, nil
	}

	var where map[string]string
	if len(filter) > 0 {
		where = filter
	}

	results, err := col.QueryEmbedding(ctx, toFloat32(vector), n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("Search: %w", err)
	}

	hits := make([]storage.VectorHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, storage.VectorHit{
			ID:         r.ID,
			Similarity: float64(r.Similarity),
			Metadata:   r.Metadata,
		})
	}
	return hits, nil
}

// Delete removes the vector for item id.
func (x *Index) Delete(ctx context.Context, tenantID, id string) error {
	col, err := x.collection(tenantID)
	if err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Count returns the number of vectors stored for the tenant.
func (x *Index) Count(tenantID string) int {
	col, err := x.collection(tenantID)
	if err != nil {
		return 0
	}
	return col.Count()
}

// Close is a no-op; persistent databases write through on every change.
func (x *Index) Close() error {
	return nil
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = float32(f)
	}
	return out
}
