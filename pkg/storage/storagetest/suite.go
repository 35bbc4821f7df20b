// Package storagetest holds behaviour tests shared by every storage backend.
package storagetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// NewItem returns a valid working-layer item for tests.
func NewItem(tenantID, id string, createdAt time.Time) *model.MemoryItem {
	return &model.MemoryItem{
		ID:         id,
		TenantID:   tenantID,
		Content:    "content of " + id,
		Layer:      model.LayerWorking,
		Kind:       model.KindEpisodic,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
		Importance: 0.5,
		DecayRate:  0.1,
		Tags:       []string{"a", "b"},
		Metadata:   map[string]interface{}{"source": "test"},
	}
}

// RunItemStoreTests exercises the storage.ItemStore contract.
// setup must return an empty store and a cleanup function.
func RunItemStoreTests(t *testing.T, setup func(t *testing.T) (storage.ItemStore, func())) {
	t.Run("PutGet", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		base := time.Unix(1700000000, 0).UTC()
		item := NewItem("t1", "100", base)
		require.NoError(t, store.Put(ctx, item))
		assert.Greater(t, item.Version, int64(0))

		got, err := store.Get(ctx, "t1", "100")
		require.NoError(t, err)
		assert.Equal(t, item.Content, got.Content)
		assert.Equal(t, model.LayerWorking, got.Layer)
		assert.Equal(t, model.KindEpisodic, got.Kind)
		assert.InDelta(t, 0.5, got.Importance, 1e-9)
		assert.Equal(t, []string{"a", "b"}, got.Tags)
		assert.Equal(t, "test", got.Metadata["source"])
		assert.True(t, base.Equal(got.CreatedAt))
		assert.Equal(t, item.Version, got.Version)
	})

	t.Run("GetUnknown", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()

		_, err := store.Get(context.Background(), "t1", "missing")
		assert.ErrorIs(t, err, model.ErrNotFound)
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		require.NoError(t, store.Put(ctx, NewItem("t1", "1", time.Now())))
		_, err := store.Get(ctx, "t2", "1")
		assert.ErrorIs(t, err, model.ErrNotFound)

		items, err := store.List(ctx, "t2", nil)
		require.NoError(t, err)
		assert.Empty(t, items)
	})

	t.Run("ListOrderFilterAndPaging", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		base := time.Unix(1700000000, 0).UTC()
		for i, id := range []string{"1", "2", "3", "4"} {
			item := NewItem("t1", id, base.Add(time.Duration(i)*time.Hour))
			if id == "4" {
				item.Layer = model.LayerLongTerm
			}
			require.NoError(t, store.Put(ctx, item))
		}

		items, err := store.List(ctx, "t1", &storage.ListOptions{})
		require.NoError(t, err)
		require.Len(t, items, 4)
		assert.Equal(t, "4", items[0].ID)
		assert.Equal(t, "1", items[3].ID)

		working := model.LayerWorking
		items, err = store.List(ctx, "t1", &storage.ListOptions{Layer: &working, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.Equal(t, "2", items[0].ID)
		assert.Equal(t, "1", items[1].ID)
	})

	t.Run("SoftDelete", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		item := NewItem("t1", "1", time.Now())
		require.NoError(t, store.Put(ctx, item))
		before := item.Version

		require.NoError(t, store.SoftDelete(ctx, "t1", "1", time.Now()))

		items, err := store.List(ctx, "t1", nil)
		require.NoError(t, err)
		assert.Empty(t, items)

		got, err := store.Get(ctx, "t1", "1")
		require.NoError(t, err)
		assert.True(t, got.IsDeleted())
		assert.Greater(t, got.Version, before)

		items, err = store.List(ctx, "t1", &storage.ListOptions{IncludeDeleted: true})
		require.NoError(t, err)
		assert.Len(t, items, 1)

		assert.ErrorIs(t, store.SoftDelete(ctx, "t1", "missing", time.Now()), model.ErrNotFound)
	})

	t.Run("ChangesSince", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		first := NewItem("t1", "1", time.Now())
		require.NoError(t, store.Put(ctx, first))
		require.NoError(t, store.Put(ctx, NewItem("t1", "2", time.Now())))
		require.NoError(t, store.SoftDelete(ctx, "t1", "1", time.Now()))

		changes, err := store.ChangesSince(ctx, "t1", first.Version)
		require.NoError(t, err)
		require.Len(t, changes, 2)
		assert.Equal(t, "2", changes[0].ID)
		assert.Equal(t, "1", changes[1].ID)
		assert.True(t, changes[1].IsDeleted())
	})
}

// RunGraphStoreTests exercises the storage.GraphStore contract.
func RunGraphStoreTests(t *testing.T, setup func(t *testing.T) (storage.GraphStore, func())) {
	t.Run("CompareAndSwap", func(t *testing.T) {
		store, cleanup := setup(t)
		defer cleanup()
		ctx := context.Background()

		_, err := store.LoadGraph(ctx, "t1")
		assert.ErrorIs(t, err, model.ErrNotFound)

		rec := &storage.GraphRecord{
			Version: 1,
			Nodes:   []model.GraphNode{{ID: "n1", Label: "Go"}, {ID: "n2", Label: "Rust"}},
			Edges:   []model.GraphEdge{{ID: model.EdgeID("n1", "related_to", "n2"), SourceID: "n1", TargetID: "n2", Relation: "related_to", Weight: 0.7}},
		}
		require.NoError(t, store.SaveGraph(ctx, "t1", rec, 0))

		loaded, err := store.LoadGraph(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), loaded.Version)
		assert.Len(t, loaded.Nodes, 2)
		require.Len(t, loaded.Edges, 1)
		assert.InDelta(t, 0.7, loaded.Edges[0].Weight, 1e-9)

		stale := &storage.GraphRecord{Version: 2}
		assert.ErrorIs(t, store.SaveGraph(ctx, "t1", stale, 0), model.ErrConflict)
		assert.NoError(t, store.SaveGraph(ctx, "t1", stale, 1))
	})
}
