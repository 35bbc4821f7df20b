package sqlite_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/storage/sqlite"
	"github.com/oceanbase/recall-go/pkg/storage/storagetest"
)

func setupSQLiteTest(t *testing.T) (*sqlite.Client, func()) {
	config := &sqlite.Config{
		DBPath:         filepath.Join(t.TempDir(), "recall.db"),
		CollectionName: "memory_items",
	}

	store, err := sqlite.NewClient(config)
	require.NoError(t, err)
	require.NotNil(t, store)

	return store, func() { _ = store.Close() }
}

func TestSQLiteItemStore(t *testing.T) {
	storagetest.RunItemStoreTests(t, func(t *testing.T) (storage.ItemStore, func()) {
		return setupSQLiteTest(t)
	})
}

func TestSQLiteGraphStore(t *testing.T) {
	storagetest.RunGraphStoreTests(t, func(t *testing.T) (storage.GraphStore, func()) {
		return setupSQLiteTest(t)
	})
}
