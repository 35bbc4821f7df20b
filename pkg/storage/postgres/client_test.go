package postgres_test

import (
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/storage/postgres"
	"github.com/oceanbase/recall-go/pkg/storage/storagetest"
)

func setupPostgresTest(t *testing.T) (*postgres.Client, func()) {
	password := os.Getenv("POSTGRES_PASSWORD")
	if password == "" {
		t.Skip("Skipping PostgreSQL test: POSTGRES_PASSWORD not set")
	}
	port, err := strconv.Atoi(getEnvOrDefault("POSTGRES_PORT", "5432"))
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: invalid POSTGRES_PORT: %v", err)
	}

	store, err := postgres.NewClient(&postgres.Config{
		Host:     getEnvOrDefault("POSTGRES_HOST", "localhost"),
		Port:     port,
		User:     getEnvOrDefault("POSTGRES_USER", "postgres"),
		Password: password,
		DBName:   getEnvOrDefault("POSTGRES_DATABASE", "recall"),
		// A fresh table per test keeps version counters independent.
		CollectionName: fmt.Sprintf("recall_test_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("Skipping PostgreSQL test: failed to connect: %v", err)
	}
	require.NotNil(t, store)

	return store, func() { _ = store.Close() }
}

func getEnvOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func TestPostgresItemStore(t *testing.T) {
	storagetest.RunItemStoreTests(t, func(t *testing.T) (storage.ItemStore, func()) {
		return setupPostgresTest(t)
	})
}

func TestPostgresGraphStore(t *testing.T) {
	storagetest.RunGraphStoreTests(t, func(t *testing.T) (storage.GraphStore, func()) {
		return setupPostgresTest(t)
	})
}
