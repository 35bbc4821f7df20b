package oceanbase_test

import (
	"fmt"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/storage/oceanbase"
	"github.com/oceanbase/recall-go/pkg/storage/storagetest"
)

func TestConfigDSN(t *testing.T) {
	cfg := &oceanbase.Config{Host: "127.0.0.1", Port: 2881, User: "root@sys", Password: "pw", DBName: "recall"}
	assert.Equal(t, "root@sys:pw@tcp(127.0.0.1:2881)/recall?parseTime=true&clientFoundRows=true", cfg.DSN())
}

func setupOceanBaseTest(t *testing.T) (*oceanbase.Client, func()) {
	host := os.Getenv("OCEANBASE_HOST")
	if host == "" {
		t.Skip("Skipping OceanBase test: OCEANBASE_HOST not set")
	}
	port, err := strconv.Atoi(os.Getenv("OCEANBASE_PORT"))
	if err != nil {
		port = 2881
	}

	store, err := oceanbase.NewClient(&oceanbase.Config{
		Host:           host,
		Port:           port,
		User:           os.Getenv("OCEANBASE_USER"),
		Password:       os.Getenv("OCEANBASE_PASSWORD"),
		DBName:         os.Getenv("OCEANBASE_DATABASE"),
		CollectionName: fmt.Sprintf("recall_test_%d", time.Now().UnixNano()),
	})
	if err != nil {
		t.Skipf("Skipping OceanBase test: failed to connect: %v", err)
	}
	require.NotNil(t, store)

	return store, func() { _ = store.Close() }
}

func TestOceanBaseItemStore(t *testing.T) {
	storagetest.RunItemStoreTests(t, func(t *testing.T) (storage.ItemStore, func()) {
		return setupOceanBaseTest(t)
	})
}

func TestOceanBaseGraphStore(t *testing.T) {
	storagetest.RunGraphStoreTests(t, func(t *testing.T) (storage.GraphStore, func()) {
		return setupOceanBaseTest(t)
	})
}
