package core_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/core"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/scheduler"
)

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "postgres")
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "6543")
	t.Setenv("POSTGRES_PASSWORD", "secret")
	t.Setenv("LLM_PROVIDER", "deepseek")
	t.Setenv("LLM_API_KEY", "test-key")
	t.Setenv("EMBEDDING_PROVIDER", "hash")
	t.Setenv("EMBEDDING_DIMS", "64")
	t.Setenv("CONTEXT_TOKEN_BUDGET", "2000")
	t.Setenv("SCHEDULE_DECAY", scheduler.Disabled)
	t.Setenv("RECALL_TENANTS", "a, b,,c")

	config, err := core.LoadConfigFromEnv()
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "postgres", config.ItemStore.Provider)
	assert.Equal(t, "db.internal", config.ItemStore.Host)
	assert.Equal(t, 6543, config.ItemStore.Port)
	assert.Equal(t, "secret", config.ItemStore.Password)
	assert.Equal(t, "recall", config.ItemStore.Database)
	assert.Equal(t, "disable", config.ItemStore.SSLMode)
	assert.Equal(t, "deepseek", config.LLM.Provider)
	assert.Equal(t, "hash", config.Embedder.Provider)
	assert.Equal(t, 64, config.Embedder.Dimensions)
	assert.Equal(t, 2000, config.Assembler.DefaultBudget)
	assert.Equal(t, scheduler.Disabled, config.Scheduler.DecaySpec)
	assert.Equal(t, []string{"a", "b", "c"}, config.Tenants)
	assert.True(t, config.Search.Reinforce)
}

func TestLoadConfigFromEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("DATABASE_PROVIDER", "sqlite")
	t.Setenv("EMBEDDING_DIMS", "many")

	_, err := core.LoadConfigFromEnv()
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestLoadConfigFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
item_store:
  provider: sqlite
  path: ./data/recall.db
embedder:
  provider: hash
  dimensions: 64
layers:
  min_dwell_time: 2h
search:
  strategy_timeout: 500ms
  weights:
    vector: 0.5
assembler:
  preference: quality
scheduler:
  decay_spec: "off"
tenants: [t1, t2]
`), 0o600))

	config, err := core.LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, config.Validate())

	assert.Equal(t, "sqlite", config.ItemStore.Provider)
	assert.Equal(t, 64, config.Embedder.Dimensions)
	assert.Equal(t, 2*time.Hour, config.Layers.MinDwellTime)
	assert.Equal(t, 500*time.Millisecond, config.Search.StrategyTimeout)
	assert.Equal(t, 0.5, config.Search.Weights[model.StrategyVector])
	assert.Equal(t, assembler.PreferQuality, config.Assembler.Preference)
	assert.Equal(t, scheduler.Disabled, config.Scheduler.DecaySpec)
	assert.Equal(t, []string{"t1", "t2"}, config.Tenants)

	// Keys absent from the file keep their defaults.
	assert.Equal(t, 10, config.Search.DefaultLimit)
	assert.Equal(t, core.DefaultConfig().Layers.PromoteThreshold, config.Layers.PromoteThreshold)
}

func TestLoadConfigFromJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "recall.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"item_store": {"provider": "memory"},
		"layers": {"promote_threshold": 0.4, "prune_threshold": 0.5}
	}`), 0o600))

	config, err := core.LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "hash", config.Embedder.Provider)
	assert.ErrorIs(t, config.Validate(), model.ErrInvalidConfig)
}

func TestLoadConfigRejectsUnknownFormat(t *testing.T) {
	_, err := core.LoadConfig("recall.toml")
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *core.Config)
		ok     bool
	}{
		{"defaults", func(c *core.Config) {}, true},
		{"openai llm", func(c *core.Config) { c.LLM = core.LLMConfig{Provider: "openai", APIKey: "k"} }, true},
		{"unknown llm", func(c *core.Config) { c.LLM.Provider = "gpt" }, false},
		{"anthropic without key", func(c *core.Config) { c.LLM.Provider = "anthropic" }, false},
		{"missing embedder", func(c *core.Config) { c.Embedder.Provider = "" }, false},
		{"unknown item store", func(c *core.Config) { c.ItemStore.Provider = "redis" }, false},
		{"sqlite without path", func(c *core.Config) { c.ItemStore = core.ItemStoreConfig{Provider: "sqlite"} }, false},
		{"postgres without host", func(c *core.Config) {
			c.ItemStore = core.ItemStoreConfig{Provider: "postgres", Database: "recall"}
		}, false},
		{"threshold out of range", func(c *core.Config) { c.Layers.PromoteThreshold = 1.5 }, false},
		{"negative weight", func(c *core.Config) { c.Search.Weights[model.StrategyGraph] = -1 }, false},
		{"unknown normalizer", func(c *core.Config) { c.Search.Normalizer = "zscore" }, false},
		{"unknown preference", func(c *core.Config) { c.Assembler.Preference = "cheap" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := core.DefaultConfig()
			tt.mutate(config)
			err := config.Validate()
			if tt.ok {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, model.ErrInvalidConfig)
			}
		})
	}

	var nilConfig *core.Config
	assert.ErrorIs(t, nilConfig.Validate(), model.ErrInvalidConfig)
}

func TestFindEnvFile(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	nested := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("LOG_LEVEL=debug\n"), 0o600))

	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(nested))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	path, found := core.FindEnvFile()
	require.True(t, found)
	assert.Equal(t, filepath.Join(dir, ".env"), path)
}
