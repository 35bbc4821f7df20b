// Package core provides the recall client: it wires the stores, providers and
// engines together behind one facade and loads their configuration.
package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/scheduler"
	"github.com/oceanbase/recall-go/pkg/search"
)

// Config contains the complete configuration for a recall client.
//
// Only the providers and the item store must be chosen; every engine
// section falls back to its defaults for zero fields.
//
// Example:
//
//	config := &core.Config{
//	    LLM: core.LLMConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	    Embedder: core.EmbedderConfig{
//	        Provider: "openai",
//	        APIKey:   "sk-...",
//	    },
//	    ItemStore: core.ItemStoreConfig{
//	        Provider: "sqlite",
//	        Path:     "./recall.db",
//	    },
//	}
type Config struct {
	// LLM contains LLM provider configuration. Without a provider, importance
	// is scored heuristically and reflection is disabled.
	LLM LLMConfig `json:"llm" yaml:"llm"`

	// Embedder contains embedding provider configuration.
	Embedder EmbedderConfig `json:"embedder" yaml:"embedder"`

	// ItemStore selects where memory items and graph snapshots are persisted.
	ItemStore ItemStoreConfig `json:"item_store" yaml:"item_store"`

	// VectorIndex configures the chromem vector index.
	VectorIndex VectorIndexConfig `json:"vector_index" yaml:"vector_index"`

	Layers     layers.Config            `json:"layers" yaml:"layers"`
	Decay      intelligence.DecayConfig `json:"decay" yaml:"decay"`
	Search     search.Config            `json:"search" yaml:"search"`
	Assembler  assembler.Config         `json:"assembler" yaml:"assembler"`
	Reflection reflection.Config        `json:"reflection" yaml:"reflection"`
	Graph      graph.ManagerConfig      `json:"graph" yaml:"graph"`
	Scheduler  scheduler.Config         `json:"scheduler" yaml:"scheduler"`

	// Tenants are maintained by the scheduler in addition to the tenants
	// this client has written to.
	Tenants []string `json:"tenants,omitempty" yaml:"tenants,omitempty"`

	Logging observability.LogConfig `json:"logging" yaml:"logging"`
	Metrics MetricsConfig           `json:"metrics" yaml:"metrics"`
}

// LLMConfig contains configuration for the LLM provider.
//
// Supported providers: openai, deepseek, qwen, ollama (OpenAI-compatible) and anthropic.
type LLMConfig struct {
	// Provider is the LLM provider name. Empty disables LLM features.
	Provider string `json:"provider" yaml:"provider" validate:"omitempty,oneof=openai deepseek qwen ollama anthropic"`

	// APIKey is the API key for the LLM provider.
	APIKey string `json:"api_key" yaml:"api_key"`

	// Model is the model name to use (provider default if empty).
	Model string `json:"model" yaml:"model"`

	// BaseURL is the base URL for the API (provider default if empty).
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`
}

// EmbedderConfig contains configuration for the embedding provider.
//
// Supported providers: openai (any OpenAI-compatible endpoint) and hash, a
// deterministic local embedder for tests and offline use.
type EmbedderConfig struct {
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=openai hash"`

	APIKey  string `json:"api_key" yaml:"api_key"`
	Model   string `json:"model" yaml:"model"`
	BaseURL string `json:"base_url,omitempty" yaml:"base_url,omitempty"`

	// Dimensions is the dimension of the embedding vectors. Default: 1536 (openai), 256 (hash)
	Dimensions int `json:"dimensions,omitempty" yaml:"dimensions,omitempty" validate:"gte=0"`

	// CacheSize bounds the query embedding cache. Default: 10000
	CacheSize int64 `json:"cache_size,omitempty" yaml:"cache_size,omitempty" validate:"gte=0"`
}

// ItemStoreConfig contains configuration for the item and graph store.
//
// Supported providers: memory, sqlite, postgres, oceanbase.
type ItemStoreConfig struct {
	Provider string `json:"provider" yaml:"provider" validate:"required,oneof=memory sqlite postgres oceanbase"`

	// Path is the SQLite database file.
	Path string `json:"path,omitempty" yaml:"path,omitempty"`

	Host     string `json:"host,omitempty" yaml:"host,omitempty"`
	Port     int    `json:"port,omitempty" yaml:"port,omitempty" validate:"gte=0,lte=65535"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	Database string `json:"database,omitempty" yaml:"database,omitempty"`
	SSLMode  string `json:"ssl_mode,omitempty" yaml:"ssl_mode,omitempty"`

	// Collection is the base name of the tables. Default: "memories"
	Collection string `json:"collection,omitempty" yaml:"collection,omitempty"`
}

// VectorIndexConfig contains configuration for the vector index.
type VectorIndexConfig struct {
	// PersistDir enables on-disk persistence of the index when set.
	PersistDir string `json:"persist_dir,omitempty" yaml:"persist_dir,omitempty"`

	// Compress gzip-compresses persisted documents.
	Compress bool `json:"compress,omitempty" yaml:"compress,omitempty"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Addr is the listen address of the metrics endpoint served by the worker.
	Addr string `json:"addr,omitempty" yaml:"addr,omitempty"`
}

// DefaultConfig returns a configuration that runs fully in process: an
// in-memory store, the hash embedder and no LLM. Engine sections carry their
// package defaults so that files only need to name the values they change.
func DefaultConfig() *Config {
	return &Config{
		Embedder:  EmbedderConfig{Provider: "hash"},
		ItemStore: ItemStoreConfig{Provider: "memory"},
		Layers:    layers.DefaultConfig(),
		Decay:     intelligence.DefaultDecayConfig(),
		Search:    search.DefaultConfig(),
		Graph:     graph.ManagerConfig{Operator: graph.DefaultConfig()},
		Logging:   observability.LogConfig{Level: "info"},
		Metrics:   MetricsConfig{Addr: ":9090"},
	}
}

// LoadConfigFromEnv loads configuration from environment variables.
//
// The function:
//  1. Searches for .env or .env.example files (up to 5 directory levels up)
//  2. Loads environment variables from the found file
//  3. Parses environment variables into a Config struct
//
// Supported environment variables:
//   - DATABASE_PROVIDER (memory, sqlite, postgres, oceanbase)
//   - SQLITE_PATH, SQLITE_COLLECTION
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_USER, POSTGRES_PASSWORD, POSTGRES_DATABASE, POSTGRES_COLLECTION, POSTGRES_SSLMODE
//   - OCEANBASE_HOST, OCEANBASE_PORT, OCEANBASE_USER, OCEANBASE_PASSWORD, OCEANBASE_DATABASE, OCEANBASE_COLLECTION
//   - VECTOR_INDEX_PATH
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL
//   - EMBEDDING_PROVIDER, EMBEDDING_API_KEY, EMBEDDING_MODEL, EMBEDDING_BASE_URL, EMBEDDING_DIMS
//   - CONTEXT_TOKEN_BUDGET
//   - SCHEDULE_CONSOLIDATE, SCHEDULE_DECAY, SCHEDULE_REFLECT, SCHEDULE_GRAPH
//   - RECALL_TENANTS (comma separated)
//   - LOG_LEVEL, LOG_DEVELOPMENT, METRICS_ENABLED, METRICS_ADDR
//
// Returns a Config instance, or an error if a numeric variable does not parse.
func LoadConfigFromEnv() (*Config, error) {
	envPath, found := FindEnvFile()
	if found {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	env := envReader{}
	config := DefaultConfig()
	config.LLM = LLMConfig{
		Provider: os.Getenv("LLM_PROVIDER"),
		APIKey:   os.Getenv("LLM_API_KEY"),
		Model:    os.Getenv("LLM_MODEL"),
		BaseURL:  os.Getenv("LLM_BASE_URL"),
	}
	config.Embedder = EmbedderConfig{
		Provider:   getEnvOrDefault("EMBEDDING_PROVIDER", "openai"),
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Model:      os.Getenv("EMBEDDING_MODEL"),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		Dimensions: env.int("EMBEDDING_DIMS", 0),
	}
	config.VectorIndex.PersistDir = os.Getenv("VECTOR_INDEX_PATH")
	config.Assembler.DefaultBudget = env.int("CONTEXT_TOKEN_BUDGET", 0)
	config.Scheduler = scheduler.Config{
		ConsolidateSpec: os.Getenv("SCHEDULE_CONSOLIDATE"),
		DecaySpec:       os.Getenv("SCHEDULE_DECAY"),
		ReflectSpec:     os.Getenv("SCHEDULE_REFLECT"),
		GraphSpec:       os.Getenv("SCHEDULE_GRAPH"),
	}
	config.Tenants = splitList(os.Getenv("RECALL_TENANTS"))
	config.Logging = observability.LogConfig{
		Level:       getEnvOrDefault("LOG_LEVEL", "info"),
		Development: env.bool("LOG_DEVELOPMENT"),
	}
	config.Metrics = MetricsConfig{
		Enabled: env.bool("METRICS_ENABLED"),
		Addr:    getEnvOrDefault("METRICS_ADDR", ":9090"),
	}

	provider := getEnvOrDefault("DATABASE_PROVIDER", "sqlite")
	switch provider {
	case "oceanbase":
		config.ItemStore = ItemStoreConfig{
			Host:       getEnvOrDefault("OCEANBASE_HOST", "127.0.0.1"),
			Port:       env.int("OCEANBASE_PORT", 2881),
			User:       getEnvOrDefault("OCEANBASE_USER", "root@sys"),
			Password:   os.Getenv("OCEANBASE_PASSWORD"),
			Database:   getEnvOrDefault("OCEANBASE_DATABASE", "recall"),
			Collection: getEnvOrDefault("OCEANBASE_COLLECTION", "memories"),
		}
	case "postgres":
		config.ItemStore = ItemStoreConfig{
			Host:       getEnvOrDefault("POSTGRES_HOST", "localhost"),
			Port:       env.int("POSTGRES_PORT", 5432),
			User:       getEnvOrDefault("POSTGRES_USER", "postgres"),
			Password:   os.Getenv("POSTGRES_PASSWORD"),
			Database:   getEnvOrDefault("POSTGRES_DATABASE", "recall"),
			Collection: getEnvOrDefault("POSTGRES_COLLECTION", "memories"),
			SSLMode:    getEnvOrDefault("POSTGRES_SSLMODE", "disable"),
		}
	case "sqlite":
		config.ItemStore = ItemStoreConfig{
			Path:       getEnvOrDefault("SQLITE_PATH", "./recall.db"),
			Collection: getEnvOrDefault("SQLITE_COLLECTION", "memories"),
		}
	}
	config.ItemStore.Provider = provider

	if env.err != nil {
		return nil, model.NewMemoryError("LoadConfigFromEnv", fmt.Errorf("%w: %v", model.ErrInvalidConfig, env.err))
	}
	return config, nil
}

// LoadConfigFromEnvFile loads configuration from a specific .env file.
//
// Parameters:
//   - envPath: Path to the .env file
//
// Returns a Config instance, or an error if loading fails.
func LoadConfigFromEnvFile(envPath string) (*Config, error) {
	if err := godotenv.Load(envPath); err != nil {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	return LoadConfigFromEnv()
}

// LoadConfigFromJSON loads configuration from a JSON file. Keys absent
// from the file keep their DefaultConfig values.
//
// Durations are given in nanoseconds in JSON; use YAML for "1h"-style values.
func LoadConfigFromJSON(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewMemoryError("LoadConfigFromJSON", err)
	}

	config := DefaultConfig()
	if err := json.Unmarshal(data, config); err != nil {
		return nil, model.NewMemoryError("LoadConfigFromJSON", err)
	}

	return config, nil
}

// LoadConfigFromYAML loads configuration from a YAML file. Keys absent
// from the file keep their DefaultConfig values.
func LoadConfigFromYAML(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.NewMemoryError("LoadConfigFromYAML", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, model.NewMemoryError("LoadConfigFromYAML", err)
	}

	return config, nil
}

// LoadConfig loads a configuration file by extension (.json, .yaml, .yml),
// or the environment when path is empty.
func LoadConfig(path string) (*Config, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case "":
		if path == "" {
			return LoadConfigFromEnv()
		}
	case ".json":
		return LoadConfigFromJSON(path)
	case ".yaml", ".yml":
		return LoadConfigFromYAML(path)
	case ".env":
		return LoadConfigFromEnvFile(path)
	}
	return nil, model.NewMemoryError("LoadConfig", fmt.Errorf("%w: unsupported config file %q", model.ErrInvalidConfig, path))
}

var validate = validator.New()

// Validate validates the configuration.
//
// Field ranges are checked through struct tags; the remaining checks cover
// combinations of fields:
//   - sqlite needs a path, postgres and oceanbase need a host and database
//   - anthropic needs an API key
//   - the prune threshold stays below the promote threshold
//   - search weights are non-negative and the normalizer is known
//
// Returns an error wrapping ErrInvalidConfig, nil otherwise.
func (c *Config) Validate() error {
	if c == nil {
		return model.NewMemoryError("Validate", fmt.Errorf("%w: config is nil", model.ErrInvalidConfig))
	}
	var errs []error
	if err := validate.Struct(c); err != nil {
		errs = append(errs, err)
	}

	switch c.ItemStore.Provider {
	case "sqlite":
		if c.ItemStore.Path == "" {
			errs = append(errs, errors.New("item_store.path is required for sqlite"))
		}
	case "postgres", "oceanbase":
		if c.ItemStore.Host == "" || c.ItemStore.Database == "" {
			errs = append(errs, fmt.Errorf("item_store.host and item_store.database are required for %s", c.ItemStore.Provider))
		}
	}
	if c.LLM.Provider == "anthropic" && c.LLM.APIKey == "" {
		errs = append(errs, errors.New("llm.api_key is required for anthropic"))
	}

	promote, prune := c.Layers.PromoteThreshold, c.Layers.PruneThreshold
	if promote == 0 {
		promote = layers.DefaultConfig().PromoteThreshold
	}
	if prune == 0 {
		prune = layers.DefaultConfig().PruneThreshold
	}
	if prune >= promote {
		errs = append(errs, fmt.Errorf("layers.prune_threshold %.2f must be below promote_threshold %.2f", prune, promote))
	}

	for name, w := range c.Search.Weights {
		if w < 0 {
			errs = append(errs, fmt.Errorf("search.weights[%s] must not be negative", name))
		}
	}
	if c.Search.Normalizer != "" && !c.Search.Normalizer.Valid() {
		errs = append(errs, fmt.Errorf("search.normalizer %q is unknown", c.Search.Normalizer))
	}
	if c.Assembler.Preference != "" && !c.Assembler.Preference.Valid() {
		errs = append(errs, fmt.Errorf("assembler.preference %q is unknown", c.Assembler.Preference))
	}

	if len(errs) > 0 {
		return model.NewMemoryError("Validate", fmt.Errorf("%w: %v", model.ErrInvalidConfig, errors.Join(errs...)))
	}
	return nil
}

// getEnvOrDefault gets an environment variable or returns the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// envReader parses typed variables and keeps the first parse error.
type envReader struct {
	err error
}

func (r *envReader) int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		if r.err == nil {
			r.err = fmt.Errorf("%s: %w", key, err)
		}
		return def
	}
	return n
}

func (r *envReader) bool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s: %w", key, err)
	}
	return b
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// FindEnvFile searches for .env or .env.example files.
//
// The search:
//  1. Checks the current directory
//  2. Searches up to 5 directory levels up
//  3. Returns the first .env or .env.example file found
//
// Returns:
//   - path: Path to the found file (empty if not found)
//   - found: True if a file was found, false otherwise
func FindEnvFile() (string, bool) {
	if _, err := os.Stat(".env"); err == nil {
		return ".env", true
	}
	if _, err := os.Stat(".env.example"); err == nil {
		return ".env.example", true
	}

	dir, _ := os.Getwd()
	for i := 0; i < 5; i++ {
		envPath := filepath.Join(dir, ".env")
		envExamplePath := filepath.Join(dir, ".env.example")

		if _, err := os.Stat(envPath); err == nil {
			return envPath, true
		}
		if _, err := os.Stat(envExamplePath); err == nil {
			return envExamplePath, true
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return "", false
}
