package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/embedder"
	hashEmbedder "github.com/oceanbase/recall-go/pkg/embedder/hash"
	openaiEmbedder "github.com/oceanbase/recall-go/pkg/embedder/openai"
	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/llm"
	anthropicLLM "github.com/oceanbase/recall-go/pkg/llm/anthropic"
	openaiLLM "github.com/oceanbase/recall-go/pkg/llm/openai"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/scheduler"
	"github.com/oceanbase/recall-go/pkg/search"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/storage/chromem"
	"github.com/oceanbase/recall-go/pkg/storage/memory"
	"github.com/oceanbase/recall-go/pkg/storage/oceanbase"
	postgresStore "github.com/oceanbase/recall-go/pkg/storage/postgres"
	sqliteStore "github.com/oceanbase/recall-go/pkg/storage/sqlite"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

// Client is the main recall client.
//
// It owns one instance of every component and routes calls to them:
//   - Add stores into the layer manager and feeds the entity graph
//   - Search runs the hybrid search engine
//   - BuildContext searches and assembles a budgeted working context
//   - Consolidate, Decay, Reflect and the graph jobs run maintenance, either
//     on demand or on the scheduler's cron specs
//
// The client is thread-safe and can be used concurrently from multiple goroutines.
//
// Example usage:
//
//	config, _ := core.LoadConfigFromEnv()
//	client, _ := core.NewClient(config)
//	defer client.Close()
//
//	_, _ = client.Add(ctx, "user_001", "User likes Python")
//	result, _ := client.BuildContext(ctx, "user_001", "what does the user like?")
//	fmt.Println(result.Prompt)
type Client struct {
	config  *Config
	logger  *zap.Logger
	metrics *observability.Metrics

	store    Store
	index    storage.VectorIndex
	llm      llm.Provider
	embedder embedder.Provider

	locks      *tenantlock.Locker
	layers     *layers.Manager
	graphs     *graph.Manager
	search     *search.Engine
	assembler  *assembler.Assembler
	reflection *reflection.Engine
	scheduler  *scheduler.Scheduler
	tenants    *tenantRegistry

	closeOnce sync.Once
	closeErr  error
}

// NewClient creates a new recall client.
//
// The client is initialized with:
//   - Item and graph store (memory, SQLite, PostgreSQL or OceanBase)
//   - chromem vector index (in memory or persisted)
//   - Embedding provider (OpenAI-compatible or hash) behind a query cache
//   - LLM provider (OpenAI-compatible or Anthropic), optional
//   - Layer manager, graph manager, search engine, assembler, reflection
//     engine and scheduler
//
// The scheduler is created but not started; see StartScheduler.
func NewClient(cfg *Config, opts ...ClientOption) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &clientOptions{}
	for _, opt := range opts {
		opt(o)
	}

	c := &Client{config: cfg, logger: o.logger, metrics: o.metrics}
	if c.logger == nil {
		logger, err := observability.NewLogger(cfg.Logging)
		if err != nil {
			return nil, NewMemoryError("NewClient", fmt.Errorf("%w: %v", ErrInvalidConfig, err))
		}
		c.logger = logger
	}
	if c.metrics == nil && cfg.Metrics.Enabled {
		c.metrics = observability.NewMetrics()
	}

	if err := c.init(cfg, o); err != nil {
		_ = c.Close()
		return nil, NewMemoryError("NewClient", err)
	}

	c.logger.Info("recall client ready",
		zap.String("item_store", cfg.ItemStore.Provider),
		zap.String("embedder", cfg.Embedder.Provider),
		zap.String("llm", cfg.LLM.Provider),
		zap.Strings("jobs", c.scheduler.Scheduled()))
	return c, nil
}

func (c *Client) init(cfg *Config, o *clientOptions) error {
	var err error

	c.store = o.store
	if c.store == nil {
		if c.store, err = initStore(cfg.ItemStore); err != nil {
			return err
		}
	}
	c.index = o.index
	if c.index == nil {
		if c.index, err = chromem.NewIndex(&chromem.Config{
			PersistDir: cfg.VectorIndex.PersistDir,
			Compress:   cfg.VectorIndex.Compress,
		}); err != nil {
			return err
		}
	}
	c.llm = o.llm
	if c.llm == nil && cfg.LLM.Provider != "" {
		if c.llm, err = initLLM(cfg.LLM); err != nil {
			return err
		}
	}
	base := o.embedder
	if base == nil {
		if base, err = initEmbedder(cfg.Embedder); err != nil {
			return err
		}
	}
	if c.embedder, err = embedder.NewCachedProvider(base, &embedder.CacheConfig{MaxEntries: cfg.Embedder.CacheSize}); err != nil {
		_ = base.Close()
		return err
	}

	c.locks = tenantlock.New()
	c.layers, err = layers.NewManager(c.store, cfg.Layers,
		layers.WithVectorIndex(c.index),
		layers.WithEmbedder(c.embedder),
		layers.WithScorer(intelligence.NewScorer(c.llm, cfg.Decay)),
		layers.WithLocker(c.locks),
		layers.WithLogger(c.logger.Named("layers")),
		layers.WithMetrics(c.metrics),
	)
	if err != nil {
		return err
	}

	c.graphs = graph.NewManager(c.store, cfg.Graph, c.logger.Named("graph"), c.metrics)

	searchOpts := []search.Option{
		search.WithStrategy(search.NewVectorStrategy(c.index, c.embedder)),
		search.WithStrategy(search.NewGraphStrategy(c.graphs, cfg.Search.Graph)),
		search.WithStrategy(search.NewSparseStrategy(c.layers, cfg.Search.BM25)),
		search.WithStrategy(search.NewFullTextStrategy(c.layers)),
		search.WithReinforcer(c.layers),
		search.WithLogger(c.logger.Named("search")),
		search.WithMetrics(c.metrics),
	}
	if c.llm != nil {
		searchOpts = append(searchOpts, search.WithRewriter(search.NewQueryRewriter(c.llm, c.layers, cfg.Search.Rewrite)))
	}
	c.search, err = search.NewEngine(c.layers, cfg.Search, searchOpts...)
	if err != nil {
		return err
	}

	c.assembler = assembler.New(cfg.Assembler,
		assembler.WithLogger(c.logger.Named("assembler")),
		assembler.WithMetrics(c.metrics))

	if c.llm != nil {
		reflector, err := reflection.NewReflector(c.llm, c.embedder, cfg.Reflection, c.logger.Named("reflection"))
		if err != nil {
			return err
		}
		c.reflection, err = reflection.NewEngine(c.layers, reflector,
			reflection.WithLocker(c.locks),
			reflection.WithLogger(c.logger.Named("reflection")),
			reflection.WithMetrics(c.metrics))
		if err != nil {
			return err
		}
	}

	c.tenants = newTenantRegistry(cfg.Tenants, c.graphs.Tenants)
	jobs := []scheduler.Option{
		scheduler.WithLayers(c.layers),
		scheduler.WithGraph(c.graphs),
		scheduler.WithLogger(c.logger.Named("scheduler")),
		scheduler.WithMetrics(c.metrics),
	}
	if c.reflection != nil {
		jobs = append(jobs, scheduler.WithReflection(c.reflection))
	}
	c.scheduler, err = scheduler.New(cfg.Scheduler, c.tenants.list, jobs...)
	return err
}

// Add stores a new memory for tenantID and feeds its entities to the graph.
//
// The item enters the working layer unless WithLayer says otherwise; its
// importance and decay rate are scored unless given. The embedding is
// computed in the background. A graph ingestion failure is logged and does
// not fail the call.
//
// Example:
//
//	item, err := client.Add(ctx, "user_001", "User likes Python programming",
//	    core.WithKind(model.KindSemantic),
//	    core.WithTags("preference"),
//	)
func (c *Client) Add(ctx context.Context, tenantID, content string, opts ...AddOption) (*model.MemoryItem, error) {
	item := toItem(tenantID, content, applyAddOptions(opts))
	id, err := c.layers.Store(ctx, item)
	if err != nil {
		return nil, err
	}
	c.tenants.add(tenantID)

	stored, err := c.layers.Get(ctx, tenantID, id)
	if err != nil {
		return nil, NewMemoryError("Add", err)
	}
	if _, err := c.graphs.Ingest(ctx, stored); err != nil {
		c.logger.Warn("graph ingestion failed",
			zap.String("tenant_id", tenantID),
			zap.String("item_id", id),
			zap.Error(err))
	}
	return stored, nil
}

// Get retrieves a live memory by its ID.
func (c *Client) Get(ctx context.Context, tenantID, id string) (*model.MemoryItem, error) {
	return c.layers.Get(ctx, tenantID, id)
}

// GetAll lists the live memories of tenantID, newest first.
//
// Example:
//
//	items, err := client.GetAll(ctx, "user_001",
//	    core.WithLayerForGetAll(model.LayerLongTerm),
//	    core.WithLimitForGetAll(100),
//	)
func (c *Client) GetAll(ctx context.Context, tenantID string, opts ...GetAllOption) ([]*model.MemoryItem, error) {
	o := applyGetAllOptions(opts)
	return c.layers.List(ctx, tenantID, toListOptions(o))
}

// Delete tombstones a memory and drops its vector.
func (c *Client) Delete(ctx context.Context, tenantID, id string) error {
	return c.layers.Delete(ctx, tenantID, id)
}

// Changes returns every change of tenantID after sinceVersion, tombstones
// included, ordered by version.
func (c *Client) Changes(ctx context.Context, tenantID string, sinceVersion int64) ([]*model.MemoryItem, error) {
	return c.layers.Sync(ctx, tenantID, sinceVersion)
}

// Search runs a hybrid search over the memories of tenantID.
//
// Strategy failures degrade the response (see search.Response.Status)
// instead of failing the call.
//
// Example:
//
//	resp, err := client.Search(ctx, "user_001", "Python programming",
//	    core.WithLimit(10),
//	    core.WithLayers(model.LayerWorking, model.LayerLongTerm),
//	)
func (c *Client) Search(ctx context.Context, tenantID, query string, opts ...SearchOption) (*search.Response, error) {
	o := applySearchOptions(opts)
	q := &search.Query{
		TenantID:   tenantID,
		Text:       query,
		Limit:      o.Limit,
		Weights:    o.Weights,
		Strategies: o.Strategies,
		Layers:     o.Layers,
		Rewrite:    o.Rewrite,
	}
	if o.Timeout > 0 {
		q.Deadline = time.Now().Add(o.Timeout)
	}
	return c.search.Search(ctx, q)
}

// BuildContext searches the memories of tenantID and assembles the best
// candidates into a working context that fits the token budget.
//
// A budget too small for any candidate is not an error: the context is empty
// and Stats.Reason is ErrBudgetExceeded.
func (c *Client) BuildContext(ctx context.Context, tenantID, query string, opts ...ContextOption) (*ContextResult, error) {
	o := applyContextOptions(opts)
	searchOpts := append([]SearchOption{WithLimit(o.Candidates)}, o.Search...)
	resp, err := c.Search(ctx, tenantID, query, searchOpts...)
	if err != nil {
		return nil, err
	}

	wc, stats := c.assembler.Assemble(ctx, assembler.Request{
		Candidates: assembler.FromFused(resp.Results),
		Budget:     o.Budget,
		Complexity: o.Complexity,
		Preference: o.Preference,
	})
	return &ContextResult{
		Context: wc,
		Stats:   stats,
		Prompt:  assembler.Render(wc),
		Search:  resp,
	}, nil
}

// Consolidate moves the memories of tenantID between layers: expired sensory
// items, working items crossing the promote threshold and long-term items
// decayed below the prune threshold.
func (c *Client) Consolidate(ctx context.Context, tenantID string) (*layers.ConsolidationReport, error) {
	return c.layers.Consolidate(ctx, tenantID)
}

// Decay applies the forgetting curve to the long-term memories of tenantID.
func (c *Client) Decay(ctx context.Context, tenantID string) (*layers.DecayReport, error) {
	return c.layers.RunDecay(ctx, tenantID)
}

// Reflect clusters the episodes of tenantID and stores new insights in the
// reflective layer. It returns ErrLLMDisabled without an LLM provider.
func (c *Client) Reflect(ctx context.Context, tenantID string) (*reflection.Report, error) {
	if c.reflection == nil {
		return nil, NewMemoryError("Reflect", ErrLLMDisabled)
	}
	return c.reflection.Run(ctx, tenantID)
}

// UpdateGraph applies actions to the graph of tenantID and commits the result.
func (c *Client) UpdateGraph(ctx context.Context, tenantID string, obs graph.Observation, actions ...graph.Action) (*graph.Snapshot, *graph.Delta, error) {
	snap, delta, err := c.graphs.Update(ctx, tenantID, obs, actions...)
	if err == nil {
		c.tenants.add(tenantID)
	}
	return snap, delta, err
}

// Graph returns the latest committed graph of tenantID.
func (c *Client) Graph(ctx context.Context, tenantID string) (*graph.Snapshot, error) {
	return c.graphs.Snapshot(ctx, tenantID)
}

// GraphDiagnostics reports how settled the graph of tenantID is.
func (c *Client) GraphDiagnostics(tenantID string) graph.Diagnostics {
	return c.graphs.Diagnostics(tenantID)
}

// RunJob runs a maintenance job for every known tenant now.
func (c *Client) RunJob(ctx context.Context, job string) (*scheduler.Summary, error) {
	return c.scheduler.RunOnce(ctx, job)
}

// StartScheduler starts the periodic maintenance jobs. Close stops them.
func (c *Client) StartScheduler() {
	c.scheduler.Start()
}

// Scheduler returns the maintenance scheduler.
func (c *Client) Scheduler() *scheduler.Scheduler {
	return c.scheduler
}

// Tenants returns the tenants the maintenance jobs run for.
func (c *Client) Tenants(ctx context.Context) ([]string, error) {
	return c.tenants.list(ctx)
}

// Metrics returns the metrics sink, or nil when metrics are disabled.
func (c *Client) Metrics() *observability.Metrics {
	return c.metrics
}

// Config returns the configuration the client was created with.
func (c *Client) Config() *Config {
	return c.config
}

// Logger returns the client logger.
func (c *Client) Logger() *zap.Logger {
	return c.logger
}

// WaitIdle blocks until every scheduled embedding has been indexed.
func (c *Client) WaitIdle() {
	c.layers.WaitIdle()
}

// Close stops the scheduler, drains pending embeddings and releases every
// component. Close is idempotent.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		var errs []error
		if c.scheduler != nil {
			<-c.scheduler.Stop().Done()
		}
		if c.layers != nil {
			errs = append(errs, c.layers.Close())
		}
		if c.index != nil {
			errs = append(errs, c.index.Close())
		}
		if c.store != nil {
			errs = append(errs, c.store.Close())
		}
		if c.llm != nil {
			errs = append(errs, c.llm.Close())
		}
		if c.embedder != nil {
			errs = append(errs, c.embedder.Close())
		}
		if c.logger != nil {
			_ = c.logger.Sync()
		}
		c.closeErr = NewMemoryError("Close", errors.Join(errs...))
	})
	return c.closeErr
}

// initStore initializes the item and graph store.
func initStore(cfg ItemStoreConfig) (Store, error) {
	collection := cfg.Collection
	if collection == "" {
		collection = "memories"
	}
	switch cfg.Provider {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		return sqliteStore.NewClient(&sqliteStore.Config{
			DBPath:         cfg.Path,
			CollectionName: collection,
		})
	case "postgres":
		return postgresStore.NewClient(&postgresStore.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       cfg.Password,
			DBName:         cfg.Database,
			CollectionName: collection,
			SSLMode:        cfg.SSLMode,
		})
	case "oceanbase":
		return oceanbase.NewClient(&oceanbase.Config{
			Host:           cfg.Host,
			Port:           cfg.Port,
			User:           cfg.User,
			Password:       cfg.Password,
			DBName:         cfg.Database,
			CollectionName: collection,
		})
	default:
		return nil, fmt.Errorf("%w: unknown item store %q", ErrInvalidConfig, cfg.Provider)
	}
}

// initLLM initializes the LLM provider.
func initLLM(cfg LLMConfig) (llm.Provider, error) {
	switch strings.ToLower(cfg.Provider) {
	case "anthropic":
		return anthropicLLM.NewClient(&anthropicLLM.Config{
			APIKey:  cfg.APIKey,
			Model:   cfg.Model,
			BaseURL: cfg.BaseURL,
		})
	case "openai", "deepseek", "qwen", "ollama":
		return openaiLLM.NewClient(&openaiLLM.Config{
			Provider: cfg.Provider,
			APIKey:   cfg.APIKey,
			Model:    cfg.Model,
			BaseURL:  cfg.BaseURL,
		})
	default:
		return nil, fmt.Errorf("%w: unknown llm provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// initEmbedder initializes the embedder provider.
func initEmbedder(cfg EmbedderConfig) (embedder.Provider, error) {
	switch cfg.Provider {
	case "openai":
		return openaiEmbedder.NewClient(&openaiEmbedder.Config{
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			BaseURL:    cfg.BaseURL,
			Dimensions: cfg.Dimensions,
		})
	case "hash":
		return hashEmbedder.New(cfg.Dimensions), nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", ErrInvalidConfig, cfg.Provider)
	}
}
