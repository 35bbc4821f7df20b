package core

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/assembler"
	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/search"
	"github.com/oceanbase/recall-go/pkg/storage"
)

// Store persists both memory items and graph snapshots. Every backend in
// pkg/storage implements it.
type Store interface {
	storage.ItemStore
	storage.GraphStore
}

// ClientOption is a function type for configuring NewClient.
//
// Injected components replace the ones the configuration would build. The
// client takes ownership and closes them.
type ClientOption func(*clientOptions)

type clientOptions struct {
	logger   *zap.Logger
	metrics  *observability.Metrics
	llm      llm.Provider
	embedder embedder.Provider
	store    Store
	index    storage.VectorIndex
}

// WithLogger sets the logger instead of building one from Config.Logging.
func WithLogger(l *zap.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink, enabling metrics.
func WithMetrics(m *observability.Metrics) ClientOption {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithLLM sets the LLM provider.
func WithLLM(p llm.Provider) ClientOption {
	return func(o *clientOptions) {
		o.llm = p
	}
}

// WithEmbedder sets the embedding provider. It is wrapped with the query cache.
func WithEmbedder(p embedder.Provider) ClientOption {
	return func(o *clientOptions) {
		o.embedder = p
	}
}

// WithStore sets the item and graph store.
func WithStore(s Store) ClientOption {
	return func(o *clientOptions) {
		o.store = s
	}
}

// WithVectorIndex sets the vector index.
func WithVectorIndex(index storage.VectorIndex) ClientOption {
	return func(o *clientOptions) {
		o.index = index
	}
}

// AddOption is a function type for configuring Add operations.
type AddOption func(*AddOptions)

// AddOptions contains configuration options for Add operations.
type AddOptions struct {
	// ID is the item id; empty lets the layer manager generate one.
	ID string

	// Layer is the entry layer. Default: working
	Layer model.Layer

	// Kind is the item kind. Default: episodic (sensory in the sensory layer)
	Kind model.Kind

	// Importance overrides the scored importance when positive.
	Importance float64

	Tags       []string
	RelatedIDs []string

	// Metadata contains additional metadata about the memory.
	Metadata map[string]interface{}

	// CreatedAt backdates the item when set.
	CreatedAt time.Time
}

// WithID sets the id of the new item.
func WithID(id string) AddOption {
	return func(opts *AddOptions) {
		opts.ID = id
	}
}

// WithLayer sets the entry layer (sensory or working).
//
// Example:
//
//	item, _ := client.Add(ctx, "t1", "user opened settings", core.WithLayer(model.LayerSensory))
func WithLayer(layer model.Layer) AddOption {
	return func(opts *AddOptions) {
		opts.Layer = layer
	}
}

// WithKind sets the item kind.
func WithKind(kind model.Kind) AddOption {
	return func(opts *AddOptions) {
		opts.Kind = kind
	}
}

// WithImportance sets the initial importance instead of scoring it.
func WithImportance(importance float64) AddOption {
	return func(opts *AddOptions) {
		opts.Importance = importance
	}
}

// WithTags sets the item tags.
func WithTags(tags ...string) AddOption {
	return func(opts *AddOptions) {
		opts.Tags = append(opts.Tags, tags...)
	}
}

// WithRelatedIDs links the item to other items.
func WithRelatedIDs(ids ...string) AddOption {
	return func(opts *AddOptions) {
		opts.RelatedIDs = append(opts.RelatedIDs, ids...)
	}
}

// WithMetadata adds metadata to the memory.
//
// Example:
//
//	metadata := map[string]interface{}{
//	    "source": "conversation",
//	}
//	item, _ := client.Add(ctx, "t1", "content", core.WithMetadata(metadata))
func WithMetadata(metadata map[string]interface{}) AddOption {
	return func(opts *AddOptions) {
		if opts.Metadata == nil {
			opts.Metadata = make(map[string]interface{}, len(metadata))
		}
		for k, v := range metadata {
			opts.Metadata[k] = v
		}
	}
}

// WithCreatedAt backdates the new item.
func WithCreatedAt(t time.Time) AddOption {
	return func(opts *AddOptions) {
		opts.CreatedAt = t
	}
}

// SearchOption is a function type for configuring Search operations.
type SearchOption func(*SearchOptions)

// SearchOptions contains configuration options for Search operations.
type SearchOptions struct {
	// Limit is the maximum number of results (0 uses the engine default).
	Limit int

	// Weights overrides the strategy weights.
	Weights search.Weights

	// Strategies restricts the strategies that run.
	Strategies []model.StrategyName

	// Layers restricts results to these layers.
	Layers []model.Layer

	// Timeout bounds the whole query when positive.
	Timeout time.Duration

	// Rewrite clarifies the query with the tenant's profile memories first.
	// It needs an LLM provider and is ignored without one.
	Rewrite bool
}

// WithLimit sets the maximum number of results for Search operations.
//
// Example:
//
//	resp, _ := client.Search(ctx, "t1", "query", core.WithLimit(10))
func WithLimit(limit int) SearchOption {
	return func(opts *SearchOptions) {
		opts.Limit = limit
	}
}

// WithWeights sets per-strategy weights. Strategies left out weigh 0.
func WithWeights(w search.Weights) SearchOption {
	return func(opts *SearchOptions) {
		opts.Weights = w
	}
}

// WithStrategies restricts the strategies that run.
func WithStrategies(names ...model.StrategyName) SearchOption {
	return func(opts *SearchOptions) {
		opts.Strategies = append(opts.Strategies, names...)
	}
}

// WithLayers restricts results to items in the given layers.
func WithLayers(layers ...model.Layer) SearchOption {
	return func(opts *SearchOptions) {
		opts.Layers = append(opts.Layers, layers...)
	}
}

// WithTimeout bounds the query.
func WithTimeout(d time.Duration) SearchOption {
	return func(opts *SearchOptions) {
		opts.Timeout = d
	}
}

// WithQueryRewrite rewrites the query with the tenant's profile memories
// before searching. See search.QueryRewriter.
func WithQueryRewrite() SearchOption {
	return func(opts *SearchOptions) {
		opts.Rewrite = true
	}
}

// ContextOption is a function type for configuring BuildContext operations.
type ContextOption func(*ContextOptions)

// ContextOptions contains configuration options for BuildContext operations.
type ContextOptions struct {
	// Budget is the token budget (0 uses the assembler default).
	Budget int

	// Complexity of the query in [0, 1]. Default: assembler.NeutralComplexity
	Complexity float64

	Preference assembler.Preference

	// Candidates is the number of search results considered. Default: 50
	Candidates int

	// Search holds options for the candidate search.
	Search []SearchOption
}

// WithBudget sets the token budget of the context.
func WithBudget(tokens int) ContextOption {
	return func(opts *ContextOptions) {
		opts.Budget = tokens
	}
}

// WithComplexity sets the query complexity in [0, 1].
func WithComplexity(c float64) ContextOption {
	return func(opts *ContextOptions) {
		opts.Complexity = c
	}
}

// WithPreference sets the quality/efficiency preference.
func WithPreference(p assembler.Preference) ContextOption {
	return func(opts *ContextOptions) {
		opts.Preference = p
	}
}

// WithCandidates sets the number of search results considered.
func WithCandidates(n int) ContextOption {
	return func(opts *ContextOptions) {
		opts.Candidates = n
	}
}

// WithSearchOptions passes options to the candidate search.
func WithSearchOptions(opts ...SearchOption) ContextOption {
	return func(o *ContextOptions) {
		o.Search = append(o.Search, opts...)
	}
}

// GetAllOption is a function type for configuring GetAll operations.
type GetAllOption func(*GetAllOptions)

// GetAllOptions contains configuration options for GetAll operations.
type GetAllOptions struct {
	// Layer restricts the listing to one layer.
	Layer model.Layer

	Kinds []model.Kind

	// Limit is the maximum number of items (0 means no limit).
	Limit int

	Offset int
}

// WithLimitForGetAll sets the maximum number of items for GetAll operations.
func WithLimitForGetAll(limit int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Limit = limit
	}
}

// WithOffset sets the offset for GetAll operations.
func WithOffset(offset int) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Offset = offset
	}
}

// WithLayerForGetAll restricts GetAll to one layer.
func WithLayerForGetAll(layer model.Layer) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Layer = layer
	}
}

// WithKindsForGetAll restricts GetAll to the given kinds.
func WithKindsForGetAll(kinds ...model.Kind) GetAllOption {
	return func(opts *GetAllOptions) {
		opts.Kinds = append(opts.Kinds, kinds...)
	}
}

func applyAddOptions(opts []AddOption) *AddOptions {
	o := &AddOptions{Layer: model.LayerWorking}
	for _, opt := range opts {
		opt(o)
	}
	if o.Kind == "" {
		o.Kind = model.KindEpisodic
		if o.Layer == model.LayerSensory {
			o.Kind = model.KindSensory
		}
	}
	return o
}

func applySearchOptions(opts []SearchOption) *SearchOptions {
	o := &SearchOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func applyContextOptions(opts []ContextOption) *ContextOptions {
	o := &ContextOptions{Candidates: 50, Complexity: assembler.NeutralComplexity}
	for _, opt := range opts {
		opt(o)
	}
	if o.Candidates <= 0 {
		o.Candidates = 50
	}
	return o
}

func applyGetAllOptions(opts []GetAllOption) *GetAllOptions {
	o := &GetAllOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}
