package reflection

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/llm"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/observability"
)

// Stage is the progress of a reflection run.
type Stage string

const (
	StagePending    Stage = "pending"
	StageClustering Stage = "clustering"
	StageGenerating Stage = "generating"
	StageScored     Stage = "scored"
	StageStored     Stage = "stored"
)

const (
	insightSystemPrompt = "You are an expert at pattern recognition and insight extraction."
	metaSystemPrompt    = "You are an expert at synthesizing higher-level patterns from insights."

	insightPrompt = `You are analyzing a cluster of related memories to extract key insights.

Memories in this cluster:
%s

Identify the main theme or pattern connecting these memories and state the
most important lesson as one clear, actionable statement.`

	metaPrompt = `You are analyzing a collection of insights to extract higher-level patterns.

Related insights:
%s

Synthesize a broader principle that holds across these insights, stated as
one clear, strategic observation.`

	scoringPrompt = `Evaluate this reflection.

Reflection: %s

Score each dimension from 0.0 to 1.0:
1. Importance: how significant is this for future decisions?
2. Confidence: how well do the memories support it?

Return JSON only: {"importance": 0.0, "confidence": 0.0}`
)

// Config contains the reflection parameters.
type Config struct {
	// SimilarityThreshold links two episodes into the same cluster. Default: 0.8
	SimilarityThreshold float64 `json:"similarity_threshold" yaml:"similarity_threshold" validate:"gte=0,lte=1"`

	// MinClusterSize is the smallest cluster that gets a reflection. Default: 5
	MinClusterSize int `json:"min_cluster_size" yaml:"min_cluster_size" validate:"gte=0"`

	// MaxPromptItems caps the memories quoted in one prompt. Default: 20
	MaxPromptItems int `json:"max_prompt_items" yaml:"max_prompt_items" validate:"gte=0"`

	// MaxEpisodes caps the episodes read per run. Default: 500
	MaxEpisodes int `json:"max_episodes" yaml:"max_episodes" validate:"gte=0"`

	// MetaMinReflections is the number of new insights that triggers a meta reflection. Default: 3
	MetaMinReflections int `json:"meta_min_reflections" yaml:"meta_min_reflections" validate:"gte=0"`

	// MaxMetaInputs caps the insights quoted in a meta prompt. Default: 10
	MaxMetaInputs int `json:"max_meta_inputs" yaml:"max_meta_inputs" validate:"gte=0"`

	// MaxTokens limits each completion. Default: 512
	MaxTokens int `json:"max_tokens" yaml:"max_tokens" validate:"gte=0"`
}

func (c Config) withDefaults() Config {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.8
	}
	if c.MinClusterSize == 0 {
		c.MinClusterSize = 5
	}
	if c.MaxPromptItems == 0 {
		c.MaxPromptItems = 20
	}
	if c.MaxEpisodes == 0 {
		c.MaxEpisodes = 500
	}
	if c.MetaMinReflections == 0 {
		c.MetaMinReflections = 3
	}
	if c.MaxMetaInputs == 0 {
		c.MaxMetaInputs = 10
	}
	if c.MaxTokens == 0 {
		c.MaxTokens = 512
	}
	return c
}

// Input is everything the Reflector looks at in one run.
type Input struct {
	TenantID string

	// Episodes are clustered. Items without an embedding are embedded.
	Episodes []*model.MemoryItem

	// Evaluations annotate the episodes they name through EpisodeID.
	Evaluations []EvaluationResult

	// Existing reflections count against novelty.
	Existing []*model.MemoryItem

	// Reflected holds the cluster hashes that already have a reflection.
	Reflected map[string]struct{}
}

// Batch is the result of one Reflect call.
type Batch struct {
	// Reflections are ordered: insights by cluster, then the meta reflection.
	Reflections []model.Reflection

	Clusters   int
	Duplicates int

	// Stage is the last stage reached.
	Stage Stage

	// Errors holds the per-cluster failures; other clusters still produce reflections.
	Errors []error
}

// Reflector turns clusters of episodes into reflections.
type Reflector struct {
	llm      llm.Provider
	embedder embedder.Provider
	cfg      Config
	logger   *zap.Logger
	now      func() time.Time
}

// NewReflector creates a reflector. Zero config fields take their defaults.
func NewReflector(p llm.Provider, e embedder.Provider, cfg Config, logger *zap.Logger) (*Reflector, error) {
	if p == nil {
		return nil, model.NewMemoryError("NewReflector", fmt.Errorf("%w: llm provider is required", model.ErrInvalidConfig))
	}
	if e == nil {
		return nil, model.NewMemoryError("NewReflector", fmt.Errorf("%w: embedder is required", model.ErrInvalidConfig))
	}
	return &Reflector{
		llm:      p,
		embedder: e,
		cfg:      cfg.withDefaults(),
		logger:   observability.OrNop(logger),
		now:      time.Now,
	}, nil
}

// Config returns the effective configuration.
func (r *Reflector) Config() Config {
	return r.cfg
}

// Reflect clusters in.Episodes and generates one insight per new cluster.
// When at least MetaMinReflections insights were generated, a meta
// reflection over them is added. The returned error is set when the
// episodes cannot be embedded or ctx ends; per-cluster failures go to
// Batch.Errors.
func (r *Reflector) Reflect(ctx context.Context, in Input) (*Batch, error) {
	batch := &Batch{Stage: StagePending}
	if strings.TrimSpace(in.TenantID) == "" {
		return batch, model.NewMemoryError("Reflect", model.NewValidationError("tenant_id", "must not be empty"))
	}

	batch.Stage = StageClustering
	episodes := make([]*model.MemoryItem, 0, len(in.Episodes))
	for _, it := range in.Episodes {
		if it != nil && !it.IsDeleted() {
			episodes = append(episodes, it)
		}
	}
	vectors, err := r.vectors(ctx, episodes)
	if err != nil {
		return batch, model.NewMemoryError("Reflect", err)
	}
	clusters := clusterEpisodes(episodes, vectors, r.cfg.SimilarityThreshold, r.cfg.MinClusterSize)
	batch.Clusters = len(clusters)

	var prior []*model.MemoryItem
	for _, it := range in.Existing {
		if it != nil {
			prior = append(prior, it)
		}
	}
	existing, err := r.vectors(ctx, prior)
	if err != nil {
		return batch, model.NewMemoryError("Reflect", err)
	}

	evals := make(map[string]EvaluationResult, len(in.Evaluations))
	for _, e := range in.Evaluations {
		if e.EpisodeID != "" {
			evals[e.EpisodeID] = e
		}
	}

	batch.Stage = StageGenerating
	var insights []scoredReflection
	for _, c := range clusters {
		hash := model.ClusterHash(c.ids())
		if _, seen := in.Reflected[hash]; seen {
			batch.Duplicates++
			continue
		}
		sr, err := r.insight(ctx, in.TenantID, hash, c, evals, existing)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				batch.Errors = append(batch.Errors, ctxErr)
				return batch, model.NewMemoryError("Reflect", ctxErr)
			}
			r.logger.Warn("cluster reflection failed",
				zap.String("tenant_id", in.TenantID),
				zap.String("cluster_hash", hash),
				zap.Error(err))
			batch.Errors = append(batch.Errors, fmt.Errorf("cluster %s: %w", hash[:12], err))
			continue
		}
		existing = append(existing, sr.vector)
		insights = append(insights, sr)
		batch.Reflections = append(batch.Reflections, sr.Reflection)
	}

	if len(insights) >= r.cfg.MetaMinReflections {
		sr, err := r.meta(ctx, in, insights, existing)
		switch {
		case errors.Is(err, errDuplicate):
			batch.Duplicates++
		case err != nil:
			r.logger.Warn("meta reflection failed", zap.String("tenant_id", in.TenantID), zap.Error(err))
			batch.Errors = append(batch.Errors, fmt.Errorf("meta reflection: %w", err))
		default:
			batch.Reflections = append(batch.Reflections, sr.Reflection)
		}
	}

	batch.Stage = StageScored
	return batch, nil
}

var errDuplicate = errors.New("already reflected")

type scoredReflection struct {
	model.Reflection
	vector []float64
}

func (r *Reflector) insight(ctx context.Context, tenantID, hash string, c cluster, evals map[string]EvaluationResult, existing [][]float64) (scoredReflection, error) {
	var lines []string
	var importance, evalConfidence float64
	var evaluated int
	for i, it := range c.items {
		importance += it.Importance
		e, ok := evals[it.ID]
		if ok {
			evalConfidence += e.Confidence
			evaluated++
		}
		if i >= r.cfg.MaxPromptItems {
			continue
		}
		line := fmt.Sprintf("- [%s] %s", it.CreatedAt.UTC().Format(time.RFC3339), strings.TrimSpace(it.Content))
		switch {
		case ok && e.Success:
			line += " (outcome: succeeded)"
		case ok:
			line += fmt.Sprintf(" (outcome: failed, %s)", e.FailureReason)
		}
		lines = append(lines, line)
	}

	content, err := r.complete(ctx, fmt.Sprintf(insightPrompt, strings.Join(lines, "\n")), insightSystemPrompt)
	if err != nil {
		return scoredReflection{}, err
	}

	fallback := scores{importance: importance / float64(len(c.items)), confidence: c.cohesion}
	if evaluated > 0 {
		fallback.confidence = evalConfidence / float64(evaluated)
	}
	return r.finish(ctx, tenantID, hash, model.LevelInsight, c.ids(), content, fallback, existing)
}

func (r *Reflector) meta(ctx context.Context, in Input, insights []scoredReflection, existing [][]float64) (scoredReflection, error) {
	if len(insights) > r.cfg.MaxMetaInputs {
		insights = insights[:r.cfg.MaxMetaInputs]
	}
	ids := make([]string, len(insights))
	lines := make([]string, len(insights))
	var fallback scores
	for i, sr := range insights {
		ids[i] = sr.ID
		lines[i] = "- " + sr.Content
		fallback.importance += sr.ImportanceScore
		fallback.confidence += sr.Confidence
	}
	fallback.importance /= float64(len(insights))
	fallback.confidence /= float64(len(insights))

	hash := model.ClusterHash(ids)
	if _, seen := in.Reflected[hash]; seen {
		return scoredReflection{}, errDuplicate
	}

	content, err := r.complete(ctx, fmt.Sprintf(metaPrompt, strings.Join(lines, "\n")), metaSystemPrompt)
	if err != nil {
		return scoredReflection{}, err
	}
	sr, err := r.finish(ctx, in.TenantID, hash, model.LevelMeta, ids, content, fallback, existing)
	if err != nil {
		return sr, err
	}
	sr.ImportanceScore = model.Clamp01(sr.ImportanceScore * 1.1)
	return sr, nil
}

type scores struct {
	importance float64
	confidence float64
}

// finish scores generated content and builds the reflection. Novelty is one
// minus the best similarity to any existing reflection.
func (r *Reflector) finish(ctx context.Context, tenantID, hash string, level model.ReflectionLevel, sourceIDs []string, content string, fallback scores, existing [][]float64) (scoredReflection, error) {
	vec, err := r.embedder.Embed(ctx, content)
	if err != nil {
		return scoredReflection{}, fmt.Errorf("%w: %v", model.ErrEmbeddingFailed, err)
	}
	var maxSim float64
	for _, v := range existing {
		if s := intelligence.CosineSimilarity(vec, v); s > maxSim {
			maxSim = s
		}
	}

	sc := r.score(ctx, content, fallback)
	return scoredReflection{
		Reflection: model.Reflection{
			ID:              uuid.NewSHA1(uuid.NameSpaceOID, []byte(tenantID+":"+hash)).String(),
			TenantID:        tenantID,
			SourceIDs:       model.NormalizeSet(sourceIDs),
			ClusterHash:     hash,
			Content:         content,
			Level:           level,
			NoveltyScore:    model.Clamp01(1 - maxSim),
			ImportanceScore: model.Clamp01(sc.importance),
			Confidence:      model.Clamp01(sc.confidence),
			CreatedAt:       r.now(),
		},
		vector: vec,
	}, nil
}

// score asks the model for importance and confidence. Missing or
// unparseable values fall back to the values derived from the sources.
func (r *Reflector) score(ctx context.Context, content string, fallback scores) scores {
	text, err := r.complete(ctx, fmt.Sprintf(scoringPrompt, content), "")
	if err != nil {
		r.logger.Debug("reflection scoring failed, using source scores", zap.Error(err))
		return fallback
	}
	var parsed struct {
		Importance *float64 `json:"importance"`
		Confidence *float64 `json:"confidence"`
	}
	if err := llm.ExtractJSON(text, &parsed); err != nil {
		r.logger.Debug("reflection scores not parseable, using source scores", zap.Error(err))
		return fallback
	}
	out := fallback
	if parsed.Importance != nil {
		out.importance = *parsed.Importance
	}
	if parsed.Confidence != nil {
		out.confidence = *parsed.Confidence
	}
	return out
}

func (r *Reflector) complete(ctx context.Context, prompt, system string) (string, error) {
	c, err := r.llm.Complete(ctx, prompt, system, llm.WithMaxTokens(r.cfg.MaxTokens), llm.WithTemperature(0.3))
	if err != nil {
		return "", fmt.Errorf("%w: %v", model.ErrLLMOperation, err)
	}
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return "", fmt.Errorf("%w: empty completion", model.ErrLLMOperation)
	}
	return text, nil
}

// vectors returns one embedding per item, embedding the items that carry none.
func (r *Reflector) vectors(ctx context.Context, items []*model.MemoryItem) ([][]float64, error) {
	out := make([][]float64, len(items))
	var missing []int
	var texts []string
	for i, it := range items {
		if len(it.Embedding) > 0 {
			out[i] = it.Embedding
			continue
		}
		missing = append(missing, i)
		texts = append(texts, it.Content)
	}
	if len(texts) == 0 {
		return out, nil
	}
	vecs, err := r.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrEmbeddingFailed, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: got %d vectors for %d texts", model.ErrEmbeddingFailed, len(vecs), len(texts))
	}
	for k, i := range missing {
		out[i] = vecs[k]
	}
	return out, nil
}
