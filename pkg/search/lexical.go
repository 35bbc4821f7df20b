package search

import (
	"context"
	"fmt"
	"math"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/text"
)

// BM25Config contains the BM25 parameters.
type BM25Config struct {
	// K1 controls term frequency saturation. Default: 1.2
	K1 float64 `json:"k1" yaml:"k1" validate:"gte=0"`

	// B controls document length normalization. Default: 0.75
	B float64 `json:"b" yaml:"b" validate:"gte=0,lte=1"`
}

func (c BM25Config) withDefaults() BM25Config {
	if c.K1 == 0 {
		c.K1 = 1.2
	}
	if c.B == 0 {
		c.B = 0.75
	}
	return c
}

// SparseStrategy ranks items with Okapi BM25 over the tenant's live items.
// Scores are divided by the best score so the top hit scores 1.
type SparseStrategy struct {
	items ItemSource
	cfg   BM25Config
}

// NewSparseStrategy creates a BM25 strategy. Zero config fields take their defaults.
func NewSparseStrategy(items ItemSource, cfg BM25Config) *SparseStrategy {
	return &SparseStrategy{items: items, cfg: cfg.withDefaults()}
}

// Name returns model.StrategySparse.
func (s *SparseStrategy) Name() model.StrategyName {
	return model.StrategySparse
}

// Search scores every item containing at least one query term.
func (s *SparseStrategy) Search(ctx context.Context, q *Query, limit int) ([]model.SearchResult, error) {
	terms := uniqueTerms(text.Terms(q.Text))
	if len(terms) == 0 {
		return nil, nil
	}
	items, err := corpus(ctx, s.items, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("sparse search: %w", err)
	}
	if len(items) == 0 {
		return nil, nil
	}

	docs := make([]map[string]int, len(items))
	lengths := make([]int, len(items))
	df := make(map[string]int, len(terms))
	var total int
	for i, item := range items {
		tokens := text.Terms(item.Content)
		tf := make(map[string]int, len(tokens))
		for _, t := range tokens {
			tf[t]++
		}
		for _, t := range terms {
			if tf[t] > 0 {
				df[t]++
			}
		}
		docs[i] = tf
		lengths[i] = len(tokens)
		total += len(tokens)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	n := float64(len(items))
	avgLen := float64(total) / n
	if avgLen == 0 {
		avgLen = 1
	}

	var (
		results []model.SearchResult
		best    float64
	)
	for i, item := range items {
		var score float64
		for _, t := range terms {
			f := float64(docs[i][t])
			if f == 0 {
				continue
			}
			idf := math.Log(1 + (n-float64(df[t])+0.5)/(float64(df[t])+0.5))
			norm := s.cfg.K1 * (1 - s.cfg.B + s.cfg.B*float64(lengths[i])/avgLen)
			score += idf * f * (s.cfg.K1 + 1) / (f + norm)
		}
		if score <= 0 {
			continue
		}
		best = math.Max(best, score)
		results = append(results, model.SearchResult{ItemID: item.ID, Score: score, Strategy: model.StrategySparse})
	}
	for i := range results {
		results[i].Score /= best
	}
	return sortResults(results, limit), nil
}

// FullTextStrategy matches the query text literally. An item containing the
// query phrase (or every quoted phrase of the query) scores 1.0. An item
// containing every query term in order scores between 0.5 and 0.9, higher
// the closer together the terms are. Other items do not match.
type FullTextStrategy struct {
	items ItemSource
}

// NewFullTextStrategy creates a full-text strategy.
func NewFullTextStrategy(items ItemSource) *FullTextStrategy {
	return &FullTextStrategy{items: items}
}

// Name returns model.StrategyFullText.
func (s *FullTextStrategy) Name() model.StrategyName {
	return model.StrategyFullText
}

// Search scans the tenant's live items for the query phrase.
func (s *FullTextStrategy) Search(ctx context.Context, q *Query, limit int) ([]model.SearchResult, error) {
	var phrases [][]string
	for _, p := range text.QuotedPhrases(q.Text) {
		if tokens := text.Tokenize(p); len(tokens) > 0 {
			phrases = append(phrases, tokens)
		}
	}
	if len(phrases) == 0 {
		if tokens := text.Tokenize(q.Text); len(tokens) > 0 {
			phrases = append(phrases, tokens)
		}
	}
	if len(phrases) == 0 {
		return nil, nil
	}
	terms := text.Terms(q.Text)
	if len(terms) == 0 {
		terms = text.Tokenize(q.Text)
	}

	items, err := corpus(ctx, s.items, q.TenantID)
	if err != nil {
		return nil, fmt.Errorf("fulltext search: %w", err)
	}

	var results []model.SearchResult
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc := text.Tokenize(item.Content)
		score := phraseScore(doc, phrases, terms)
		if score > 0 {
			results = append(results, model.SearchResult{ItemID: item.ID, Score: score, Strategy: model.StrategyFullText})
		}
	}
	return sortResults(results, limit), nil
}

func phraseScore(doc []string, phrases [][]string, terms []string) float64 {
	exact := true
	for _, p := range phrases {
		if !containsSequence(doc, p) {
			exact = false
			break
		}
	}
	if exact {
		return 1
	}

	span, ok := inOrderSpan(doc, terms)
	if !ok {
		return 0
	}
	return 0.5 + 0.4*float64(len(terms))/float64(span)
}

// containsSequence reports whether seq occurs contiguously in doc.
func containsSequence(doc, seq []string) bool {
	if len(seq) == 0 || len(seq) > len(doc) {
		return false
	}
outer:
	for i := 0; i+len(seq) <= len(doc); i++ {
		for j, t := range seq {
			if doc[i+j] != t {
				continue outer
			}
		}
		return true
	}
	return false
}

// inOrderSpan finds terms as an ordered subsequence of doc and returns the
// length of the shortest window holding them.
func inOrderSpan(doc, terms []string) (int, bool) {
	if len(terms) == 0 {
		return 0, false
	}
	best := 0
	for start := range doc {
		if doc[start] != terms[0] {
			continue
		}
		k, end := 1, start
		for i := start + 1; i < len(doc) && k < len(terms); i++ {
			if doc[i] == terms[k] {
				k++
				end = i
			}
		}
		if k < len(terms) {
			break
		}
		if span := end - start + 1; best == 0 || span < best {
			best = span
		}
	}
	return best, best > 0
}

func uniqueTerms(terms []string) []string {
	seen := make(map[string]struct{}, len(terms))
	out := terms[:0]
	for _, t := range terms {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// corpus lists every live item of the tenant.
func corpus(ctx context.Context, items ItemSource, tenantID string) ([]*model.MemoryItem, error) {
	return items.List(ctx, tenantID, storage.ListOptions{})
}
