package layers

import (
	"time"

	"go.uber.org/zap"

	"github.com/oceanbase/recall-go/pkg/embedder"
	"github.com/oceanbase/recall-go/pkg/intelligence"
	"github.com/oceanbase/recall-go/pkg/observability"
	"github.com/oceanbase/recall-go/pkg/storage"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

// Option is a function type for configuring a Manager.
type Option func(*Manager)

// WithVectorIndex enables embedding generation into index.
// Embeddings are only produced when an embedder is configured too.
func WithVectorIndex(index storage.VectorIndex) Option {
	return func(m *Manager) {
		m.index = index
	}
}

// WithEmbedder sets the embedding provider used by the background workers.
func WithEmbedder(p embedder.Provider) Option {
	return func(m *Manager) {
		m.embedder = p
	}
}

// WithScorer replaces the default rule-based scorer.
func WithScorer(s *intelligence.Scorer) Option {
	return func(m *Manager) {
		m.scorer = s
	}
}

// WithLocker shares a tenant locker with other background jobs.
func WithLocker(l *tenantlock.Locker) Option {
	return func(m *Manager) {
		m.locks = l
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) {
		m.logger = observability.OrNop(l)
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(metrics *observability.Metrics) Option {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

// WithClock overrides the time source. Tests use it to age items.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}
