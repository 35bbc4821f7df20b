package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "recall"

// Metrics holds the Prometheus collectors for recall.
//
// All methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	registry *prometheus.Registry

	searchRequests   *prometheus.CounterVec
	searchDuration   prometheus.Histogram
	strategyDuration *prometheus.HistogramVec
	strategyFailures *prometheus.CounterVec

	contextTokens   prometheus.Histogram
	contextSelected prometheus.Histogram

	layerTransitions *prometheus.CounterVec
	jobRuns          *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec

	reflections *prometheus.CounterVec

	graphCommits *prometheus.CounterVec
	graphChurn   prometheus.Gauge
}

// NewMetrics creates the collectors and registers them on a dedicated registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		searchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Hybrid search requests by result status.",
		}, []string{"status"}),
		searchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "End-to-end hybrid search latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		strategyDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "strategy_duration_seconds",
			Help:      "Per-strategy retrieval latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"strategy"}),
		strategyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "strategy_failures_total",
			Help:      "Strategy failures by reason (error, timeout, breaker_open).",
		}, []string{"strategy", "reason"}),
		contextTokens: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "tokens_used",
			Help:      "Tokens used by assembled working contexts.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		contextSelected: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "context",
			Name:      "selected_items",
			Help:      "Items selected into assembled working contexts.",
			Buckets:   prometheus.LinearBuckets(0, 5, 10),
		}),
		layerTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "layers",
			Name:      "transitions_total",
			Help:      "Item lifecycle transitions (promoted, pruned, decayed).",
		}, []string{"action"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Background job runs by job and outcome.",
		}, []string{"job", "outcome"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "jobs",
			Name:      "item_errors_total",
			Help:      "Per-item failures reported by background jobs.",
		}, []string{"job"}),
		reflections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reflection",
			Name:      "reflections_total",
			Help:      "Reflections by outcome (stored, duplicate, failed).",
		}, []string{"outcome"}),
		graphCommits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "commits_total",
			Help:      "Graph snapshot commits by result (committed, conflict, error).",
		}, []string{"result"}),
		graphChurn: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "graph",
			Name:      "churn_rate",
			Help:      "Churn rate of the most recent graph update window.",
		}),
	}

	m.registry.MustRegister(
		m.searchRequests, m.searchDuration, m.strategyDuration, m.strategyFailures,
		m.contextTokens, m.contextSelected,
		m.layerTransitions, m.jobRuns, m.jobErrors,
		m.reflections, m.graphCommits, m.graphChurn,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveSearch records a finished search.
func (m *Metrics) ObserveSearch(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.searchRequests.WithLabelValues(status).Inc()
	m.searchDuration.Observe(d.Seconds())
}

// ObserveStrategy records a strategy run; reason is "" on success.
func (m *Metrics) ObserveStrategy(strategy, reason string, d time.Duration) {
	if m == nil {
		return
	}
	m.strategyDuration.WithLabelValues(strategy).Observe(d.Seconds())
	if reason != "" {
		m.strategyFailures.WithLabelValues(strategy, reason).Inc()
	}
}

// ObserveContext records an assembled context.
func (m *Metrics) ObserveContext(tokens, selected int) {
	if m == nil {
		return
	}
	m.contextTokens.Observe(float64(tokens))
	m.contextSelected.Observe(float64(selected))
}

// AddTransitions counts n lifecycle transitions of the given action.
func (m *Metrics) AddTransitions(action string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.layerTransitions.WithLabelValues(action).Add(float64(n))
}

// ObserveJob records a background job run and its per-item errors.
func (m *Metrics) ObserveJob(job, outcome string, itemErrors int) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job, outcome).Inc()
	if itemErrors > 0 {
		m.jobErrors.WithLabelValues(job).Add(float64(itemErrors))
	}
}

// AddReflections counts n reflections with the given outcome.
func (m *Metrics) AddReflections(outcome string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.reflections.WithLabelValues(outcome).Add(float64(n))
}

// ObserveGraphCommit records a graph commit result and the resulting churn rate.
func (m *Metrics) ObserveGraphCommit(result string, churn float64) {
	if m == nil {
		return
	}
	m.graphCommits.WithLabelValues(result).Inc()
	if result == "committed" {
		m.graphChurn.Set(churn)
	}
}
