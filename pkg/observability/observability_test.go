package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"

	"github.com/oceanbase/recall-go/pkg/observability"
)

func TestNewLogger(t *testing.T) {
	logger, err := observability.NewLogger(observability.LogConfig{Level: "debug", Development: true})
	require.NoError(t, err)
	assert.NotNil(t, logger)

	_, err = observability.NewLogger(observability.LogConfig{Level: "loud"})
	assert.Error(t, err)

	assert.NotNil(t, observability.OrNop(nil))
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *observability.Metrics
	m.ObserveSearch("ok", time.Millisecond)
	m.ObserveStrategy("vector", "timeout", time.Millisecond)
	m.ObserveContext(10, 1)
	m.AddTransitions("promoted", 1)
	m.ObserveJob("consolidate", "ok", 2)
	m.AddReflections("stored", 1)
	m.ObserveGraphCommit("committed", 0.1)
	assert.Nil(t, m.Registry())
}

func TestMetricsCollect(t *testing.T) {
	m := observability.NewMetrics()
	m.ObserveSearch("ok", time.Millisecond)
	m.ObserveSearch("degraded", time.Millisecond)
	m.AddTransitions("promoted", 3)

	families, err := m.Registry().Gather()
	require.NoError(t, err)

	series := map[string]int{}
	for _, f := range families {
		series[f.GetName()] = len(f.GetMetric())
	}
	assert.Equal(t, 2, series["recall_search_requests_total"])
	assert.Equal(t, 1, series["recall_layers_transitions_total"])
	assert.NotContains(t, series, "recall_reflection_reflections_total")
}

func TestSpanHelpers(t *testing.T) {
	ctx, span := observability.StartSpan(context.Background(), "test", attribute.String("tenant_id", "t1"))
	assert.NotNil(t, ctx)
	observability.EndSpan(span, errors.New("boom"))
}
