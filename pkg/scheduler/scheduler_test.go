package scheduler_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/graph"
	"github.com/oceanbase/recall-go/pkg/layers"
	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/reflection"
	"github.com/oceanbase/recall-go/pkg/scheduler"
)

type recorder struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error
}

func (r *recorder) record(job, tenantID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, job+"/"+tenantID)
	return r.fail[tenantID]
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) Consolidate(_ context.Context, tenantID string) (*layers.ConsolidationReport, error) {
	return &layers.ConsolidationReport{TenantID: tenantID}, r.record("consolidate", tenantID)
}

func (r *recorder) RunDecay(_ context.Context, tenantID string) (*layers.DecayReport, error) {
	return &layers.DecayReport{TenantID: tenantID}, r.record("decay", tenantID)
}

func (r *recorder) Run(_ context.Context, tenantID string) (*reflection.Report, error) {
	return &reflection.Report{TenantID: tenantID}, r.record("reflect", tenantID)
}

func (r *recorder) DecayEdges(_ context.Context, tenantID string) (*graph.Delta, error) {
	return &graph.Delta{}, r.record("decay_edges", tenantID)
}

func (r *recorder) RecomputeCentrality(_ context.Context, tenantID string) (*graph.Delta, error) {
	return &graph.Delta{}, r.record("centrality", tenantID)
}

func tenants(ids ...string) scheduler.TenantSource {
	return func(context.Context) ([]string, error) { return ids, nil }
}

func TestRunOnceCoversEveryTenant(t *testing.T) {
	rec := &recorder{}
	s, err := scheduler.New(scheduler.Config{}, tenants("t2", "t1", "t1"), scheduler.WithLayers(rec))
	require.NoError(t, err)

	sum, err := s.RunOnce(context.Background(), scheduler.JobConsolidate)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Tenants)
	assert.Zero(t, sum.Busy)
	assert.Empty(t, sum.Errors)
	assert.ElementsMatch(t, []string{"consolidate/t1", "consolidate/t2"}, rec.Calls())
}

func TestRunOnceCollectsTenantFailures(t *testing.T) {
	rec := &recorder{fail: map[string]error{
		"busy":   fmt.Errorf("reflect for tenant busy: %w", model.ErrTenantBusy),
		"broken": model.ErrBackendUnavailable,
	}}
	s, err := scheduler.New(scheduler.Config{}, tenants("ok", "busy", "broken"), scheduler.WithReflection(rec))
	require.NoError(t, err)

	sum, err := s.RunOnce(context.Background(), scheduler.JobReflect)
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Tenants)
	assert.Equal(t, 1, sum.Busy)
	require.Len(t, sum.Errors, 1)
	assert.ErrorIs(t, sum.Errors[0], model.ErrBackendUnavailable)
	assert.Contains(t, sum.Errors[0].Error(), "tenant broken")
}

func TestGraphJobDecaysThenRecomputes(t *testing.T) {
	rec := &recorder{}
	s, err := scheduler.New(scheduler.Config{}, tenants("t1"), scheduler.WithGraph(rec))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), scheduler.JobGraph)
	require.NoError(t, err)
	assert.Equal(t, []string{"decay_edges/t1", "centrality/t1"}, rec.Calls())
}

func TestRunOnceRejectsUnconfiguredJob(t *testing.T) {
	s, err := scheduler.New(scheduler.Config{}, tenants("t1"), scheduler.WithLayers(&recorder{}))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), scheduler.JobReflect)
	assert.ErrorIs(t, err, model.ErrValidation)
	_, err = s.RunOnce(context.Background(), "vacuum")
	assert.ErrorIs(t, err, model.ErrValidation)
}

func TestRunOnceFailsWhenTenantsCannotBeListed(t *testing.T) {
	s, err := scheduler.New(scheduler.Config{}, func(context.Context) ([]string, error) {
		return nil, errors.New("registry down")
	}, scheduler.WithLayers(&recorder{}))
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background(), scheduler.JobDecay)
	assert.Error(t, err)
}

func TestNewSchedulesConfiguredJobs(t *testing.T) {
	rec := &recorder{}
	s, err := scheduler.New(scheduler.Config{DecaySpec: scheduler.Disabled}, tenants(),
		scheduler.WithLayers(rec), scheduler.WithGraph(rec))
	require.NoError(t, err)
	assert.Equal(t, []string{scheduler.JobConsolidate, scheduler.JobGraph}, s.Scheduled())

	s.Start()
	assert.False(t, s.Next(scheduler.JobConsolidate).IsZero())
	assert.True(t, s.Next(scheduler.JobReflect).IsZero())
	<-s.Stop().Done()
}

func TestNewRejectsBadSpec(t *testing.T) {
	_, err := scheduler.New(scheduler.Config{ConsolidateSpec: "every now and then"}, tenants(), scheduler.WithLayers(&recorder{}))
	assert.ErrorIs(t, err, model.ErrInvalidConfig)

	_, err = scheduler.New(scheduler.Config{}, nil)
	assert.ErrorIs(t, err, model.ErrInvalidConfig)
}
