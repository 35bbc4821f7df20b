package core

import (
	"context"
	"sync"

	"github.com/oceanbase/recall-go/pkg/model"
)

// tenantRegistry remembers the tenants the scheduler maintains: the
// configured ones, the ones written through this client and the ones with a
// loaded graph.
type tenantRegistry struct {
	mu      sync.RWMutex
	tenants map[string]struct{}
	extra   func() []string
}

func newTenantRegistry(seed []string, extra func() []string) *tenantRegistry {
	r := &tenantRegistry{tenants: make(map[string]struct{}), extra: extra}
	for _, id := range seed {
		r.add(id)
	}
	return r
}

func (r *tenantRegistry) add(tenantID string) {
	if tenantID == "" {
		return
	}
	r.mu.RLock()
	_, ok := r.tenants[tenantID]
	r.mu.RUnlock()
	if ok {
		return
	}
	r.mu.Lock()
	r.tenants[tenantID] = struct{}{}
	r.mu.Unlock()
}

// list implements scheduler.TenantSource.
func (r *tenantRegistry) list(context.Context) ([]string, error) {
	r.mu.RLock()
	out := make([]string, 0, len(r.tenants))
	for id := range r.tenants {
		out = append(out, id)
	}
	r.mu.RUnlock()
	if r.extra != nil {
		out = append(out, r.extra()...)
	}
	return model.NormalizeSet(out), nil
}
