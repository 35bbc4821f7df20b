// Package tenantlock provides per-tenant advisory locks for background jobs.
package tenantlock

import (
	"fmt"
	"sync"

	"github.com/oceanbase/recall-go/pkg/model"
)

// Locker hands out at most one lock per (job, tenant) key.
//
// Locks are not reentrant. A second TryLock on a held key fails immediately
// with model.ErrTenantBusy instead of waiting.
type Locker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// New creates an empty Locker.
func New() *Locker {
	return &Locker{held: make(map[string]struct{})}
}

// TryLock acquires the lock for job on tenantID and returns its release func.
func (l *Locker) TryLock(job, tenantID string) (func(), error) {
	key := job + "/" + tenantID

	l.mu.Lock()
	defer l.mu.Unlock()

	if _, busy := l.held[key]; busy {
		return nil, fmt.Errorf("%s for tenant %s: %w", job, tenantID, model.ErrTenantBusy)
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

// Held reports whether the lock for job on tenantID is currently held.
func (l *Locker) Held(job, tenantID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[job+"/"+tenantID]
	return ok
}
