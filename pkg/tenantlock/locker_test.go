package tenantlock_test

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/recall-go/pkg/model"
	"github.com/oceanbase/recall-go/pkg/tenantlock"
)

func TestTryLock(t *testing.T) {
	l := tenantlock.New()

	unlock, err := l.TryLock("consolidate", "t1")
	require.NoError(t, err)
	assert.True(t, l.Held("consolidate", "t1"))

	_, err = l.TryLock("consolidate", "t1")
	assert.ErrorIs(t, err, model.ErrTenantBusy)

	// Other tenants and other jobs are independent.
	other, err := l.TryLock("consolidate", "t2")
	require.NoError(t, err)
	defer other()
	reflect, err := l.TryLock("reflect", "t1")
	require.NoError(t, err)
	defer reflect()

	unlock()
	unlock()
	assert.False(t, l.Held("consolidate", "t1"))

	again, err := l.TryLock("consolidate", "t1")
	require.NoError(t, err)
	again()
}

func TestTryLockConcurrent(t *testing.T) {
	l := tenantlock.New()
	var acquired int32
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if _, err := l.TryLock("decay", "t1"); err == nil {
				atomic.AddInt32(&acquired, 1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int32(1), acquired)
}
