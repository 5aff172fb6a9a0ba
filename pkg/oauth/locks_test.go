package oauth

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/beam-cloud/mailsync/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMutualExclusion(t *testing.T, table LockTable) {
	t.Helper()

	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := table.Acquire(context.Background(), "credential:1")
			if !assert.NoError(t, err) {
				return
			}
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inside.Add(-1)
			release()
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxInside.Load())
}

func TestLocalLockTableExclusive(t *testing.T) {
	assertMutualExclusion(t, NewLocalLockTable())
}

func TestLocalLockTableContextCancel(t *testing.T) {
	table := NewLocalLockTable()
	release, err := table.Acquire(context.Background(), "k")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = table.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release() // idempotent

	release, err = table.Acquire(context.Background(), "k")
	require.NoError(t, err)
	release()
	assert.Empty(t, table.locks)
}

func TestLocalLockTableIndependentKeys(t *testing.T) {
	table := NewLocalLockTable()
	a, err := table.Acquire(context.Background(), "a")
	require.NoError(t, err)
	defer a()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	b, err := table.Acquire(ctx, "b")
	require.NoError(t, err)
	b()
}

func TestRedisLockTableExclusive(t *testing.T) {
	rdb, err := repository.NewRedisClientForTest()
	require.NoError(t, err)
	assertMutualExclusion(t, NewRedisLockTable(rdb, 5*time.Second))
}
