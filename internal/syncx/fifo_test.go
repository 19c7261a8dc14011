package syncx

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFIFOMutex_MutualExclusion(t *testing.T) {
	var m FIFOMutex
	var held bool
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := m.Lock(context.Background())
			require.NoError(t, err)
			defer release()

			require.False(t, held)
			held = true
			time.Sleep(time.Millisecond)
			held = false
		}()
	}
	wg.Wait()
}

func TestFIFOMutex_ArrivalOrder(t *testing.T) {
	var m FIFOMutex
	ctx := context.Background()

	// Hold the lock while the waiters queue up one at a time, so their
	// arrival order is deterministic.
	gate, err := m.Lock(ctx)
	require.NoError(t, err)

	const n = 8
	var mu sync.Mutex
	var order []int
	started := make(chan struct{})
	var wg sync.WaitGroup

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			started <- struct{}{}
			release, err := m.Lock(ctx)
			require.NoError(t, err)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			release()
		}(i)
		<-started
		// Give the goroutine time to reach Lock and enqueue.
		time.Sleep(5 * time.Millisecond)
	}

	gate()
	wg.Wait()

	for i := 0; i < n; i++ {
		assert.Equal(t, i, order[i], "waiter %d served out of order: %v", i, order)
	}
}

func TestFIFOMutex_CancelDoesNotStrandQueue(t *testing.T) {
	var m FIFOMutex

	release, err := m.Lock(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = m.Lock(ctx)
	require.ErrorIs(t, err, context.Canceled)

	release()

	// The canceled waiter's slot must not block subsequent acquisitions.
	ctx2, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	release2, err := m.Lock(ctx2)
	require.NoError(t, err)
	release2()
}

func TestFIFOMutex_ReleaseIdempotent(t *testing.T) {
	var m FIFOMutex
	release, err := m.Lock(context.Background())
	require.NoError(t, err)
	release()
	release() // second call is a no-op

	release2, err := m.Lock(context.Background())
	require.NoError(t, err)
	release2()
}
