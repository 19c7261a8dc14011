// Package syncx provides small synchronization primitives missing from the
// standard library.
package syncx

import (
	"context"
	"sync"
)

// FIFOMutex is a mutual-exclusion lock that admits waiters in strict arrival
// order. sync.Mutex makes no ordering promise, which is not good enough for
// the patch queues: concurrent local mutations must reach the backend in
// submission order.
//
// The zero value is ready to use.
type FIFOMutex struct {
	mu   sync.Mutex
	tail chan struct{} // closed by the current tail holder on release
}

// Lock blocks until the lock is acquired or ctx is done. On success it
// returns a release function, which must be called exactly once. On context
// cancellation the reserved queue slot is still honored: the slot is released
// in the background once its turn comes, so later waiters are not stranded.
func (m *FIFOMutex) Lock(ctx context.Context) (release func(), err error) {
	me := make(chan struct{})

	m.mu.Lock()
	prev := m.tail
	m.tail = me
	m.mu.Unlock()

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Pass the turn along when it arrives; the caller never held
			// the lock, so there is nothing for it to release.
			go func() {
				<-prev
				close(me)
			}()
			return nil, ctx.Err()
		}
	}

	var once sync.Once
	return func() {
		once.Do(func() { close(me) })
	}, nil
}
