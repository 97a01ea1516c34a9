package primitives

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/blobcache/blobcache/internal/cacheerr"
)

// AsyncMutex is a non-reentrant, FIFO-fair, cancellable mutex. Unlike
// sync.Mutex, Acquire suspends the calling goroutine cooperatively and
// honors ctx cancellation instead of blocking uninterruptibly — see
// spec.md §4.1 and the cancellation discipline in §9 ("require a
// cancellable wait primitive; do not poll").
type AsyncMutex struct {
	mu      sync.Mutex
	locked  bool
	waiters list.List // of *waiter
}

type waiter struct {
	ch   chan struct{}
	elem *list.Element
}

// LockHandle represents ownership of an AsyncMutex acquired via Acquire.
// Release is idempotent: calling it more than once has no effect beyond
// the first call.
type LockHandle struct {
	m        *AsyncMutex
	released atomic.Bool
}

// NewAsyncMutex returns an unlocked AsyncMutex.
func NewAsyncMutex() *AsyncMutex {
	return &AsyncMutex{}
}

// Acquire blocks until the mutex is held by the caller or ctx is done. A
// waiter cancelled before it acquires is removed from the FIFO queue; its
// cancellation does not affect fairness or liveness for the remaining
// waiters. The only failure mode is cacheerr.ErrCancelled.
func (m *AsyncMutex) Acquire(ctx context.Context) (*LockHandle, error) {
	m.mu.Lock()
	if !m.locked {
		m.locked = true
		m.mu.Unlock()
		return &LockHandle{m: m}, nil
	}

	w := &waiter{ch: make(chan struct{})}
	w.elem = m.waiters.PushBack(w)
	m.mu.Unlock()

	select {
	case <-w.ch:
		return &LockHandle{m: m}, nil
	case <-ctx.Done():
		m.mu.Lock()
		if w.elem != nil {
			m.waiters.Remove(w.elem)
			w.elem = nil
			m.mu.Unlock()
			return nil, cacheerr.ErrCancelled
		}
		// Release already popped this waiter and is in the process of
		// closing w.ch — the handoff cannot be undone, so honor it
		// rather than reporting cancellation for a lock we now own.
		m.mu.Unlock()
		<-w.ch
		return &LockHandle{m: m}, nil
	}
}

// Release hands the mutex to the next FIFO waiter, or marks it free if
// none are waiting. The handoff happens atomically with respect to
// observers: the mutex is never briefly unowned while a waiter exists.
// Release is idempotent on a given handle; release never fails.
func (m *AsyncMutex) Release(h *LockHandle) {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	front := m.waiters.Front()
	if front == nil {
		m.locked = false
		m.mu.Unlock()
		return
	}
	w := m.waiters.Remove(front).(*waiter)
	w.elem = nil
	m.mu.Unlock()
	close(w.ch)
}
