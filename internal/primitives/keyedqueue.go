package primitives

import (
	"context"
	"fmt"
	"sync"

	"github.com/blobcache/blobcache/internal/future"
)

// KeyedOperationQueue serializes work per key while letting different
// keys run concurrently. Per-key sub-queues are created lazily on first
// use and retired once drained — see spec.md §4.2.
//
// Design decision preserved from the source system: Enqueue calls that
// arrive after Shutdown complete immediately without running work, and
// yield an empty sequence, rather than failing with ErrAlreadyDisposed.
// spec.md §9 flags this as an open question for reviewers; this
// implementation keeps the source behavior until a reviewer decides
// otherwise.
type KeyedOperationQueue struct {
	mu      sync.Mutex
	queues  map[string]*keyQueue
	closed  bool
	pending sync.WaitGroup
}

type keyQueue struct {
	mu      sync.Mutex
	items   []func(context.Context)
	running bool
}

// NewKeyedOperationQueue returns an open queue with no per-key state.
func NewKeyedOperationQueue() *KeyedOperationQueue {
	return &KeyedOperationQueue{queues: make(map[string]*keyQueue)}
}

// Enqueue schedules work under key and returns a Future delivering its
// result. For a given key, work enqueued earlier always runs to
// completion before work enqueued later. Work enqueued under different
// keys may run concurrently.
func Enqueue[T any](q *KeyedOperationQueue, key string, work func(ctx context.Context) ([]T, error)) *future.Future[[]T] {
	fut := future.New[[]T]()
	q.submit(key, func(ctx context.Context) {
		defer func() {
			if r := recover(); r != nil {
				fut.Fail(fmt.Errorf("keyed operation panicked: %v", r))
			}
		}()
		res, err := work(ctx)
		if err != nil {
			fut.Fail(err)
			return
		}
		fut.Succeed(res)
	}, func() {
		fut.Succeed(nil)
	})
	return fut
}

func (q *KeyedOperationQueue) submit(key string, run func(context.Context), onDisposed func()) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		onDisposed()
		return
	}
	kq, ok := q.queues[key]
	if !ok {
		kq = &keyQueue{}
		q.queues[key] = kq
	}
	q.mu.Unlock()

	kq.mu.Lock()
	kq.items = append(kq.items, run)
	start := !kq.running
	if start {
		kq.running = true
	}
	kq.mu.Unlock()

	q.pending.Add(1)
	if start {
		go q.runKey(key, kq)
	}
	// If a runner is already active for this key, it will drain the item
	// we just appended without any further action here.
}

func (q *KeyedOperationQueue) runKey(key string, kq *keyQueue) {
	ctx := context.Background()
	for {
		kq.mu.Lock()
		if len(kq.items) == 0 {
			kq.running = false
			kq.mu.Unlock()

			q.mu.Lock()
			if cur, ok := q.queues[key]; ok && cur == kq {
				kq.mu.Lock()
				empty := len(kq.items) == 0 && !kq.running
				kq.mu.Unlock()
				if empty {
					delete(q.queues, key)
				}
			}
			q.mu.Unlock()
			return
		}
		item := kq.items[0]
		kq.items = kq.items[1:]
		kq.mu.Unlock()

		item(ctx)
		q.pending.Done()
	}
}

// Shutdown closes the gate against new work and returns a Future that
// resolves once every item enqueued before Shutdown was called has run
// to completion (or panicked and been converted to an error). It is
// safe to call Shutdown more than once.
func (q *KeyedOperationQueue) Shutdown() *future.Future[struct{}] {
	q.mu.Lock()
	alreadyClosed := q.closed
	q.closed = true
	q.mu.Unlock()

	fut := future.New[struct{}]()
	if alreadyClosed {
		fut.Succeed(struct{}{})
		return fut
	}
	go func() {
		q.pending.Wait()
		fut.Succeed(struct{}{})
	}()
	return fut
}
