package opqueue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/future"
	"github.com/blobcache/blobcache/internal/store"
)

// queueTracer is the OTel tracer for coalesced-batch spans. It uses
// whatever global TracerProvider is installed, which is a no-op until
// one is configured via WithTracerProvider.
var queueTracer = otel.Tracer("github.com/blobcache/blobcache/opqueue")

var queueMetrics struct {
	batchSize    metric.Int64Histogram
	itemsPerOp   metric.Int64Counter
	retryCount   metric.Int64Counter
}

func init() {
	m := otel.Meter("github.com/blobcache/blobcache/opqueue")
	queueMetrics.batchSize, _ = m.Int64Histogram("blobcache.opqueue.batch_size",
		metric.WithDescription("Number of original operations folded into one executed batch"),
		metric.WithUnit("{operation}"),
	)
	queueMetrics.itemsPerOp, _ = m.Int64Counter("blobcache.opqueue.items_total",
		metric.WithDescription("Operations accepted by the queue, by kind"),
		metric.WithUnit("{operation}"),
	)
	queueMetrics.retryCount, _ = m.Int64Counter("blobcache.opqueue.retry_count",
		metric.WithDescription("Batch executions retried due to a transient storage error"),
		metric.WithUnit("{retry}"),
	)
}

// state is the queue's lifecycle — spec.md §4.7: Open accepts new
// operations; Draining has stopped accepting new operations and is
// working through its backlog plus a trailing fence; Closed means the
// executor has been released and every future has resolved.
type state int32

const (
	stateOpen state = iota
	stateDraining
	stateClosed
)

// Queue sits in front of an Executor, coalescing concurrently enqueued
// operations and running them one batch at a time on a single runner
// goroutine so the backing connection never sees overlapping writers.
type Queue struct {
	exec   Executor
	log    *slog.Logger
	idle   time.Duration // batching window: how long to let a burst accumulate
	maxRun time.Duration // backoff ceiling per batch

	mu      sync.Mutex
	state   state
	pending []*item
	wake    chan struct{}
	closed  chan struct{} // closed once the runner has exited

	drainFence *future.Future[struct{}]
}

// Option configures a Queue at construction time.
type Option func(*Queue)

// WithIdleWindow overrides the default 100ms batching window used to let
// a burst of concurrently enqueued operations accumulate before the
// runner snapshots and coalesces them.
func WithIdleWindow(d time.Duration) Option {
	return func(q *Queue) { q.idle = d }
}

// WithRetryBudget bounds how long a single batch may spend retrying a
// transient storage error before giving up.
func WithRetryBudget(d time.Duration) Option {
	return func(q *Queue) { q.maxRun = d }
}

// WithLogger installs a structured logger for runner-level diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) {
		if l != nil {
			q.log = l
		}
	}
}

// New starts a Queue with its runner goroutine, executing batches
// against exec.
func New(exec Executor, opts ...Option) *Queue {
	q := &Queue{
		exec:   exec,
		log:    slog.Default(),
		idle:   100 * time.Millisecond,
		maxRun: 30 * time.Second,
		wake:   make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(q)
	}
	go q.run()
	return q
}

func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// enqueue appends it to the pending list if the queue is still open,
// otherwise fails it immediately with ErrAlreadyDisposed — distinct from
// the silent-drop behavior of primitives.KeyedOperationQueue, since an
// opqueue caller is waiting on a Future that must resolve.
func (q *Queue) enqueue(it *item) bool {
	q.mu.Lock()
	if q.state != stateOpen {
		q.mu.Unlock()
		return false
	}
	q.pending = append(q.pending, it)
	q.mu.Unlock()
	queueMetrics.itemsPerOp.Add(context.Background(), 1, metric.WithAttributes(attribute.String("kind", it.kind.String())))
	q.signal()
	return true
}

// Select enqueues a bulk read of keys.
func (q *Queue) Select(keys []string) *future.Future[[]store.CacheElement] {
	it := &item{kind: KindSelect, keys: keys, selectFut: future.New[[]store.CacheElement]()}
	if !q.enqueue(it) {
		it.selectFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.selectFut
}

// Insert enqueues a bulk write of elems.
func (q *Queue) Insert(elems []store.CacheElement) *future.Future[struct{}] {
	it := &item{kind: KindInsert, elems: elems, writeFut: future.New[struct{}]()}
	if !q.enqueue(it) {
		it.writeFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.writeFut
}

// Invalidate enqueues a bulk removal of keys.
func (q *Queue) Invalidate(keys []string) *future.Future[struct{}] {
	it := &item{kind: KindInvalidate, keys: keys, writeFut: future.New[struct{}]()}
	if !q.enqueue(it) {
		it.writeFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.writeFut
}

// InvalidateAll enqueues a fencing removal of every entry.
func (q *Queue) InvalidateAll() *future.Future[struct{}] {
	it := &item{kind: KindInvalidateAll, writeFut: future.New[struct{}]()}
	if !q.enqueue(it) {
		it.writeFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.writeFut
}

// GetKeys enqueues a fencing enumeration of keys under typeTag.
func (q *Queue) GetKeys(typeTag string) *future.Future[[]string] {
	it := &item{kind: KindGetKeys, typeTag: typeTag, keysFut: future.New[[]string]()}
	if !q.enqueue(it) {
		it.keysFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.keysFut
}

// Vacuum enqueues a fencing compaction pass.
func (q *Queue) Vacuum() *future.Future[struct{}] {
	it := &item{kind: KindVacuum, writeFut: future.New[struct{}]()}
	if !q.enqueue(it) {
		it.writeFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.writeFut
}

// Flush enqueues a no-op fence and resolves once every operation
// enqueued before this call has executed — invariant I6.
func (q *Queue) Flush() *future.Future[struct{}] {
	it := &item{kind: KindFence, writeFut: future.New[struct{}]()}
	if !q.enqueue(it) {
		it.writeFut.Fail(cacheerr.ErrAlreadyDisposed)
	}
	return it.writeFut
}

// Close transitions the queue to Draining, waits for the backlog plus a
// trailing fence to complete, then stops the runner. Close is idempotent
// and safe to call from any goroutine — invariant I7.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.state != stateOpen {
		fence := q.drainFence
		q.mu.Unlock()
		if fence != nil {
			_, _ = fence.Wait(ctx)
		}
		<-q.closed
		return nil
	}
	q.state = stateDraining
	fence := &item{kind: KindFence, writeFut: future.New[struct{}]()}
	q.pending = append(q.pending, fence)
	q.drainFence = fence.writeFut
	q.mu.Unlock()

	q.signal()
	_, err := fence.writeFut.Wait(ctx)
	<-q.closed
	return err
}

// run is the single runner goroutine: it snapshots pending items after a
// short idle window (to let a burst batch together), coalesces them, and
// executes each resulting batch in original order.
func (q *Queue) run() {
	defer close(q.closed)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && q.state == stateOpen {
			q.mu.Unlock()
			<-q.wake
			q.mu.Lock()
		}
		if len(q.pending) == 0 {
			draining := q.state == stateDraining
			q.mu.Unlock()
			if draining {
				q.mu.Lock()
				q.state = stateClosed
				q.mu.Unlock()
			}
			return
		}
		q.mu.Unlock()

		if q.state == stateOpen {
			time.Sleep(q.idle)
		}

		q.mu.Lock()
		batchItems := q.pending
		q.pending = nil
		q.mu.Unlock()

		for _, b := range coalesce(batchItems) {
			queueMetrics.batchSize.Record(context.Background(), int64(len(b.items)))
			q.execute(b)
		}
	}
}

func (q *Queue) execute(b *batch) {
	ctx, span := queueTracer.Start(context.Background(), "opqueue.execute",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("blobcache.batch.kind", b.kind.String()),
			attribute.Int("blobcache.batch.fanin", len(b.items)),
		),
	)
	defer func() {
		if r := recover(); r != nil {
			err := cacheerr.Wrapf(cacheerr.ErrStorageFailed, "opqueue: batch %s panicked: %v", b.kind, r)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			q.resolveAll(b, err)
			q.log.Error("opqueue batch panicked", "kind", b.kind.String(), "panic", r)
		}
	}()

	var err error
	switch b.kind {
	case KindSelect:
		var elems []store.CacheElement
		err = q.withRetry(ctx, func() error {
			var execErr error
			elems, execErr = q.exec.ExecSelect(ctx, b.keys)
			return execErr
		})
		q.finishSelect(b, elems, err)
		span.SetStatus(statusOf(err))
		span.End()
		return
	case KindInsert:
		err = q.withRetry(ctx, func() error { return q.exec.ExecInsert(ctx, b.elems) })
	case KindInvalidate:
		err = q.withRetry(ctx, func() error { return q.exec.ExecInvalidate(ctx, b.keys) })
	case KindInvalidateAll:
		err = q.withRetry(ctx, func() error { return q.exec.ExecInvalidateAll(ctx) })
	case KindGetKeys:
		var keys []string
		err = q.withRetry(ctx, func() error {
			var execErr error
			keys, execErr = q.exec.ExecGetKeys(ctx, b.typeTag)
			return execErr
		})
		for _, it := range b.items {
			if err != nil {
				it.keysFut.Fail(cacheerr.Wrap("opqueue.get_keys", err))
			} else {
				it.keysFut.Succeed(keys)
			}
		}
		span.SetStatus(statusOf(err))
		span.End()
		return
	case KindVacuum:
		err = q.withRetry(ctx, func() error { return q.exec.ExecVacuum(ctx) })
	case KindFence:
		// no-op: fences exist only to force ordering.
	}
	span.SetStatus(statusOf(err))
	span.End()
	q.fail(b, err)
}

// fail resolves every write-style item in b with err (nil means success).
func (q *Queue) fail(b *batch, err error) {
	for _, it := range b.items {
		if it.writeFut == nil {
			continue
		}
		if err != nil {
			it.writeFut.Fail(cacheerr.Wrap("opqueue."+b.kind.String(), err))
		} else {
			it.writeFut.Succeed(struct{}{})
		}
	}
}

// resolveAll fails every item in b regardless of kind — used when a batch
// panicked, so Select/GetKeys callers are never left waiting forever.
func (q *Queue) resolveAll(b *batch, err error) {
	for _, it := range b.items {
		switch {
		case it.selectFut != nil:
			it.selectFut.Fail(err)
		case it.keysFut != nil:
			it.keysFut.Fail(err)
		case it.writeFut != nil:
			it.writeFut.Fail(err)
		}
	}
}

func (q *Queue) finishSelect(b *batch, elems []store.CacheElement, err error) {
	if err != nil {
		wrapped := cacheerr.Wrap("opqueue.select", err)
		for _, it := range b.items {
			it.selectFut.Fail(wrapped)
		}
		return
	}
	byKey := make(map[string]store.CacheElement, len(elems))
	for _, e := range elems {
		byKey[store.EncodeKey(e.TypeTag, e.Key)] = e
	}
	for _, it := range b.items {
		subset := make([]store.CacheElement, 0, len(it.keys))
		for _, k := range it.keys {
			if e, ok := byKey[k]; ok {
				subset = append(subset, e)
			}
		}
		it.selectFut.Succeed(subset)
	}
}

func statusOf(err error) (codes.Code, string) {
	if err != nil {
		return codes.Error, err.Error()
	}
	return codes.Ok, ""
}

// withRetry runs fn with exponential backoff, classifying errors via
// cacheerr.Retryable: anything not recognized as a transient storage
// condition is treated as permanent and returned immediately.
func (q *Queue) withRetry(ctx context.Context, fn func() error) error {
	attempts := 0
	bo := backoff.WithContext(newBatchBackoff(q.maxRun), ctx)
	err := backoff.Retry(func() error {
		attempts++
		fnErr := fn()
		if fnErr != nil && cacheerr.Retryable(fnErr) {
			return fnErr
		}
		if fnErr != nil {
			return backoff.Permanent(fnErr)
		}
		return nil
	}, bo)
	if attempts > 1 {
		queueMetrics.retryCount.Add(ctx, int64(attempts-1))
	}
	return err
}

func newBatchBackoff(maxElapsed time.Duration) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed
	return bo
}
