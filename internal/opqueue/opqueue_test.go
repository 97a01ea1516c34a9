package opqueue

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobcache/blobcache/internal/store"
)

// fakeExecutor records every call it receives so tests can assert on the
// coalesced shape of the work the queue actually issued.
type fakeExecutor struct {
	mu   sync.Mutex
	data map[string]store.CacheElement

	selectCalls       [][]string
	insertCalls       [][]store.CacheElement
	invalidateCalls   [][]string
	invalidateAllCall int
	getKeysCalls      []string
	vacuumCalls       int
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{data: make(map[string]store.CacheElement)}
}

func (f *fakeExecutor) ExecSelect(_ context.Context, keys []string) ([]store.CacheElement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.selectCalls = append(f.selectCalls, append([]string(nil), keys...))
	var out []store.CacheElement
	for _, k := range keys {
		if e, ok := f.data[k]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeExecutor) ExecInsert(_ context.Context, elems []store.CacheElement) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.insertCalls = append(f.insertCalls, append([]store.CacheElement(nil), elems...))
	for _, e := range elems {
		f.data[store.EncodeKey(e.TypeTag, e.Key)] = e
	}
	return nil
}

func (f *fakeExecutor) ExecInvalidate(_ context.Context, keys []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateCalls = append(f.invalidateCalls, append([]string(nil), keys...))
	for _, k := range keys {
		delete(f.data, k)
	}
	return nil
}

func (f *fakeExecutor) ExecInvalidateAll(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidateAllCall++
	f.data = make(map[string]store.CacheElement)
	return nil
}

func (f *fakeExecutor) ExecGetKeys(_ context.Context, typeTag string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getKeysCalls = append(f.getKeysCalls, typeTag)
	var keys []string
	for _, e := range f.data {
		if e.TypeTag == typeTag {
			keys = append(keys, e.Key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *fakeExecutor) ExecVacuum(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vacuumCalls++
	return nil
}

func elem(key string, val byte) store.CacheElement {
	return store.CacheElement{Key: key, Value: []byte{val}}
}

// TestCoalesce_ContiguousSelectRun covers property S3: several Select
// calls for overlapping and distinct keys, with nothing interposing,
// collapse into exactly one Bulk-Select.
func TestCoalesce_ContiguousSelectRun(t *testing.T) {
	items := []*item{
		{kind: KindSelect, keys: []string{"foo"}},
		{kind: KindSelect, keys: []string{"foo"}},
		{kind: KindSelect, keys: []string{"bar"}},
		{kind: KindSelect, keys: []string{"foo"}},
	}
	batches := coalesce(items)
	require.Len(t, batches, 1)
	require.Equal(t, KindSelect, batches[0].kind)
	require.ElementsMatch(t, []string{"foo", "bar"}, batches[0].keys)
	require.Len(t, batches[0].items, 4)
}

// TestCoalesce_InterpolatingWriteForbidsMerge covers scenario S4:
// Select, Insert, Select, Insert on the same key never merges across the
// interposing write, producing four separate batches in original order.
func TestCoalesce_InterpolatingWriteForbidsMerge(t *testing.T) {
	items := []*item{
		{kind: KindSelect, keys: []string{"foo"}},
		{kind: KindInsert, elems: []store.CacheElement{elem("foo", 1)}},
		{kind: KindSelect, keys: []string{"foo"}},
		{kind: KindInsert, elems: []store.CacheElement{elem("foo", 2)}},
	}
	batches := coalesce(items)
	require.Len(t, batches, 4)
	require.Equal(t, []Kind{KindSelect, KindInsert, KindSelect, KindInsert}, []Kind{
		batches[0].kind, batches[1].kind, batches[2].kind, batches[3].kind,
	})
	require.Equal(t, byte(1), batches[1].elems[0].Value[0])
	require.Equal(t, byte(2), batches[3].elems[0].Value[0])
}

// TestCoalesce_DisjointKeysStillMerge: operations on unrelated keys do not
// interpolate each other, so same-kind groups may merge across them even
// though a different kind appears in between in enqueue order.
func TestCoalesce_DisjointKeysStillMerge(t *testing.T) {
	items := []*item{
		{kind: KindSelect, keys: []string{"foo"}},
		{kind: KindInsert, elems: []store.CacheElement{elem("bar", 9)}},
		{kind: KindSelect, keys: []string{"foo"}},
	}
	batches := coalesce(items)
	require.Len(t, batches, 2)
	require.Equal(t, KindSelect, batches[0].kind)
	require.ElementsMatch(t, []string{"foo"}, batches[0].keys)
	require.Len(t, batches[0].items, 2)
	require.Equal(t, KindInsert, batches[1].kind)
}

// TestCoalesce_FenceKindsBlockEverything verifies that a fence kind
// (Vacuum here) acts as a total fence, never merging with neighbors.
func TestCoalesce_FenceKindsBlockEverything(t *testing.T) {
	items := []*item{
		{kind: KindSelect, keys: []string{"a"}},
		{kind: KindVacuum},
		{kind: KindSelect, keys: []string{"a"}},
	}
	batches := coalesce(items)
	require.Len(t, batches, 3)
	require.Equal(t, KindSelect, batches[0].kind)
	require.Equal(t, KindVacuum, batches[1].kind)
	require.Equal(t, KindSelect, batches[2].kind)
}

// TestCoalesce_BulkInsertLaterValueWins: two Inserts of the same key in
// one merged run resolve to the later value, matching serial execution.
func TestCoalesce_BulkInsertLaterValueWins(t *testing.T) {
	items := []*item{
		{kind: KindInsert, elems: []store.CacheElement{elem("k", 1)}},
		{kind: KindInsert, elems: []store.CacheElement{elem("k", 2)}},
	}
	batches := coalesce(items)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].elems, 1)
	require.Equal(t, byte(2), batches[0].elems[0].Value[0])
}

func newTestQueue(exec Executor) *Queue {
	return New(exec, WithIdleWindow(5*time.Millisecond))
}

func TestQueue_SelectAfterInsertSeesValue(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	q := newTestQueue(exec)
	defer q.Close(ctx)

	_, err := q.Insert([]store.CacheElement{elem("k", 7)}).Wait(ctx)
	require.NoError(t, err)

	got, err := q.Select([]string{"k"}).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, byte(7), got[0].Value[0])
}

func TestQueue_ConcurrentOperationsCoalesceAndComplete(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	q := newTestQueue(exec)
	defer q.Close(ctx)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			key := string(rune('a' + i%26))
			_, err := q.Insert([]store.CacheElement{elem(key, byte(i))}).Wait(ctx)
			require.NoError(t, err)
		}()
	}
	wg.Wait()

	keys, err := q.GetKeys("").Wait(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, keys)
}

func TestQueue_FlushWaitsForPriorWrites(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	q := newTestQueue(exec)
	defer q.Close(ctx)

	fut := q.Insert([]store.CacheElement{elem("x", 1)})
	_, err := q.Flush().Wait(ctx)
	require.NoError(t, err)
	select {
	case <-fut.Done():
	default:
		t.Fatal("Flush must not resolve before operations enqueued earlier")
	}
	_, err = fut.Result()
	require.NoError(t, err)
}

func TestQueue_CloseIsIdempotentAndRejectsNewWork(t *testing.T) {
	ctx := context.Background()
	exec := newFakeExecutor()
	q := New(exec, WithIdleWindow(time.Millisecond))

	require.NoError(t, q.Close(ctx))
	require.NoError(t, q.Close(ctx), "Close must be idempotent")

	_, err := q.Insert([]store.CacheElement{elem("k", 1)}).Wait(ctx)
	require.Error(t, err)
}
