// Package opqueue implements the operation queue and coalescer described
// in spec.md §4.7: it accepts per-operation requests, groups them into
// bulk SELECT/INSERT/INVALIDATE/INVALIDATE-ALL/GET-KEYS/VACUUM batches,
// and hands each batch to a storage-agnostic Executor for execution
// inside one transaction.
package opqueue

import (
	"context"

	"github.com/blobcache/blobcache/internal/future"
	"github.com/blobcache/blobcache/internal/store"
)

// Kind identifies one of the six SQL-level bulk operations of spec.md
// §4.6, plus the internal Fence kind used to implement Flush().
type Kind int

const (
	KindSelect Kind = iota
	KindInsert
	KindInvalidate
	KindInvalidateAll
	KindGetKeys
	KindVacuum
	// KindFence backs Flush(): a no-op operation that still participates
	// in fencing so "every operation enqueued before Flush is durable"
	// (invariant I6) holds without adding a seventh user-visible SQL
	// operation to spec.md's data model.
	KindFence
)

func (k Kind) String() string {
	switch k {
	case KindSelect:
		return "select"
	case KindInsert:
		return "insert"
	case KindInvalidate:
		return "invalidate"
	case KindInvalidateAll:
		return "invalidate_all"
	case KindGetKeys:
		return "get_keys"
	case KindVacuum:
		return "vacuum"
	case KindFence:
		return "fence"
	default:
		return "unknown"
	}
}

// fenceKind reports whether operations of this kind never merge with
// anything and force every open group to execute first — spec.md §4.7.
func (k Kind) fenceKind() bool {
	switch k {
	case KindInvalidateAll, KindGetKeys, KindVacuum, KindFence:
		return true
	default:
		return false
	}
}

// item is one enqueued, not-yet-executed operation request. Exactly one
// of the *Fut fields is non-nil, selected by kind.
type item struct {
	kind    Kind
	keys    []string             // Select / Invalidate: requested physical keys
	elems   []store.CacheElement // Insert: elements to write
	typeTag string               // GetKeys: optional type filter

	selectFut *future.Future[[]store.CacheElement]
	writeFut  *future.Future[struct{}]
	keysFut   *future.Future[[]string]
}

// overlapKeys returns the physical keys this item reads or writes, used
// by the coalescer to detect interpolation.
func (it *item) overlapKeys() []string {
	if it.kind == KindInsert {
		keys := make([]string, len(it.elems))
		for i, e := range it.elems {
			keys[i] = store.EncodeKey(e.TypeTag, e.Key)
		}
		return keys
	}
	return it.keys
}

// Executor executes one coalesced batch against the backing storage. A
// persistent store's connection owner (sqlitestore.Executor) implements
// this; memstore-backed caches do not need an opqueue at all since they
// execute synchronously.
type Executor interface {
	ExecSelect(ctx context.Context, keys []string) ([]store.CacheElement, error)
	ExecInsert(ctx context.Context, elems []store.CacheElement) error
	ExecInvalidate(ctx context.Context, keys []string) error
	ExecInvalidateAll(ctx context.Context) error
	ExecGetKeys(ctx context.Context, typeTag string) ([]string, error)
	ExecVacuum(ctx context.Context) error
}
