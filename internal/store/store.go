// Package store defines the cache engine contract (spec.md §3, §6.2):
// the CacheElement data model, key/type namespacing, and the Store
// interface implemented by memstore, sqlitestore, and cryptostore.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/blobcache/blobcache/internal/future"
)

// typeSeparator is the control byte used to compose a physical key from a
// (type tag, key) tuple — spec.md §3 prescribes an unambiguous
// composition. Keys and type tags are not checked for this byte: a type
// tag or key that contains 0x01 can compose to the same physical key as
// a different tuple.
const typeSeparator = "\x01"

// CacheElement is one stored entry. ExpiresAt is the zero time.Time for
// "never expires" (serialized as the tick value math.MaxInt64, per
// spec.md §6.1).
type CacheElement struct {
	Key       string
	TypeTag   string // "" for untyped entries
	Value     []byte
	CreatedAt time.Time
	ExpiresAt time.Time // zero value means "never"
}

// Expired reports whether the element is not observable at instant now —
// invariant I2.
func (e CacheElement) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && e.ExpiresAt.Before(now)
}

// EncodeKey composes the logical (typeTag, key) tuple into the single
// physical key used for storage and indexing. Entries with different
// type tags, or a typed vs. an untyped entry sharing the same key text,
// never collide as long as neither the type tag nor the key contains
// typeSeparator — spec.md §3.
func EncodeKey(typeTag, key string) string {
	if typeTag == "" {
		return key
	}
	return typeTag + typeSeparator + key
}

// DecodeKey reverses EncodeKey, splitting at the first separator byte; a
// physicalKey without one decodes as an untyped key. ok is always true.
func DecodeKey(physicalKey string) (typeTag, key string, ok bool) {
	if i := strings.IndexByte(physicalKey, typeSeparator[0]); i >= 0 {
		return physicalKey[:i], physicalKey[i+1:], true
	}
	return "", physicalKey, true
}

// Store is the language-neutral cache contract of spec.md §6.2. Every
// operation is asynchronous: it returns once the operation has been
// accepted (enqueued for persistent stores, executed synchronously for
// memstore) and the returned Future resolves with the outcome.
//
// All operations are safe for concurrent use by any number of callers.
type Store interface {
	// Insert stores value under (typeTag, key), replacing any existing
	// value for that tuple. A zero expiresAt means "never expires".
	Insert(ctx context.Context, typeTag, key string, value []byte, expiresAt time.Time) *future.Future[struct{}]

	// Get retrieves the value for (typeTag, key). The future fails with
	// cacheerr.ErrNotFound if the key is absent or expired — invariant I5.
	Get(ctx context.Context, typeTag, key string) *future.Future[[]byte]

	// GetCreatedAt retrieves the creation instant for (typeTag, key), or
	// a nil pointer if the key is absent or expired.
	GetCreatedAt(ctx context.Context, typeTag, key string) *future.Future[*time.Time]

	// Invalidate removes (typeTag, key) if present. Idempotent — invariant
	// I3 via P3: invalidating twice is observationally identical to once.
	Invalidate(ctx context.Context, typeTag, key string) *future.Future[struct{}]

	// InvalidateAll removes every entry across every type tag.
	InvalidateAll(ctx context.Context) *future.Future[struct{}]

	// GetAllKeys returns the non-expired keys under typeTag, with typeTag
	// stripped from the result (per spec.md §4.9's get_all_keys_of<T>).
	// An empty typeTag lists the untyped entries only.
	GetAllKeys(ctx context.Context, typeTag string) *future.Future[[]string]

	// BulkInsert stores every element in elems, observationally
	// equivalent to calling Insert once per element (property P5).
	BulkInsert(ctx context.Context, elems []CacheElement) *future.Future[struct{}]

	// BulkGet retrieves every (typeTag, key) pair named by keys. The
	// result contains only the pairs that were found and unexpired; a
	// requested pair absent from the result was not present.
	BulkGet(ctx context.Context, typeTag string, keys []string) *future.Future[[]CacheElement]

	// BulkInvalidate removes every (typeTag, key) pair named by keys.
	BulkInvalidate(ctx context.Context, typeTag string, keys []string) *future.Future[struct{}]

	// UpdateExpiration rewrites only the expiration of (typeTag, key)
	// without touching its payload. A zero newExpiresAt means "never". A
	// missing row is a no-op, not an error.
	UpdateExpiration(ctx context.Context, typeTag, key string, newExpiresAt time.Time) *future.Future[struct{}]

	// Flush enqueues a fence operation and resolves once every operation
	// enqueued before the call to Flush is durable — invariant I6.
	Flush(ctx context.Context) *future.Future[struct{}]

	// Vacuum drops every expired entry. Persistent stores may additionally
	// compact the underlying file.
	Vacuum(ctx context.Context) *future.Future[struct{}]

	// Close transitions the store to draining, awaits a final flush
	// fence, and releases its resources. Close is idempotent and safe
	// from any goroutine — invariant I7.
	Close(ctx context.Context) error
}
