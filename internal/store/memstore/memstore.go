// Package memstore is the fully in-process reference implementation of
// the cache contract — spec.md §4.5. It exists both as a usable
// lightweight backend and as the model against which the persistent
// store's observable behavior is checked.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/future"
	"github.com/blobcache/blobcache/internal/store"
)

// MemStore implements store.Store over a map guarded by one mutex. Per
// spec.md §9 ("a single concurrent map does not suffice because
// multi-field CacheElement updates and expiration sweeps must be atomic
// per key"), every operation — including reads — takes the same mutex
// rather than relying on a lock-free map, so inserts, expirations and
// reads of one element are never observed torn.
type MemStore struct {
	mu     sync.RWMutex
	data   map[string]store.CacheElement
	closed bool
}

// New returns an empty, open MemStore.
func New() *MemStore {
	return &MemStore{data: make(map[string]store.CacheElement)}
}

func (m *MemStore) Insert(_ context.Context, typeTag, key string, value []byte, expiresAt time.Time) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return future.Failed[struct{}](cacheerr.ErrAlreadyDisposed)
	}
	pk := store.EncodeKey(typeTag, key)
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[pk] = store.CacheElement{
		Key: key, TypeTag: typeTag, Value: cp,
		CreatedAt: time.Now().UTC(), ExpiresAt: expiresAt,
	}
	return future.Resolved(struct{}{})
}

func (m *MemStore) Get(_ context.Context, typeTag, key string) *future.Future[[]byte] {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.getLocked(typeTag, key)
	if !ok {
		return future.Failed[[]byte](cacheerr.ErrNotFound)
	}
	cp := make([]byte, len(elem.Value))
	copy(cp, elem.Value)
	return future.Resolved(cp)
}

func (m *MemStore) GetCreatedAt(_ context.Context, typeTag, key string) *future.Future[*time.Time] {
	m.mu.Lock()
	defer m.mu.Unlock()
	elem, ok := m.getLocked(typeTag, key)
	if !ok {
		return future.Resolved[*time.Time](nil)
	}
	t := elem.CreatedAt
	return future.Resolved(&t)
}

// getLocked reads (and opportunistically purges) one entry. Caller must
// hold m.mu.
func (m *MemStore) getLocked(typeTag, key string) (store.CacheElement, bool) {
	pk := store.EncodeKey(typeTag, key)
	elem, ok := m.data[pk]
	if !ok {
		return store.CacheElement{}, false
	}
	if elem.Expired(time.Now().UTC()) {
		delete(m.data, pk)
		return store.CacheElement{}, false
	}
	return elem, true
}

func (m *MemStore) Invalidate(_ context.Context, typeTag, key string) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, store.EncodeKey(typeTag, key))
	return future.Resolved(struct{}{})
}

func (m *MemStore) InvalidateAll(_ context.Context) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data = make(map[string]store.CacheElement)
	return future.Resolved(struct{}{})
}

func (m *MemStore) GetAllKeys(_ context.Context, typeTag string) *future.Future[[]string] {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	var keys []string
	for pk, elem := range m.data {
		if elem.Expired(now) {
			delete(m.data, pk)
			continue
		}
		if elem.TypeTag != typeTag {
			continue
		}
		keys = append(keys, elem.Key)
	}
	sort.Strings(keys)
	return future.Resolved(keys)
}

func (m *MemStore) BulkInsert(_ context.Context, elems []store.CacheElement) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for _, e := range elems {
		cp := make([]byte, len(e.Value))
		copy(cp, e.Value)
		e.Value = cp
		e.CreatedAt = now
		m.data[store.EncodeKey(e.TypeTag, e.Key)] = e
	}
	return future.Resolved(struct{}{})
}

func (m *MemStore) BulkGet(_ context.Context, typeTag string, keys []string) *future.Future[[]store.CacheElement] {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]store.CacheElement, 0, len(keys))
	for _, k := range keys {
		if elem, ok := m.getLocked(typeTag, k); ok {
			result = append(result, elem)
		}
	}
	return future.Resolved(result)
}

func (m *MemStore) BulkInvalidate(_ context.Context, typeTag string, keys []string) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, store.EncodeKey(typeTag, k))
	}
	return future.Resolved(struct{}{})
}

func (m *MemStore) UpdateExpiration(_ context.Context, typeTag, key string, newExpiresAt time.Time) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	pk := store.EncodeKey(typeTag, key)
	elem, ok := m.data[pk]
	if !ok {
		return future.Resolved(struct{}{})
	}
	elem.ExpiresAt = newExpiresAt
	m.data[pk] = elem
	return future.Resolved(struct{}{})
}

func (m *MemStore) Flush(_ context.Context) *future.Future[struct{}] {
	// Every MemStore mutation is synchronous under m.mu, so by the time
	// Flush is called every prior Insert/BulkInsert has already been
	// applied — invariant I6 holds trivially.
	return future.Resolved(struct{}{})
}

func (m *MemStore) Vacuum(_ context.Context) *future.Future[struct{}] {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	for pk, elem := range m.data {
		if elem.Expired(now) {
			delete(m.data, pk)
		}
	}
	return future.Resolved(struct{}{})
}

func (m *MemStore) Close(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.data = nil
	return nil
}
