// Package ext provides the higher-level extension surface layered over
// a blobcache.Cache: typed objects, single-flight fetch-or-create,
// image loading with format sniffing, and login-secret helpers —
// spec.md §4.9, §4.10.
package ext

import (
	"context"
	"time"

	"github.com/blobcache/blobcache"
	"github.com/blobcache/blobcache/internal/cacheerr"
)

// GetObject decodes the value stored under key (no type tag; see
// GetObjectOfType for namespaced variants) into v using serializer.
func GetObject(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, key string, v any) error {
	return GetObjectOfType(ctx, cache, serializer, "", key, v)
}

// GetObjectOfType is GetObject scoped to typeTag.
func GetObjectOfType(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, typeTag, key string, v any) error {
	data, err := cache.Get(ctx, typeTag, key).Wait(ctx)
	if err != nil {
		return err
	}
	if err := serializer.Unmarshal(data, v); err != nil {
		return cacheerr.Wrapf(cacheerr.ErrSerializationFailed, "ext.GetObject: unmarshal %q: %v", key, err)
	}
	return nil
}

// InsertObject encodes v with serializer and stores it under key.
func InsertObject(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, key string, v any, expiresAt time.Time) error {
	return InsertObjectOfType(ctx, cache, serializer, "", key, v, expiresAt)
}

// InsertObjectOfType is InsertObject scoped to typeTag.
func InsertObjectOfType(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, typeTag, key string, v any, expiresAt time.Time) error {
	data, err := serializer.Marshal(v)
	if err != nil {
		return cacheerr.Wrapf(cacheerr.ErrSerializationFailed, "ext.InsertObject: marshal %q: %v", key, err)
	}
	_, err = cache.Insert(ctx, typeTag, key, data, expiresAt).Wait(ctx)
	return err
}

// BulkInsertObjects stores every (key, value) pair in items under one
// coalesced Insert, observationally equivalent to calling InsertObject
// once per entry (property P5).
func BulkInsertObjects(ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, typeTag string, items map[string]any, expiresAt time.Time) error {
	elems := make([]blobcache.CacheElement, 0, len(items))
	now := time.Now().UTC()
	for key, v := range items {
		data, err := serializer.Marshal(v)
		if err != nil {
			return cacheerr.Wrapf(cacheerr.ErrSerializationFailed, "ext.BulkInsertObjects: marshal %q: %v", key, err)
		}
		elems = append(elems, blobcache.CacheElement{
			Key: key, TypeTag: typeTag, Value: data, CreatedAt: now, ExpiresAt: expiresAt,
		})
	}
	_, err := cache.BulkInsert(ctx, elems).Wait(ctx)
	return err
}

// BulkGetObjects decodes every present key among keys into a fresh T
// (from newTarget) and returns a map of the keys found. A
// requested key absent or expired is simply missing from the result, not
// an error.
func BulkGetObjects[T any](ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, typeTag string, keys []string, newTarget func() T) (map[string]T, error) {
	elems, err := cache.BulkGet(ctx, typeTag, keys).Wait(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]T, len(elems))
	for _, e := range elems {
		v := newTarget()
		if err := serializer.Unmarshal(e.Value, &v); err != nil {
			continue // a corrupt row is skipped, not fatal to the whole call
		}
		out[e.Key] = v
	}
	return out, nil
}

// GetAllKeysOfType lists the non-expired keys under typeTag. It returns
// the store's listing as is, skipping and logging nothing itself (see
// SafeGetAllKeys for the variant that logs and skips entries failing a
// decode check).
func GetAllKeysOfType(ctx context.Context, cache blobcache.Cache, typeTag string) ([]string, error) {
	return cache.GetAllKeys(ctx, typeTag).Wait(ctx)
}
