package ext

import (
	"context"
	"errors"
	"time"

	"github.com/blobcache/blobcache"
	"github.com/blobcache/blobcache/internal/primitives"
)

// settingsTypeTag scopes Settings entries away from application data
// sharing the same cache.
const settingsTypeTag = "blobcache-settings"

// Settings is the minimal named-property facade of spec.md §4.10: a thin
// consumer of the typed-object contract with no cache-internal knowledge
// of its own.
type Settings struct {
	cache      blobcache.Cache
	serializer blobcache.Serializer
	ops        *primitives.KeyedOperationQueue
}

// NewSettings returns a Settings facade backed by cache. serializer
// defaults to blobcache.DefaultSerializer if nil.
func NewSettings(cache blobcache.Cache, serializer blobcache.Serializer) *Settings {
	if serializer == nil {
		serializer = blobcache.DefaultSerializer
	}
	return &Settings{cache: cache, serializer: serializer, ops: primitives.NewKeyedOperationQueue()}
}

// GetOrCreate returns the value stored under name if present, otherwise
// inserts and returns defaultValue. Concurrent calls for the same name are
// serialized through a per-name queue, so two callers racing to establish
// the same missing default can't both observe ErrNotFound and both Insert
// — the second sees the first's write instead of clobbering it.
func GetOrCreate[T any](ctx context.Context, s *Settings, name string, defaultValue T) (T, error) {
	fut := primitives.Enqueue(s.ops, name, func(ctx context.Context) ([]T, error) {
		var v T
		err := GetObjectOfType(ctx, s.cache, s.serializer, settingsTypeTag, name, &v)
		if err == nil {
			return []T{v}, nil
		}
		if !isNotFound(err) {
			return nil, err
		}
		if err := InsertObjectOfType(ctx, s.cache, s.serializer, settingsTypeTag, name, defaultValue, time.Time{}); err != nil {
			return nil, err
		}
		return []T{defaultValue}, nil
	})
	results, err := fut.Wait(ctx)
	if err != nil {
		var zero T
		return zero, err
	}
	return results[0], nil
}

// SetOrCreate writes value under name unconditionally, never expiring. It
// runs through the same per-name queue as GetOrCreate so a Set can never
// be reordered behind a concurrent GetOrCreate's default-establishing
// Insert for the same name.
func SetOrCreate[T any](ctx context.Context, s *Settings, name string, value T) error {
	fut := primitives.Enqueue(s.ops, name, func(ctx context.Context) ([]struct{}, error) {
		if err := InsertObjectOfType(ctx, s.cache, s.serializer, settingsTypeTag, name, value, time.Time{}); err != nil {
			return nil, err
		}
		return []struct{}{{}}, nil
	})
	_, err := fut.Wait(ctx)
	return err
}

func isNotFound(err error) bool {
	return errors.Is(err, blobcache.ErrNotFound)
}
