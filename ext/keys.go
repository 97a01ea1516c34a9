package ext

import (
	"context"
	"log/slog"

	"github.com/blobcache/blobcache"
)

// SafeGetAllKeys lists the non-expired keys under typeTag like
// GetAllKeysOfType, but never fails the whole listing over a single
// malformed row: any entry whose value cannot be decoded by decodeCheck
// is logged at Warn and omitted instead of aborting the call.
func SafeGetAllKeys(ctx context.Context, cache blobcache.Cache, typeTag string, logger *slog.Logger, decodeCheck func(value []byte) error) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}

	keys, err := cache.GetAllKeys(ctx, typeTag).Wait(ctx)
	if err != nil {
		return nil, err
	}
	if decodeCheck == nil {
		return keys, nil
	}

	elems, err := cache.BulkGet(ctx, typeTag, keys).Wait(ctx)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string][]byte, len(elems))
	for _, e := range elems {
		byKey[e.Key] = e.Value
	}

	safe := make([]string, 0, len(keys))
	for _, k := range keys {
		value, ok := byKey[k]
		if !ok {
			continue // raced away between GetAllKeys and BulkGet
		}
		if err := decodeCheck(value); err != nil {
			logger.Warn("ext: skipping corrupt cache entry", "typeTag", typeTag, "key", k, "error", err)
			continue
		}
		safe = append(safe, k)
	}
	return safe, nil
}
