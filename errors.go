package blobcache

import "github.com/blobcache/blobcache/internal/cacheerr"

// Sentinel errors re-exported from internal/cacheerr so callers never
// need to import an internal package to use errors.Is.
var (
	ErrNotFound            = cacheerr.ErrNotFound
	ErrAlreadyDisposed     = cacheerr.ErrAlreadyDisposed
	ErrInvalidArgument     = cacheerr.ErrInvalidArgument
	ErrCancelled           = cacheerr.ErrCancelled
	ErrCryptoFailed        = cacheerr.ErrCryptoFailed
	ErrStorageFailed       = cacheerr.ErrStorageFailed
	ErrNetworkFailed       = cacheerr.ErrNetworkFailed
	ErrConflict            = cacheerr.ErrConflict
)
