// Package blobcache is an embedded, asynchronous key/blob cache: a
// single SQLite file (or an in-process map) behind a coalescing
// operation queue, with optional AES-256-GCM encryption at rest.
//
// Every operation is asynchronous — it returns a Future that resolves
// once accepted work has actually executed — and safe for concurrent
// use by any number of goroutines without external locking.
package blobcache

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/opqueue"
	"github.com/blobcache/blobcache/internal/pathdiscovery"
	"github.com/blobcache/blobcache/internal/store"
	"github.com/blobcache/blobcache/internal/store/cryptostore"
	"github.com/blobcache/blobcache/internal/store/memstore"
	"github.com/blobcache/blobcache/internal/store/sqlitestore"
)

// Cache is the full asynchronous key/blob cache contract. Open returns
// one of three concrete implementations depending on the options
// passed: an in-memory map (WithInMemory), a persistent SQLite-backed
// store, or that store wrapped with transparent encryption
// (WithPassphrase).
type Cache = store.Store

// CacheElement is one stored entry, exposed for callers building their
// own bulk operations (ext.BulkGetObjects and friends already wrap this).
type CacheElement = store.CacheElement

// Open discovers (creating if necessary) the on-disk directory for
// applicationName and returns a ready-to-use Cache. With WithInMemory,
// no filesystem access happens at all.
func Open(applicationName string, opts ...Option) (Cache, error) {
	c := applyDefaults(applicationName, opts)

	if c.tracerProvider != nil {
		otel.SetTracerProvider(c.tracerProvider)
	}
	if c.meterProvider != nil {
		otel.SetMeterProvider(c.meterProvider)
	}

	if c.inMemory {
		return memstore.New(), nil
	}

	baseDir := c.cacheDirectory
	if baseDir == "" {
		dir, err := os.UserCacheDir()
		if err != nil {
			return nil, cacheerr.Wrap("blobcache.Open: resolve cache directory", err)
		}
		baseDir = dir
	}

	layout, err := pathdiscovery.Discover(baseDir, applicationName)
	if err != nil {
		return nil, err
	}

	override, err := pathdiscovery.LoadOverride(layout.OverridePath)
	if err != nil {
		return nil, err
	}
	idleFlush := c.idleFlush
	if override.IdleFlush > 0 {
		idleFlush = override.IdleFlush
	}
	if override.VacuumOnOpen {
		c.vacuumOnOpen = true
	}

	opqueueOpts := []opqueue.Option{
		opqueue.WithIdleWindow(idleFlush),
		opqueue.WithLogger(c.logger),
	}
	if c.retryBudget > 0 {
		opqueueOpts = append(opqueueOpts, opqueue.WithRetryBudget(c.retryBudget))
	}

	ctx := context.Background()
	persistent, err := sqlitestore.New(ctx, layout.DatabasePath, opqueueOpts...)
	if err != nil {
		return nil, err
	}

	var cache store.Store = persistent
	if len(c.passphrase) > 0 {
		encrypted, err := cryptostore.Open(ctx, persistent, c.passphrase)
		if err != nil {
			_ = persistent.Close(ctx)
			return nil, err
		}
		cache = encrypted
	}

	if c.vacuumOnOpen {
		if _, err := cache.Vacuum(ctx).Wait(ctx); err != nil {
			c.logger.Warn("blobcache: vacuum on open failed", "application", applicationName, "error", err)
		} else if err := pathdiscovery.RecordVacuum(layout, time.Now().UTC()); err != nil {
			c.logger.Warn("blobcache: recording vacuum timestamp failed", "application", applicationName, "error", err)
		}
	}
	return cache, nil
}

// OpenAt is Open with an explicit database file path instead of
// application-name-based discovery — useful for tests and for callers
// that already manage their own directory layout.
func OpenAt(path string, opts ...Option) (Cache, error) {
	if path == "" {
		return nil, fmt.Errorf("blobcache.OpenAt: empty path")
	}
	c := applyDefaults(filepath.Base(path), opts)
	if c.tracerProvider != nil {
		otel.SetTracerProvider(c.tracerProvider)
	}
	if c.meterProvider != nil {
		otel.SetMeterProvider(c.meterProvider)
	}
	opqueueOpts := []opqueue.Option{
		opqueue.WithIdleWindow(c.idleFlush),
		opqueue.WithLogger(c.logger),
	}
	if c.retryBudget > 0 {
		opqueueOpts = append(opqueueOpts, opqueue.WithRetryBudget(c.retryBudget))
	}

	ctx := context.Background()
	persistent, err := sqlitestore.New(ctx, path, opqueueOpts...)
	if err != nil {
		return nil, err
	}
	var cache store.Store = persistent
	if len(c.passphrase) > 0 {
		encrypted, err := cryptostore.Open(ctx, persistent, c.passphrase)
		if err != nil {
			_ = persistent.Close(ctx)
			return nil, err
		}
		cache = encrypted
	}
	if c.vacuumOnOpen {
		if _, err := cache.Vacuum(ctx).Wait(ctx); err != nil {
			c.logger.Warn("blobcache: vacuum on open failed", "path", path, "error", err)
		}
	}
	return cache, nil
}
