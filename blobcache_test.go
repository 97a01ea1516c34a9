package blobcache_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobcache/blobcache"
)

func TestOpen_InMemoryRoundTrip(t *testing.T) {
	cache, err := blobcache.Open("test-app", blobcache.WithInMemory())
	require.NoError(t, err)
	ctx := context.Background()

	_, err = cache.Insert(ctx, "", "k", []byte("v"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := cache.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestOpenAt_PersistentRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	cache, err := blobcache.OpenAt(path)
	require.NoError(t, err)
	defer cache.Close(context.Background())

	ctx := context.Background()
	_, err = cache.Insert(ctx, "", "k", []byte("persisted"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := cache.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), v)
}

func TestOpenAt_WithRetryBudgetRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	cache, err := blobcache.OpenAt(path, blobcache.WithRetryBudget(2*time.Second))
	require.NoError(t, err)
	defer cache.Close(context.Background())

	ctx := context.Background()
	_, err = cache.Insert(ctx, "", "k", []byte("v"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := cache.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}

func TestOpen_RespectsCacheYAMLOverride(t *testing.T) {
	dir := t.TempDir()
	appDir := filepath.Join(dir, "override-app")
	require.NoError(t, os.MkdirAll(appDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(appDir, "cache.yaml"), []byte("vacuum_on_open: true\n"), 0o644))

	cache, err := blobcache.Open("override-app", blobcache.WithCacheDirectory(dir))
	require.NoError(t, err)
	defer cache.Close(context.Background())

	ctx := context.Background()
	_, err = cache.Vacuum(ctx).Wait(ctx)
	require.NoError(t, err)
}

func TestOpenAt_WithPassphraseEncryptsAtRest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	cache, err := blobcache.OpenAt(path, blobcache.WithPassphrase([]byte("secret")))
	require.NoError(t, err)
	defer cache.Close(context.Background())

	ctx := context.Background()
	_, err = cache.Insert(ctx, "", "k", []byte("payload"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := cache.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("payload"), v)
}
