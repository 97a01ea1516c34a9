package ext_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobcache/blobcache"
	"github.com/blobcache/blobcache/ext"
	"github.com/blobcache/blobcache/internal/store/memstore"
)

type widget struct {
	Name  string
	Count int
}

func TestGetObject_InsertThenGetRoundTrips(t *testing.T) {
	cache := memstore.New()
	ctx := context.Background()

	in := widget{Name: "gear", Count: 3}
	require.NoError(t, ext.InsertObject(ctx, cache, blobcache.DefaultSerializer, "w1", in, time.Time{}))

	var out widget
	require.NoError(t, ext.GetObject(ctx, cache, blobcache.DefaultSerializer, "w1", &out))
	require.Equal(t, in, out)
}

func TestGetObject_MissingKeyIsNotFound(t *testing.T) {
	cache := memstore.New()
	ctx := context.Background()

	var out widget
	err := ext.GetObject(ctx, cache, blobcache.DefaultSerializer, "missing", &out)
	require.ErrorIs(t, err, blobcache.ErrNotFound)
}

func TestBulkInsertObjects_AndBulkGetObjects(t *testing.T) {
	cache := memstore.New()
	ctx := context.Background()

	items := map[string]any{
		"a": widget{Name: "a", Count: 1},
		"b": widget{Name: "b", Count: 2},
	}
	require.NoError(t, ext.BulkInsertObjects(ctx, cache, blobcache.DefaultSerializer, "widget", items, time.Time{}))

	got, err := ext.BulkGetObjects(ctx, cache, blobcache.DefaultSerializer, "widget", []string{"a", "b", "missing"}, func() widget { return widget{} })
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Equal(t, widget{Name: "a", Count: 1}, got["a"])
	require.Equal(t, widget{Name: "b", Count: 2}, got["b"])
}

func TestGetAllKeysOfType_ReturnsOnlyThatType(t *testing.T) {
	cache := memstore.New()
	ctx := context.Background()

	require.NoError(t, ext.InsertObjectOfType(ctx, cache, blobcache.DefaultSerializer, "typeA", "k1", widget{Name: "x"}, time.Time{}))
	require.NoError(t, ext.InsertObjectOfType(ctx, cache, blobcache.DefaultSerializer, "typeB", "k2", widget{Name: "y"}, time.Time{}))

	keys, err := ext.GetAllKeysOfType(ctx, cache, "typeA")
	require.NoError(t, err)
	require.Equal(t, []string{"k1"}, keys)
}
