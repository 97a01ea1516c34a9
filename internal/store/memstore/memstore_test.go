package memstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/store"
	"github.com/stretchr/testify/require"
)

func TestMemStore_RoundTrip(t *testing.T) {
	m := New()
	ctx := context.Background()
	_, err := m.Insert(ctx, "", "k", []byte{1, 2, 3}, time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := m.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte{1, 2, 3}, v)

	keys, err := m.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, keys)
}

func TestMemStore_Expiration(t *testing.T) {
	m := New()
	ctx := context.Background()
	_, err := m.Insert(ctx, "", "a", []byte{0}, time.Now().Add(-time.Second)).Wait(ctx)
	require.NoError(t, err)

	_, err = m.Get(ctx, "", "a").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))

	keys, err := m.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestMemStore_IdempotentInvalidate(t *testing.T) {
	m := New()
	ctx := context.Background()
	_, _ = m.Insert(ctx, "", "k", []byte("v"), time.Time{}).Wait(ctx)
	_, err := m.Invalidate(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	_, err = m.Invalidate(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	_, err = m.Get(ctx, "", "k").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))
}

func TestMemStore_TypeIsolation(t *testing.T) {
	m := New()
	ctx := context.Background()
	_, _ = m.Insert(ctx, "T1", "k", []byte("one"), time.Time{}).Wait(ctx)

	_, err := m.Get(ctx, "T2", "k").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))

	v, err := m.Get(ctx, "T1", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	_, err = m.Get(ctx, "", "k").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound), "untyped entries must not see typed entries")
}

func TestMemStore_BulkEquivalence(t *testing.T) {
	ctx := context.Background()
	individual := New()
	bulk := New()
	var bulkElems []store.CacheElement
	for i := 0; i < 20; i++ {
		key := fmt.Sprintf("k%d", i)
		val := []byte{byte(i)}
		_, _ = individual.Insert(ctx, "", key, val, time.Time{}).Wait(ctx)
		bulkElems = append(bulkElems, store.CacheElement{Key: key, Value: val})
	}
	_, err := bulk.BulkInsert(ctx, bulkElems).Wait(ctx)
	require.NoError(t, err)

	ik, _ := individual.GetAllKeys(ctx, "").Wait(ctx)
	bk, _ := bulk.GetAllKeys(ctx, "").Wait(ctx)
	require.ElementsMatch(t, ik, bk)
}

func TestMemStore_SafeRemoveOfUnknownKey(t *testing.T) {
	m := New()
	ctx := context.Background()
	require.NotPanics(t, func() {
		_, err := m.Invalidate(ctx, "", "never-existed").Wait(ctx)
		require.NoError(t, err)
	})
}

func TestMemStore_ConcurrencyNoRaceOrPanic(t *testing.T) {
	m := New()
	ctx := context.Background()
	const n = 100
	var wg sync.WaitGroup
	observed := make(chan string, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			key := fmt.Sprintf("key-%d", i)
			_, err := m.Insert(ctx, "", key, []byte("v"), time.Time{}).Wait(ctx)
			require.NoError(t, err)
			if v, err := m.Get(ctx, "", key).Wait(ctx); err == nil && string(v) == "v" {
				observed <- key
			}
		}()
	}
	for i := 0; i < n; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, _ = m.GetAllKeys(ctx, "").Wait(ctx)
			_, _ = m.Get(ctx, "", fmt.Sprintf("key-%d", i)).Wait(ctx)
		}()
	}
	wg.Wait()
	close(observed)
	require.Equal(t, n, len(observed))
}
