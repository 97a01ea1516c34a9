package sqlitestore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "cache.db")
	s, err := New(context.Background(), path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close(context.Background()) })
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "", "k", []byte("hello"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	v, err := s.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)
}

func TestStore_Expiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "", "a", []byte("x"), time.Now().Add(-time.Hour)).Wait(ctx)
	require.NoError(t, err)

	_, err = s.Get(ctx, "", "a").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))

	keys, err := s.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestStore_RoundTripWithFiniteFutureExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "", "k", []byte("hello"), time.Now().Add(time.Hour)).Wait(ctx)
	require.NoError(t, err)

	v, err := s.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), v)

	keys, err := s.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"k"}, keys)
}

func TestStore_TypeIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "T1", "k", []byte("one"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	_, err = s.Get(ctx, "T2", "k").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))

	v, err := s.Get(ctx, "T1", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)
}

func TestStore_BulkInsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var elems []store.CacheElement
	for i := 0; i < 25; i++ {
		elems = append(elems, store.CacheElement{Key: fmt.Sprintf("k%d", i), Value: []byte{byte(i)}})
	}
	_, err := s.BulkInsert(ctx, elems).Wait(ctx)
	require.NoError(t, err)

	keys, err := s.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Len(t, keys, 25)

	got, err := s.BulkGet(ctx, "", []string{"k0", "k24", "missing"}).Wait(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestStore_IdempotentInvalidate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, _ = s.Insert(ctx, "", "k", []byte("v"), time.Time{}).Wait(ctx)
	_, err := s.Invalidate(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	_, err = s.Invalidate(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
}

func TestStore_UpdateExpirationOnMissingKeyIsNoop(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.UpdateExpiration(ctx, "", "never-existed", time.Now()).Wait(ctx)
	require.NoError(t, err)
}

func TestStore_UpdateExpirationRewritesOnlyExpiration(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "", "k", []byte("payload"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	_, err = s.UpdateExpiration(ctx, "", "k", past).Wait(ctx)
	require.NoError(t, err)

	_, err = s.Get(ctx, "", "k").Wait(ctx)
	require.True(t, errors.Is(err, cacheerr.ErrNotFound))
}

func TestStore_VacuumDropsExpiredRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "", "gone", []byte("v"), time.Now().Add(-time.Hour)).Wait(ctx)
	require.NoError(t, err)
	_, err = s.Insert(ctx, "", "stays", []byte("v"), time.Time{}).Wait(ctx)
	require.NoError(t, err)

	_, err = s.Vacuum(ctx).Wait(ctx)
	require.NoError(t, err)

	keys, err := s.GetAllKeys(ctx, "").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"stays"}, keys)
}

func TestStore_ReopenSeesPersistedData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "cache.db")

	s1, err := New(ctx, path)
	require.NoError(t, err)
	_, err = s1.Insert(ctx, "", "k", []byte("persisted"), time.Time{}).Wait(ctx)
	require.NoError(t, err)
	require.NoError(t, s1.Close(ctx))

	s2, err := New(ctx, path)
	require.NoError(t, err)
	defer s2.Close(ctx)

	v, err := s2.Get(ctx, "", "k").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, []byte("persisted"), v)
}

func TestTicks_RoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Microsecond)
	got := fromTicks(toTicks(now))
	require.WithinDuration(t, now, got, time.Microsecond)

	require.True(t, fromTicks(neverTicks).IsZero())
	require.Equal(t, int64(neverTicks), toTicks(time.Time{}))
}

// TestTicks_MatchesKnownAkavacheValue pins the conversion against a tick
// count independent of time.Now(), the way a real pre-existing database
// file would present one: 637134336000000000 is 2020-01-01T00:00:00Z in
// .NET's DateTime.Ticks. A conversion anchored to the wrong epoch, or one
// that routes through a time.Duration spanning the full ~2025 years since
// the ticks epoch, gets this wrong even when the "now" round-trip above
// happens to pass.
func TestTicks_MatchesKnownAkavacheValue(t *testing.T) {
	const knownTicks int64 = 637134336000000000
	want := time.Date(2020, time.January, 1, 0, 0, 0, 0, time.UTC)

	require.Equal(t, want, fromTicks(knownTicks))
	require.Equal(t, knownTicks, toTicks(want))
}
