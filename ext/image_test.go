package ext_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/blobcache/blobcache/ext"
	"github.com/blobcache/blobcache/internal/store/memstore"
)

func pad(magic []byte) []byte {
	buf := bytes.Repeat([]byte{0}, 64)
	copy(buf, magic)
	return buf
}

func TestSniffImageFormat_RecognizesEachFormat(t *testing.T) {
	cases := map[ext.ImageFormat][]byte{
		ext.ImagePNG:  {0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'},
		ext.ImageJPEG: {0xFF, 0xD8, 0xFF},
		ext.ImageGIF:  []byte("GIF89a"),
		ext.ImageBMP:  []byte("BM"),
		ext.ImageICO:  {0x00, 0x00, 0x01, 0x00},
		ext.ImageTIFF: {0x49, 0x49, 0x2A, 0x00},
	}
	for format, magic := range cases {
		got := ext.SniffImageFormat(pad(magic))
		require.Equal(t, format, got, "format %v", format)
	}
}

func TestSniffImageFormat_WebPRequiresContainerTag(t *testing.T) {
	buf := pad([]byte("RIFF"))
	require.Equal(t, ext.ImageUnknown, ext.SniffImageFormat(buf))

	copy(buf[8:], []byte("WEBP"))
	require.Equal(t, ext.ImageWebP, ext.SniffImageFormat(buf))
}

func TestSniffImageFormat_ShortBufferIsUnknownRegardlessOfMagic(t *testing.T) {
	short := []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}
	require.Equal(t, ext.ImageUnknown, ext.SniffImageFormat(short))
}

func TestLoadImage_RejectsShortBuffer(t *testing.T) {
	cache := memstore.New()
	_, err := ext.LoadImage(context.Background(), cache, "k", []byte{0x89, 'P', 'N', 'G'}, time.Time{})
	require.Error(t, err)
}

func TestLoadImage_RejectsUnrecognizedFormat(t *testing.T) {
	cache := memstore.New()
	_, err := ext.LoadImage(context.Background(), cache, "k", bytes.Repeat([]byte{0x42}, 64), time.Time{})
	require.Error(t, err)
}

func TestLoadImage_StoresValidImageVerbatim(t *testing.T) {
	cache := memstore.New()
	ctx := context.Background()
	data := pad([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})

	format, err := ext.LoadImage(ctx, cache, "avatar", data, time.Time{})
	require.NoError(t, err)
	require.Equal(t, ext.ImagePNG, format)

	stored, err := cache.Get(ctx, "blobcache-image", "avatar").Wait(ctx)
	require.NoError(t, err)
	require.Equal(t, data, stored)
}

// TestLoadImageFromURL_CachedValueSkipsNetwork mirrors
// TestDownloadURL_CachedValueSkipsNetwork: load_image_from_url acts as
// get_or_fetch_object too, so a second call must not refetch.
func TestLoadImageFromURL_CachedValueSkipsNetwork(t *testing.T) {
	data := pad([]byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'})
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write(data)
	}))
	defer srv.Close()

	cache := memstore.New()
	ctx := context.Background()

	format, err := ext.LoadImageFromURL(ctx, cache, "avatar", srv.URL, time.Time{})
	require.NoError(t, err)
	require.Equal(t, ext.ImagePNG, format)

	format2, err := ext.LoadImageFromURL(ctx, cache, "avatar", srv.URL, time.Time{})
	require.NoError(t, err)
	require.Equal(t, ext.ImagePNG, format2)
	require.Equal(t, int32(1), atomic.LoadInt32(&hits))
}

// TestLoadImageFromURL_InvalidBodyNotCached confirms a bad fetch never
// gets stored, and so is refetched (and re-validated) on the next call.
func TestLoadImageFromURL_InvalidBodyNotCached(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()

	cache := memstore.New()
	ctx := context.Background()

	_, err := ext.LoadImageFromURL(ctx, cache, "avatar", srv.URL, time.Time{})
	require.Error(t, err)

	_, err = cache.Get(ctx, "blobcache-image", "avatar").Wait(ctx)
	require.Error(t, err)

	_, err = ext.LoadImageFromURL(ctx, cache, "avatar", srv.URL, time.Time{})
	require.Error(t, err)
	require.Equal(t, int32(2), atomic.LoadInt32(&hits), "an invalid body must not be cached, so the next call refetches")
}
