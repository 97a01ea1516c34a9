package ext

import (
	"bytes"
	"context"
	"time"

	"github.com/blobcache/blobcache"
	"github.com/blobcache/blobcache/internal/cacheerr"
)

// ImageFormat identifies a sniffed bitmap encoding — property P9.
type ImageFormat string

const (
	ImageUnknown ImageFormat = ""
	ImagePNG     ImageFormat = "png"
	ImageJPEG    ImageFormat = "jpeg"
	ImageGIF     ImageFormat = "gif"
	ImageBMP     ImageFormat = "bmp"
	ImageWebP    ImageFormat = "webp"
	ImageTIFF    ImageFormat = "tiff"
	ImageICO     ImageFormat = "ico"
)

// minImageBytes is the buffer-length guard of property P8: any byte
// sequence shorter than this is rejected regardless of its content,
// independent of whether SniffImageFormat would otherwise recognize it.
const minImageBytes = 64

var imageMagic = []struct {
	format ImageFormat
	magic  []byte
	offset int
}{
	{ImagePNG, []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}, 0},
	{ImageJPEG, []byte{0xFF, 0xD8, 0xFF}, 0},
	{ImageGIF, []byte("GIF87a"), 0},
	{ImageGIF, []byte("GIF89a"), 0},
	{ImageBMP, []byte("BM"), 0},
	{ImageICO, []byte{0x00, 0x00, 0x01, 0x00}, 0},
	{ImageTIFF, []byte{0x49, 0x49, 0x2A, 0x00}, 0}, // little-endian
	{ImageTIFF, []byte{0x4D, 0x4D, 0x00, 0x2A}, 0}, // big-endian
	{ImageWebP, []byte("RIFF"), 0},
}

// SniffImageFormat inspects data's magic bytes and returns the format it
// recognizes, or ImageUnknown. data shorter than minImageBytes is always
// ImageUnknown, regardless of content — property P8.
func SniffImageFormat(data []byte) ImageFormat {
	if len(data) < minImageBytes {
		return ImageUnknown
	}
	for _, m := range imageMagic {
		if m.offset+len(m.magic) > len(data) {
			continue
		}
		if bytes.Equal(data[m.offset:m.offset+len(m.magic)], m.magic) {
			if m.format == ImageWebP {
				// RIFF is a container; only "WEBP" at byte 8 confirms it.
				if len(data) < 12 || string(data[8:12]) != "WEBP" {
					continue
				}
			}
			return m.format
		}
	}
	return ImageUnknown
}

// LoadImage validates that data is at least minImageBytes long and
// recognizable as one of the supported formats, then stores it verbatim
// under key. The format is returned so callers can pick a decoder.
func LoadImage(ctx context.Context, cache blobcache.Cache, key string, data []byte, expiresAt time.Time) (ImageFormat, error) {
	if len(data) < minImageBytes {
		return ImageUnknown, cacheerr.Wrapf(cacheerr.ErrInvalidArgument, "ext.LoadImage: %q: buffer too short (%d bytes)", key, len(data))
	}
	format := SniffImageFormat(data)
	if format == ImageUnknown {
		return ImageUnknown, cacheerr.Wrapf(cacheerr.ErrInvalidArgument, "ext.LoadImage: %q: unrecognized image format", key)
	}
	if _, err := cache.Insert(ctx, imageTypeTag, key, data, expiresAt).Wait(ctx); err != nil {
		return ImageUnknown, err
	}
	return format, nil
}

// LoadImageFromURL acts as GetOrFetchObject the same way DownloadURL
// does: an unexpired cache hit under key is served without a network
// round trip, and concurrent misses are deduplicated to a single fetch.
// Unlike DownloadURL, a freshly fetched body that fails image validation
// is never stored — LoadImage makes that decision — so a bad response
// cannot poison the cache entry. WithFetchAlways bypasses the lookup.
func LoadImageFromURL(ctx context.Context, cache blobcache.Cache, key, url string, expiresAt time.Time, opts ...DownloadOption) (ImageFormat, error) {
	cfg := newDownloadConfig(opts)
	if key == "" {
		key = url
	}

	var format ImageFormat
	fetch := func(ctx context.Context) ([]byte, error) {
		return fetchBody(ctx, cfg.method, url, cfg.headers)
	}
	store := func(ctx context.Context, data []byte) error {
		f, err := LoadImage(ctx, cache, key, data, expiresAt)
		if err != nil {
			return err
		}
		format = f
		return nil
	}

	data, err := getOrFetchRaw(ctx, cache, imageTypeTag, key, cfg.fetchAlways, fetch, store)
	if err != nil {
		return ImageUnknown, err
	}
	if format == ImageUnknown {
		// Served from cache: store never ran, so sniff the cached bytes
		// instead of re-deriving the format from a fetch that didn't happen.
		format = SniffImageFormat(data)
	}
	return format, nil
}

const imageTypeTag = "blobcache-image"
