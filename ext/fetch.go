package ext

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/blobcache/blobcache"
	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/primitives"
)

// httpClient is shared by every DownloadURL call; otelhttp.NewTransport
// wraps the default transport so each fetch gets a span and the standard
// http.client.* metrics without any caller-side instrumentation.
var httpClient = &http.Client{
	Transport: otelhttp.NewTransport(http.DefaultTransport),
}

// fetchLocks deduplicates concurrent GetOrFetchObject/DownloadURL calls for
// the same (cache, typeTag, key) — scenario S6: N goroutines requesting the
// same missing key observe exactly one factory invocation.
var fetchLocks = primitives.NewRequestCache()

// GetOrFetchObject returns the cached value for (typeTag, key) if present
// and unexpired; otherwise it invokes factory exactly once per set of
// concurrent misses, stores the result with expiresAt, and returns it.
// A factory error is returned to every waiter and nothing is stored.
func GetOrFetchObject[T any](ctx context.Context, cache blobcache.Cache, serializer blobcache.Serializer, typeTag, key string, expiresAt time.Time, factory func(ctx context.Context) (T, error)) (T, error) {
	var existing T
	err := GetObjectOfType(ctx, cache, serializer, typeTag, key, &existing)
	if err == nil {
		return existing, nil
	}
	if !cacheerr.As(err, cacheerr.ErrNotFound) {
		var zero T
		return zero, err
	}

	return primitives.GetOrCreate(fetchLocks, fmt.Sprintf("%p\x01%s\x01%s", cache, typeTag, key), func() (T, error) {
		// Re-check under the single-flight lock: another goroutine may
		// have populated the entry between the miss above and here.
		var v T
		if err := GetObjectOfType(ctx, cache, serializer, typeTag, key, &v); err == nil {
			return v, nil
		}

		v, err := factory(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		if err := InsertObjectOfType(ctx, cache, serializer, typeTag, key, v, expiresAt); err != nil {
			var zero T
			return zero, err
		}
		return v, nil
	})
}

// maxDownloadBytes bounds a single DownloadURL response body — an
// unbounded download would let a misbehaving server exhaust memory, and
// the stores themselves place no limit on a value's size.
const maxDownloadBytes = 64 << 20

// downloadConfig collects DownloadURL's optional parameters — spec.md
// §4.9's `download_url([key,] url, [method, headers, fetch_always,
// expiration])`.
type downloadConfig struct {
	method      string
	headers     map[string]string
	fetchAlways bool
}

// DownloadOption configures DownloadURL and LoadImageFromURL.
type DownloadOption func(*downloadConfig)

// WithMethod overrides the HTTP method (default GET).
func WithMethod(method string) DownloadOption {
	return func(c *downloadConfig) { c.method = method }
}

// WithHeaders sets request headers on the outgoing fetch.
func WithHeaders(headers map[string]string) DownloadOption {
	return func(c *downloadConfig) { c.headers = headers }
}

// WithFetchAlways bypasses the cache lookup entirely: the URL is always
// refetched and the cached entry overwritten, rather than served from a
// prior download.
func WithFetchAlways() DownloadOption {
	return func(c *downloadConfig) { c.fetchAlways = true }
}

func newDownloadConfig(opts []DownloadOption) *downloadConfig {
	c := &downloadConfig{method: http.MethodGet}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DownloadURL acts as GetOrFetchObject with the key being the URL (or a
// caller-provided key) and the value being the raw response bytes: an
// unexpired cache hit is served without a network round trip, concurrent
// misses for the same key are deduplicated to a single fetch (the same
// fetchLocks single-flight GetOrFetchObject uses), and WithFetchAlways
// bypasses the lookup to force a refetch. Values are stored as raw bytes
// via Cache.Insert directly, not through the typed-object/serializer
// layer, so a plain DownloadURL and a DownloadURL-then-Get round-trip
// byte-for-byte — matching LoadImage/LoadImageFromURL, which store under
// the same raw contract.
func DownloadURL(ctx context.Context, cache blobcache.Cache, typeTag, key, url string, expiresAt time.Time, opts ...DownloadOption) ([]byte, error) {
	cfg := newDownloadConfig(opts)
	if key == "" {
		key = url
	}

	fetch := func(ctx context.Context) ([]byte, error) {
		return fetchBody(ctx, cfg.method, url, cfg.headers)
	}
	store := func(ctx context.Context, body []byte) error {
		_, err := cache.Insert(ctx, typeTag, key, body, expiresAt).Wait(ctx)
		return err
	}
	return getOrFetchRaw(ctx, cache, typeTag, key, cfg.fetchAlways, fetch, store)
}

// getOrFetchRaw is GetOrFetchObject's raw-bytes counterpart: it checks the
// cache, and on a miss, single-flights fetch and lets store decide what
// (if anything) gets written back — LoadImageFromURL validates before
// storing; DownloadURL stores unconditionally. When fetchAlways is set,
// the initial lookup is skipped, matching spec.md §4.9's "fetch_always=true
// bypasses the lookup."
func getOrFetchRaw(ctx context.Context, cache blobcache.Cache, typeTag, key string, fetchAlways bool, fetch func(ctx context.Context) ([]byte, error), store func(ctx context.Context, body []byte) error) ([]byte, error) {
	if !fetchAlways {
		if body, err := cache.Get(ctx, typeTag, key).Wait(ctx); err == nil {
			return body, nil
		} else if !cacheerr.As(err, cacheerr.ErrNotFound) {
			return nil, err
		}
	}

	return primitives.GetOrCreate(fetchLocks, fmt.Sprintf("%p\x01%s\x01%s", cache, typeTag, key), func() ([]byte, error) {
		if !fetchAlways {
			if body, err := cache.Get(ctx, typeTag, key).Wait(ctx); err == nil {
				return body, nil
			}
		}
		body, err := fetch(ctx)
		if err != nil {
			return nil, err
		}
		if err := store(ctx, body); err != nil {
			return nil, err
		}
		return body, nil
	})
}

// fetchBody performs the HTTP request and size-guards the response,
// without touching a cache — shared by DownloadURL and LoadImageFromURL.
func fetchBody(ctx context.Context, method, url string, headers map[string]string) ([]byte, error) {
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return nil, cacheerr.Wrapf(err, "ext: build request for %q", url)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ext: %v: %w", err, cacheerr.ErrNetworkFailed)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("ext: %s: unexpected status %d: %w", url, resp.StatusCode, cacheerr.ErrNetworkFailed)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, fmt.Errorf("ext: reading %s: %v: %w", url, err, cacheerr.ErrNetworkFailed)
	}
	if len(body) > maxDownloadBytes {
		return nil, fmt.Errorf("ext: %s exceeded %d bytes: %w", url, maxDownloadBytes, cacheerr.ErrNetworkFailed)
	}
	return body, nil
}
