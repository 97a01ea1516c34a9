package blobcache

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// config collects every Open parameter the functional options below can
// set. Fields are all optional; applyDefaults fills in the rest.
type config struct {
	applicationName string
	cacheDirectory   string
	passphrase       []byte
	inMemory         bool

	serializer Serializer
	logger     *slog.Logger

	idleFlush    time.Duration
	vacuumOnOpen bool
	retryBudget  time.Duration

	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures Open. None are required; a bare Open("myapp") yields
// a persistent, unencrypted cache under the OS cache directory.
type Option func(*config)

// WithCacheDirectory overrides the base directory caches are discovered
// under (default: os.UserCacheDir()).
func WithCacheDirectory(dir string) Option {
	return func(c *config) { c.cacheDirectory = dir }
}

// WithInMemory makes Open return a non-persistent, memstore-backed
// cache, ignoring WithCacheDirectory and WithPassphrase.
func WithInMemory() Option {
	return func(c *config) { c.inMemory = true }
}

// WithPassphrase enables encryption at rest (spec.md §4.8). Passing nil
// or an empty slice is equivalent to omitting the option.
func WithPassphrase(passphrase []byte) Option {
	return func(c *config) { c.passphrase = passphrase }
}

// WithSerializer records a Serializer in Open's configuration (default:
// DefaultSerializer, JSON). The typed-object extensions in package ext do
// not read it from there; each takes its Serializer as an argument.
func WithSerializer(s Serializer) Option {
	return func(c *config) {
		if s != nil {
			c.serializer = s
		}
	}
}

// WithLogger installs a structured logger for diagnostics the cache
// itself cannot surface through a returned error (coalescer panics,
// best-effort bookkeeping failures).
func WithLogger(l *slog.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithIdleFlush overrides the operation queue's batching window (default
// 100ms) — see internal/opqueue.WithIdleWindow.
func WithIdleFlush(d time.Duration) Option {
	return func(c *config) { c.idleFlush = d }
}

// WithVacuumOnOpen runs a Vacuum pass immediately after Open returns,
// dropping expired entries accumulated since the cache was last opened.
func WithVacuumOnOpen() Option {
	return func(c *config) { c.vacuumOnOpen = true }
}

// WithRetryBudget bounds how long a single batch may spend retrying a
// transient executor failure (SQLITE_BUSY and friends) before giving up —
// see internal/opqueue.WithRetryBudget. Zero (the default) uses the
// opqueue's own default budget.
func WithRetryBudget(d time.Duration) Option {
	return func(c *config) { c.retryBudget = d }
}

// WithTracerProvider installs the OTel TracerProvider the cache's spans
// (opqueue batches, SQL statements) are recorded against. Defaults to
// the global provider.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(c *config) {
		if tp != nil {
			c.tracerProvider = tp
		}
	}
}

// WithMeterProvider installs the OTel MeterProvider the cache's metric
// instruments are registered against. Defaults to the global provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *config) {
		if mp != nil {
			c.meterProvider = mp
		}
	}
}

func applyDefaults(applicationName string, opts []Option) *config {
	c := &config{
		applicationName: applicationName,
		serializer:      DefaultSerializer,
		logger:          slog.Default(),
		idleFlush:       100 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
