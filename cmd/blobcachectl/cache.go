package main

import (
	"context"

	"github.com/spf13/viper"

	"github.com/blobcache/blobcache"
)

var debugTelemetry bool

// telemetryShutdown is set by openCache whenever --debug-telemetry starts a
// stdout trace/metric pipeline, so the command that opened it can flush and
// release it on exit. nil when telemetry was never started.
var telemetryShutdown func(context.Context) error

// openCache resolves --db/--app-name (or their BLOBCACHE_ env equivalents)
// into a ready Cache. Exactly one of the two locates the database; --db
// takes precedence when both are set. With --debug-telemetry, the spans
// and metrics the cache records are printed to stdout in batches, with a
// final flush by closeTelemetry.
func openCache() (blobcache.Cache, error) {
	db := viper.GetString("db")
	app := viper.GetString("app-name")

	var opts []blobcache.Option
	if viper.GetBool("debug-telemetry") {
		tp, mp, err := blobcache.NewStdoutTelemetry()
		if err != nil {
			return nil, err
		}
		opts = append(opts, blobcache.WithTracerProvider(tp), blobcache.WithMeterProvider(mp))
		telemetryShutdown = func(ctx context.Context) error {
			return blobcache.ShutdownStdoutTelemetry(ctx, tp, mp)
		}
	}

	if db != "" {
		return blobcache.OpenAt(db, opts...)
	}
	return blobcache.Open(app, opts...)
}

// closeTelemetry flushes and releases any stdout telemetry pipeline started
// by openCache. A no-op when --debug-telemetry was never set.
func closeTelemetry(ctx context.Context) {
	if telemetryShutdown != nil {
		_ = telemetryShutdown(ctx)
	}
}
