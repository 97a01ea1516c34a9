package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver" // registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // embeds the WASM SQLite build, no cgo required

	"github.com/blobcache/blobcache/internal/cacheerr"
)

// dsn builds a SQLite connection string with the pragmas a single-writer
// embedded cache needs: WAL for concurrent readers during a writer's
// transaction, a generous busy_timeout so the opqueue's own serialization
// rarely needs driver-level retries, and an in-memory temp store since
// the cache file itself is already disposable.
//
// Adapted from the source library's own SQLiteConnString: this cache has
// no foreign keys, so that pragma is dropped, and busy_timeout is fixed
// rather than environment-configurable since Queue.Option already
// exposes a retry budget at the Go level.
func dsn(path string, busyTimeout time.Duration) string {
	ms := busyTimeout.Milliseconds()
	return fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=temp_store(MEMORY)&_pragma=foreign_keys(OFF)",
		path, ms,
	)
}

// Open creates (if needed) and bootstraps a SQLite-backed cache database
// at path, returning a connection restricted to a single open connection
// — the opqueue.Queue already serializes every write through one runner
// goroutine, so a connection pool would only add contention over the
// same file lock.
func Open(ctx context.Context, path string, busyTimeout time.Duration) (*sql.DB, error) {
	if path == "" {
		return nil, cacheerr.Wrap("sqlitestore.Open", fmt.Errorf("empty path"))
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, cacheerr.Wrapf(err, "sqlitestore.Open: create directory %s", dir)
		}
	}
	if busyTimeout <= 0 {
		busyTimeout = 5 * time.Second
	}

	db, err := sql.Open("sqlite3", dsn(path, busyTimeout))
	if err != nil {
		return nil, cacheerr.Wrap("sqlitestore.Open", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, cacheerr.Wrap("sqlitestore.Open: ping", err)
	}
	if err := bootstrap(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// bootstrap applies the schema inside one transaction, matching the
// source ephemeral store's statement-splitting pattern.
func bootstrap(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return cacheerr.Wrap("sqlitestore.bootstrap: begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmtSet := range []string{schema, metaSchema} {
		for _, stmt := range strings.Split(stmtSet, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return cacheerr.Wrapf(err, "sqlitestore.bootstrap: exec %q", stmt)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return cacheerr.Wrap("sqlitestore.bootstrap: commit", err)
	}
	return nil
}
