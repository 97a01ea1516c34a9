// Package sqlitestore is the persistent, file-backed implementation of
// store.Store — spec.md §4.6, §6.1. Store wraps an opqueue.Queue around
// a single SQLite connection; Executor (this file) is what the queue's
// runner goroutine actually calls once it has coalesced a batch.
package sqlitestore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/blobcache/blobcache/internal/cacheerr"
	"github.com/blobcache/blobcache/internal/store"
)

// dbTracer is the OTel tracer for SQL-level spans, grounded on the dolt
// backend's doltTracer: one package-level tracer using whatever global
// TracerProvider is installed.
var dbTracer = otel.Tracer("github.com/blobcache/blobcache/store/sqlite")

// execDB is the executor's view of *sql.DB, narrowed so tests can supply
// a fake without pulling in database/sql's full surface.
type execDB interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Executor runs coalesced batches against one SQLite connection.
type Executor struct {
	db execDB
}

// NewExecutor wraps db for use as an opqueue.Executor.
func NewExecutor(db *sql.DB) *Executor {
	return &Executor{db: db}
}

func spanSQL(q string) string {
	if len(q) > 300 {
		return q[:300] + "…"
	}
	return q
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (e *Executor) exec(ctx context.Context, op, query string, args ...any) (sql.Result, error) {
	ctx, span := dbTracer.Start(ctx, "sqlite."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", spanSQL(query)),
		),
	)
	res, err := e.db.ExecContext(ctx, query, args...)
	endSpan(span, err)
	return res, err
}

func (e *Executor) query(ctx context.Context, op, query string, args ...any) (*sql.Rows, error) {
	ctx, span := dbTracer.Start(ctx, "sqlite."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "sqlite"),
			attribute.String("db.operation", op),
			attribute.String("db.statement", spanSQL(query)),
		),
	)
	rows, err := e.db.QueryContext(ctx, query, args...)
	endSpan(span, err)
	return rows, err
}

func placeholders(n int) string {
	if n == 0 {
		return ""
	}
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

// ExecSelect implements opqueue.Executor.
func (e *Executor) ExecSelect(ctx context.Context, keys []string) ([]store.CacheElement, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := fmt.Sprintf(`SELECT Key, TypeName, Value, Expiration, CreatedAt FROM CacheElement WHERE Key IN (%s) AND Expiration > ?`, placeholders(len(keys)))
	args = append(args, nowTicks())
	rows, err := e.query(ctx, "select", q, args...)
	if err != nil {
		return nil, cacheerr.Wrap("sqlite.select", err)
	}
	defer rows.Close()

	var out []store.CacheElement
	for rows.Next() {
		var (
			pk          string
			typeName    sql.NullString
			value       []byte
			expiration  int64
			createdAt   int64
		)
		if err := rows.Scan(&pk, &typeName, &value, &expiration, &createdAt); err != nil {
			return nil, cacheerr.Wrap("sqlite.select: scan", err)
		}
		_, logicalKey, _ := store.DecodeKey(pk)
		out = append(out, store.CacheElement{
			Key:       logicalKey,
			TypeTag:   typeName.String,
			Value:     value,
			CreatedAt: fromTicks(createdAt),
			ExpiresAt: fromTicks(expiration),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, cacheerr.Wrap("sqlite.select: rows", err)
	}
	return out, nil
}

// ExecInsert implements opqueue.Executor as a single multi-row upsert.
func (e *Executor) ExecInsert(ctx context.Context, elems []store.CacheElement) error {
	if len(elems) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(`INSERT INTO CacheElement (Key, TypeName, Value, Expiration, CreatedAt) VALUES `)
	args := make([]any, 0, len(elems)*5)
	for i, el := range elems {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("(?,?,?,?,?)")
		var typeName any
		if el.TypeTag != "" {
			typeName = el.TypeTag
		}
		args = append(args, store.EncodeKey(el.TypeTag, el.Key), typeName, el.Value, toTicks(el.ExpiresAt), toTicks(el.CreatedAt))
	}
	b.WriteString(` ON CONFLICT(Key) DO UPDATE SET TypeName = excluded.TypeName, Value = excluded.Value, Expiration = excluded.Expiration, CreatedAt = excluded.CreatedAt`)

	_, err := e.exec(ctx, "insert", b.String(), args...)
	return cacheerr.Wrap("sqlite.insert", err)
}

// ExecInvalidate implements opqueue.Executor.
func (e *Executor) ExecInvalidate(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	args := make([]any, len(keys))
	for i, k := range keys {
		args[i] = k
	}
	q := fmt.Sprintf(`DELETE FROM CacheElement WHERE Key IN (%s)`, placeholders(len(keys)))
	_, err := e.exec(ctx, "invalidate", q, args...)
	return cacheerr.Wrap("sqlite.invalidate", err)
}

// ExecInvalidateAll implements opqueue.Executor.
func (e *Executor) ExecInvalidateAll(ctx context.Context) error {
	_, err := e.exec(ctx, "invalidate_all", `DELETE FROM CacheElement`)
	return cacheerr.Wrap("sqlite.invalidate_all", err)
}

// ExecGetKeys implements opqueue.Executor.
func (e *Executor) ExecGetKeys(ctx context.Context, typeTag string) ([]string, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if typeTag == "" {
		rows, err = e.query(ctx, "get_keys", `SELECT Key FROM CacheElement WHERE TypeName IS NULL AND Expiration > ?`, nowTicks())
	} else {
		rows, err = e.query(ctx, "get_keys", `SELECT Key FROM CacheElement WHERE TypeName = ? AND Expiration > ?`, typeTag, nowTicks())
	}
	if err != nil {
		return nil, cacheerr.Wrap("sqlite.get_keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var pk string
		if err := rows.Scan(&pk); err != nil {
			return nil, cacheerr.Wrap("sqlite.get_keys: scan", err)
		}
		_, logicalKey, _ := store.DecodeKey(pk)
		keys = append(keys, logicalKey)
	}
	return keys, cacheerr.Wrap("sqlite.get_keys: rows", rows.Err())
}

// ExecVacuum implements opqueue.Executor: drops expired rows, then
// reclaims file space.
func (e *Executor) ExecVacuum(ctx context.Context) error {
	if _, err := e.exec(ctx, "vacuum_expire", `DELETE FROM CacheElement WHERE Expiration <= ?`, nowTicks()); err != nil {
		return cacheerr.Wrap("sqlite.vacuum", err)
	}
	_, err := e.exec(ctx, "vacuum", `VACUUM`)
	return cacheerr.Wrap("sqlite.vacuum", err)
}
