package sqlite

import (
	"context"
	"database/sql"
	"log/slog"
	"time"
)

const slowQueryThreshold = 100 * time.Millisecond

// queryLogger wraps a *sql.DB and logs queries that exceed the slow query
// threshold. Transactions it opens log the same way.
type queryLogger struct {
	inner  *sql.DB
	logger *slog.Logger
}

func (q *queryLogger) observe(start time.Time, query string) {
	if d := time.Since(start); d >= slowQueryThreshold {
		q.logger.Warn("slow query", "duration", d.Round(time.Millisecond), "query", truncateQuery(query))
	}
}

func (q *queryLogger) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := q.inner.QueryContext(ctx, query, args...)
	q.observe(start, query)
	return rows, err
}

func (q *queryLogger) BeginTx(ctx context.Context) (*loggedTx, error) {
	tx, err := q.inner.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &loggedTx{inner: tx, q: q}, nil
}

func (q *queryLogger) Close() error {
	return q.inner.Close()
}

type loggedTx struct {
	inner *sql.Tx
	q     *queryLogger
}

func (t *loggedTx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	start := time.Now()
	res, err := t.inner.ExecContext(ctx, query, args...)
	t.q.observe(start, query)
	return res, err
}

func (t *loggedTx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	start := time.Now()
	rows, err := t.inner.QueryContext(ctx, query, args...)
	t.q.observe(start, query)
	return rows, err
}

func (t *loggedTx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	start := time.Now()
	row := t.inner.QueryRowContext(ctx, query, args...)
	t.q.observe(start, query)
	return row
}

func (t *loggedTx) Commit() error   { return t.inner.Commit() }
func (t *loggedTx) Rollback() error { return t.inner.Rollback() }

func truncateQuery(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}
