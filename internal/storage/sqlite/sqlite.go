// Package sqlite is the SQLite-backed lock store. Every mutation runs in
// one BEGIN IMMEDIATE transaction, which is the only synchronization
// between concurrent hydra processes.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mistakeknot/hydra/internal/session"
)

//go:embed schema.sql
var schema string

const busyTimeoutMS = 5000

type Store struct {
	db     *queryLogger
	prober session.Prober
	logger *slog.Logger
	retry  RetryConfig
	now    func() time.Time
}

// New opens (creating if needed) the lock database at path. A nil prober
// treats every session as alive; a nil logger uses slog.Default.
func New(path string, prober session.Prober, logger *slog.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}
	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if prober == nil {
		prober = session.Noop{}
	}
	s := &Store{
		db:     &queryLogger{inner: db, logger: logger},
		prober: prober,
		logger: logger,
		retry:  DefaultRetryConfig(),
		now:    time.Now,
	}
	err = RetryOnDBLock(context.Background(), s.retry, func() error {
		return applySchema(db)
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func dsn(path string) string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeoutMS))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "synchronous(NORMAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// withTx runs fn inside an immediate transaction, retrying the whole
// transaction while the database is locked by another process.
func (s *Store) withTx(ctx context.Context, fn func(tx *loggedTx) error) error {
	return RetryOnDBLock(ctx, s.retry, func() error {
		tx, err := s.db.BeginTx(ctx)
		if err != nil {
			return fmt.Errorf("begin: %w", err)
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		return nil
	})
}
