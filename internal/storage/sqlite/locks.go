package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/storage"
)

var _ storage.LockStore = (*Store)(nil)

func (s *Store) Acquire(ctx context.Context, files []string, owner core.Owner, sess string) error {
	files = storage.Dedupe(files)
	return s.withTx(ctx, func(tx *loggedTx) error {
		if _, err := s.gcDead(ctx, tx); err != nil {
			return err
		}
		conflicts, err := foreignHolders(ctx, tx, files, owner)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &core.ConflictError{Op: "acquire", Owner: owner, Conflicts: conflicts}
		}
		now := s.now().Unix()
		for _, f := range files {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO locks (file, agent, task, locked_at, session)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(file) DO UPDATE SET
				   agent=excluded.agent, task=excluded.task,
				   locked_at=excluded.locked_at, session=excluded.session`,
				f, owner.Agent, owner.Task, now, sess,
			)
			if err != nil {
				return fmt.Errorf("upsert lock %s: %w", f, err)
			}
		}
		return nil
	})
}

func (s *Store) Release(ctx context.Context, owner core.Owner) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *loggedTx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE agent = ? AND task = ?`, owner.Agent, owner.Task)
		if err != nil {
			return fmt.Errorf("delete locks: %w", err)
		}
		n = rowsAffected(res)
		return nil
	})
	return n, err
}

func (s *Store) SetSession(ctx context.Context, owner core.Owner, sess string) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *loggedTx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE locks SET session = ? WHERE agent = ? AND task = ?`,
			sess, owner.Agent, owner.Task)
		if err != nil {
			return fmt.Errorf("update session: %w", err)
		}
		n = rowsAffected(res)
		return nil
	})
	return n, err
}

func (s *Store) GCDead(ctx context.Context) (int, error) {
	var n int
	err := s.withTx(ctx, func(tx *loggedTx) error {
		var err error
		n, err = s.gcDead(ctx, tx)
		return err
	})
	if err == nil && n > 0 {
		s.logger.Info("released locks of dead sessions", "count", n)
	}
	return n, err
}

func (s *Store) Check(ctx context.Context, files []string, owner core.Owner) ([]core.LockConflict, error) {
	var out []core.LockConflict
	err := s.withTx(ctx, func(tx *loggedTx) error {
		if _, err := s.gcDead(ctx, tx); err != nil {
			return err
		}
		var err error
		out, err = foreignHolders(ctx, tx, storage.Dedupe(files), owner)
		return err
	})
	return out, err
}

func (s *Store) Claim(ctx context.Context, files []string, owner core.Owner) error {
	files = storage.Dedupe(files)
	return s.withTx(ctx, func(tx *loggedTx) error {
		if _, err := s.gcDead(ctx, tx); err != nil {
			return err
		}
		conflicts, err := foreignHolders(ctx, tx, files, owner)
		if err != nil {
			return err
		}
		if len(conflicts) > 0 {
			return &core.ConflictError{Op: "commit", Owner: owner, Conflicts: conflicts}
		}
		now := s.now().Unix()
		for _, f := range files {
			_, err := tx.ExecContext(ctx,
				`INSERT INTO locks (file, agent, task, locked_at, session)
				 VALUES (?, ?, ?, ?, '')
				 ON CONFLICT(file) DO NOTHING`,
				f, owner.Agent, owner.Task, now,
			)
			if err != nil {
				return fmt.Errorf("claim %s: %w", f, err)
			}
		}
		return nil
	})
}

func (s *Store) List(ctx context.Context) ([]core.Lock, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT file, agent, task, locked_at, session FROM locks ORDER BY file ASC`)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	var out []core.Lock
	for rows.Next() {
		var (
			l        core.Lock
			lockedAt int64
		)
		if err := rows.Scan(&l.File, &l.Owner.Agent, &l.Owner.Task, &lockedAt, &l.Session); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.LockedAt = time.Unix(lockedAt, 0)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows: %w", err)
	}
	return out, nil
}

// gcDead probes each distinct session tag once and deletes the rows of
// sessions that are gone.
func (s *Store) gcDead(ctx context.Context, tx *loggedTx) (int, error) {
	rows, err := tx.QueryContext(ctx, `SELECT DISTINCT session FROM locks WHERE session != ''`)
	if err != nil {
		return 0, fmt.Errorf("query sessions: %w", err)
	}
	var sessions []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return 0, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("rows: %w", err)
	}

	removed := 0
	for _, name := range sessions {
		if s.prober.Alive(ctx, name) {
			continue
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM locks WHERE session = ?`, name)
		if err != nil {
			return 0, fmt.Errorf("delete dead session locks: %w", err)
		}
		removed += rowsAffected(res)
	}
	return removed, nil
}

func foreignHolders(ctx context.Context, tx *loggedTx, files []string, owner core.Owner) ([]core.LockConflict, error) {
	var out []core.LockConflict
	for _, f := range files {
		var holder core.Owner
		err := tx.QueryRowContext(ctx, `SELECT agent, task FROM locks WHERE file = ?`, f).
			Scan(&holder.Agent, &holder.Task)
		if errors.Is(err, sql.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("query lock %s: %w", f, err)
		}
		if holder != owner {
			out = append(out, core.LockConflict{File: f, Holder: holder})
		}
	}
	return out, nil
}

func rowsAffected(res sql.Result) int {
	n, err := res.RowsAffected()
	if err != nil {
		return 0
	}
	return int(n)
}
