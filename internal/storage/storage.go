// Package storage defines the lock store contract and an in-memory
// implementation used by tests of the layers above it.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/session"
)

// LockStore holds exclusive file claims. Every mutating call is atomic:
// it either applies to the whole file set or to none of it.
type LockStore interface {
	// Acquire claims every file for owner, refreshing locked_at and the
	// session tag on files owner already holds. Any file held by another
	// owner fails the whole call with a *core.ConflictError.
	Acquire(ctx context.Context, files []string, owner core.Owner, session string) error
	Release(ctx context.Context, owner core.Owner) (int, error)
	SetSession(ctx context.Context, owner core.Owner, session string) (int, error)
	// GCDead removes locks whose session tag names a session that is no
	// longer running. Untagged locks are kept.
	GCDead(ctx context.Context) (int, error)
	// Check collects dead locks then reports files held by other owners.
	Check(ctx context.Context, files []string, owner core.Owner) ([]core.LockConflict, error)
	// Claim fails on foreign locks and claims any unowned file for owner.
	Claim(ctx context.Context, files []string, owner core.Owner) error
	List(ctx context.Context) ([]core.Lock, error)
	Close() error
}

// Dedupe returns files sorted with duplicates and empty names removed.
func Dedupe(files []string) []string {
	seen := make(map[string]struct{}, len(files))
	out := make([]string, 0, len(files))
	for _, f := range files {
		if f == "" {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// InMemory is a mutex-guarded LockStore.
type InMemory struct {
	mu     sync.Mutex
	locks  map[string]core.Lock
	prober session.Prober
	now    func() time.Time
}

// NewInMemory returns an empty store. A nil prober treats every session
// as alive.
func NewInMemory(prober session.Prober) *InMemory {
	if prober == nil {
		prober = session.Noop{}
	}
	return &InMemory{
		locks:  make(map[string]core.Lock),
		prober: prober,
		now:    time.Now,
	}
}

func (m *InMemory) Acquire(ctx context.Context, files []string, owner core.Owner, sess string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcLocked(ctx)

	files = Dedupe(files)
	if conflicts := m.conflictsLocked(files, owner); len(conflicts) > 0 {
		return &core.ConflictError{Op: "acquire", Owner: owner, Conflicts: conflicts}
	}
	now := m.now()
	for _, f := range files {
		m.locks[f] = core.Lock{File: f, Owner: owner, LockedAt: now, Session: sess}
	}
	return nil
}

func (m *InMemory) Release(_ context.Context, owner core.Owner) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for f, l := range m.locks {
		if l.Owner == owner {
			delete(m.locks, f)
			n++
		}
	}
	return n, nil
}

func (m *InMemory) SetSession(_ context.Context, owner core.Owner, sess string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for f, l := range m.locks {
		if l.Owner == owner {
			l.Session = sess
			m.locks[f] = l
			n++
		}
	}
	return n, nil
}

func (m *InMemory) GCDead(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gcLocked(ctx), nil
}

func (m *InMemory) gcLocked(ctx context.Context) int {
	alive := make(map[string]bool)
	n := 0
	for f, l := range m.locks {
		if l.Session == "" {
			continue
		}
		ok, seen := alive[l.Session]
		if !seen {
			ok = m.prober.Alive(ctx, l.Session)
			alive[l.Session] = ok
		}
		if !ok {
			delete(m.locks, f)
			n++
		}
	}
	return n
}

func (m *InMemory) Check(ctx context.Context, files []string, owner core.Owner) ([]core.LockConflict, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcLocked(ctx)
	return m.conflictsLocked(Dedupe(files), owner), nil
}

func (m *InMemory) Claim(ctx context.Context, files []string, owner core.Owner) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gcLocked(ctx)

	files = Dedupe(files)
	if conflicts := m.conflictsLocked(files, owner); len(conflicts) > 0 {
		return &core.ConflictError{Op: "commit", Owner: owner, Conflicts: conflicts}
	}
	now := m.now()
	for _, f := range files {
		if _, held := m.locks[f]; !held {
			m.locks[f] = core.Lock{File: f, Owner: owner, LockedAt: now}
		}
	}
	return nil
}

func (m *InMemory) conflictsLocked(files []string, owner core.Owner) []core.LockConflict {
	var out []core.LockConflict
	for _, f := range files {
		if l, ok := m.locks[f]; ok && l.Owner != owner {
			out = append(out, core.LockConflict{File: f, Holder: l.Owner})
		}
	}
	return out
}

func (m *InMemory) List(_ context.Context) ([]core.Lock, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]core.Lock, 0, len(m.locks))
	for _, l := range m.locks {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].File < out[j].File })
	return out, nil
}

func (m *InMemory) Close() error { return nil }
