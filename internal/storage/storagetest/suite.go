// Package storagetest is a conformance suite every LockStore must pass.
package storagetest

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/storage"
)

// Factory builds an empty store backed by prober.
type Factory func(t *testing.T, prober session.Prober) storage.LockStore

var (
	alice = core.Owner{Agent: "alice", Task: "t1"}
	bob   = core.Owner{Agent: "bob", Task: "t2"}
)

// Run exercises the LockStore contract.
func Run(t *testing.T, newStore Factory) {
	t.Run("AcquireAndList", func(t *testing.T) { testAcquireAndList(t, newStore) })
	t.Run("ConflictIsAtomic", func(t *testing.T) { testConflictIsAtomic(t, newStore) })
	t.Run("ReacquireRefreshes", func(t *testing.T) { testReacquireRefreshes(t, newStore) })
	t.Run("ReleaseOnlyOwner", func(t *testing.T) { testReleaseOnlyOwner(t, newStore) })
	t.Run("SetSession", func(t *testing.T) { testSetSession(t, newStore) })
	t.Run("GCDead", func(t *testing.T) { testGCDead(t, newStore) })
	t.Run("NoopProberKeepsLocks", func(t *testing.T) { testNoopProberKeepsLocks(t, newStore) })
	t.Run("Check", func(t *testing.T) { testCheck(t, newStore) })
	t.Run("Claim", func(t *testing.T) { testClaim(t, newStore) })
}

func files(locks []core.Lock) []string {
	out := make([]string, 0, len(locks))
	for _, l := range locks {
		out = append(out, l.File)
	}
	return out
}

func mustList(t *testing.T, st storage.LockStore) []core.Lock {
	t.Helper()
	locks, err := st.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	return locks
}

func testAcquireAndList(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	if err := st.Acquire(ctx, []string{"b.go", "a.go", "a.go"}, alice, ""); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	locks := mustList(t, st)
	if got := files(locks); !reflect.DeepEqual(got, []string{"a.go", "b.go"}) {
		t.Fatalf("files = %v", got)
	}
	for _, l := range locks {
		if l.Owner != alice || l.LockedAt.IsZero() {
			t.Fatalf("bad lock: %+v", l)
		}
	}
	if err := st.Acquire(ctx, nil, alice, ""); err != nil {
		t.Fatalf("empty acquire: %v", err)
	}
}

func testConflictIsAtomic(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	if err := st.Acquire(ctx, []string{"a.go", "c.go"}, alice, ""); err != nil {
		t.Fatalf("acquire alice: %v", err)
	}
	err := st.Acquire(ctx, []string{"a.go", "b.go", "c.go"}, bob, "")
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	want := []core.LockConflict{{File: "a.go", Holder: alice}, {File: "c.go", Holder: alice}}
	if !reflect.DeepEqual(conflict.Conflicts, want) {
		t.Fatalf("conflicts = %+v", conflict.Conflicts)
	}
	for _, l := range mustList(t, st) {
		if l.File == "b.go" {
			t.Fatal("b.go must not be locked after a failed acquire")
		}
	}
}

func testReacquireRefreshes(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	if err := st.Acquire(ctx, []string{"a.go"}, alice, ""); err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if err := st.Acquire(ctx, []string{"a.go", "b.go"}, alice, "sess-1"); err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	locks := mustList(t, st)
	if len(locks) != 2 {
		t.Fatalf("locks = %+v", locks)
	}
	for _, l := range locks {
		if l.Session != "sess-1" {
			t.Fatalf("session not refreshed: %+v", l)
		}
	}
}

func testReleaseOnlyOwner(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go", "b.go"}, alice, "")
	_ = st.Acquire(ctx, []string{"c.go"}, bob, "")

	n, err := st.Release(ctx, alice)
	if err != nil || n != 2 {
		t.Fatalf("release = %d, %v", n, err)
	}
	if got := files(mustList(t, st)); !reflect.DeepEqual(got, []string{"c.go"}) {
		t.Fatalf("remaining = %v", got)
	}
	n, err = st.Release(ctx, alice)
	if err != nil || n != 0 {
		t.Fatalf("second release = %d, %v", n, err)
	}
}

func testSetSession(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go", "b.go"}, alice, "")
	_ = st.Acquire(ctx, []string{"c.go"}, bob, "")
	n, err := st.SetSession(ctx, alice, "hydra-alice-t1")
	if err != nil || n != 2 {
		t.Fatalf("set session = %d, %v", n, err)
	}
	for _, l := range mustList(t, st) {
		want := ""
		if l.Owner == alice {
			want = "hydra-alice-t1"
		}
		if l.Session != want {
			t.Fatalf("lock %s session = %q, want %q", l.File, l.Session, want)
		}
	}
}

func testGCDead(t *testing.T, newStore Factory) {
	st := newStore(t, session.Static{"live": true})
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go"}, alice, "")
	_ = st.Acquire(ctx, []string{"b.go"}, bob, "live")
	_ = st.Acquire(ctx, []string{"c.go"}, core.Owner{Agent: "carol", Task: "t3"}, "")
	// Tag after acquiring; every acquire collects dead sessions first.
	if _, err := st.SetSession(ctx, alice, "dead"); err != nil {
		t.Fatalf("set session: %v", err)
	}

	n, err := st.GCDead(ctx)
	if err != nil || n != 1 {
		t.Fatalf("gc = %d, %v", n, err)
	}
	if got := files(mustList(t, st)); !reflect.DeepEqual(got, []string{"b.go", "c.go"}) {
		t.Fatalf("remaining = %v", got)
	}
}

func testNoopProberKeepsLocks(t *testing.T, newStore Factory) {
	st := newStore(t, session.Noop{})
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go"}, alice, "whatever")
	n, err := st.GCDead(ctx)
	if err != nil || n != 0 {
		t.Fatalf("gc = %d, %v", n, err)
	}
}

func testCheck(t *testing.T, newStore Factory) {
	st := newStore(t, session.Static{"live": true})
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go"}, alice, "live")
	_ = st.Acquire(ctx, []string{"b.go"}, alice, "dead")

	conflicts, err := st.Check(ctx, []string{"a.go", "b.go", "c.go"}, bob)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	want := []core.LockConflict{{File: "a.go", Holder: alice}}
	if !reflect.DeepEqual(conflicts, want) {
		t.Fatalf("conflicts = %+v", conflicts)
	}
	conflicts, _ = st.Check(ctx, []string{"a.go"}, alice)
	if len(conflicts) != 0 {
		t.Fatalf("owner must not conflict with itself: %+v", conflicts)
	}
	if got := files(mustList(t, st)); !reflect.DeepEqual(got, []string{"a.go"}) {
		t.Fatalf("check must collect dead locks, have %v", got)
	}
}

func testClaim(t *testing.T, newStore Factory) {
	st := newStore(t, nil)
	ctx := context.Background()
	_ = st.Acquire(ctx, []string{"a.go"}, alice, "s1")

	if err := st.Claim(ctx, []string{"a.go", "new.go"}, alice); err != nil {
		t.Fatalf("claim: %v", err)
	}
	locks := mustList(t, st)
	if got := files(locks); !reflect.DeepEqual(got, []string{"a.go", "new.go"}) {
		t.Fatalf("files = %v", got)
	}
	if locks[0].Session != "s1" {
		t.Fatal("claim must not rewrite existing rows")
	}

	err := st.Claim(ctx, []string{"a.go", "other.go"}, bob)
	var conflict *core.ConflictError
	if !errors.As(err, &conflict) || len(conflict.Conflicts) != 1 {
		t.Fatalf("expected single conflict, got %v", err)
	}
	for _, l := range mustList(t, st) {
		if l.File == "other.go" {
			t.Fatal("failed claim must not lock other.go")
		}
	}
}
