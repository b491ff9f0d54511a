package snapshot

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/git/gittest"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/storage"
	"github.com/mistakeknot/hydra/internal/tasks"
	"github.com/mistakeknot/hydra/internal/workspace"
)

type fixture struct {
	repo    *git.Repo
	journal *journal.Journal
	snap    *Snapshotter
	owner   core.Owner
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := gittest.NewRepo(t)
	layout := config.Layout{Root: root}
	if _, err := config.Init(layout, "proj"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	repo := git.New(root, nil)
	store := tasks.NewStore(layout.TasksDir())
	j := journal.New(layout.Journal())
	mgr := workspace.New(workspace.Options{
		Repo:     repo,
		Layout:   layout,
		Locks:    storage.NewInMemory(session.Noop{}),
		Tasks:    store,
		Journal:  j,
		Sessions: session.Noop{},
	})
	if _, err := store.Create(tasks.CreateRequest{ID: "t1", Allow: []string{"**"}}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	owner := core.Owner{Agent: "alice", Task: "t1"}
	created, err := mgr.Create(testContext(t), owner, "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return &fixture{
		repo:    repo,
		journal: j,
		snap:    New(repo, mgr, store, j, nil),
		owner:   owner,
		dir:     created.Path,
	}
}

func TestSnapshotNoChanges(t *testing.T) {
	f := newFixture(t)
	res, err := f.snap.Snapshot(testContext(t), f.owner, Options{Debounce: time.Second})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if !res.NoChanges || res.Commit != "" {
		t.Fatalf("res = %+v", res)
	}
	entries, _, _ := f.journal.Read(journal.Filter{})
	if len(entries) != 0 {
		t.Fatalf("journal should be empty, got %d", len(entries))
	}
}

func TestSnapshotCommitsAndJournals(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.Write(t, f.dir, "README.md", "changed\n")

	res, err := f.snap.Snapshot(testContext(t), f.owner, Options{Debounce: 0})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.NoChanges || res.Commit == "" {
		t.Fatalf("res = %+v", res)
	}
	if got := gittest.Git(t, f.dir, "log", "-1", "--format=%an <%ae>|%s"); !strings.HasPrefix(got, "alice Agent <alice@agents.local>|Snapshot: ") {
		t.Fatalf("commit = %q", got)
	}
	if clean, _ := f.repo.IsClean(testContext(t), f.dir, false); !clean {
		t.Fatal("worktree should be clean after snapshot")
	}

	entries, _, err := f.journal.Read(journal.Filter{Agent: "alice"})
	if err != nil || len(entries) != 1 {
		t.Fatalf("entries = %+v, %v", entries, err)
	}
	e := entries[0]
	if e.Commit != res.Commit || e.Kind != core.JournalSnapshot || e.Task != "t1" {
		t.Fatalf("entry = %+v", e)
	}
	if got := journal.FormatFiles(e.Files); got != "M README.md; A src/a.go" {
		t.Fatalf("files = %q", got)
	}
}

func TestSnapshotWaitsForDebounce(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "a.txt", "1\n")
	debounce := 300 * time.Millisecond

	start := time.Now()
	res, err := f.snap.Snapshot(testContext(t), f.owner, Options{Debounce: debounce, MaxWait: 10 * time.Second, Poll: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if res.Commit == "" {
		t.Fatalf("res = %+v", res)
	}
	// The write happened just before start, so nearly the whole debounce must elapse.
	if elapsed := time.Since(start); elapsed < debounce/2 {
		t.Fatalf("returned after %v, debounce %v", elapsed, debounce)
	}
}

func TestSnapshotTimesOut(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "busy.txt", "0\n")

	ctx, cancel := context.WithCancel(testContext(t))
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for i := 0; ; i++ {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				_ = os.WriteFile(filepath.Join(f.dir, "busy.txt"), []byte{byte('a' + i%26)}, 0o644)
			}
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	_, err := f.snap.Snapshot(testContext(t), f.owner, Options{Debounce: time.Second, MaxWait: 200 * time.Millisecond, Poll: 50 * time.Millisecond})
	var terr *core.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Snapshot = %v, want TimeoutError", err)
	}
	if terr.MaxWait != 200*time.Millisecond {
		t.Fatalf("timeout = %+v", terr)
	}
}

func TestSnapshotTimeoutIsNotDelayedByPoll(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "a.txt", "1\n")
	start := time.Now()
	_, err := f.snap.Snapshot(testContext(t), f.owner, Options{Debounce: time.Hour, MaxWait: 200 * time.Millisecond, Poll: 10 * time.Second})
	var terr *core.TimeoutError
	if !errors.As(err, &terr) {
		t.Fatalf("Snapshot = %v, want TimeoutError", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("timed out after %v, want close to 200ms", elapsed)
	}
}

func TestSnapshotHonorsContext(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "a.txt", "1\n")
	ctx, cancel := context.WithTimeout(testContext(t), 100*time.Millisecond)
	defer cancel()
	_, err := f.snap.Snapshot(ctx, f.owner, Options{Debounce: time.Hour})
	if err == nil {
		t.Fatal("expected context error")
	}
}

func TestSnapshotMissingWorkspace(t *testing.T) {
	f := newFixture(t)
	_, err := f.snap.Snapshot(testContext(t), core.Owner{Agent: "bob", Task: "t1"}, Options{})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("Snapshot = %v, want ErrNotFound", err)
	}
}
