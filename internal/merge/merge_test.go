package merge

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

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
	root    string
	layout  config.Layout
	repo    *git.Repo
	locks   *storage.InMemory
	journal *journal.Journal
	mgr     *workspace.Manager
	engine  *Engine
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
	f := &fixture{
		root:    root,
		layout:  layout,
		repo:    git.New(root, nil),
		locks:   storage.NewInMemory(session.Noop{}),
		journal: journal.New(layout.Journal()),
		owner:   core.Owner{Agent: "alice", Task: "t1"},
	}
	store := tasks.NewStore(layout.TasksDir())
	if _, err := store.Create(tasks.CreateRequest{ID: "t1", Allow: []string{"**"}}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	f.mgr = workspace.New(workspace.Options{
		Repo:    f.repo,
		Layout:  layout,
		Locks:   f.locks,
		Tasks:   store,
		Journal: f.journal,
	})
	f.engine = New(Options{
		Repo:       f.repo,
		Layout:     layout,
		Locks:      f.locks,
		Tasks:      store,
		Journal:    f.journal,
		Workspaces: f.mgr,
	})
	created, err := f.mgr.Create(testContext(t), f.owner, "", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	f.dir = created.Path
	return f
}

func (f *fixture) journalKinds(t *testing.T) []core.JournalKind {
	t.Helper()
	entries, _, err := f.journal.Read(journal.Filter{})
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	var kinds []core.JournalKind
	for _, e := range entries {
		kinds = append(kinds, e.Kind)
	}
	return kinds
}

func TestMergeNoFastForward(t *testing.T) {
	f := newFixture(t)
	if err := f.locks.Acquire(testContext(t), []string{"src/a.go"}, f.owner, ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.CommitAll(t, f.dir, "add a")

	res, err := f.engine.Merge(testContext(t), Request{Owner: f.owner})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.State != StateCommitted || res.Trunk != "main" || res.Worktree != f.root {
		t.Fatalf("res = %+v", res)
	}
	if !reflect.DeepEqual(res.Changed, []string{"src/a.go"}) {
		t.Fatalf("changed = %v", res.Changed)
	}
	if res.Released != 1 || len(res.Warnings) != 0 {
		t.Fatalf("released = %d warnings = %v", res.Released, res.Warnings)
	}
	if got := gittest.Git(t, f.root, "rev-parse", "main"); got != res.Commit {
		t.Fatalf("main = %s, commit = %s", got, res.Commit)
	}
	if parents := strings.Fields(gittest.Git(t, f.root, "rev-list", "--parents", "-n", "1", "HEAD")); len(parents) != 3 {
		t.Fatalf("expected merge commit, parents = %v", parents)
	}
	if _, err := os.Stat(filepath.Join(f.root, "src", "a.go")); err != nil {
		t.Fatalf("merged file missing: %v", err)
	}
	if f.repo.BranchExists(testContext(t), f.owner.Branch()) {
		t.Fatalf("branch should be deleted")
	}
	if _, err := os.Stat(f.dir); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("worktree should be removed, stat err = %v", err)
	}
	if kinds := f.journalKinds(t); !reflect.DeepEqual(kinds, []core.JournalKind{core.JournalMerge}) {
		t.Fatalf("journal kinds = %v", kinds)
	}
}

func TestMergeSquash(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.CommitAll(t, f.dir, "one")
	gittest.Write(t, f.dir, "src/b.go", "package a\n")
	gittest.CommitAll(t, f.dir, "two")

	res, err := f.engine.Merge(testContext(t), Request{Owner: f.owner, Squash: true})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.State != StateCommitted || res.Empty {
		t.Fatalf("res = %+v", res)
	}
	if got := gittest.Git(t, f.root, "log", "-1", "--format=%s"); got != "Merge agent/alice/t1 into main (squash)" {
		t.Fatalf("subject = %q", got)
	}
	if parents := strings.Fields(gittest.Git(t, f.root, "rev-list", "--parents", "-n", "1", "HEAD")); len(parents) != 2 {
		t.Fatalf("squash should have one parent, got %v", parents)
	}
	if got := gittest.Git(t, f.root, "log", "-1", "--format=%an"); got != "alice Agent" {
		t.Fatalf("author = %q", got)
	}
}

func TestMergeBlockedByForeignLock(t *testing.T) {
	f := newFixture(t)
	bob := core.Owner{Agent: "bob", Task: "t2"}
	if err := f.locks.Acquire(testContext(t), []string{"src/a.go"}, bob, ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.CommitAll(t, f.dir, "add a")
	before := gittest.Git(t, f.root, "rev-parse", "main")

	res, err := f.engine.Merge(testContext(t), Request{Owner: f.owner})
	var cerr *core.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if res.State != StatePreflight || cerr.Op != "merge" || len(cerr.Conflicts) != 1 || cerr.Conflicts[0].Holder != bob {
		t.Fatalf("res = %+v err = %+v", res, cerr)
	}
	if after := gittest.Git(t, f.root, "rev-parse", "main"); after != before {
		t.Fatalf("main moved from %s to %s", before, after)
	}
	if !f.repo.BranchExists(testContext(t), f.owner.Branch()) {
		t.Fatalf("branch should survive a rejected merge")
	}
}

func TestMergeDirtyAgentWorktree(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.CommitAll(t, f.dir, "add a")
	gittest.Write(t, f.dir, "scratch.txt", "wip\n")

	_, err := f.engine.Merge(testContext(t), Request{Owner: f.owner})
	var derr *core.DirtyWorktreeError
	if !errors.As(err, &derr) {
		t.Fatalf("expected DirtyWorktreeError, got %v", err)
	}
	if !reflect.DeepEqual(derr.Entries, []string{"?? scratch.txt"}) {
		t.Fatalf("entries = %v", derr.Entries)
	}
}

func TestMergeConflictLeftForHuman(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.dir, "README.md", "agent\n")
	gittest.CommitAll(t, f.dir, "agent edit")
	gittest.Write(t, f.root, "README.md", "trunk\n")
	gittest.CommitAll(t, f.root, "trunk edit")
	if err := f.locks.Acquire(testContext(t), []string{"README.md"}, f.owner, ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	res, err := f.engine.Merge(testContext(t), Request{Owner: f.owner})
	var merr *core.MergeConflictError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MergeConflictError, got %v", err)
	}
	if res.State != StateConflict || merr.Worktree != f.root || !reflect.DeepEqual(merr.Paths, []string{"README.md"}) {
		t.Fatalf("res = %+v err = %+v", res, merr)
	}
	if _, err := os.Stat(filepath.Join(f.root, ".git", "MERGE_HEAD")); err != nil {
		t.Fatalf("merge should be left in progress: %v", err)
	}
	if !f.repo.BranchExists(testContext(t), f.owner.Branch()) {
		t.Fatalf("branch should be kept")
	}
	if locks, _ := f.locks.List(testContext(t)); len(locks) != 1 {
		t.Fatalf("locks should be kept, got %v", locks)
	}

	aborted, err := f.engine.Abort(testContext(t))
	if err != nil {
		t.Fatalf("Abort: %v", err)
	}
	if aborted.Worktree != f.root || aborted.Removed {
		t.Fatalf("aborted = %+v", aborted)
	}
	clean, err := f.repo.IsClean(testContext(t), f.root, true)
	if err != nil || !clean {
		t.Fatalf("root should be clean after abort: clean=%v err=%v", clean, err)
	}
}

func TestMergeUsesTemporaryTrunkWorktree(t *testing.T) {
	f := newFixture(t)
	gittest.Git(t, f.root, "checkout", "-q", "-b", "side")
	gittest.Write(t, f.dir, "src/a.go", "package a\n")
	gittest.CommitAll(t, f.dir, "add a")

	res, err := f.engine.Merge(testContext(t), Request{Owner: f.owner})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if !strings.HasPrefix(res.Worktree, f.layout.WorktreesDir()) {
		t.Fatalf("worktree = %s", res.Worktree)
	}
	if _, err := os.Stat(res.Worktree); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("temporary worktree should be removed, stat err = %v", err)
	}
	gittest.Git(t, f.root, "cat-file", "-e", "main:src/a.go")
	if head := gittest.Git(t, f.root, "rev-parse", "--abbrev-ref", "HEAD"); head != "side" {
		t.Fatalf("root checkout moved to %s", head)
	}
}

func TestMergeMissingBranch(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Merge(testContext(t), Request{Owner: core.Owner{Agent: "bob", Task: "t1"}})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestAbortWithoutTrunkWorktree(t *testing.T) {
	f := newFixture(t)
	gittest.Git(t, f.root, "checkout", "-q", "-b", "side")
	if _, err := f.engine.Abort(testContext(t)); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
