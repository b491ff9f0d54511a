package project

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git/gittest"
	"github.com/mistakeknot/hydra/internal/merge"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/tasks"
	"github.com/mistakeknot/hydra/internal/workspace"
)

func openProject(t *testing.T, dir string) *Project {
	t.Helper()
	p, err := Open(testContext(t), Options{Dir: dir, Sessions: session.Noop{}})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestOpenFromSubdirectory(t *testing.T) {
	root := gittest.NewRepo(t)
	if _, err := config.Init(config.Layout{Root: root}, "proj"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	gittest.Write(t, root, "src/pkg/a.go", "package pkg\n")

	p := openProject(t, filepath.Join(root, "src", "pkg"))
	if p.Layout.Root != root {
		t.Fatalf("root = %s, want %s", p.Layout.Root, root)
	}
	if p.Config.Session != "proj" || p.Config.Snapshot.Debounce != config.DefaultDebounce {
		t.Fatalf("config = %+v", p.Config)
	}
}

func TestOpenHonoursProjectRootEnv(t *testing.T) {
	root := gittest.NewRepo(t)
	t.Setenv(config.EnvProjectRoot, root)
	p := openProject(t, t.TempDir())
	if p.Layout.Root != root {
		t.Fatalf("root = %s, want %s", p.Layout.Root, root)
	}
}

func TestOpenOutsideRepository(t *testing.T) {
	gittest.NeedGit(t)
	t.Setenv(config.EnvProjectRoot, "")
	_, err := Open(testContext(t), Options{Dir: t.TempDir(), Sessions: session.Noop{}})
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

// TestAgentLifecycle drives one agent from task creation to merge
// through the wired components.
func TestAgentLifecycle(t *testing.T) {
	root := gittest.NewRepo(t)
	if _, err := config.Init(config.Layout{Root: root}, "proj"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	p := openProject(t, root)
	ctx := testContext(t)

	task, err := p.Tasks.Create(tasks.CreateRequest{Title: "feature", Allow: []string{"src/a.go"}})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	owner := core.Owner{Agent: "alice", Task: task.ID}
	opened, err := p.Workspaces.Open(ctx, workspace.OpenRequest{Owner: owner, Lock: true})
	if err != nil {
		t.Fatalf("Open workspace: %v", err)
	}
	locks, err := p.Locks.List(ctx)
	if err != nil || len(locks) != 1 || locks[0].Owner != owner {
		t.Fatalf("locks = %+v err = %v", locks, err)
	}

	gittest.Write(t, opened.Path, "src/a.go", "package a\n")
	gittest.CommitAll(t, opened.Path, "add a")

	res, err := p.Merges.Merge(ctx, merge.Request{Owner: owner, Squash: true})
	if err != nil {
		t.Fatalf("Merge: %v", err)
	}
	if res.State != merge.StateCommitted || res.Released != 1 {
		t.Fatalf("res = %+v", res)
	}
	if locks, _ := p.Locks.List(ctx); len(locks) != 0 {
		t.Fatalf("locks should be released, got %+v", locks)
	}
	gittest.Git(t, root, "cat-file", "-e", "main:src/a.go")
}
