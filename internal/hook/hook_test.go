package hook

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
)

type fixture struct {
	root    string
	layout  config.Layout
	locks   *storage.InMemory
	journal *journal.Journal
	runner  *Runner
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := gittest.NewRepo(t)
	layout := config.Layout{Root: root}
	if _, err := config.Init(layout, "proj"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	store := tasks.NewStore(layout.TasksDir())
	if _, err := store.Create(tasks.CreateRequest{ID: "t1", Allow: []string{"src/**"}}); err != nil {
		t.Fatalf("create task: %v", err)
	}
	f := &fixture{
		root:    root,
		layout:  layout,
		locks:   storage.NewInMemory(session.Noop{}),
		journal: journal.New(layout.Journal()),
	}
	f.runner = New(Options{
		Repo:    git.New(root, nil),
		Layout:  layout,
		Locks:   f.locks,
		Tasks:   store,
		Journal: f.journal,
	})
	return f
}

func (f *fixture) stage(t *testing.T, files ...string) {
	t.Helper()
	for _, p := range files {
		gittest.Write(t, f.root, p, "x\n")
	}
	gittest.Git(t, f.root, append([]string{"add", "--"}, files...)...)
}

var alice = Env{Agent: "alice", Task: "t1"}

func TestEnvFrom(t *testing.T) {
	vars := map[string]string{
		"AGENT_ID":         " alice ",
		"TASK_ID":          "t1",
		"HYDRA_TASK_FILE":  "tasks/t1.json",
		"HYDRA_SKIP_HOOKS": "1",
	}
	env := EnvFrom(func(k string) string { return vars[k] })
	want := Env{Agent: "alice", Task: "t1", TaskFile: "tasks/t1.json", Skip: true}
	if env != want {
		t.Fatalf("env = %+v, want %+v", env, want)
	}
	if !env.FromAgent() {
		t.Fatalf("expected agent commit")
	}
	if (Env{Agent: "alice"}).FromAgent() {
		t.Fatalf("agent without task is not an agent commit")
	}
}

func TestPreCommitClaimsAllowedFiles(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "src/a.go")

	if err := f.runner.PreCommit(testContext(t), alice, f.root); err != nil {
		t.Fatalf("PreCommit: %v", err)
	}
	locks, _ := f.locks.List(testContext(t))
	if len(locks) != 1 || locks[0].File != "src/a.go" || locks[0].Owner != (core.Owner{Agent: "alice", Task: "t1"}) {
		t.Fatalf("locks = %+v", locks)
	}
}

func TestPreCommitRejectsDisallowed(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "src/a.go", "docs/notes.md")

	err := f.runner.PreCommit(testContext(t), alice, f.root)
	var cerr *core.ConflictError
	if !errors.As(err, &cerr) {
		t.Fatalf("expected ConflictError, got %v", err)
	}
	if !reflect.DeepEqual(cerr.Disallowed, []string{"docs/notes.md"}) {
		t.Fatalf("disallowed = %v", cerr.Disallowed)
	}
	if locks, _ := f.locks.List(testContext(t)); len(locks) != 0 {
		t.Fatalf("nothing should be claimed, got %+v", locks)
	}
}

func TestPreCommitRejectsForeignLock(t *testing.T) {
	f := newFixture(t)
	bob := core.Owner{Agent: "bob", Task: "t2"}
	if err := f.locks.Acquire(testContext(t), []string{"src/b.go"}, bob, ""); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	f.stage(t, "src/a.go", "src/b.go")

	err := f.runner.PreCommit(testContext(t), alice, f.root)
	var cerr *core.ConflictError
	if !errors.As(err, &cerr) || len(cerr.Conflicts) != 1 || cerr.Conflicts[0].Holder != bob {
		t.Fatalf("expected conflict with bob, got %v", err)
	}
}

func TestPreCommitPassThrough(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "docs/notes.md")

	cases := map[string]Env{
		"no agent": {},
		"skipped":  {Agent: "alice", Task: "t1", Skip: true},
	}
	for name, env := range cases {
		if err := f.runner.PreCommit(testContext(t), env, f.root); err != nil {
			t.Fatalf("%s: PreCommit: %v", name, err)
		}
	}
}

func TestPreCommitTaskFile(t *testing.T) {
	f := newFixture(t)
	f.stage(t, "src/a.go")

	env := alice
	env.TaskFile = "tasks/t1.json"
	if err := f.runner.PreCommit(testContext(t), env, f.root); err != nil {
		t.Fatalf("PreCommit: %v", err)
	}

	env.TaskFile = "tasks/missing.json"
	if err := f.runner.PreCommit(testContext(t), env, f.root); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCommitMsg(t *testing.T) {
	f := newFixture(t)
	cases := []struct {
		name string
		env  Env
		in   string
		want string
	}{
		{"appends trailers", alice, "fix bug\n", "fix bug\n\nAgent: alice\nTask: t1\n"},
		{"no trailing newline", alice, "fix bug", "fix bug\n\nAgent: alice\nTask: t1\n"},
		{"empty message", alice, "", "Agent: alice\nTask: t1\n"},
		{"already tagged", alice, "fix\n\nagent: bob\nTASK: t9\n", "fix\n\nagent: bob\nTASK: t9\n"},
		{"only one trailer", alice, "fix\n\nAgent: alice\n", "fix\n\nAgent: alice\n\nAgent: alice\nTask: t1\n"},
		{"not an agent", Env{}, "fix bug\n", "fix bug\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "COMMIT_EDITMSG")
			if err := os.WriteFile(path, []byte(tc.in), 0o644); err != nil {
				t.Fatalf("write: %v", err)
			}
			if err := f.runner.CommitMsg(tc.env, path); err != nil {
				t.Fatalf("CommitMsg: %v", err)
			}
			got, _ := os.ReadFile(path)
			if string(got) != tc.want {
				t.Fatalf("message = %q, want %q", got, tc.want)
			}
		})
	}

	if err := f.runner.CommitMsg(alice, filepath.Join(t.TempDir(), "missing")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
}

func TestPostCommit(t *testing.T) {
	f := newFixture(t)
	gittest.Write(t, f.root, "src/a.go", "package a\n")
	sha := gittest.CommitAll(t, f.root, "add a")

	entry, ok, err := f.runner.PostCommit(testContext(t), alice, f.root)
	if err != nil || !ok {
		t.Fatalf("PostCommit: ok=%v err=%v", ok, err)
	}
	if entry.Commit != sha || entry.Kind != core.JournalCommit || entry.Agent != "alice" {
		t.Fatalf("entry = %+v", entry)
	}
	if !strings.Contains(entry.Files, "src/a.go") {
		t.Fatalf("files = %q", entry.Files)
	}

	internal := alice
	internal.Internal = true
	if _, ok, err := f.runner.PostCommit(testContext(t), internal, f.root); err != nil || ok {
		t.Fatalf("internal commit: ok=%v err=%v", ok, err)
	}
	entries, _, _ := f.journal.Read(journal.Filter{})
	if len(entries) != 1 {
		t.Fatalf("entries = %+v", entries)
	}
}

func TestInstall(t *testing.T) {
	f := newFixture(t)
	foreign := filepath.Join(f.layout.HooksDir(), "pre-commit")
	if err := os.MkdirAll(filepath.Dir(foreign), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(foreign, []byte("#!/bin/sh\necho mine\n"), 0o755); err != nil {
		t.Fatalf("write: %v", err)
	}

	res, err := f.runner.Install(testContext(t), "/opt/it's/hydra")
	if err != nil {
		t.Fatalf("Install: %v", err)
	}
	if !reflect.DeepEqual(res.Hooks, Names) || len(res.Backups) != 1 {
		t.Fatalf("res = %+v", res)
	}
	if data, err := os.ReadFile(res.Backups[0]); err != nil || !strings.Contains(string(data), "echo mine") {
		t.Fatalf("backup = %q, err = %v", data, err)
	}
	data, err := os.ReadFile(foreign)
	if err != nil {
		t.Fatalf("read hook: %v", err)
	}
	want := `exec '/opt/it'\''s/hydra' hook pre-commit "$@"`
	if !strings.Contains(string(data), want) {
		t.Fatalf("hook = %q", data)
	}
	info, _ := os.Stat(foreign)
	if info.Mode().Perm()&0o111 == 0 {
		t.Fatalf("hook not executable: %v", info.Mode())
	}
	if got := gittest.Git(t, f.root, "config", "core.hooksPath"); got != f.layout.HooksDir() {
		t.Fatalf("core.hooksPath = %q", got)
	}

	again, err := f.runner.Install(testContext(t), "/opt/it's/hydra")
	if err != nil {
		t.Fatalf("second Install: %v", err)
	}
	if len(again.Backups) != 0 {
		t.Fatalf("reinstall should not back up its own hooks: %v", again.Backups)
	}
}
