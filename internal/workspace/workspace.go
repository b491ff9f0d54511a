// Package workspace manages agent workspaces: one git worktree under
// .agents/<agent>/<task> on branch agent/<agent>/<task> per (agent, task).
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/permission"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/storage"
	"github.com/mistakeknot/hydra/internal/tasks"
)

// Options wires a Manager. Sessions defaults to session.Noop and Logger
// to slog.Default.
type Options struct {
	Repo       *git.Repo
	Layout     config.Layout
	SharedDeps []string
	Locks      storage.LockStore
	Tasks      *tasks.Store
	Journal    *journal.Journal
	Sessions   session.Backend
	Logger     *slog.Logger
}

type Manager struct {
	repo     *git.Repo
	layout   config.Layout
	shared   []string
	locks    storage.LockStore
	tasks    *tasks.Store
	journal  *journal.Journal
	sessions session.Backend
	logger   *slog.Logger
}

func New(opts Options) *Manager {
	m := &Manager{
		repo:     opts.Repo,
		layout:   opts.Layout,
		shared:   opts.SharedDeps,
		locks:    opts.Locks,
		tasks:    opts.Tasks,
		journal:  opts.Journal,
		sessions: opts.Sessions,
		logger:   opts.Logger,
	}
	if m.sessions == nil {
		m.sessions = session.Noop{}
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

// Dir returns the worktree directory for owner.
func (m *Manager) Dir(owner core.Owner) string {
	return m.layout.WorkspaceDir(owner.Agent, owner.Task)
}

// State is the on-disk presence of a workspace's two halves.
type State struct {
	Owner        core.Owner
	Dir          string
	Branch       string
	DirExists    bool
	BranchExists bool
}

func (s State) Exists() bool { return s.DirExists && s.BranchExists }
func (s State) Missing() bool { return !s.DirExists && !s.BranchExists }
func (s State) Orphaned() bool { return s.DirExists != s.BranchExists }

// Err returns a *core.WorkspaceStateError for an orphaned workspace.
func (s State) Err() error {
	if !s.Orphaned() {
		return nil
	}
	return &core.WorkspaceStateError{
		Owner:        s.Owner,
		BranchExists: s.BranchExists,
		DirExists:    s.DirExists,
		Dir:          s.Dir,
	}
}

// State inspects the branch and directory for owner.
func (m *Manager) State(ctx context.Context, owner core.Owner) State {
	dir := m.Dir(owner)
	_, err := os.Lstat(dir)
	return State{
		Owner:        owner,
		Dir:          dir,
		Branch:       owner.Branch(),
		DirExists:    err == nil,
		BranchExists: m.repo.BranchExists(ctx, owner.Branch()),
	}
}

// Created describes a freshly created workspace.
type Created struct {
	core.Workspace
	Base   string
	Shared []string
}

// Create adds the worktree and branch for owner from baseRef (the
// default base when empty) and links the shared dependency directories.
// Nothing is created when either half already exists.
func (m *Manager) Create(ctx context.Context, owner core.Owner, baseRef string, shareDeps bool) (Created, error) {
	st := m.State(ctx, owner)
	switch {
	case st.Exists():
		return Created{}, fmt.Errorf("workspace %s: %w", owner, core.ErrExists)
	case st.Orphaned():
		return Created{}, st.Err()
	}
	if baseRef == "" {
		baseRef = m.repo.DefaultBaseRef(ctx)
	}
	if err := os.MkdirAll(filepath.Dir(st.Dir), 0o755); err != nil {
		return Created{}, fmt.Errorf("create agent dir: %w", err)
	}
	if err := m.repo.AddWorktree(ctx, st.Dir, st.Branch, baseRef); err != nil {
		return Created{}, fmt.Errorf("create worktree: %w", err)
	}

	out := Created{
		Workspace: core.Workspace{Owner: owner, Path: st.Dir, Branch: st.Branch},
		Base:      baseRef,
	}
	if shareDeps {
		shared, err := ShareDeps(m.repo.Root(), st.Dir, m.shared)
		if err != nil {
			m.undoCreate(ctx, st)
			return Created{}, err
		}
		out.Shared = shared
	}
	m.logger.Info("workspace created", "owner", owner.String(), "dir", st.Dir, "base", baseRef, "shared", out.Shared)
	return out, nil
}

func (m *Manager) undoCreate(ctx context.Context, st State) {
	if err := m.repo.RemoveWorktree(ctx, st.Dir, true); err != nil {
		m.logger.Warn("remove worktree after failed create", "dir", st.Dir, "err", err)
	}
	if err := m.repo.DeleteBranch(ctx, st.Branch); err != nil {
		m.logger.Warn("delete branch after failed create", "branch", st.Branch, "err", err)
	}
}

// ShareDeps links each dependency directory that exists under root into
// worktree with a relative symlink. Existing destinations are left in
// place; one that already links to the source counts as shared.
func ShareDeps(root, worktree string, deps []string) ([]string, error) {
	var shared []string
	for _, d := range deps {
		src := filepath.Join(root, d)
		if _, err := os.Stat(src); err != nil {
			continue
		}
		dest := filepath.Join(worktree, d)
		if info, err := os.Lstat(dest); err == nil {
			if info.Mode()&fs.ModeSymlink != 0 && sameTarget(dest, src) {
				shared = append(shared, d)
			}
			continue
		}
		rel, err := filepath.Rel(filepath.Dir(dest), src)
		if err != nil {
			return shared, fmt.Errorf("share %s: %w", d, err)
		}
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return shared, fmt.Errorf("share %s: %w", d, err)
		}
		if err := os.Symlink(rel, dest); err != nil {
			return shared, fmt.Errorf("share %s: %w", d, err)
		}
		shared = append(shared, d)
	}
	return shared, nil
}

func sameTarget(link, src string) bool {
	a, err := filepath.EvalSymlinks(link)
	if err != nil {
		return false
	}
	b, err := filepath.EvalSymlinks(src)
	if err != nil {
		return false
	}
	return a == b
}

// OpenRequest describes "agent open". Session, when set, names the
// terminal session started in the worktree; with Lock it also tags the
// acquired locks so they are collected when the session dies.
type OpenRequest struct {
	Owner     core.Owner
	BaseRef   string
	Lock      bool
	Session   string
	ShareDeps bool
}

// Opened is the outcome of Open.
type Opened struct {
	Created
	Task           core.Task
	Files          []string
	Locked         bool
	Session        string
	SessionStarted bool
	Warnings       []string
}

// Open loads the task, expands its allow list, optionally acquires the
// locks, and creates the workspace. Locks acquired here are released
// again if anything after acquisition fails.
func (m *Manager) Open(ctx context.Context, req OpenRequest) (Opened, error) {
	owner, err := core.NewOwner(req.Owner.Agent, req.Owner.Task)
	if err != nil {
		return Opened{}, err
	}
	task, err := m.tasks.Load(owner.Task)
	if err != nil {
		return Opened{}, err
	}
	files, err := permission.Expand(m.repo.Root(), task.Allow)
	if err != nil {
		return Opened{}, err
	}

	// Refuse an existing workspace before touching its owner's locks.
	switch st := m.State(ctx, owner); {
	case st.Exists():
		return Opened{}, fmt.Errorf("workspace %s: %w", owner, core.ErrExists)
	case st.Orphaned():
		return Opened{}, st.Err()
	}

	out := Opened{Task: task, Files: files}
	if req.Lock {
		if err := m.locks.Acquire(ctx, files, owner, ""); err != nil {
			return Opened{}, err
		}
		out.Locked = true
	}
	release := func(cause error) error {
		if !out.Locked {
			return cause
		}
		if _, err := m.locks.Release(ctx, owner); err != nil {
			m.logger.Error("release locks after failed open", "owner", owner.String(), "err", err)
		}
		return cause
	}

	created, err := m.Create(ctx, owner, req.BaseRef, req.ShareDeps)
	if err != nil {
		return Opened{}, release(err)
	}
	out.Created = created

	if req.Session != "" {
		env := m.SessionEnv(owner)
		started, err := m.sessions.Ensure(ctx, req.Session, created.Path, env)
		if err != nil {
			out.Warnings = append(out.Warnings, fmt.Sprintf("session %s not started: %v", req.Session, err))
		} else if started || m.confirmed(ctx, req.Session) {
			out.Session = req.Session
			out.SessionStarted = started
			if out.Locked {
				if _, err := m.locks.SetSession(ctx, owner, req.Session); err != nil {
					return Opened{}, release(fmt.Errorf("tag locks with session: %w", err))
				}
			}
		}
	}
	m.logger.Info("workspace opened", "owner", owner.String(), "locked", out.Locked, "files", len(files), "session", out.Session)
	return out, nil
}

// confirmed reports whether name is known to be running. The no-op
// backend confirms nothing.
func (m *Manager) confirmed(ctx context.Context, name string) bool {
	if _, noop := m.sessions.(session.Noop); noop {
		return false
	}
	return m.sessions.Alive(ctx, name)
}

// SessionEnv is the environment an agent session runs with: its
// identity for the commit hooks and for git authorship.
func (m *Manager) SessionEnv(owner core.Owner) []string {
	env := []string{
		core.EnvAgentID + "=" + owner.Agent,
		core.EnvTaskID + "=" + owner.Task,
		config.EnvProjectRoot + "=" + m.repo.Root(),
		core.EnvTaskFile + "=" + filepath.Join(m.layout.TasksDir(), owner.Task+".json"),
	}
	return append(env, git.Identity(owner.Agent)...)
}

// Destroy removes owner's worktree. The branch is kept.
func (m *Manager) Destroy(ctx context.Context, owner core.Owner, force bool) error {
	dir := m.Dir(owner)
	if _, err := os.Lstat(dir); errors.Is(err, fs.ErrNotExist) {
		return core.NotFound("workspace", dir)
	}
	if err := m.repo.RemoveWorktree(ctx, dir, force); err != nil {
		return fmt.Errorf("remove worktree: %w", err)
	}
	m.logger.Info("workspace removed", "owner", owner.String(), "dir", dir)
	return nil
}

// CloseRequest describes "agent close". Session defaults to the
// per-agent session name.
type CloseRequest struct {
	Owner          core.Owner
	RemoveWorktree bool
	Force          bool
	KillSession    bool
	Session        string
}

type Closed struct {
	Released int
	Removed  bool
	Warnings []string
}

// Close releases owner's locks, then optionally removes the worktree
// and kills the session. Only the release can fail the call; the other
// steps report warnings.
func (m *Manager) Close(ctx context.Context, req CloseRequest) (Closed, error) {
	owner, err := core.NewOwner(req.Owner.Agent, req.Owner.Task)
	if err != nil {
		return Closed{}, err
	}
	var out Closed
	out.Released, err = m.locks.Release(ctx, owner)
	if err != nil {
		return Closed{}, fmt.Errorf("release locks: %w", err)
	}
	if req.RemoveWorktree {
		if err := m.Destroy(ctx, owner, req.Force); err != nil {
			out.Warnings = append(out.Warnings, err.Error())
		} else {
			out.Removed = true
		}
	}
	if req.KillSession {
		name := req.Session
		if name == "" {
			name = session.Name(owner.Agent, owner.Task)
		}
		if err := m.sessions.Kill(ctx, name); err != nil {
			out.Warnings = append(out.Warnings, err.Error())
		}
	}
	m.logger.Info("workspace closed", "owner", owner.String(), "released", out.Released, "removed", out.Removed)
	return out, nil
}
