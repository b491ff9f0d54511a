// Package merge integrates agent branches into trunk and rolls them back.
//
// A merge moves through Preflight, Merging and one of Committed, Conflict
// or Aborted. Preflight performs no git mutation, so a rejected merge
// leaves nothing behind. A Conflict is left in the trunk worktree for a
// human to resolve; every other failure restores the trunk worktree
// before the error is returned.
package merge

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/storage"
	"github.com/mistakeknot/hydra/internal/tasks"
	"github.com/mistakeknot/hydra/internal/workspace"
)

type State string

const (
	StatePreflight State = "preflight"
	StateMerging   State = "merging"
	StateCommitted State = "committed"
	StateConflict  State = "conflict"
	StateAborted   State = "aborted"
)

// Options wires an Engine. Trunk overrides main/master detection.
type Options struct {
	Repo       *git.Repo
	Layout     config.Layout
	Trunk      string
	Locks      storage.LockStore
	Tasks      *tasks.Store
	Journal    *journal.Journal
	Workspaces *workspace.Manager
	Sessions   session.Backend
	Logger     *slog.Logger
}

type Engine struct {
	repo       *git.Repo
	layout     config.Layout
	trunk      string
	locks      storage.LockStore
	tasks      *tasks.Store
	journal    *journal.Journal
	workspaces *workspace.Manager
	sessions   session.Backend
	logger     *slog.Logger
}

func New(opts Options) *Engine {
	e := &Engine{
		repo:       opts.Repo,
		layout:     opts.Layout,
		trunk:      opts.Trunk,
		locks:      opts.Locks,
		tasks:      opts.Tasks,
		journal:    opts.Journal,
		workspaces: opts.Workspaces,
		sessions:   opts.Sessions,
		logger:     opts.Logger,
	}
	if e.sessions == nil {
		e.sessions = session.Noop{}
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

type Request struct {
	Owner  core.Owner
	Squash bool
}

// Result records how far a merge got. It is returned alongside errors
// too, with State telling where the merge stopped.
type Result struct {
	Owner    core.Owner
	Branch   string
	Trunk    string
	State    State
	Changed  []string
	Worktree string
	Commit   string
	Empty    bool
	Released int
	Warnings []string
}

// Merge integrates owner's branch into trunk. On success the agent's
// session, locks, worktree and branch are torn down.
func (e *Engine) Merge(ctx context.Context, req Request) (Result, error) {
	owner := req.Owner
	res := Result{Owner: owner, Branch: owner.Branch(), State: StatePreflight}

	if _, err := e.tasks.Load(owner.Task); err != nil {
		return res, err
	}
	trunk, err := e.repo.Trunk(ctx, e.trunk)
	if err != nil {
		return res, err
	}
	res.Trunk = trunk
	if !e.repo.BranchExists(ctx, res.Branch) {
		return res, core.NotFound("branch", res.Branch)
	}

	existing, hasTrunk, err := e.repo.WorktreeForBranch(ctx, trunk)
	if err != nil {
		return res, err
	}
	if hasTrunk {
		if err := e.requireClean(ctx, existing.Path, fmt.Sprintf("trunk worktree (%s)", trunk), true); err != nil {
			return res, err
		}
	}
	if dir, ok, err := e.agentWorktree(ctx, owner); err != nil {
		return res, err
	} else if ok {
		if err := e.requireClean(ctx, dir, fmt.Sprintf("agent worktree (%s)", owner), false); err != nil {
			return res, err
		}
	}

	base, err := e.repo.MergeBase(ctx, trunk, res.Branch)
	if err != nil {
		return res, fmt.Errorf("find merge base: %w", err)
	}
	res.Changed, err = e.repo.ChangedFiles(ctx, base, res.Branch)
	if err != nil {
		return res, fmt.Errorf("list changed files: %w", err)
	}
	if len(res.Changed) > 0 {
		conflicts, err := e.locks.Check(ctx, res.Changed, owner)
		if err != nil {
			return res, err
		}
		if len(conflicts) > 0 {
			return res, &core.ConflictError{Op: "merge", Owner: owner, Conflicts: conflicts}
		}
	}

	wt, err := e.acquireTrunk(ctx, trunk, existing, hasTrunk)
	if err != nil {
		return res, err
	}
	defer wt.release(ctx)
	res.Worktree = wt.path

	res.State = StateMerging
	env := git.HookSkipEnv(git.Internal(e.workspaces.SessionEnv(owner)...)...)
	var args []string
	if req.Squash {
		args = []string{"merge", "--squash", res.Branch}
	} else {
		args = []string{"merge", "--no-ff", "--no-edit", res.Branch}
	}
	if _, err := e.repo.Exec(ctx, wt.path, env, args...); err != nil {
		return e.failed(ctx, res, wt, req.Squash, err)
	}
	if req.Squash {
		staged, err := e.repo.StagedFiles(ctx, wt.path)
		if err != nil {
			return e.failed(ctx, res, wt, true, err)
		}
		if len(staged) == 0 {
			res.Empty = true
		} else {
			msg := fmt.Sprintf("Merge %s into %s (squash)", res.Branch, trunk)
			if _, err := e.repo.Commit(ctx, wt.path, msg, env); err != nil {
				return e.failed(ctx, res, wt, true, err)
			}
		}
	}

	res.Commit, err = e.repo.ResolveCommit(ctx, wt.path, "HEAD")
	if err != nil {
		return res, err
	}
	res.State = StateCommitted
	e.logger.Info("merge committed", "owner", owner.String(), "trunk", trunk, "commit", res.Commit, "squash", req.Squash)

	if !res.Empty {
		files, err := e.repo.ChangeSummary(ctx, wt.path, res.Commit)
		if err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("summarize merge commit: %v", err))
		}
		if _, err := e.journal.Append(core.JournalEntry{
			Commit: res.Commit,
			Agent:  owner.Agent,
			Task:   owner.Task,
			Files:  files,
			Kind:   core.JournalMerge,
		}); err != nil {
			res.Warnings = append(res.Warnings, fmt.Sprintf("journal merge: %v", err))
		}
	}
	e.teardown(ctx, &res)
	return res, nil
}

// failed settles a merge command failure as Conflict or Aborted.
func (e *Engine) failed(ctx context.Context, res Result, wt *trunkWorktree, squash bool, cause error) (Result, error) {
	paths, err := e.repo.UnmergedPaths(ctx, wt.path)
	if err == nil && len(paths) > 0 {
		res.State = StateConflict
		wt.keep = true
		e.logger.Warn("merge conflict", "owner", res.Owner.String(), "worktree", wt.path, "paths", paths)
		return res, &core.MergeConflictError{
			Owner:    res.Owner,
			Branch:   res.Branch,
			Trunk:    res.Trunk,
			Worktree: wt.path,
			Paths:    paths,
			Squash:   squash,
		}
	}
	res.State = StateAborted
	e.abortMerge(ctx, wt.path)
	return res, fmt.Errorf("merge %s into %s (merge aborted): %w", res.Branch, res.Trunk, cause)
}

func (e *Engine) teardown(ctx context.Context, res *Result) {
	owner := res.Owner
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		res.Warnings = append(res.Warnings, msg)
		e.logger.Warn(msg)
	}

	name := session.Name(owner.Agent, owner.Task)
	if e.sessions.Alive(ctx, name) {
		if err := e.sessions.Kill(ctx, name); err != nil {
			warn("kill session %s: %v", name, err)
		}
	}

	n, err := e.locks.Release(ctx, owner)
	if err != nil {
		warn("release locks for %s: %v", owner, err)
	}
	res.Released = n

	if dir, ok, err := e.agentWorktree(ctx, owner); err == nil && ok {
		if err := e.repo.RemoveWorktree(ctx, dir, true); err != nil {
			warn("remove worktree %s: %v", dir, err)
		}
	}
	if e.repo.BranchExists(ctx, res.Branch) {
		if err := e.repo.DeleteBranch(ctx, res.Branch); err != nil {
			warn("delete branch %s: %v", res.Branch, err)
		}
	}
}

// agentWorktree finds the checkout of owner's branch, falling back to
// the conventional directory.
func (e *Engine) agentWorktree(ctx context.Context, owner core.Owner) (string, bool, error) {
	wt, ok, err := e.repo.WorktreeForBranch(ctx, owner.Branch())
	if err != nil {
		return "", false, err
	}
	if ok {
		return wt.Path, true, nil
	}
	dir := e.workspaces.Dir(owner)
	if _, err := os.Stat(dir); err == nil {
		return dir, true, nil
	}
	return "", false, nil
}

func (e *Engine) requireClean(ctx context.Context, dir, label string, ignoreUntracked bool) error {
	entries, err := e.repo.Status(ctx, dir)
	if err != nil {
		return err
	}
	var dirty []string
	for _, s := range entries {
		if ignoreUntracked && s.Untracked() {
			continue
		}
		dirty = append(dirty, s.Code+" "+s.Path)
	}
	if len(dirty) == 0 {
		return nil
	}
	return &core.DirtyWorktreeError{Label: label, Dir: dir, Entries: dirty}
}

func (e *Engine) abortMerge(ctx context.Context, dir string) {
	if _, err := e.repo.Exec(ctx, dir, nil, "merge", "--abort"); err == nil {
		return
	}
	if _, err := e.repo.Exec(ctx, dir, nil, "reset", "--hard", "HEAD"); err != nil {
		e.logger.Error("restore trunk worktree", "dir", dir, "err", err)
	}
}

type Aborted struct {
	Worktree string
	Removed  bool
}

// Abort abandons a merge left in the trunk worktree and removes the
// worktree if hydra created it.
func (e *Engine) Abort(ctx context.Context) (Aborted, error) {
	trunk, err := e.repo.Trunk(ctx, e.trunk)
	if err != nil {
		return Aborted{}, err
	}
	wt, ok, err := e.repo.WorktreeForBranch(ctx, trunk)
	if err != nil {
		return Aborted{}, err
	}
	if !ok {
		return Aborted{}, core.NotFound("trunk worktree", trunk)
	}
	e.abortMerge(ctx, wt.Path)
	out := Aborted{Worktree: wt.Path}
	if e.isTemp(wt.Path) {
		if err := e.repo.RemoveWorktree(ctx, wt.Path, true); err != nil {
			return out, fmt.Errorf("remove trunk worktree: %w", err)
		}
		out.Removed = true
	}
	e.logger.Info("merge aborted", "worktree", wt.Path, "removed", out.Removed)
	return out, nil
}
