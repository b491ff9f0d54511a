// Package snapshot commits an agent's worktree once it has stopped
// changing and records the commit in the journal.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/tasks"
	"github.com/mistakeknot/hydra/internal/workspace"
)

// Options tunes the wait for a quiet worktree. A zero Debounce commits
// immediately, a zero MaxWait waits as long as ctx allows, and a zero
// Poll uses DefaultPoll.
type Options struct {
	Debounce time.Duration
	MaxWait  time.Duration
	Poll     time.Duration
}

type Result struct {
	Owner     core.Owner
	NoChanges bool
	Commit    string
	Files     string
	Entry     core.JournalEntry
}

type Snapshotter struct {
	repo       *git.Repo
	workspaces *workspace.Manager
	tasks      *tasks.Store
	journal    *journal.Journal
	logger     *slog.Logger
	now        func() time.Time
}

func New(repo *git.Repo, workspaces *workspace.Manager, taskStore *tasks.Store, j *journal.Journal, logger *slog.Logger) *Snapshotter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Snapshotter{
		repo:       repo,
		workspaces: workspaces,
		tasks:      taskStore,
		journal:    j,
		logger:     logger,
		now:        time.Now,
	}
}

// Snapshot stages everything in owner's worktree, waits until the
// changed files have been quiet for opts.Debounce, then commits under
// the agent's identity and journals the commit.
func (s *Snapshotter) Snapshot(ctx context.Context, owner core.Owner, opts Options) (Result, error) {
	if opts.Poll <= 0 {
		opts.Poll = DefaultPoll
	}
	out := Result{Owner: owner}
	dir := s.workspaces.Dir(owner)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return out, core.NotFound("workspace", dir)
	}
	if _, err := s.tasks.Load(owner.Task); err != nil {
		return out, err
	}

	clean, err := s.repo.IsClean(ctx, dir, false)
	if err != nil {
		return out, err
	}
	if clean {
		out.NoChanges = true
		return out, nil
	}

	if err := s.repo.AddAll(ctx, dir); err != nil {
		return out, fmt.Errorf("stage changes: %w", err)
	}
	w := &quietWaiter{repo: s.repo, dir: dir, opts: opts, logger: s.logger, now: s.now}
	if err := w.wait(ctx); err != nil {
		return out, err
	}
	if err := s.repo.AddAll(ctx, dir); err != nil {
		return out, fmt.Errorf("stage changes: %w", err)
	}
	clean, err = s.repo.IsClean(ctx, dir, false)
	if err != nil {
		return out, err
	}
	if clean {
		out.NoChanges = true
		return out, nil
	}

	msg := "Snapshot: " + s.now().Format("2006-01-02 15:04:05")
	env := git.Internal(s.workspaces.SessionEnv(owner)...)
	sha, err := s.repo.Commit(ctx, dir, msg, env)
	if err != nil {
		return out, fmt.Errorf("commit snapshot: %w", err)
	}
	out.Commit = sha

	files, err := s.repo.ChangeSummary(ctx, dir, sha)
	if err != nil {
		s.logger.Warn("summarize snapshot", "commit", sha, "err", err)
	}
	out.Files = files
	out.Entry, err = s.journal.Append(core.JournalEntry{
		Commit: sha,
		Agent:  owner.Agent,
		Task:   owner.Task,
		Files:  files,
		Kind:   core.JournalSnapshot,
	})
	if err != nil {
		return out, fmt.Errorf("journal snapshot: %w", err)
	}
	s.logger.Info("snapshot committed", "owner", owner.String(), "commit", sha)
	return out, nil
}
