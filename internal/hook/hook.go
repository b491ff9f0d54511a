// Package hook implements the git hooks hydra installs. pre-commit keeps
// an agent's commits inside its task allow list and claims the files it
// commits, commit-msg adds Agent/Task trailers, and post-commit journals
// commits made outside hydra.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/permission"
	"github.com/mistakeknot/hydra/internal/storage"
	"github.com/mistakeknot/hydra/internal/tasks"
)

// Env is the hook-relevant part of the process environment.
type Env struct {
	Agent    string
	Task     string
	TaskFile string
	Skip     bool
	Internal bool
}

// EnvFrom reads Env through getenv, typically os.Getenv.
func EnvFrom(getenv func(string) string) Env {
	get := func(k string) string { return strings.TrimSpace(getenv(k)) }
	return Env{
		Agent:    get(core.EnvAgentID),
		Task:     get(core.EnvTaskID),
		TaskFile: get(core.EnvTaskFile),
		Skip:     get(core.EnvSkipHooks) != "",
		Internal: get(git.EnvInternal) != "",
	}
}

// FromAgent reports whether the commit is made from an agent session.
func (e Env) FromAgent() bool {
	return e.Agent != "" && e.Task != ""
}

type Options struct {
	Repo    *git.Repo
	Layout  config.Layout
	Locks   storage.LockStore
	Tasks   *tasks.Store
	Journal *journal.Journal
	Logger  *slog.Logger
}

type Runner struct {
	repo    *git.Repo
	layout  config.Layout
	locks   storage.LockStore
	tasks   *tasks.Store
	journal *journal.Journal
	logger  *slog.Logger
}

func New(opts Options) *Runner {
	r := &Runner{
		repo:    opts.Repo,
		layout:  opts.Layout,
		locks:   opts.Locks,
		tasks:   opts.Tasks,
		journal: opts.Journal,
		logger:  opts.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// PreCommit rejects staged paths outside the task allow list, then
// claims the staged paths for the committing agent. Commits without an
// agent identity, and commits with hooks skipped, pass untouched.
func (r *Runner) PreCommit(ctx context.Context, env Env, dir string) error {
	if env.Skip || !env.FromAgent() {
		return nil
	}
	owner, err := core.NewOwner(env.Agent, env.Task)
	if err != nil {
		return err
	}
	task, err := r.loadTask(env)
	if err != nil {
		return err
	}
	staged, err := r.repo.StagedFiles(ctx, dir)
	if err != nil {
		return fmt.Errorf("list staged files: %w", err)
	}
	if len(staged) == 0 {
		return nil
	}
	if bad := permission.Disallowed(staged, task.Allow); len(bad) > 0 {
		return &core.ConflictError{Op: "commit", Owner: owner, Disallowed: bad}
	}
	if err := r.locks.Claim(ctx, staged, owner); err != nil {
		return err
	}
	r.logger.Debug("commit allowed", "owner", owner.String(), "files", len(staged))
	return nil
}

func (r *Runner) loadTask(env Env) (core.Task, error) {
	if env.TaskFile == "" {
		return r.tasks.Load(env.Task)
	}
	path := env.TaskFile
	if !filepath.IsAbs(path) {
		path = filepath.Join(r.layout.Root, path)
	}
	return tasks.LoadFile(path, env.Task)
}

var (
	agentTrailer = regexp.MustCompile(`(?mi)^Agent:\s*\S+`)
	taskTrailer  = regexp.MustCompile(`(?mi)^Task:\s*\S+`)
)

// CommitMsg appends Agent and Task trailers to the message in msgFile
// unless both are already present.
func (r *Runner) CommitMsg(env Env, msgFile string) error {
	if !env.FromAgent() {
		return nil
	}
	data, err := os.ReadFile(msgFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read commit message: %w", err)
	}
	text := string(data)
	if agentTrailer.MatchString(text) && taskTrailer.MatchString(text) {
		return nil
	}
	if text != "" && !strings.HasSuffix(text, "\n") {
		text += "\n"
	}
	if text != "" && !strings.HasSuffix(text, "\n\n") {
		text += "\n"
	}
	text += fmt.Sprintf("Agent: %s\nTask: %s\n", env.Agent, env.Task)
	if err := os.WriteFile(msgFile, []byte(text), 0o644); err != nil {
		return fmt.Errorf("write commit message: %w", err)
	}
	return nil
}

// PostCommit journals HEAD. Commits hydra makes itself are journaled by
// the operation that made them and are skipped here.
func (r *Runner) PostCommit(ctx context.Context, env Env, dir string) (core.JournalEntry, bool, error) {
	if env.Internal {
		return core.JournalEntry{}, false, nil
	}
	sha, err := r.repo.ResolveCommit(ctx, dir, "HEAD")
	if err != nil {
		return core.JournalEntry{}, false, err
	}
	files, err := r.repo.ChangeSummary(ctx, dir, sha)
	if err != nil {
		return core.JournalEntry{}, false, fmt.Errorf("summarize commit: %w", err)
	}
	entry, err := r.journal.Append(core.JournalEntry{
		Commit: sha,
		Agent:  env.Agent,
		Task:   env.Task,
		Files:  files,
		Kind:   core.JournalCommit,
	})
	if err != nil {
		return core.JournalEntry{}, false, fmt.Errorf("journal commit: %w", err)
	}
	return entry, true, nil
}
