// Package project opens a hydra project: it resolves the repository
// root, loads the config and wires every component against it.
package project

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mistakeknot/hydra/internal/config"
	"github.com/mistakeknot/hydra/internal/git"
	"github.com/mistakeknot/hydra/internal/hook"
	"github.com/mistakeknot/hydra/internal/journal"
	"github.com/mistakeknot/hydra/internal/merge"
	"github.com/mistakeknot/hydra/internal/session"
	"github.com/mistakeknot/hydra/internal/snapshot"
	"github.com/mistakeknot/hydra/internal/storage/sqlite"
	"github.com/mistakeknot/hydra/internal/tasks"
	"github.com/mistakeknot/hydra/internal/workspace"
)

// Options for Open. Dir is any directory inside the repository,
// Sessions defaults to session.Detect and Logger to slog.Default.
type Options struct {
	Dir      string
	Sessions session.Backend
	Logger   *slog.Logger
}

type Project struct {
	Layout     config.Layout
	Config     config.Config
	Repo       *git.Repo
	Sessions   session.Backend
	Locks      *sqlite.Store
	Tasks      *tasks.Store
	Journal    *journal.Journal
	Workspaces *workspace.Manager
	Snapshots  *snapshot.Snapshotter
	Merges     *merge.Engine
	Hooks      *hook.Runner
	Logger     *slog.Logger
}

// Layout resolves the project layout for dir without opening anything.
func Layout(ctx context.Context, dir string) (config.Layout, error) {
	root, err := config.ResolveRoot(ctx, dir)
	if err != nil {
		return config.Layout{}, err
	}
	return config.Layout{Root: root}, nil
}

// Open wires a Project. The caller must Close it.
func Open(ctx context.Context, opts Options) (*Project, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Dir == "" {
		opts.Dir = "."
	}
	layout, err := Layout(ctx, opts.Dir)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(layout)
	if err != nil {
		return nil, err
	}
	sessions := opts.Sessions
	if sessions == nil {
		sessions = session.Detect()
	}
	locks, err := sqlite.New(layout.LocksDB(), sessions, logger)
	if err != nil {
		return nil, fmt.Errorf("open lock store: %w", err)
	}

	p := &Project{
		Layout:   layout,
		Config:   cfg,
		Repo:     git.New(layout.Root, logger),
		Sessions: sessions,
		Locks:    locks,
		Tasks:    tasks.NewStore(layout.TasksDir()),
		Journal:  journal.New(layout.Journal()),
		Logger:   logger,
	}
	p.Workspaces = workspace.New(workspace.Options{
		Repo:       p.Repo,
		Layout:     layout,
		SharedDeps: cfg.SharedDeps,
		Locks:      locks,
		Tasks:      p.Tasks,
		Journal:    p.Journal,
		Sessions:   sessions,
		Logger:     logger,
	})
	p.Snapshots = snapshot.New(p.Repo, p.Workspaces, p.Tasks, p.Journal, logger)
	p.Merges = merge.New(merge.Options{
		Repo:       p.Repo,
		Layout:     layout,
		Trunk:      cfg.Trunk,
		Locks:      locks,
		Tasks:      p.Tasks,
		Journal:    p.Journal,
		Workspaces: p.Workspaces,
		Sessions:   sessions,
		Logger:     logger,
	})
	p.Hooks = hook.New(hook.Options{
		Repo:    p.Repo,
		Layout:  layout,
		Locks:   locks,
		Tasks:   p.Tasks,
		Journal: p.Journal,
		Logger:  logger,
	})
	logger.Debug("project opened", "root", layout.Root, "sessions", sessions.Name())
	return p, nil
}

func (p *Project) Close() error {
	return p.Locks.Close()
}

