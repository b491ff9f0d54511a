package snapshot

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
)

const (
	DefaultPoll = 500 * time.Millisecond
	minSleep    = 50 * time.Millisecond
)

// quietWaiter blocks until no changed file in a worktree has been
// modified for the debounce interval. Directories of changed files are
// watched so a round ends early when something is written.
type quietWaiter struct {
	repo    *git.Repo
	dir     string
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
	watcher *fsnotify.Watcher
	watched map[string]bool
}

func (w *quietWaiter) wait(ctx context.Context) error {
	if w.opts.Debounce <= 0 {
		return nil
	}
	if fsw, err := fsnotify.NewWatcher(); err != nil {
		w.logger.Debug("file watcher unavailable, polling only", "err", err)
	} else {
		w.watcher = fsw
		w.watched = make(map[string]bool)
		defer fsw.Close()
	}

	start := w.now()
	for {
		entries, err := w.repo.Status(ctx, w.dir)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}

		latest := w.latestChange(entries)
		quiet := w.opts.Debounce
		if !latest.IsZero() {
			quiet = w.now().Sub(latest)
		}
		if quiet >= w.opts.Debounce {
			return nil
		}
		sleep := min(w.opts.Poll, max(minSleep, w.opts.Debounce-quiet))
		if w.opts.MaxWait > 0 {
			left := w.opts.MaxWait - w.now().Sub(start)
			if left <= 0 {
				return &core.TimeoutError{Op: "snapshot", Debounce: w.opts.Debounce, MaxWait: w.opts.MaxWait}
			}
			sleep = min(sleep, left)
		}
		if err := w.sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

// latestChange returns the newest mtime among the changed regular files
// and starts watching their directories.
func (w *quietWaiter) latestChange(entries []git.StatusEntry) time.Time {
	var latest time.Time
	for _, e := range entries {
		if e.Path == "" {
			continue
		}
		p := filepath.Join(w.dir, filepath.FromSlash(e.Path))
		w.watch(filepath.Dir(p))
		info, err := os.Stat(p)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
	}
	return latest
}

func (w *quietWaiter) watch(dir string) {
	if w.watcher == nil || w.watched[dir] {
		return
	}
	w.watched[dir] = true
	if err := w.watcher.Add(dir); err != nil {
		w.logger.Debug("watch dir", "dir", dir, "err", err)
	}
}

// sleep waits for d, returning early on a write, create, rename or
// remove event.
func (w *quietWaiter) sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	var events <-chan fsnotify.Event
	var errs <-chan error
	if w.watcher != nil {
		events = w.watcher.Events
		errs = w.watcher.Errors
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
				return nil
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.logger.Debug("file watcher error", "err", err)
		}
	}
}
