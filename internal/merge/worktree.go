package merge

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/git"
)

// trunkWorktree is a checkout used for one merge or rollback. Temporary
// checkouts live under .hydra/worktrees and are removed on release
// unless keep is set.
type trunkWorktree struct {
	e    *Engine
	path string
	temp bool
	keep bool
}

func (e *Engine) acquireTrunk(ctx context.Context, trunk string, existing git.Worktree, ok bool) (*trunkWorktree, error) {
	if ok {
		return &trunkWorktree{e: e, path: existing.Path}, nil
	}
	wt, err := e.tempCheckout(ctx, "trunk-"+trunk, trunk)
	if err != nil {
		return nil, err
	}
	head, err := e.repo.HeadBranch(ctx, wt.path)
	if err != nil {
		wt.release(ctx)
		return nil, err
	}
	if head != trunk {
		wt.release(ctx)
		return nil, core.Invalid("trunk worktree", wt.path, fmt.Sprintf("on %q, expected %q", head, trunk))
	}
	return wt, nil
}

func (e *Engine) tempCheckout(ctx context.Context, prefix, branch string) (*trunkWorktree, error) {
	name := strings.ReplaceAll(prefix, "/", "-") + "-" + uuid.NewString()[:8]
	path := filepath.Join(e.layout.WorktreesDir(), name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create worktrees dir: %w", err)
	}
	if err := e.repo.CheckoutWorktree(ctx, path, branch); err != nil {
		return nil, fmt.Errorf("check out %s: %w", branch, err)
	}
	e.logger.Debug("temporary worktree created", "path", path, "branch", branch)
	return &trunkWorktree{e: e, path: path, temp: true}, nil
}

func (w *trunkWorktree) release(ctx context.Context) {
	if !w.temp || w.keep {
		return
	}
	// Cleanup must run even when the merge was cancelled.
	ctx = context.WithoutCancel(ctx)
	if err := w.e.repo.RemoveWorktree(ctx, w.path, true); err != nil {
		w.e.logger.Warn("remove temporary worktree", "path", w.path, "err", err)
	}
}

func (e *Engine) isTemp(path string) bool {
	rel, err := filepath.Rel(e.layout.WorktreesDir(), path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.HasPrefix(rel, "..")
}
