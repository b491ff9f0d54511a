package git

import (
	"context"
	"strings"

	"github.com/mistakeknot/hydra/internal/core"
)

// AddAll stages every change in dir, deletions and untracked files
// included.
func (r *Repo) AddAll(ctx context.Context, dir string) error {
	_, err := r.Run(ctx, dir, "add", "-A")
	return err
}

// Commit records the index in dir and returns the new commit id.
func (r *Repo) Commit(ctx context.Context, dir, message string, env []string) (string, error) {
	if _, err := r.Exec(ctx, dir, env, "commit", "-m", message); err != nil {
		return "", err
	}
	return r.Run(ctx, dir, "rev-parse", "HEAD")
}

// ChangeSummary describes the paths touched by sha as
// "M\tpath;A\tother". Merge commits are compared against their first
// parent.
func (r *Repo) ChangeSummary(ctx context.Context, dir, sha string) (string, error) {
	parents, err := r.Run(ctx, dir, "rev-list", "--parents", "-n", "1", sha)
	if err != nil {
		return "", err
	}
	var out string
	if fields := strings.Fields(parents); len(fields) > 2 {
		out, err = r.Run(ctx, dir, "diff", "--name-status", fields[1], sha)
	} else {
		out, err = r.Run(ctx, dir, "diff-tree", "--no-commit-id", "--name-status", "-r", "--root", sha)
	}
	if err != nil {
		return "", err
	}
	return strings.Join(lines(out), ";"), nil
}

// HookSkipEnv returns env with the marker that makes the commit hooks
// stand aside, as merges and reverts require.
func HookSkipEnv(env ...string) []string {
	return append(env, core.EnvSkipHooks+"=1")
}
