package git

import (
	"context"
	"path/filepath"
	"strings"
)

// Worktree is one entry of "git worktree list --porcelain".
type Worktree struct {
	Path     string
	Head     string
	Branch   string
	Detached bool
	Bare     bool
}

// Worktrees lists every worktree attached to the repository.
func (r *Repo) Worktrees(ctx context.Context) ([]Worktree, error) {
	out, err := r.Run(ctx, "", "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}
	return parseWorktrees(out), nil
}

func parseWorktrees(out string) []Worktree {
	var (
		all []Worktree
		cur *Worktree
	)
	flush := func() {
		if cur != nil {
			all = append(all, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		key, value, _ := strings.Cut(line, " ")
		switch key {
		case "":
			flush()
		case "worktree":
			flush()
			cur = &Worktree{Path: value}
		case "HEAD":
			if cur != nil {
				cur.Head = value
			}
		case "branch":
			if cur != nil {
				cur.Branch = strings.TrimPrefix(value, "refs/heads/")
			}
		case "detached":
			if cur != nil {
				cur.Detached = true
			}
		case "bare":
			if cur != nil {
				cur.Bare = true
			}
		}
	}
	flush()
	return all
}

// WorktreeForBranch returns the worktree that has branch checked out.
func (r *Repo) WorktreeForBranch(ctx context.Context, branch string) (Worktree, bool, error) {
	all, err := r.Worktrees(ctx)
	if err != nil {
		return Worktree{}, false, err
	}
	for _, wt := range all {
		if wt.Branch == branch {
			return wt, true, nil
		}
	}
	return Worktree{}, false, nil
}

// AddWorktree creates branch at base and checks it out into path.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, base string) error {
	_, err := r.Run(ctx, "", "worktree", "add", "-b", branch, path, base)
	return err
}

// CheckoutWorktree checks out an existing branch into a new worktree.
func (r *Repo) CheckoutWorktree(ctx context.Context, path, branch string) error {
	_, err := r.Run(ctx, "", "worktree", "add", path, branch)
	return err
}

// RemoveWorktree runs "git worktree remove", with --force when asked.
func (r *Repo) RemoveWorktree(ctx context.Context, path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	_, err := r.Run(ctx, "", append(args, path)...)
	return err
}

// SamePath compares two filesystem paths after resolving symlinks.
func SamePath(a, b string) bool {
	return canonical(a) == canonical(b)
}

func canonical(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	if resolved, err := filepath.EvalSymlinks(p); err == nil {
		p = resolved
	}
	return filepath.Clean(p)
}
