package git

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/mistakeknot/hydra/internal/core"
)

// BranchExists reports whether refs/heads/name exists.
func (r *Repo) BranchExists(ctx context.Context, name string) bool {
	_, err := r.Run(ctx, "", "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// ResolveCommit resolves ref to a full commit id.
func (r *Repo) ResolveCommit(ctx context.Context, dir, ref string) (string, error) {
	res, err := r.Exec(ctx, dir, nil, "rev-parse", "--verify", "--quiet", ref+"^{commit}")
	if err != nil {
		if res.ExitCode == 1 {
			return "", core.NotFound("ref", ref)
		}
		return "", err
	}
	sha := strings.TrimSpace(res.Stdout)
	if sha == "" {
		return "", core.NotFound("ref", ref)
	}
	return sha, nil
}

// HeadBranch returns the branch checked out in dir, or "" when detached.
func (r *Repo) HeadBranch(ctx context.Context, dir string) (string, error) {
	res, err := r.Exec(ctx, dir, nil, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		if res.ExitCode == 1 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// Trunk returns override when set, otherwise main or master.
func (r *Repo) Trunk(ctx context.Context, override string) (string, error) {
	if override != "" {
		if !r.BranchExists(ctx, override) {
			return "", core.NotFound("trunk branch", override)
		}
		return override, nil
	}
	for _, name := range []string{"main", "master"} {
		if r.BranchExists(ctx, name) {
			return name, nil
		}
	}
	return "", core.NotFound("trunk branch", "main or master")
}

// DefaultBaseRef picks the ref new workspaces branch from: main, master,
// the current branch, or HEAD.
func (r *Repo) DefaultBaseRef(ctx context.Context) string {
	if trunk, err := r.Trunk(ctx, ""); err == nil {
		return trunk
	}
	if b, err := r.HeadBranch(ctx, ""); err == nil && b != "" {
		return b
	}
	return "HEAD"
}

// DeleteBranch runs "git branch -D".
func (r *Repo) DeleteBranch(ctx context.Context, name string) error {
	_, err := r.Run(ctx, "", "branch", "-D", name)
	return err
}

// Branches lists local branch names matching the ref pattern, e.g.
// "agent/*/*".
func (r *Repo) Branches(ctx context.Context, pattern string) ([]string, error) {
	out, err := r.Run(ctx, "", "for-each-ref", "--format=%(refname:short)", "refs/heads/"+pattern)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// MergeBase returns the best common ancestor of a and b.
func (r *Repo) MergeBase(ctx context.Context, a, b string) (string, error) {
	return r.Run(ctx, "", "merge-base", a, b)
}

// IsAncestor reports whether ancestor is reachable from descendant.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, descendant string) (bool, error) {
	res, err := r.Exec(ctx, "", nil, "merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	if res.ExitCode == 1 {
		return false, nil
	}
	return false, err
}

// RevCount counts the commits in a revision range such as "a..b".
func (r *Repo) RevCount(ctx context.Context, dir, rng string) (int, error) {
	out, err := r.Run(ctx, dir, "rev-list", "--count", rng)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, errors.New("rev-list --count: unexpected output " + strconv.Quote(out))
	}
	return n, nil
}

// ChangedFiles lists paths that differ between base and head.
func (r *Repo) ChangedFiles(ctx context.Context, base, head string) ([]string, error) {
	out, err := r.Run(ctx, "", "diff", "--name-only", base+".."+head)
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}

// Diff returns the unified diff between base and head.
func (r *Repo) Diff(ctx context.Context, base, head string) (string, error) {
	res, err := r.Exec(ctx, "", nil, "diff", "--no-color", "--no-ext-diff", base+".."+head)
	if err != nil {
		return "", err
	}
	return res.Stdout, nil
}

