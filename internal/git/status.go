package git

import (
	"context"
	"strings"
)

// StatusEntry is one path from "git status --porcelain". Code is the
// two-letter XY status; for renames Path is the new name.
type StatusEntry struct {
	Code     string
	Path     string
	OrigPath string
}

// Untracked reports "??" entries.
func (e StatusEntry) Untracked() bool {
	return e.Code == "??"
}

// Unmerged reports the status codes git uses for conflicted paths.
func (e StatusEntry) Unmerged() bool {
	switch e.Code {
	case "DD", "AU", "UD", "UA", "DU", "AA", "UU":
		return true
	}
	return false
}

// Status lists changed paths in the worktree at dir.
func (r *Repo) Status(ctx context.Context, dir string) ([]StatusEntry, error) {
	res, err := r.Exec(ctx, dir, nil, "status", "--porcelain=v1", "-z", "--untracked-files=all")
	if err != nil {
		return nil, err
	}
	return parseStatusZ(res.Stdout), nil
}

// parseStatusZ parses NUL-separated porcelain v1 output. Rename and copy
// entries are followed by an extra field holding the original path.
func parseStatusZ(out string) []StatusEntry {
	var entries []StatusEntry
	fields := strings.Split(out, "\x00")
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if len(f) < 4 {
			continue
		}
		e := StatusEntry{Code: f[:2], Path: f[3:]}
		if e.Code[0] == 'R' || e.Code[0] == 'C' {
			if i+1 < len(fields) {
				e.OrigPath = fields[i+1]
				i++
			}
		}
		entries = append(entries, e)
	}
	return entries
}

// IsClean reports whether dir has no changes. Untracked files count
// unless ignoreUntracked is set.
func (r *Repo) IsClean(ctx context.Context, dir string, ignoreUntracked bool) (bool, error) {
	entries, err := r.Status(ctx, dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if ignoreUntracked && e.Untracked() {
			continue
		}
		return false, nil
	}
	return true, nil
}

// UnmergedPaths returns the conflicted paths in dir.
func (r *Repo) UnmergedPaths(ctx context.Context, dir string) ([]string, error) {
	entries, err := r.Status(ctx, dir)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.Unmerged() {
			out = append(out, e.Path)
		}
	}
	return out, nil
}

// StagedFiles lists paths staged for commit in dir.
func (r *Repo) StagedFiles(ctx context.Context, dir string) ([]string, error) {
	out, err := r.Run(ctx, dir, "diff", "--cached", "--name-only", "--diff-filter=ACMRD")
	if err != nil {
		return nil, err
	}
	return lines(out), nil
}
