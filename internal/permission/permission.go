// Package permission decides which repository paths a task may touch.
package permission

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/glob"
)

// ValidatePattern normalizes an allow pattern and rejects anything that
// is absolute, escapes the root or is not a well-formed glob.
func ValidatePattern(p string) (string, error) {
	if p == "" {
		return "", core.Invalid("allow pattern", p, "must be non-empty")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") || strings.HasPrefix(p, `\`) {
		return "", core.Invalid("allow pattern", p, "must be relative")
	}
	norm := strings.ReplaceAll(p, `\`, "/")
	for _, seg := range strings.Split(norm, "/") {
		if seg == ".." {
			return "", core.Invalid("allow pattern", p, "must not escape the repository root")
		}
	}
	for strings.HasPrefix(norm, "./") {
		norm = strings.TrimLeft(norm[2:], "/")
	}
	if norm == "" || norm == "." {
		return "", core.Invalid("allow pattern", p, "must name a path inside the repository")
	}
	if err := glob.ValidateComplexity(norm); err != nil {
		return "", core.Invalid("allow pattern", p, err.Error())
	}
	return norm, nil
}

// ValidatePatterns validates every pattern and returns them normalized.
func ValidatePatterns(patterns []string) ([]string, error) {
	if len(patterns) == 0 {
		return nil, core.Invalid("allow list", "", "at least one pattern is required")
	}
	out := make([]string, 0, len(patterns))
	for _, p := range patterns {
		norm, err := ValidatePattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, norm)
	}
	return out, nil
}

// Expand resolves patterns against root into a sorted, deduplicated list
// of repository-relative paths. Literal patterns are kept even when the
// file does not exist yet. Glob patterns only yield existing regular
// files that resolve inside root.
func Expand(root string, patterns []string) ([]string, error) {
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	set := make(map[string]struct{})
	for _, raw := range patterns {
		p, err := ValidatePattern(raw)
		if err != nil {
			return nil, err
		}
		if !glob.IsPattern(p) {
			set[path.Clean(p)] = struct{}{}
			continue
		}
		matches, err := walkPattern(realRoot, p)
		if err != nil {
			return nil, err
		}
		for _, m := range matches {
			set[m] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

func walkPattern(root, pattern string) ([]string, error) {
	start := filepath.Join(root, filepath.FromSlash(glob.StaticPrefix(pattern)))
	if _, err := os.Lstat(start); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("expand %s: %w", pattern, err)
	}

	var out []string
	err := filepath.WalkDir(start, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// Unreadable entries are skipped, not fatal.
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if d.Name() == ".git" && p != start {
				return fs.SkipDir
			}
			return nil
		}
		ok, err := glob.MatchPath(pattern, rel)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if resolved, ok := resolveInside(root, p); ok {
			out = append(out, resolved)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("expand %s: %w", pattern, err)
	}
	return out, nil
}

// resolveInside follows symlinks and returns the root-relative path of a
// regular file target, or false when the target is missing, not a regular
// file, or outside root.
func resolveInside(root, p string) (string, bool) {
	target, err := filepath.EvalSymlinks(p)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(target)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// IsAllowed reports whether file matches any raw allow pattern with shell
// semantics, where '*' also crosses directories. Invalid patterns never
// allow anything.
func IsAllowed(file string, patterns []string) bool {
	normalized := strings.ReplaceAll(file, `\`, "/")
	for _, raw := range patterns {
		p, err := ValidatePattern(raw)
		if err != nil {
			continue
		}
		if glob.Match(p, normalized) {
			return true
		}
	}
	return false
}

// Disallowed returns the files not covered by patterns, in input order.
func Disallowed(files, patterns []string) []string {
	var out []string
	for _, f := range files {
		if !IsAllowed(f, patterns) {
			out = append(out, f)
		}
	}
	return out
}

// Overlap is a pair of patterns from two allow lists that can match the
// same path.
type Overlap struct {
	Task  string
	Ours  string
	Their string
}

// Overlapping reports every overlapping pattern pair between a new allow
// list and the allow lists of existing tasks.
func Overlapping(allow []string, existing []core.Task) ([]Overlap, error) {
	var out []Overlap
	for _, t := range existing {
		pairs, err := glob.AnyOverlap(allow, t.Allow)
		if err != nil {
			return nil, fmt.Errorf("compare with %s: %w", t.ID, err)
		}
		for _, p := range pairs {
			out = append(out, Overlap{Task: t.ID, Ours: p[0], Their: p[1]})
		}
	}
	return out, nil
}
