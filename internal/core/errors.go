package core

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is matched by every NotFoundError.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a task, branch or worktree already exists.
	ErrExists = errors.New("already exists")
)

// maxListed bounds how many offending items an error message spells out.
// The error values themselves always carry the complete set.
const maxListed = 50

// ValidationError reports malformed input. Nothing has been mutated.
type ValidationError struct {
	Field  string
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Value, e.Reason)
}

func Invalid(field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

// NotFoundError reports a missing task, workspace, branch or ref.
type NotFoundError struct {
	Kind string
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func NotFound(kind, name string) *NotFoundError {
	return &NotFoundError{Kind: kind, Name: name}
}

// ConflictError reports lock conflicts and allow-list violations.
// Op describes the rejected operation ("acquire", "commit", "merge").
type ConflictError struct {
	Op         string
	Owner      Owner
	Conflicts  []LockConflict
	Disallowed []string
}

func (e *ConflictError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s blocked for %s", e.Op, e.Owner)
	if len(e.Disallowed) > 0 {
		b.WriteString(": files outside task allow list:")
		for i, f := range e.Disallowed {
			if i == maxListed {
				fmt.Fprintf(&b, "\n... and %d more", len(e.Disallowed)-maxListed)
				break
			}
			fmt.Fprintf(&b, "\n- %s", f)
		}
	}
	if len(e.Conflicts) > 0 {
		b.WriteString(": lock conflict(s):")
		for i, c := range e.Conflicts {
			if i == maxListed {
				fmt.Fprintf(&b, "\n... and %d more", len(e.Conflicts)-maxListed)
				break
			}
			fmt.Fprintf(&b, "\n- %s (held by %s)", c.File, c.Holder)
		}
	}
	return b.String()
}

// WorkspaceStateError reports a branch without its worktree directory or
// the reverse. It is never repaired automatically.
type WorkspaceStateError struct {
	Owner        Owner
	BranchExists bool
	DirExists    bool
	Dir          string
}

func (e *WorkspaceStateError) Error() string {
	switch {
	case e.BranchExists && !e.DirExists:
		return fmt.Sprintf("workspace %s is orphaned: branch %s exists but %s does not", e.Owner, e.Owner.Branch(), e.Dir)
	case e.DirExists && !e.BranchExists:
		return fmt.Sprintf("workspace %s is orphaned: %s exists but branch %s does not", e.Owner, e.Dir, e.Owner.Branch())
	default:
		return fmt.Sprintf("workspace %s in inconsistent state", e.Owner)
	}
}

// GitError is a version-control failure unrelated to content conflicts.
type GitError struct {
	Args     []string
	Dir      string
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

func (e *GitError) Error() string {
	msg := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if e.ExitCode != 0 {
		msg += fmt.Sprintf(" (exit %d)", e.ExitCode)
	}
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if s := strings.TrimSpace(e.Stdout); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// TimeoutError is returned when a workspace never settles within MaxWait.
type TimeoutError struct {
	Op       string
	Debounce time.Duration
	MaxWait  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out waiting for files to stop changing (debounce=%s, max_wait=%s)", e.Op, e.Debounce, e.MaxWait)
}

// MergeConflictError is returned when a merge stops on conflicting paths.
// The merge is left in progress in Worktree for a human to resolve.
type MergeConflictError struct {
	Owner    Owner
	Branch   string
	Trunk    string
	Worktree string
	Paths    []string
	Squash   bool
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict merging %s into %s (%d path(s)): %s",
		e.Branch, e.Trunk, len(e.Paths), strings.Join(e.Paths, ", "))
}

// RevertConflictError is returned when a rollback revert cannot be applied.
// The revert has already been aborted.
type RevertConflictError struct {
	Branch string
	ToRef  string
	Commit string
	Stderr string
}

func (e *RevertConflictError) Error() string {
	msg := fmt.Sprintf("revert conflict while rolling back %s to %s (revert aborted)", e.Branch, e.ToRef)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	}
	return msg
}

// DirtyWorktreeError is a failed clean-worktree precondition. Nothing has
// been mutated.
type DirtyWorktreeError struct {
	Label   string
	Dir     string
	Entries []string
}

func (e *DirtyWorktreeError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s has uncommitted changes in %s:", e.Label, e.Dir)
	for i, line := range e.Entries {
		if i == dirtyPreview {
			fmt.Fprintf(&b, "\n... and %d more", len(e.Entries)-dirtyPreview)
			break
		}
		b.WriteString("\n" + line)
	}
	return b.String()
}

const dirtyPreview = 20
