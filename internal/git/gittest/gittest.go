// Package gittest builds throwaway repositories for tests.
package gittest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

// NeedGit skips the test when git is not on PATH.
func NeedGit(t testing.TB) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found on PATH")
	}
}

// NewRepo initializes a repository on branch main with one commit
// containing README.md and returns its root.
func NewRepo(t testing.TB) string {
	t.Helper()
	NeedGit(t)
	root := t.TempDir()
	if resolved, err := filepath.EvalSymlinks(root); err == nil {
		root = resolved
	}
	Git(t, root, "init", "-q")
	Git(t, root, "symbolic-ref", "HEAD", "refs/heads/main")
	Git(t, root, "config", "user.name", "Test")
	Git(t, root, "config", "user.email", "test@example.com")
	Git(t, root, "config", "commit.gpgsign", "false")
	Write(t, root, "README.md", "hello\n")
	Git(t, root, "add", "-A")
	Git(t, root, "commit", "-q", "-m", "initial")
	return root
}

// Git runs git in dir and fails the test on error. It returns trimmed
// stdout.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test", "GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("git %s: %v\n%s", strings.Join(args, " "), err, out)
	}
	return strings.TrimSpace(string(out))
}

// Write creates or replaces dir/rel with content.
func Write(t testing.TB, dir, rel, content string) {
	t.Helper()
	p := filepath.Join(dir, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", rel, err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

// CommitAll stages everything in dir and commits it with message.
func CommitAll(t testing.TB, dir, message string) string {
	t.Helper()
	Git(t, dir, "add", "-A")
	Git(t, dir, "commit", "-q", "-m", message)
	return Git(t, dir, "rev-parse", "HEAD")
}
