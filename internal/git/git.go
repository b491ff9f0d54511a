// Package git wraps the git CLI for the repository operations hydra needs:
// worktrees, branches, status, merges and reverts. Every command runs as
// "git -C <dir>", where dir defaults to the repository root.
package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
)

// EnvInternal marks commits hydra makes itself so the post-commit hook
// does not journal them twice.
const EnvInternal = "HYDRA_INTERNAL"

// Repo is a git repository rooted at the main working tree.
type Repo struct {
	root   string
	logger *slog.Logger
}

// Result holds the output of a finished git command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// New returns a Repo for root. A nil logger falls back to slog.Default.
func New(root string, logger *slog.Logger) *Repo {
	if logger == nil {
		logger = slog.Default()
	}
	return &Repo{root: root, logger: logger}
}

// Root returns the main working tree directory.
func (r *Repo) Root() string {
	return r.root
}

// Exec runs git in dir (the root when empty) with env appended to the
// process environment. A non-zero exit yields a *core.GitError alongside
// the populated Result.
func (r *Repo) Exec(ctx context.Context, dir string, env []string, args ...string) (Result, error) {
	if dir == "" {
		dir = r.root
	}
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", dir}, args...)...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	start := time.Now()
	err := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	r.logger.Debug("git", "args", args, "dir", dir, "duration", time.Since(start), "err", err)
	if err == nil {
		return res, nil
	}

	gerr := &core.GitError{Args: args, Dir: dir, Stdout: res.Stdout, Stderr: res.Stderr, Err: err}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		gerr.ExitCode = res.ExitCode
	} else {
		res.ExitCode = -1
		gerr.ExitCode = -1
	}
	return res, gerr
}

// Run executes git in dir and returns trimmed stdout.
func (r *Repo) Run(ctx context.Context, dir string, args ...string) (string, error) {
	res, err := r.Exec(ctx, dir, nil, args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// FindRoot locates the main working tree for dir, which may be inside a
// linked worktree.
func FindRoot(ctx context.Context, dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("resolve dir: %w", err)
	}
	cmd := exec.CommandContext(ctx, "git", "-C", abs, "rev-parse", "--git-common-dir")
	out, err := cmd.Output()
	if err == nil {
		common := strings.TrimSpace(string(out))
		if common != "" {
			if !filepath.IsAbs(common) {
				common = filepath.Join(abs, common)
			}
			root := filepath.Dir(filepath.Clean(common))
			if _, statErr := os.Stat(filepath.Join(root, ".git")); statErr == nil {
				return root, nil
			}
		}
	}
	for cur := abs; ; cur = filepath.Dir(cur) {
		if info, err := os.Stat(filepath.Join(cur, ".git")); err == nil && info.IsDir() {
			return cur, nil
		}
		if filepath.Dir(cur) == cur {
			break
		}
	}
	return "", core.NotFound("git repository", abs)
}

// Identity returns the author and committer environment for agent.
func Identity(agent string) []string {
	name := agent + " Agent"
	email := agent + "@agents.local"
	return []string{
		"GIT_AUTHOR_NAME=" + name,
		"GIT_AUTHOR_EMAIL=" + email,
		"GIT_COMMITTER_NAME=" + name,
		"GIT_COMMITTER_EMAIL=" + email,
	}
}

// Internal returns env with the marker that suppresses hook journaling.
func Internal(env ...string) []string {
	return append(env, EnvInternal+"=1")
}

func lines(s string) []string {
	var out []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}
