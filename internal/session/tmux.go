package session

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Tmux drives a tmux server. An empty socket targets the user's default
// server.
type Tmux struct {
	socket string
}

func NewTmux(socket string) *Tmux {
	return &Tmux{socket: socket}
}

func (t *Tmux) Name() string { return "tmux" }

func (t *Tmux) command(ctx context.Context, args ...string) *exec.Cmd {
	if t.socket != "" {
		args = append([]string{"-S", t.socket}, args...)
	}
	return exec.CommandContext(ctx, "tmux", args...)
}

// Alive reports whether the session exists. A stopped server means no
// session is alive.
func (t *Tmux) Alive(ctx context.Context, name string) bool {
	return t.command(ctx, "has-session", "-t", "="+name).Run() == nil
}

// Kill terminates a session. A session or server that is already gone is
// not an error.
func (t *Tmux) Kill(ctx context.Context, name string) error {
	out, err := t.command(ctx, "kill-session", "-t", "="+name).CombinedOutput()
	if err != nil {
		msg := strings.TrimSpace(string(out))
		if strings.Contains(msg, "can't find session") ||
			strings.Contains(msg, "no server running") ||
			strings.Contains(msg, "error connecting") {
			return nil
		}
		return fmt.Errorf("tmux kill-session %q: %w (%s)", name, err, msg)
	}
	return nil
}

// Ensure creates a detached session rooted at dir unless one exists.
// env entries (KEY=value) are set in the new session's environment.
func (t *Tmux) Ensure(ctx context.Context, name, dir string, env []string) (bool, error) {
	if t.Alive(ctx, name) {
		return false, nil
	}
	args := []string{"new-session", "-d", "-s", name, "-c", dir}
	for _, kv := range env {
		args = append(args, "-e", kv)
	}
	out, err := t.command(ctx, args...).CombinedOutput()
	if err != nil {
		return false, fmt.Errorf("tmux new-session %q: %w (%s)", name, err, strings.TrimSpace(string(out)))
	}
	return true, nil
}
