// Package session answers whether an agent's terminal session is still
// running and tears sessions down. Lock rows tagged with a session are
// garbage-collected once the session is gone.
package session

import (
	"context"
	"os"
	"os/exec"
	"regexp"
	"strings"
)

const (
	EnvNoTmux     = "HYDRA_NO_TMUX"
	EnvTmuxSocket = "HYDRA_TMUX_SOCKET"
)

// Prober reports session liveness.
type Prober interface {
	Alive(ctx context.Context, name string) bool
}

// Backend is a terminal multiplexer hydra can probe and drive.
type Backend interface {
	Prober
	Name() string
	Kill(ctx context.Context, name string) error
	Ensure(ctx context.Context, name, dir string, env []string) (created bool, err error)
}

// Detect returns the tmux backend when tmux is installed and not disabled
// through HYDRA_NO_TMUX, otherwise the no-op backend.
func Detect() Backend {
	if strings.TrimSpace(os.Getenv(EnvNoTmux)) != "" {
		return Noop{}
	}
	if _, err := exec.LookPath("tmux"); err != nil {
		return Noop{}
	}
	return NewTmux(os.Getenv(EnvTmuxSocket))
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

// maxNameLen keeps generated names within what tmux handles comfortably.
const maxNameLen = 60

// Name returns the per-agent session name hydra-<agent>-<task>.
func Name(agent, task string) string {
	a := strings.Trim(unsafeName.ReplaceAllString(agent, "-"), "-")
	t := strings.Trim(unsafeName.ReplaceAllString(task, "-"), "-")
	name := "hydra-" + a + "-" + t
	if len(name) > maxNameLen {
		name = name[:maxNameLen]
	}
	return name
}

// Noop is used when no multiplexer is available. Every session is
// assumed alive so tagged locks are never collected.
type Noop struct{}

func (Noop) Name() string { return "none" }

func (Noop) Alive(context.Context, string) bool { return true }

func (Noop) Kill(context.Context, string) error { return nil }

func (Noop) Ensure(context.Context, string, string, []string) (bool, error) { return false, nil }

// Static is a Prober over a fixed set of live session names.
type Static map[string]bool

func (s Static) Alive(_ context.Context, name string) bool { return s[name] }
