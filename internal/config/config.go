// Package config owns the on-disk layout of a hydra project and its
// .hydra/config.yaml settings.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mistakeknot/hydra/internal/git"
)

const (
	// EnvProjectRoot overrides repository discovery.
	EnvProjectRoot = "HYDRA_PROJECT_ROOT"

	configVersion = 1
	configFile    = "config.yaml"
)

var DefaultSharedDeps = []string{"node_modules", "venv", ".venv", "target"}

const (
	DefaultDebounce = 3 * time.Second
	DefaultMaxWait  = 60 * time.Second
)

type Snapshot struct {
	Debounce time.Duration `yaml:"debounce"`
	MaxWait  time.Duration `yaml:"max_wait"`
}

// Config is the contents of .hydra/config.yaml.
type Config struct {
	Version    int      `yaml:"version"`
	Created    int64    `yaml:"created,omitempty"`
	Session    string   `yaml:"session,omitempty"`
	Trunk      string   `yaml:"trunk,omitempty"`
	SharedDeps []string `yaml:"shared_deps"`
	Snapshot   Snapshot `yaml:"snapshot"`
}

// Default returns the settings used when no config file exists.
func Default() Config {
	return Config{
		Version:    configVersion,
		SharedDeps: append([]string(nil), DefaultSharedDeps...),
		Snapshot: Snapshot{
			Debounce: DefaultDebounce,
			MaxWait:  DefaultMaxWait,
		},
	}
}

// Layout names every hydra path inside a repository.
type Layout struct {
	Root string
}

func (l Layout) HydraDir() string     { return filepath.Join(l.Root, ".hydra") }
func (l Layout) AgentsDir() string    { return filepath.Join(l.Root, ".agents") }
func (l Layout) TasksDir() string     { return filepath.Join(l.Root, "tasks") }
func (l Layout) ConfigPath() string   { return filepath.Join(l.HydraDir(), configFile) }
func (l Layout) LocksDB() string      { return filepath.Join(l.HydraDir(), "locks.db") }
func (l Layout) Journal() string      { return filepath.Join(l.HydraDir(), "journal.jsonl") }
func (l Layout) WorktreesDir() string { return filepath.Join(l.HydraDir(), "worktrees") }
func (l Layout) HooksDir() string     { return filepath.Join(l.Root, ".git", "hooks") }

// WorkspaceDir is the worktree directory for (agent, task).
func (l Layout) WorkspaceDir(agent, task string) string {
	return filepath.Join(l.AgentsDir(), agent, task)
}

// ResolveRoot finds the project root: HYDRA_PROJECT_ROOT when it names an
// existing directory, otherwise the main worktree containing dir.
func ResolveRoot(ctx context.Context, dir string) (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvProjectRoot)); v != "" {
		if strings.HasPrefix(v, "~/") {
			if home, err := os.UserHomeDir(); err == nil {
				v = filepath.Join(home, v[2:])
			}
		}
		if info, err := os.Stat(v); err == nil && info.IsDir() {
			return filepath.Abs(v)
		}
	}
	return git.FindRoot(ctx, dir)
}

// Load reads the config file under l, filling defaults for anything
// unset. A missing file yields Default.
func Load(l Layout) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(l.ConfigPath())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if cfg.SharedDeps == nil {
		cfg.SharedDeps = append([]string(nil), DefaultSharedDeps...)
	}
	if cfg.Snapshot.Debounce < 0 {
		return Config{}, fmt.Errorf("parse config: snapshot.debounce must not be negative")
	}
	if cfg.Snapshot.MaxWait <= 0 {
		cfg.Snapshot.MaxWait = DefaultMaxWait
	}
	return cfg, nil
}

// Save writes cfg to the config file under l.
func Save(l Layout, cfg Config) error {
	if err := os.MkdirAll(l.HydraDir(), 0o755); err != nil {
		return fmt.Errorf("create hydra dir: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(l.ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
