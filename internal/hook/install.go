package hook

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const marker = "# Installed by hydra"

// Names lists the hooks hydra installs, in install order.
var Names = []string{"commit-msg", "pre-commit", "post-commit"}

type Installed struct {
	Dir     string
	Hooks   []string
	Backups []string
}

// Install writes a script for every hook in Names that runs
// "<exe> hook <name>", and points core.hooksPath at the hooks directory.
// A hook not written by hydra is moved to <name>.bak.<unix> first.
func (r *Runner) Install(ctx context.Context, exe string) (Installed, error) {
	dir := r.layout.HooksDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Installed{}, fmt.Errorf("create hooks dir: %w", err)
	}
	out := Installed{Dir: dir}
	stamp := time.Now().Unix()
	for _, name := range Names {
		path := filepath.Join(dir, name)
		existing, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return out, fmt.Errorf("read hook %s: %w", name, err)
		case !strings.Contains(string(existing), marker):
			backup := fmt.Sprintf("%s.bak.%d", path, stamp)
			if err := os.Rename(path, backup); err != nil {
				return out, fmt.Errorf("back up hook %s: %w", name, err)
			}
			out.Backups = append(out.Backups, backup)
		}
		if err := os.WriteFile(path, []byte(script(exe, name)), 0o755); err != nil {
			return out, fmt.Errorf("write hook %s: %w", name, err)
		}
		// WriteFile keeps the mode of an existing file.
		if err := os.Chmod(path, 0o755); err != nil {
			return out, fmt.Errorf("write hook %s: %w", name, err)
		}
		out.Hooks = append(out.Hooks, name)
	}
	if _, err := r.repo.Run(ctx, "", "config", "core.hooksPath", dir); err != nil {
		return out, fmt.Errorf("set core.hooksPath: %w", err)
	}
	r.logger.Info("hooks installed", "dir", dir, "backups", len(out.Backups))
	return out, nil
}

func script(exe, name string) string {
	return "#!/bin/sh\n" + marker + "\n\nexec " + shellQuote(exe) + " hook " + name + " \"$@\"\n"
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
