package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// excluded are the hydra paths kept out of git status.
var excluded = []string{"/.hydra/", "/.agents/"}

// InitResult reports what Init changed.
type InitResult struct {
	Config        Config
	CreatedConfig bool
	Excluded      []string
}

// Init creates the hydra directories and config under l. An existing
// config is kept; session, when non-empty, replaces its session name.
func Init(l Layout, session string) (InitResult, error) {
	for _, dir := range []string{l.HydraDir(), l.AgentsDir(), l.TasksDir(), l.WorktreesDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return InitResult{}, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	var res InitResult
	cfg, err := Load(l)
	if err != nil {
		return InitResult{}, err
	}
	if _, err := os.Stat(l.ConfigPath()); errors.Is(err, os.ErrNotExist) {
		cfg.Created = time.Now().Unix()
		res.CreatedConfig = true
	}
	if session != "" {
		cfg.Session = session
	}
	if cfg.Session == "" {
		cfg.Session = filepath.Base(l.Root)
	}
	if err := Save(l, cfg); err != nil {
		return InitResult{}, err
	}
	res.Config = cfg

	added, err := ensureExcluded(filepath.Join(l.Root, ".git", "info", "exclude"), excluded)
	if err != nil {
		return InitResult{}, err
	}
	res.Excluded = added
	return res, nil
}

// ensureExcluded appends missing patterns to a git exclude file. A
// repository whose .git is not a directory is left alone.
func ensureExcluded(path string, patterns []string) ([]string, error) {
	if info, err := os.Stat(filepath.Dir(filepath.Dir(path))); err != nil || !info.IsDir() {
		return nil, nil
	}
	have := make(map[string]bool)
	if f, err := os.Open(path); err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			have[strings.TrimSpace(sc.Text())] = true
		}
		f.Close()
	}

	var missing []string
	for _, p := range patterns {
		if !have[p] {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create info dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open exclude file: %w", err)
	}
	defer f.Close()
	if info, err := f.Stat(); err == nil && info.Size() > 0 {
		if _, err := f.WriteString("\n"); err != nil {
			return nil, fmt.Errorf("write exclude file: %w", err)
		}
	}
	if _, err := f.WriteString("# hydra\n" + strings.Join(missing, "\n") + "\n"); err != nil {
		return nil, fmt.Errorf("write exclude file: %w", err)
	}
	return missing, nil
}
