package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestLoadMissingReturnsDefaults(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	cfg, err := Load(l)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !reflect.DeepEqual(cfg, Default()) {
		t.Fatalf("cfg = %+v", cfg)
	}
}

func TestLoadParsesDurations(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	if err := os.MkdirAll(l.HydraDir(), 0o755); err != nil {
		t.Fatal(err)
	}
	data := "version: 1\nsession: proj\ntrunk: develop\nshared_deps: [node_modules]\nsnapshot:\n  debounce: 500ms\n  max_wait: 2m\n"
	if err := os.WriteFile(l.ConfigPath(), []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(l)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Session != "proj" || cfg.Trunk != "develop" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.Snapshot.Debounce != 500*time.Millisecond || cfg.Snapshot.MaxWait != 2*time.Minute {
		t.Fatalf("snapshot = %+v", cfg.Snapshot)
	}
	if !reflect.DeepEqual(cfg.SharedDeps, []string{"node_modules"}) {
		t.Fatalf("shared deps = %v", cfg.SharedDeps)
	}
}

func TestLoadRejectsGarbage(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	_ = os.MkdirAll(l.HydraDir(), 0o755)
	_ = os.WriteFile(l.ConfigPath(), []byte("snapshot: [oops"), 0o644)
	if _, err := Load(l); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	l := Layout{Root: t.TempDir()}
	cfg := Default()
	cfg.Session = "s"
	cfg.Snapshot.Debounce = 1500 * time.Millisecond
	if err := Save(l, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	raw, _ := os.ReadFile(l.ConfigPath())
	if !strings.Contains(string(raw), "debounce: 1.5s") {
		t.Fatalf("durations should be written as strings:\n%s", raw)
	}
	got, err := Load(l)
	if err != nil || !reflect.DeepEqual(got, cfg) {
		t.Fatalf("Load = %+v, %v", got, err)
	}
}

func TestInit(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, ".git", "info"), 0o755); err != nil {
		t.Fatal(err)
	}
	l := Layout{Root: root}

	res, err := Init(l, "")
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	if !res.CreatedConfig || res.Config.Session != filepath.Base(root) || res.Config.Created == 0 {
		t.Fatalf("res = %+v", res)
	}
	for _, dir := range []string{l.HydraDir(), l.AgentsDir(), l.TasksDir(), l.WorktreesDir()} {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			t.Fatalf("%s not created", dir)
		}
	}
	exclude, _ := os.ReadFile(filepath.Join(root, ".git", "info", "exclude"))
	if !strings.Contains(string(exclude), "/.hydra/") || !strings.Contains(string(exclude), "/.agents/") {
		t.Fatalf("exclude = %q", exclude)
	}

	res, err = Init(l, "custom")
	if err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if res.CreatedConfig || res.Config.Session != "custom" || len(res.Excluded) != 0 {
		t.Fatalf("second res = %+v", res)
	}
}

func TestResolveRootFromEnv(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(EnvProjectRoot, dir)
	got, err := ResolveRoot(testContext(t), "/nonexistent")
	if err != nil {
		t.Fatalf("ResolveRoot: %v", err)
	}
	if got != dir {
		t.Fatalf("ResolveRoot = %q, want %q", got, dir)
	}
}
