// Package tasks stores task descriptors as tasks/<id>.json. A task is
// written once and never mutated.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/mistakeknot/hydra/internal/core"
	"github.com/mistakeknot/hydra/internal/permission"
)

// maxSuffix bounds the collision suffixes tried for generated ids.
const maxSuffix = 99

type record struct {
	ID      string   `json:"id"`
	Title   string   `json:"title"`
	Allow   []string `json:"allow"`
	Created int64    `json:"created"`
}

// Store reads and writes task files in one directory.
type Store struct {
	dir string
	now func() time.Time
}

func NewStore(dir string) *Store {
	return &Store{dir: dir, now: time.Now}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

// CreateRequest describes a new task. An empty ID is generated from the
// current time as t<unix>, with a two-digit suffix on collision.
type CreateRequest struct {
	ID    string
	Title string
	Allow []string
}

// Create validates and persists a new task. It fails with core.ErrExists
// when an explicit id is taken.
func (s *Store) Create(req CreateRequest) (core.Task, error) {
	allow, err := permission.ValidatePatterns(req.Allow)
	if err != nil {
		return core.Task{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return core.Task{}, fmt.Errorf("create tasks dir: %w", err)
	}

	created := s.now()
	rec := record{Title: req.Title, Allow: allow, Created: created.Unix()}
	data := func(id string) ([]byte, error) {
		rec.ID = id
		b, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, fmt.Errorf("marshal task: %w", err)
		}
		return append(b, '\n'), nil
	}

	if req.ID != "" {
		if err := core.ValidateTaskID(req.ID); err != nil {
			return core.Task{}, err
		}
		b, err := data(req.ID)
		if err != nil {
			return core.Task{}, err
		}
		if err := writeExclusive(s.path(req.ID), b); err != nil {
			if errors.Is(err, fs.ErrExist) {
				return core.Task{}, fmt.Errorf("task %s: %w", req.ID, core.ErrExists)
			}
			return core.Task{}, err
		}
		return rec.task(), nil
	}

	base := fmt.Sprintf("t%d", created.Unix())
	for i := 0; i <= maxSuffix; i++ {
		id := base
		if i > 0 {
			id = fmt.Sprintf("%s%02d", base, i)
		}
		b, err := data(id)
		if err != nil {
			return core.Task{}, err
		}
		err = writeExclusive(s.path(id), b)
		if err == nil {
			return rec.task(), nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return core.Task{}, err
		}
	}
	return core.Task{}, fmt.Errorf("allocate task id for %s: %w", base, core.ErrExists)
}

func writeExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("write task: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("write task: %w", err)
	}
	return nil
}

// Load reads and re-validates the task with id.
func (s *Store) Load(id string) (core.Task, error) {
	if err := core.ValidateTaskID(id); err != nil {
		return core.Task{}, err
	}
	return LoadFile(s.path(id), id)
}

// LoadFile reads a task file at an arbitrary path. When wantID is
// non-empty the file's id must match it.
func LoadFile(path, wantID string) (core.Task, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			name := wantID
			if name == "" {
				name = path
			}
			return core.Task{}, core.NotFound("task", name)
		}
		return core.Task{}, fmt.Errorf("read task: %w", err)
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return core.Task{}, core.Invalid("task file", path, err.Error())
	}
	if wantID != "" && rec.ID != wantID {
		return core.Task{}, core.Invalid("task file", path, fmt.Sprintf("id mismatch: expected %s, got %q", wantID, rec.ID))
	}
	if err := core.ValidateTaskID(rec.ID); err != nil {
		return core.Task{}, err
	}
	if len(rec.Allow) == 0 {
		return core.Task{}, core.Invalid("task file", path, "allow list is empty")
	}
	allow, err := permission.ValidatePatterns(rec.Allow)
	if err != nil {
		return core.Task{}, err
	}
	rec.Allow = allow
	return rec.task(), nil
}

// List loads every task file, sorted by id. Unreadable files are
// returned in skipped rather than failing the listing.
func (s *Store) List() (tasks []core.Task, skipped []string, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("read tasks dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")
		if !core.IsTaskID(id) {
			continue
		}
		t, err := s.Load(id)
		if err != nil {
			skipped = append(skipped, name)
			continue
		}
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })
	return tasks, skipped, nil
}

func (r record) task() core.Task {
	return core.Task{
		ID:      r.ID,
		Title:   r.Title,
		Allow:   append([]string(nil), r.Allow...),
		Created: time.Unix(r.Created, 0),
	}
}
