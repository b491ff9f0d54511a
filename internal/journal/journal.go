// Package journal is the append-only JSON Lines log of commits produced
// by hydra agents. Appends are serialized across processes with an
// exclusive file lock.
package journal

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mistakeknot/hydra/internal/core"
)

// maxLine bounds a single journal line when reading.
const maxLine = 4 << 20

type record struct {
	ID    string  `json:"id,omitempty"`
	TS    float64 `json:"ts"`
	SHA   string  `json:"sha"`
	Agent string  `json:"agent"`
	Task  string  `json:"task"`
	Files string  `json:"files"`
	Kind  string  `json:"kind,omitempty"`
}

// Journal appends to and reads one journal file.
type Journal struct {
	path string
	now  func() time.Time
}

func New(path string) *Journal {
	return &Journal{path: path, now: time.Now}
}

func (j *Journal) Path() string { return j.path }

// Append writes e as one line. A zero Time is set to now and an empty
// ID gets a fresh UUID. The line is flushed to disk before the lock is
// released.
func (j *Journal) Append(e core.JournalEntry) (core.JournalEntry, error) {
	if e.Time.IsZero() {
		e.Time = j.now()
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Kind == "" {
		e.Kind = core.JournalCommit
	}
	line, err := json.Marshal(record{
		ID:    e.ID,
		TS:    float64(e.Time.UnixNano()) / 1e9,
		SHA:   e.Commit,
		Agent: e.Agent,
		Task:  e.Task,
		Files: e.Files,
		Kind:  string(e.Kind),
	})
	if err != nil {
		return core.JournalEntry{}, fmt.Errorf("marshal journal entry: %w", err)
	}
	line = append(line, '\n')

	if err := os.MkdirAll(filepath.Dir(j.path), 0o755); err != nil {
		return core.JournalEntry{}, fmt.Errorf("create journal dir: %w", err)
	}
	f, err := os.OpenFile(j.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return core.JournalEntry{}, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	if err := lockFile(f); err != nil {
		return core.JournalEntry{}, fmt.Errorf("lock journal: %w", err)
	}
	defer unlockFile(f)

	if _, err := f.Write(line); err != nil {
		return core.JournalEntry{}, fmt.Errorf("append journal: %w", err)
	}
	if err := f.Sync(); err != nil {
		return core.JournalEntry{}, fmt.Errorf("sync journal: %w", err)
	}
	return e, nil
}

// Filter selects journal entries. Zero fields match everything.
type Filter struct {
	Since time.Time
	Agent string
	Task  string
}

func (f Filter) match(e core.JournalEntry) bool {
	if !f.Since.IsZero() && e.Time.Before(f.Since) {
		return false
	}
	if f.Agent != "" && e.Agent != f.Agent {
		return false
	}
	if f.Task != "" && e.Task != f.Task {
		return false
	}
	return true
}

// Read returns matching entries ordered by (time, line index). Blank
// lines are ignored; lines that do not parse are counted in skipped. A
// missing journal is empty.
func (j *Journal) Read(filter Filter) (entries []core.JournalEntry, skipped int, err error) {
	f, err := os.Open(j.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open journal: %w", err)
	}
	defer f.Close()

	r := bufio.NewReaderSize(f, 64*1024)
	index := 0
	for {
		raw, tooLong, rerr := readLine(r, maxLine)
		line := bytes.TrimSpace(raw)
		switch {
		case tooLong:
			index++
			skipped++
		case len(line) > 0:
			idx := index
			index++
			e, ok := parseLine(line)
			if !ok {
				skipped++
				break
			}
			e.Index = idx
			if filter.match(e) {
				entries = append(entries, e)
			}
		}
		if errors.Is(rerr, io.EOF) {
			break
		}
		if rerr != nil {
			return nil, skipped, fmt.Errorf("read journal: %w", rerr)
		}
	}

	sort.SliceStable(entries, func(a, b int) bool {
		if !entries[a].Time.Equal(entries[b].Time) {
			return entries[a].Time.Before(entries[b].Time)
		}
		return entries[a].Index < entries[b].Index
	})
	return entries, skipped, nil
}

// Last returns the newest entry matching filter.
func (j *Journal) Last(filter Filter) (core.JournalEntry, bool, error) {
	entries, _, err := j.Read(filter)
	if err != nil || len(entries) == 0 {
		return core.JournalEntry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// readLine returns the next line including its newline. A line longer
// than limit is consumed and reported as tooLong with no content.
func readLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}
		if !errors.Is(err, bufio.ErrBufferFull) {
			return line, tooLong, err
		}
	}
}

func parseLine(line []byte) (core.JournalEntry, bool) {
	var rec record
	if err := json.Unmarshal(line, &rec); err != nil {
		return core.JournalEntry{}, false
	}
	sec := int64(rec.TS)
	nsec := int64((rec.TS - float64(sec)) * 1e9)
	kind := core.JournalKind(rec.Kind)
	if kind == "" {
		kind = core.JournalCommit
	}
	return core.JournalEntry{
		ID:     rec.ID,
		Time:   time.Unix(sec, nsec),
		Commit: rec.SHA,
		Agent:  rec.Agent,
		Task:   rec.Task,
		Files:  rec.Files,
		Kind:   kind,
	}, true
}
