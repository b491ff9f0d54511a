package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/mistakeknot/hydra/internal/session"
)

// NewSQLiteTest opens a store on a fresh file under t.TempDir.
func NewSQLiteTest(t testing.TB, prober session.Prober) *Store {
	t.Helper()
	st, err := New(filepath.Join(t.TempDir(), "locks.db"), prober, nil)
	if err != nil {
		t.Fatalf("new sqlite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}
