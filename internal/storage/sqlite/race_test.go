package sqlite

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/mistakeknot/hydra/internal/core"
)

// openHandles opens n independent stores on one database file, the way
// separate hydra processes do.
func openHandles(t *testing.T, n int) []*Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "race.db")
	stores := make([]*Store, n)
	for i := range stores {
		st, err := New(path, nil, nil)
		if err != nil {
			t.Fatalf("open handle %d: %v", i, err)
		}
		t.Cleanup(func() { st.Close() })
		stores[i] = st
	}
	return stores
}

// TestConcurrentOverlappingAcquire verifies that overlapping acquisitions
// from separate handles are serialized: exactly one of them wins and the
// losers see a ConflictError.
func TestConcurrentOverlappingAcquire(t *testing.T) {
	const workers = 8
	stores := openHandles(t, workers)

	var (
		wg       sync.WaitGroup
		wins     atomic.Int32
		failures atomic.Int32
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := core.Owner{Agent: fmt.Sprintf("agent-%d", id), Task: fmt.Sprintf("t%d", id)}
			files := []string{"shared/file.go", fmt.Sprintf("own/%d.go", id)}
			err := stores[id].Acquire(context.Background(), files, owner, "")
			var conflict *core.ConflictError
			switch {
			case err == nil:
				wins.Add(1)
			case errors.As(err, &conflict):
				failures.Add(1)
			default:
				t.Errorf("worker %d: unexpected error %v", id, err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Fatalf("expected exactly 1 win, got %d wins and %d failures", wins.Load(), failures.Load())
	}
	if failures.Load() != int32(workers-1) {
		t.Fatalf("expected %d failures, got %d", workers-1, failures.Load())
	}

	locks, err := stores[0].List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locks) != 2 {
		t.Fatalf("a failed acquire leaked rows: %+v", locks)
	}
}

// TestConcurrentDisjointAcquire verifies that non-overlapping sets all
// succeed under contention.
func TestConcurrentDisjointAcquire(t *testing.T) {
	const workers = 6
	stores := openHandles(t, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			owner := core.Owner{Agent: "agent", Task: fmt.Sprintf("t%d", id)}
			for j := 0; j < 5; j++ {
				f := fmt.Sprintf("w%d/f%d.go", id, j)
				if err := stores[id].Acquire(context.Background(), []string{f}, owner, ""); err != nil {
					t.Errorf("worker %d file %d: %v", id, j, err)
				}
			}
		}(i)
	}
	wg.Wait()

	locks, err := stores[0].List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(locks) != workers*5 {
		t.Fatalf("expected %d locks, got %d", workers*5, len(locks))
	}
}
