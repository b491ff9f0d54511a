package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"
)

func noSleep(context.Context, time.Duration) error { return nil }

func TestRetrySucceedsOnTransientLock(t *testing.T) {
	calls := 0
	err := retryOnDBLock(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		if calls <= 3 {
			return errors.New("database is locked (5) (SQLITE_BUSY)")
		}
		return nil
	}, noSleep)
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 4 {
		t.Fatalf("expected 4 calls, got %d", calls)
	}
}

func TestRetryNoRetryOnOtherErrors(t *testing.T) {
	calls := 0
	err := retryOnDBLock(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return errors.New("lock conflict")
	}, noSleep)
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call (no retry), got %d", calls)
	}
}

func TestRetryExhaustsAllAttempts(t *testing.T) {
	calls := 0
	cfg := DefaultRetryConfig()
	err := retryOnDBLock(context.Background(), cfg, func() error {
		calls++
		return errors.New("database is locked")
	}, noSleep)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if expected := 1 + cfg.MaxRetries; calls != expected {
		t.Fatalf("expected %d calls, got %d", expected, calls)
	}
}

func TestRetryBackoffWithJitter(t *testing.T) {
	cfg := RetryConfig{MaxRetries: 4, BaseDelay: 10 * time.Millisecond, JitterPct: 0.25}
	var sleeps []time.Duration
	_ = retryOnDBLock(context.Background(), cfg, func() error {
		return errors.New("database is locked")
	}, func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	})

	if len(sleeps) != cfg.MaxRetries {
		t.Fatalf("expected %d sleeps, got %d", cfg.MaxRetries, len(sleeps))
	}
	for i, d := range sleeps {
		base := cfg.BaseDelay * (1 << i)
		maxJitter := time.Duration(float64(base) * cfg.JitterPct)
		if d < base || d > base+maxJitter {
			t.Errorf("sleep[%d] = %v, expected [%v, %v]", i, d, base, base+maxJitter)
		}
	}
}

func TestRetryStopsWhenContextDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := RetryOnDBLock(ctx, DefaultRetryConfig(), func() error {
		calls++
		return errors.New("database is locked")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call after cancellation, got %d", calls)
	}
}
