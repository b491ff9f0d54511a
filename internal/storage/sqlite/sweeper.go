package sqlite

import (
	"context"
	"log/slog"
	"time"
)

// Collector is the part of a lock store the sweeper drives.
type Collector interface {
	GCDead(ctx context.Context) (int, error)
}

// Sweeper periodically releases locks whose sessions have ended.
type Sweeper struct {
	store    Collector
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(n int)
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewSweeper creates a new Sweeper. Call Start() to begin sweeping.
// onSweep, when set, is called after every pass with the count removed.
func NewSweeper(store Collector, interval time.Duration, logger *slog.Logger, onSweep func(n int)) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{
		store:    store,
		interval: interval,
		logger:   logger,
		onSweep:  onSweep,
		done:     make(chan struct{}),
	}
}

// Start sweeps once immediately, then on every tick until ctx ends or
// Stop is called.
func (sw *Sweeper) Start(ctx context.Context) {
	ctx, sw.cancel = context.WithCancel(ctx)

	go func() {
		defer close(sw.done)

		sw.runSweep(ctx)

		ticker := time.NewTicker(sw.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sw.runSweep(ctx)
			}
		}
	}()
}

// Stop cancels the sweep goroutine and waits for it to finish.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	<-sw.done
}

// Done is closed once the sweep goroutine has exited.
func (sw *Sweeper) Done() <-chan struct{} {
	return sw.done
}

func (sw *Sweeper) runSweep(ctx context.Context) {
	n, err := sw.store.GCDead(ctx)
	if err != nil {
		if ctx.Err() == nil {
			sw.logger.Error("sweeper", "err", err)
		}
		return
	}
	if n > 0 {
		sw.logger.Info("sweeper: released locks of dead sessions", "count", n)
	}
	if sw.onSweep != nil {
		sw.onSweep(n)
	}
}
