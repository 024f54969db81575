package session

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/sessiond/internal/logging"
)

const (
	defaultFlushInterval = 5 * time.Second
	defaultFlushWorkers  = 4
	shutdownFlushTimeout = 10 * time.Second
)

// Flusher periodically saves dirty sessions. Saves run in parallel on a
// bounded pool; a failed save leaves the session dirty for the next tick.
type Flusher struct {
	registry *Registry
	interval time.Duration
	workers  int
	logger   *logging.Logger
}

// NewFlusher creates a Flusher for r. Non-positive interval or workers use
// the defaults.
func NewFlusher(r *Registry, interval time.Duration, workers int, logger *logging.Logger) *Flusher {
	if interval <= 0 {
		interval = defaultFlushInterval
	}
	if workers <= 0 {
		workers = defaultFlushWorkers
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Flusher{
		registry: r,
		interval: interval,
		workers:  workers,
		logger:   logger.WithComponent("flusher"),
	}
}

// Run flushes on every tick until ctx is cancelled, then performs a final
// flush so no acknowledged message is lost on a clean shutdown.
func (f *Flusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownFlushTimeout)
			saved, failed := f.FlushAll(flushCtx)
			cancel()
			f.logger.Info("final session flush", "saved", saved, "failed", failed)
			return nil
		case <-ticker.C:
			f.FlushAll(ctx)
		}
	}
}

// FlushAll saves every dirty session and returns how many saves succeeded
// and failed.
func (f *Flusher) FlushAll(ctx context.Context) (saved, failed int) {
	var dirty []*Session
	f.registry.ForEachActive(func(s *Session) bool {
		if s.Dirty() {
			dirty = append(dirty, s)
		}
		return true
	})
	if len(dirty) == 0 {
		return 0, 0
	}

	var ok, bad atomic.Int64
	p := pool.New().WithMaxGoroutines(f.workers)
	for _, s := range dirty {
		p.Go(func() {
			if err := f.registry.Persist(ctx, s); err != nil {
				bad.Add(1)
				f.logger.Warn("failed to save session", "session_id", s.ID(), "error", err.Error())
				return
			}
			ok.Add(1)
		})
	}
	p.Wait()

	if n := bad.Load(); n > 0 {
		f.logger.Warn("session flush incomplete", "saved", ok.Load(), "failed", n)
	} else {
		f.logger.Debug("sessions flushed", "saved", ok.Load())
	}
	return int(ok.Load()), int(bad.Load())
}
