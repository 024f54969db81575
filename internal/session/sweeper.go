package session

import (
	"context"
	"time"

	"github.com/Iron-Ham/sessiond/internal/event"
	"github.com/Iron-Ham/sessiond/internal/logging"
)

// SweepConfig controls session expiry.
type SweepConfig struct {
	// IdleExpiry removes sessions idle for longer than this. Zero disables
	// expiry.
	IdleExpiry time.Duration

	// ExpiryWarning publishes one session.expiring event when a session
	// has this long left before expiry. Zero disables warnings.
	ExpiryWarning time.Duration

	// Interval between sweeps.
	Interval time.Duration
}

// Sweeper expires idle sessions and warns sessions that are about to expire.
type Sweeper struct {
	registry *Registry
	bus      *event.Bus
	cfg      SweepConfig
	logger   *logging.Logger
}

// NewSweeper creates a Sweeper. bus may be nil, in which case no expiry
// warnings are published.
func NewSweeper(r *Registry, bus *event.Bus, cfg SweepConfig, logger *logging.Logger) *Sweeper {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sweeper{
		registry: r,
		bus:      bus,
		cfg:      cfg,
		logger:   logger.WithComponent("sweeper"),
	}
}

// Run sweeps on every interval until ctx is cancelled.
func (sw *Sweeper) Run(ctx context.Context) error {
	if sw.cfg.IdleExpiry <= 0 {
		sw.logger.Info("session expiry disabled")
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(sw.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sw.SweepOnce(ctx)
		}
	}
}

// SweepOnce publishes expiry warnings and removes expired sessions, as of the
// registry clock. It returns the ids warned and expired.
func (sw *Sweeper) SweepOnce(ctx context.Context) (warned, expired []string) {
	if sw.cfg.IdleExpiry <= 0 {
		return nil, nil
	}
	now := sw.registry.clock()

	if sw.bus != nil && sw.cfg.ExpiryWarning > 0 {
		sw.registry.ForEachActive(func(s *Session) bool {
			remaining := sw.cfg.IdleExpiry - s.IdleFor(now)
			if remaining > 0 && remaining <= sw.cfg.ExpiryWarning && s.markExpiryWarned() {
				warned = append(warned, s.ID())
				sw.bus.Publish(event.NewSessionExpiringEvent(s.ID(), remaining))
			}
			return true
		})
	}

	expired = sw.registry.Sweep(ctx, now, sw.cfg.IdleExpiry)
	if len(expired) > 0 {
		sw.logger.Info("expired idle sessions", "count", len(expired))
	}
	return warned, expired
}
