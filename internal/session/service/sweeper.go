package service

import (
	"context"
	"log/slog"
	"time"

	"session-gateway/internal/store"
)

// Sweeper periodically deactivates sessions whose activity has gone stale.
// ValidateSession's lazy expiry only fires when a request arrives; the
// sweeper catches sessions whose client never returns, so device listings
// and the one-active-session-per-device invariant stay honest.
type Sweeper struct {
	store    store.Store
	idleTTL  time.Duration
	interval time.Duration
	log      *slog.Logger

	now func() time.Time
}

// NewSweeper returns a Sweeper that deactivates sessions idle longer than
// idleTTL, checking every interval.
func NewSweeper(st store.Store, idleTTL, interval time.Duration, log *slog.Logger) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	return &Sweeper{
		store:    st,
		idleTTL:  idleTTL,
		interval: interval,
		log:      log,
		now:      time.Now,
	}
}

// Run sweeps on the configured interval until ctx is cancelled. Per-run
// failures are logged and swallowed; the next tick retries naturally.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("session sweeper started", "interval", s.interval, "idle_ttl", s.idleTTL)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				s.log.Error("session sweep failed", "error", err)
			}
		}
	}
}

// RunOnce performs a single sweep and returns the number of sessions
// deactivated. Exposed so tests and operators can trigger a sweep without
// waiting on the interval.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	cutoff := s.now().UTC().Add(-s.idleTTL)
	n, err := s.store.DeactivateStaleSessions(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("deactivated stale sessions", "count", n)
	}
	return n, nil
}
