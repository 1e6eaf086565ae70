package session

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/hr-shaileshkumar/uabindia-hrms-sub003/internal/obs"
)

// Sweeper periodically deletes chains that expired more than Retention ago.
// Expiry is enforced at read time; sweeping only reclaims storage.
type Sweeper struct {
	Repo      Repository
	Interval  time.Duration
	Retention time.Duration
	Now       func() time.Time
}

// SweepOnce runs one pass and returns the number of deleted sessions.
func (w *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	return w.Repo.DeleteExpired(ctx, now().UTC().Add(-w.Retention))
}

// Run sweeps every Interval until ctx is done. Failures are logged and retried
// on the next tick.
func (w *Sweeper) Run(ctx context.Context) error {
	interval := w.Interval
	if interval <= 0 {
		interval = time.Hour
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	log := obs.From(ctx).Named("session-sweeper")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := w.SweepOnce(ctx)
			if err != nil {
				log.Warn("sweep failed", obs.Err(err))
				continue
			}
			if n > 0 {
				log.Info("expired sessions deleted", zap.Int("count", n))
			}
		}
	}
}
