package worker

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/pkg/distlock"
	"github.com/ignite/investor-outreach/internal/pkg/logger"
	"github.com/ignite/investor-outreach/internal/service/enrollment"
)

// =============================================================================
// CLAIM SWEEPER: Frees Claims Abandoned By Crashed Runs
// =============================================================================
// ClaimDue already ignores expired claims, so an abandoned enrollment is
// picked up by the next run regardless. The sweep clears the stale token so
// status counts stay accurate between runs.

// DefaultSweepInterval is how often expired claims are cleared.
const DefaultSweepInterval = 2 * time.Minute

// ClaimSweeper periodically releases expired enrollment claims. When a lock
// is configured only one process sweeps at a time.
type ClaimSweeper struct {
	repo     enrollment.Repository
	lock     distlock.DistLock
	clock    clockwork.Clock
	interval time.Duration
}

// NewClaimSweeper creates a sweeper. lock may be nil for single-process
// deployments.
func NewClaimSweeper(repo enrollment.Repository, lock distlock.DistLock, clock clockwork.Clock, interval time.Duration) *ClaimSweeper {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &ClaimSweeper{repo: repo, lock: lock, clock: clock, interval: interval}
}

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (cs *ClaimSweeper) Start(ctx context.Context) {
	logger.Info("claim sweeper starting", "interval", cs.interval.String())

	ticker := cs.clock.NewTicker(cs.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("claim sweeper stopping")
			return
		case <-ticker.Chan():
			if _, err := cs.Sweep(ctx); err != nil {
				logger.Error("claim sweep failed", "error", err.Error())
			}
		}
	}
}

// Sweep releases expired claims once and returns how many were cleared.
// It returns 0 without error when another process holds the sweep lock.
func (cs *ClaimSweeper) Sweep(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	var released int
	run := func(ctx context.Context) error {
		n, err := cs.repo.ReleaseExpired(ctx, cs.clock.Now())
		released = n
		return err
	}

	if cs.lock == nil {
		if err := run(ctx); err != nil {
			return 0, err
		}
	} else {
		ran, err := distlock.WithLock(ctx, cs.lock, run)
		if err != nil {
			return 0, err
		}
		if !ran {
			logger.Debug("claim sweep skipped, lock held elsewhere")
			return 0, nil
		}
	}

	if released > 0 {
		logger.Info("released expired claims", "count", released)
	}
	return released, nil
}
