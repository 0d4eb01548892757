package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/ignite/investor-outreach/internal/pkg/logger"
)

// DefaultRunInterval is the in-process trigger interval.
const DefaultRunInterval = time.Minute

// Runner is satisfied by *Processor.
type Runner interface {
	Run(ctx context.Context) (*RunSummary, error)
}

// Scheduler triggers a Runner on a fixed interval for deployments without
// an external cron. A tick that arrives while a run is still in progress is
// skipped.
type Scheduler struct {
	runner   Runner
	clock    clockwork.Clock
	interval time.Duration
	running  atomic.Bool
	skipped  atomic.Int64
}

// NewScheduler creates a scheduler.
func NewScheduler(runner Runner, clock clockwork.Clock, interval time.Duration) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultRunInterval
	}
	return &Scheduler{runner: runner, clock: clock, interval: interval}
}

// Skipped reports how many ticks were dropped due to overlap.
func (s *Scheduler) Skipped() int64 { return s.skipped.Load() }

// Start triggers runs until ctx is cancelled. The first run happens
// immediately.
func (s *Scheduler) Start(ctx context.Context) {
	logger.Info("scheduler starting", "interval", s.interval.String())
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopping")
			return
		case <-ticker.Chan():
			go s.Tick(ctx)
		}
	}
}

// Tick runs once unless a run is already in progress. It reports whether a
// run happened.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		logger.Warn("previous run still in progress, skipping tick")
		return false
	}
	defer s.running.Store(false)

	if _, err := s.runner.Run(ctx); err != nil {
		logger.Error("scheduled run failed", "error", err.Error())
	}
	return true
}
