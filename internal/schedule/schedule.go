// Package schedule runs the ready-hold expiry sweep periodically.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/erazemk/izposoja/internal/circulation"
)

// Sweeper applies expiry sweeps across all organizations.
type Sweeper interface {
	SweepAll(ctx context.Context, req circulation.SweepRequest) ([]*circulation.SweepResult, error)
}

// Scheduler triggers sweeps on a cron schedule. A run that is still going
// when the next one is due makes that one skip.
type Scheduler struct {
	cron *cron.Cron
}

// New creates a scheduler that applies a sweep of at most limit holds per
// organization on the given standard five-field cron spec.
func New(sweeper Sweeper, spec string, limit int, logger *slog.Logger) (*Scheduler, error) {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		cron.WithLogger(cronLogger),
	)

	if _, err := c.AddFunc(spec, Job(sweeper, limit, logger)); err != nil {
		return nil, fmt.Errorf("parsing sweep schedule %q: %w", spec, err)
	}

	return &Scheduler{cron: c}, nil
}

// Start begins running sweeps in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops scheduling new sweeps and waits up to timeout for a running one.
func (s *Scheduler) Stop(timeout time.Duration) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-time.After(timeout):
	}
}

// Job returns the function the scheduler runs: one applied sweep of every
// organization as the system actor.
func Job(sweeper Sweeper, limit int, logger *slog.Logger) func() {
	return func() {
		start := time.Now()
		results, err := sweeper.SweepAll(context.Background(), circulation.SweepRequest{
			Limit: limit,
			Apply: true,
		})
		if err != nil {
			logger.Error("scheduled sweep failed", "error", err)
		}

		processed, pending := 0, 0
		for _, r := range results {
			processed += r.Processed
			pending += r.CandidatesTotal - r.Processed - r.SkippedLocked - r.Failed
		}
		logger.Info("scheduled sweep finished", "organizations", len(results),
			"processed", processed, "pending", pending, "duration", time.Since(start))
	}
}
