/**
 * @description
 * Cron scheduler setup for the credit sweeps.
 */
package scheduler

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"
)

// Schedules holds the cron expressions of each sweep.
type Schedules struct {
	Billing     string
	RiskMonitor string
	Liquidation string
}

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron      *cron.Cron
	jobs      *Jobs
	logger    *slog.Logger
	schedules Schedules
}

// NewScheduler creates a new scheduler instance. A sweep that is still running
// when its next tick fires is skipped.
func NewScheduler(jobs *Jobs, logger *slog.Logger, schedules Schedules) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))

	return &Scheduler{
		cron:      c,
		jobs:      jobs,
		logger:    logger,
		schedules: schedules,
	}
}

// Start registers the jobs and starts the cron scheduler. It returns the
// number of jobs registered.
func (s *Scheduler) Start() int {
	entries := []struct {
		name     string
		schedule string
		run      func()
	}{
		{name: "billing", schedule: s.schedules.Billing, run: s.jobs.RunBilling},
		{name: "risk monitor", schedule: s.schedules.RiskMonitor, run: s.jobs.RunRiskMonitor},
		{name: "liquidation", schedule: s.schedules.Liquidation, run: s.jobs.RunLiquidation},
	}

	registered := 0
	for _, entry := range entries {
		if _, err := s.cron.AddFunc(entry.schedule, entry.run); err != nil {
			s.logger.Error("failed to schedule job", "job", entry.name, "schedule", entry.schedule, "error", err)
			continue
		}
		registered++
		s.logger.Info("scheduled job", "job", entry.name, "schedule", entry.schedule)
	}

	s.cron.Start()
	return registered
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
