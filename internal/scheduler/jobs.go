/**
 * @description
 * Scheduled sweep implementations for the keeper process.
 */
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/Cr0nia/Cronia/internal/app"
)

// Sweeper runs the periodic credit sweeps.
type Sweeper interface {
	RunBillingCycle(ctx context.Context, cycleKey string) (*app.BillingResult, error)
	RunRiskMonitor(ctx context.Context) (*app.RiskMonitorResult, error)
	RunLiquidation(ctx context.Context) (*app.LiquidationResult, error)
}

// Locker hands out fleet-wide leases for sweeps.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Jobs contains the logic for all scheduled sweeps.
type Jobs struct {
	sweeper Sweeper
	locker  Locker
	lockTTL time.Duration
	logger  *slog.Logger
}

// NewJobs creates a new Jobs runner. locker may be nil for a single keeper.
func NewJobs(sweeper Sweeper, locker Locker, lockTTL time.Duration, logger *slog.Logger) *Jobs {
	if lockTTL <= 0 {
		lockTTL = 15 * time.Minute
	}
	return &Jobs{
		sweeper: sweeper,
		locker:  locker,
		lockTTL: lockTTL,
		logger:  logger,
	}
}

// RunBilling bills the current cycle.
func (j *Jobs) RunBilling() {
	j.guarded(app.JobBilling, func(ctx context.Context) error {
		result, err := j.sweeper.RunBillingCycle(ctx, "")
		if err != nil {
			return err
		}
		j.logger.Info("billing job finished", "cycle", result.CycleKey, "created", result.Created, "skipped", result.Skipped, "failed", result.Failed)
		return nil
	})
}

// RunRiskMonitor evaluates open accounts.
func (j *Jobs) RunRiskMonitor() {
	j.guarded(app.JobRiskMonitor, func(ctx context.Context) error {
		result, err := j.sweeper.RunRiskMonitor(ctx)
		if err != nil {
			return err
		}
		j.logger.Info("risk monitor job finished", "evaluated", result.Evaluated, "frozen", result.Frozen, "unfrozen", result.Unfrozen, "liquidating", result.Liquidating, "failed", result.Failed)
		return nil
	})
}

// RunLiquidation escalates overdue invoices.
func (j *Jobs) RunLiquidation() {
	j.guarded(app.JobLiquidation, func(ctx context.Context) error {
		result, err := j.sweeper.RunLiquidation(ctx)
		if err != nil {
			return err
		}
		j.logger.Info("liquidation job finished", "overdue", result.MarkedOverdue, "liquidated", result.Liquidated, "deposits_seized", result.DepositsSeized, "failed", result.Failed)
		return nil
	})
}

// guarded runs fn under the job's lease. Sweeps are safe to overlap, so an
// unreachable lock backend runs the sweep anyway.
func (j *Jobs) guarded(job string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), j.lockTTL)
	defer cancel()

	if j.locker != nil {
		release, ok, err := j.locker.Acquire(ctx, job, j.lockTTL)
		switch {
		case err != nil:
			j.logger.Warn("sweep lock unavailable; running without it", "job", job, "error", err)
		case !ok:
			j.logger.Info("sweep already running elsewhere; skipping", "job", job)
			return
		default:
			defer release()
		}
	}

	j.logger.Info("starting job", "job", job)
	if err := fn(ctx); err != nil {
		j.logger.Error("job failed", "job", job, "error", err)
	}
}
