package app

import (
	"context"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
)

const (
	JobBilling     = "billing"
	JobRiskMonitor = "risk_monitor"
	JobLiquidation = "liquidation"
)

// sweepRun accumulates per-entity outcomes of one sweep.
type sweepRun struct {
	job       string
	startedAt time.Time
	processed int
	failures  []domain.JobFailure
}

func (s *Service) beginSweep(job string) *sweepRun {
	s.logger.Info("sweep started", "job", job)
	return &sweepRun{job: job, startedAt: s.now()}
}

func (r *sweepRun) succeeded() {
	r.processed++
}

func (r *sweepRun) failed(entityID string, err error) {
	r.failures = append(r.failures, domain.JobFailure{EntityID: entityID, Error: err.Error()})
}

// finishSweep writes the run history record. A failure to record is logged and
// does not change the sweep outcome.
func (s *Service) finishSweep(ctx context.Context, r *sweepRun, cycleKey string, runErr error) domain.JobRun {
	run := domain.JobRun{
		ID:         s.newID(),
		JobName:    r.job,
		StartedAt:  r.startedAt,
		FinishedAt: s.now(),
		OK:         runErr == nil && len(r.failures) == 0,
		Processed:  r.processed,
		Failed:     len(r.failures),
		Details: domain.JobRunDetails{
			CycleKey: cycleKey,
			Failures: r.failures,
		},
	}
	if runErr != nil {
		run.Details.Error = runErr.Error()
	}

	if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		return tx.InsertJobRun(ctx, &run)
	}); err != nil {
		s.logger.Error("failed to record job run", "job", r.job, "error", err)
	}

	s.metrics.observeSweep(r.job, run.OK, run.Processed, run.Failed, run.FinishedAt.Sub(run.StartedAt).Seconds())
	if runErr != nil {
		s.logger.Error("sweep failed", "job", r.job, "processed", run.Processed, "failed", run.Failed, "error", runErr)
	} else {
		s.logger.Info("sweep finished", "job", r.job, "ok", run.OK, "processed", run.Processed, "failed", run.Failed)
	}
	return run
}

// ListJobRuns returns the most recent runs, newest first. An empty jobName
// lists every job.
func (s *Service) ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []domain.JobRun
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		runs, err = tx.ListJobRuns(ctx, jobName, limit)
		return err
	})
	return runs, err
}
