/**
 * @description
 * Risk monitor sweep. Recomputes collateral and health factor for every active
 * or frozen account from its active deposits and applies the freeze, unfreeze
 * and liquidating transitions.
 */
package app

import (
	"context"
	"fmt"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/risk"
	"github.com/Cr0nia/Cronia/internal/store"
)

// RiskMonitorResult summarizes one risk monitor run.
type RiskMonitorResult struct {
	Evaluated   int                 `json:"evaluated"`
	Frozen      int                 `json:"frozen"`
	Unfrozen    int                 `json:"unfrozen"`
	Liquidating int                 `json:"liquidating"`
	Failed      int                 `json:"failed"`
	Failures    []domain.JobFailure `json:"failures,omitempty"`
}

// RunRiskMonitor evaluates every active or frozen account.
func (s *Service) RunRiskMonitor(ctx context.Context) (*RiskMonitorResult, error) {
	run := s.beginSweep(JobRiskMonitor)
	result := &RiskMonitorResult{}

	var accounts []domain.CreditAccount
	if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		accounts, err = tx.ListAccountsByStatus(ctx, domain.AccountStatusActive, domain.AccountStatusFrozen)
		return err
	}); err != nil {
		s.finishSweep(ctx, run, "", err)
		return nil, fmt.Errorf("list monitored accounts: %w", err)
	}

	for _, account := range accounts {
		result.Evaluated++

		from, to, err := s.evaluateAccount(ctx, account.ID)
		if err != nil {
			s.logger.Error("failed to evaluate account risk", "account_id", account.ID, "error", err)
			run.failed(account.ID, err)
			continue
		}
		run.succeeded()
		if from == to {
			continue
		}

		s.metrics.observeTransition(from, to)
		s.logger.Info("account status changed", "account_id", account.ID, "from", from, "to", to)
		switch {
		case to == domain.AccountStatusFrozen:
			result.Frozen++
		case to == domain.AccountStatusLiquidating:
			result.Liquidating++
		case from == domain.AccountStatusFrozen && to == domain.AccountStatusActive:
			result.Unfrozen++
		}
	}

	s.finishSweep(ctx, run, "", nil)
	result.Failed = len(run.failures)
	result.Failures = run.failures
	return result, nil
}

// evaluateAccount refreshes one account and returns its status before and after.
func (s *Service) evaluateAccount(ctx context.Context, accountID string) (string, string, error) {
	var from, to string
	err := s.inTx(ctx, "risk_monitor", func(tx store.Tx) error {
		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		from, to = account.Status, account.Status
		if !account.IsOpen() {
			return nil
		}

		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		to = risk.NextStatus(account.Status, account.HealthFactor, s.settings.Thresholds)
		account.Status = to
		account.UpdatedAt = s.now()
		return tx.UpdateAccount(ctx, account)
	})
	return from, to, err
}
