/**
 * @description
 * Liquidation engine. Pending invoices past the grace period become overdue;
 * overdue invoices past the liquidation window liquidate the account and seize
 * every active deposit. There is no reversal path.
 */
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
)

// LiquidationResult summarizes one liquidation run.
type LiquidationResult struct {
	MarkedOverdue  int                 `json:"marked_overdue"`
	Liquidated     int                 `json:"liquidated"`
	DepositsSeized int                 `json:"deposits_seized"`
	Failed         int                 `json:"failed"`
	Failures       []domain.JobFailure `json:"failures,omitempty"`
}

func daysBefore(t time.Time, days int) time.Time {
	return t.Add(-time.Duration(days) * 24 * time.Hour)
}

// RunLiquidation runs the overdue phase and then the liquidation phase.
func (s *Service) RunLiquidation(ctx context.Context) (*LiquidationResult, error) {
	run := s.beginSweep(JobLiquidation)
	result := &LiquidationResult{}
	now := s.now()

	var pending []domain.Invoice
	if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		pending, err = tx.ListInvoicesDueBefore(ctx, domain.InvoiceStatusPending, daysBefore(now, s.settings.GracePeriodDays))
		return err
	}); err != nil {
		s.finishSweep(ctx, run, "", err)
		return nil, fmt.Errorf("list invoices past grace: %w", err)
	}

	for _, invoice := range pending {
		changed, err := s.markOverdue(ctx, invoice.ID)
		if err != nil {
			s.logger.Error("failed to mark invoice overdue", "invoice_id", invoice.ID, "error", err)
			run.failed(invoice.ID, err)
			continue
		}
		run.succeeded()
		if changed {
			result.MarkedOverdue++
			s.logger.Warn("invoice overdue", "invoice_id", invoice.ID, "account_id", invoice.CreditAccountID, "due_date", invoice.DueDate)
		}
	}

	var overdue []domain.Invoice
	if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		overdue, err = tx.ListInvoicesDueBefore(ctx, domain.InvoiceStatusOverdue, daysBefore(now, s.settings.LiquidationDays))
		return err
	}); err != nil {
		s.finishSweep(ctx, run, "", err)
		return nil, fmt.Errorf("list invoices past liquidation window: %w", err)
	}

	for _, invoice := range overdue {
		seized, changed, err := s.liquidateInvoice(ctx, invoice.ID)
		if err != nil {
			s.logger.Error("failed to liquidate invoice", "invoice_id", invoice.ID, "error", err)
			run.failed(invoice.ID, err)
			continue
		}
		run.succeeded()
		if changed {
			result.Liquidated++
			result.DepositsSeized += seized
			s.logger.Warn("account liquidated", "invoice_id", invoice.ID, "account_id", invoice.CreditAccountID, "deposits_seized", seized)
		}
	}

	s.finishSweep(ctx, run, "", nil)
	result.Failed = len(run.failures)
	result.Failures = run.failures
	return result, nil
}

func (s *Service) markOverdue(ctx context.Context, invoiceID string) (bool, error) {
	var changed bool
	err := s.inTx(ctx, "liquidation", func(tx store.Tx) error {
		changed = false

		invoice, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != domain.InvoiceStatusPending {
			return nil
		}
		invoice.Status = domain.InvoiceStatusOverdue
		invoice.UpdatedAt = s.now()
		if err := tx.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return changed, err
}

// liquidateInvoice liquidates the invoice, its account and the account's
// active deposits in one unit of work.
func (s *Service) liquidateInvoice(ctx context.Context, invoiceID string) (int, bool, error) {
	var (
		seized  int
		changed bool
	)
	err := s.inTx(ctx, "liquidation", func(tx store.Tx) error {
		seized, changed = 0, false

		invoice, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		if invoice.Status != domain.InvoiceStatusOverdue {
			return nil
		}

		now := s.now()
		invoice.Status = domain.InvoiceStatusLiquidated
		invoice.UpdatedAt = now
		if err := tx.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}

		account, err := tx.GetAccount(ctx, invoice.CreditAccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", invoice.CreditAccountID, err)
		}
		deposits, err := tx.ListDepositsByAccount(ctx, account.ID)
		if err != nil {
			return err
		}
		for i := range deposits {
			deposit := &deposits[i]
			if deposit.Status != domain.DepositStatusActive {
				continue
			}
			deposit.Status = domain.DepositStatusLiquidated
			deposit.UpdatedAt = now
			if err := tx.UpdateDeposit(ctx, deposit); err != nil {
				return err
			}
			if _, err := s.appendTransaction(ctx, tx, account, domain.TransactionTypeLiquidation, deposit.ValueUSD, map[string]interface{}{
				"invoice_id": invoice.ID,
				"deposit_id": deposit.ID,
				"token_mint": deposit.TokenMint,
				"amount":     deposit.Amount.String(),
				"reason":     "overdue_payment",
			}); err != nil {
				return err
			}
			seized++
		}

		account.Status = domain.AccountStatusLiquidated
		account.UpdatedAt = now
		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}
		changed = true
		return nil
	})
	return seized, changed, err
}
