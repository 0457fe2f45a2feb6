/**
 * @description
 * Billing cycle generator. Issues at most one invoice per account and billing
 * cycle; re-running a cycle is a no-op for accounts already billed.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/shopspring/decimal"
)

const cycleKeyLayout = "2006-01"

// BillingResult summarizes one billing run.
type BillingResult struct {
	CycleKey  string              `json:"cycle_key"`
	DueDate   time.Time           `json:"due_date"`
	Evaluated int                 `json:"evaluated"`
	Created   int                 `json:"created"`
	Skipped   int                 `json:"skipped"`
	Failed    int                 `json:"failed"`
	Failures  []domain.JobFailure `json:"failures,omitempty"`
}

// CycleKeyFor returns the YYYY-MM billing cycle containing t in loc.
func CycleKeyFor(t time.Time, loc *time.Location) string {
	return t.In(loc).Format(cycleKeyLayout)
}

// DueDateFor returns midnight of dueDay in the month after cycleKey.
func DueDateFor(cycleKey string, dueDay int, loc *time.Location) (time.Time, error) {
	start, err := time.ParseInLocation(cycleKeyLayout, cycleKey, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("billing cycle %q must be YYYY-MM: %w", cycleKey, domain.ErrInvalidRequest)
	}
	return time.Date(start.Year(), start.Month()+1, dueDay, 0, 0, 0, 0, loc), nil
}

// RunBillingCycle issues invoices for every active account with used credit.
// An empty cycleKey bills the current calendar month.
func (s *Service) RunBillingCycle(ctx context.Context, cycleKey string) (*BillingResult, error) {
	if cycleKey == "" {
		cycleKey = CycleKeyFor(s.now(), s.settings.Location)
	}
	dueDate, err := DueDateFor(cycleKey, s.settings.CycleDueDay, s.settings.Location)
	if err != nil {
		return nil, err
	}

	run := s.beginSweep(JobBilling)
	result := &BillingResult{CycleKey: cycleKey, DueDate: dueDate}

	var accounts []domain.CreditAccount
	if err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		accounts, err = tx.ListAccountsByStatus(ctx, domain.AccountStatusActive)
		return err
	}); err != nil {
		s.finishSweep(ctx, run, cycleKey, err)
		return nil, fmt.Errorf("list billable accounts: %w", err)
	}

	for _, account := range accounts {
		if !account.UsedCredit.IsPositive() {
			continue
		}
		result.Evaluated++

		created, err := s.billAccount(ctx, account.ID, cycleKey, dueDate)
		if err != nil {
			s.logger.Error("failed to bill account", "account_id", account.ID, "cycle", cycleKey, "error", err)
			run.failed(account.ID, err)
			continue
		}
		run.succeeded()
		if created {
			result.Created++
		} else {
			result.Skipped++
		}
	}

	s.finishSweep(ctx, run, cycleKey, nil)
	result.Failed = len(run.failures)
	result.Failures = run.failures
	return result, nil
}

// billAccount creates the cycle invoice for one account from a fresh read of
// its used credit. It reports false when nothing was created.
func (s *Service) billAccount(ctx context.Context, accountID, cycleKey string, dueDate time.Time) (bool, error) {
	var created bool
	err := s.inTx(ctx, "billing", func(tx store.Tx) error {
		created = false

		account, err := tx.GetAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if account.Status != domain.AccountStatusActive || !account.UsedCredit.IsPositive() {
			return nil
		}

		if _, err := tx.FindInvoiceByCycle(ctx, accountID, cycleKey); err == nil {
			return nil
		} else if !errors.Is(err, domain.ErrNotFound) {
			return err
		}

		now := s.now()
		principal := account.UsedCredit
		interest := principal.Mul(account.InterestRatePerCycle).Round(8)
		invoice := &domain.Invoice{
			ID:              s.newID(),
			CreditAccountID: accountID,
			BillingCycle:    cycleKey,
			DueDate:         dueDate,
			PrincipalAmount: principal,
			InterestAmount:  interest,
			FeesAmount:      decimal.Zero,
			TotalAmount:     principal.Add(interest),
			PaidAmount:      decimal.Zero,
			Status:          domain.InvoiceStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		created, err = tx.InsertInvoice(ctx, invoice)
		return err
	})
	if err == nil && created {
		s.logger.Info("invoice issued", "account_id", accountID, "cycle", cycleKey)
	}
	return created, err
}
