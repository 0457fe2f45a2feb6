package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
)

// AccountOverview is the consumer-facing view of their credit. Account is the
// open line (or the newest one when none is open). Outstanding lists older
// lines that still carry debt, such as an account being liquidated after the
// consumer opened a new one.
type AccountOverview struct {
	Account     domain.AccountSnapshot     `json:"account"`
	Outstanding []domain.AccountSnapshot   `json:"outstanding"`
	Deposits    []domain.CollateralDeposit `json:"deposits"`
}

// consumerAccounts returns every account of the consumer, newest first, or
// ErrNotFound when there is none.
func consumerAccounts(ctx context.Context, tx store.Tx, consumerID string) ([]domain.CreditAccount, error) {
	accounts, err := tx.ListAccountsByConsumer(ctx, consumerID)
	if err != nil {
		return nil, fmt.Errorf("accounts for consumer %s: %w", consumerID, err)
	}
	if len(accounts) == 0 {
		return nil, fmt.Errorf("accounts for consumer %s: %w", consumerID, domain.ErrNotFound)
	}
	return accounts, nil
}

func carriesDebt(account *domain.CreditAccount) bool {
	return account.Status != domain.AccountStatusLiquidated && account.UsedCredit.IsPositive()
}

// GetAccountOverview returns the consumer's current line, any older lines with
// unpaid debt, and the deposits of all of them.
func (s *Service) GetAccountOverview(ctx context.Context, consumerID string) (*AccountOverview, error) {
	var overview *AccountOverview
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		accounts, err := consumerAccounts(ctx, tx, consumerID)
		if err != nil {
			return err
		}

		primary := 0
		for i := range accounts {
			if accounts[i].IsOpen() {
				primary = i
				break
			}
		}

		shown := []domain.CreditAccount{accounts[primary]}
		overview = &AccountOverview{
			Account:     accounts[primary].Snapshot(),
			Outstanding: []domain.AccountSnapshot{},
			Deposits:    []domain.CollateralDeposit{},
		}
		for i := range accounts {
			if i != primary && carriesDebt(&accounts[i]) {
				overview.Outstanding = append(overview.Outstanding, accounts[i].Snapshot())
				shown = append(shown, accounts[i])
			}
		}
		for _, account := range shown {
			deposits, err := tx.ListDepositsByAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			overview.Deposits = append(overview.Deposits, deposits...)
		}
		return nil
	})
	return overview, err
}

// ListInvoices returns the invoices of every account the consumer ever held,
// newest cycle first.
func (s *Service) ListInvoices(ctx context.Context, consumerID string) ([]domain.Invoice, error) {
	invoices := []domain.Invoice{}
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		accounts, err := consumerAccounts(ctx, tx, consumerID)
		if err != nil {
			return err
		}
		invoices = invoices[:0]
		for _, account := range accounts {
			found, err := tx.ListInvoicesByAccount(ctx, account.ID)
			if err != nil {
				return err
			}
			invoices = append(invoices, found...)
		}
		return nil
	})
	sort.SliceStable(invoices, func(i, j int) bool {
		if invoices[i].BillingCycle == invoices[j].BillingCycle {
			return invoices[i].CreatedAt.After(invoices[j].CreatedAt)
		}
		return invoices[i].BillingCycle > invoices[j].BillingCycle
	})
	return invoices, err
}

// ListTransactions returns the consumer's newest ledger entries across all of
// their accounts.
func (s *Service) ListTransactions(ctx context.Context, consumerID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	txns := []domain.Transaction{}
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		accounts, err := consumerAccounts(ctx, tx, consumerID)
		if err != nil {
			return err
		}
		txns = txns[:0]
		for _, account := range accounts {
			found, err := tx.ListTransactionsByAccount(ctx, account.ID, limit)
			if err != nil {
				return err
			}
			txns = append(txns, found...)
		}
		return nil
	})
	sort.SliceStable(txns, func(i, j int) bool { return txns[i].CreatedAt.After(txns[j].CreatedAt) })
	if len(txns) > limit {
		txns = txns[:limit]
	}
	return txns, err
}
