/**
 * @description
 * Collateral ledger: deposits open or extend a credit line, withdrawals are
 * admitted only while the account stays above the minimum health factor.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/risk"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/shopspring/decimal"
)

// DepositRequest carries a valued collateral deposit.
type DepositRequest struct {
	TokenMint string          `json:"token_mint"`
	Amount    decimal.Decimal `json:"amount"`
	ValueUSD  decimal.Decimal `json:"value_usd"`
	LTV       decimal.Decimal `json:"ltv"`
}

// CollateralResult is returned by deposit, withdraw and revalue.
type CollateralResult struct {
	Deposit       domain.CollateralDeposit `json:"deposit"`
	Account       domain.AccountSnapshot   `json:"account"`
	TransactionID string                   `json:"transaction_id,omitempty"`
}

func validateDeposit(consumerID string, req DepositRequest) error {
	if strings.TrimSpace(consumerID) == "" {
		return fmt.Errorf("consumer id is required: %w", domain.ErrInvalidRequest)
	}
	if strings.TrimSpace(req.TokenMint) == "" {
		return fmt.Errorf("token mint is required: %w", domain.ErrInvalidRequest)
	}
	if !req.Amount.IsPositive() {
		return fmt.Errorf("deposit amount must be positive: %w", domain.ErrInvalidAmount)
	}
	if !req.ValueUSD.IsPositive() {
		return fmt.Errorf("deposit value must be positive: %w", domain.ErrInvalidAmount)
	}
	if !req.LTV.IsPositive() || req.LTV.GreaterThan(decimal.NewFromInt(1)) {
		return fmt.Errorf("ltv must be in (0, 1]: %w", domain.ErrInvalidAmount)
	}
	return nil
}

// DepositCollateral records a deposit on the consumer's open account, creating
// the account on first deposit, and recomputes its limits.
func (s *Service) DepositCollateral(ctx context.Context, consumerID string, req DepositRequest) (*CollateralResult, error) {
	if err := validateDeposit(consumerID, req); err != nil {
		return nil, s.finish("deposit", err)
	}

	var result *CollateralResult
	err := s.inTx(ctx, "deposit", func(tx store.Tx) error {
		now := s.now()

		account, err := tx.FindOpenAccountByConsumer(ctx, consumerID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			account = &domain.CreditAccount{
				ID:                   s.newID(),
				ConsumerID:           consumerID,
				LTV:                  req.LTV,
				InterestRatePerCycle: s.settings.DefaultInterestRate,
				Status:               domain.AccountStatusActive,
				CreatedAt:            now,
				UpdatedAt:            now,
			}
			risk.RefreshUsage(account)
			if err := tx.InsertAccount(ctx, account); err != nil {
				return err
			}
		case err != nil:
			return fmt.Errorf("find open account: %w", err)
		}

		deposit := &domain.CollateralDeposit{
			ID:              s.newID(),
			CreditAccountID: account.ID,
			ConsumerID:      consumerID,
			TokenMint:       strings.TrimSpace(req.TokenMint),
			Amount:          req.Amount,
			ValueUSD:        req.ValueUSD,
			LTV:             req.LTV,
			Status:          domain.DepositStatusActive,
			DepositedAt:     now,
			UpdatedAt:       now,
		}
		if err := tx.InsertDeposit(ctx, deposit); err != nil {
			return err
		}

		account.LTV = req.LTV
		account.UpdatedAt = now
		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		txn, err := s.appendTransaction(ctx, tx, account, domain.TransactionTypeDeposit, deposit.ValueUSD, map[string]interface{}{
			"deposit_id": deposit.ID,
			"token_mint": deposit.TokenMint,
			"amount":     deposit.Amount.String(),
			"value_usd":  deposit.ValueUSD.String(),
		})
		if err != nil {
			return err
		}

		result = &CollateralResult{Deposit: *deposit, Account: account.Snapshot(), TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, s.finish("deposit", err)
	}

	s.logger.Info("collateral deposited", "account_id", result.Account.AccountID, "deposit_id", result.Deposit.ID, "value_usd", result.Deposit.ValueUSD.String())
	return result, s.finish("deposit", nil)
}

// WithdrawCollateral releases an active deposit when the projected health
// factor stays at or above the minimum.
func (s *Service) WithdrawCollateral(ctx context.Context, depositID, consumerID string) (*CollateralResult, error) {
	var result *CollateralResult
	err := s.inTx(ctx, "withdraw", func(tx store.Tx) error {
		deposit, err := tx.GetDeposit(ctx, depositID)
		if err != nil {
			return fmt.Errorf("deposit %s: %w", depositID, err)
		}
		if deposit.ConsumerID != consumerID {
			return fmt.Errorf("deposit %s belongs to another consumer: %w", depositID, domain.ErrUnauthorized)
		}
		if deposit.Status != domain.DepositStatusActive {
			return fmt.Errorf("deposit %s is %s: %w", depositID, deposit.Status, domain.ErrInvalidState)
		}

		account, err := tx.GetAccount(ctx, deposit.CreditAccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", deposit.CreditAccountID, err)
		}
		if !account.IsOpen() {
			return fmt.Errorf("account %s is %s: %w", account.ID, account.Status, domain.ErrInvalidState)
		}
		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		if !risk.WithdrawalAllowed(account, deposit.ValueUSD, s.settings.Thresholds) {
			return fmt.Errorf("deposit %s: %w", depositID, domain.ErrWithdrawalRejected)
		}

		now := s.now()
		deposit.Status = domain.DepositStatusWithdrawn
		deposit.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, deposit); err != nil {
			return err
		}

		account.UpdatedAt = now
		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		txn, err := s.appendTransaction(ctx, tx, account, domain.TransactionTypeWithdrawal, deposit.ValueUSD, map[string]interface{}{
			"deposit_id": deposit.ID,
			"token_mint": deposit.TokenMint,
			"amount":     deposit.Amount.String(),
			"value_usd":  deposit.ValueUSD.String(),
		})
		if err != nil {
			return err
		}

		result = &CollateralResult{Deposit: *deposit, Account: account.Snapshot(), TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, s.finish("withdraw", err)
	}

	s.logger.Info("collateral withdrawn", "account_id", result.Account.AccountID, "deposit_id", depositID)
	return result, s.finish("withdraw", nil)
}

// RevalueCollateral applies a new USD valuation to an active deposit and
// recomputes the account's derived fields. Status changes are left to the
// risk monitor.
func (s *Service) RevalueCollateral(ctx context.Context, depositID string, valueUSD decimal.Decimal) (*CollateralResult, error) {
	if !valueUSD.IsPositive() {
		return nil, s.finish("revalue", fmt.Errorf("value must be positive: %w", domain.ErrInvalidAmount))
	}

	var result *CollateralResult
	err := s.inTx(ctx, "revalue", func(tx store.Tx) error {
		deposit, err := tx.GetDeposit(ctx, depositID)
		if err != nil {
			return fmt.Errorf("deposit %s: %w", depositID, err)
		}
		if deposit.Status != domain.DepositStatusActive {
			return fmt.Errorf("deposit %s is %s: %w", depositID, deposit.Status, domain.ErrInvalidState)
		}

		now := s.now()
		deposit.ValueUSD = valueUSD
		deposit.UpdatedAt = now
		if err := tx.UpdateDeposit(ctx, deposit); err != nil {
			return err
		}

		account, err := tx.GetAccount(ctx, deposit.CreditAccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", deposit.CreditAccountID, err)
		}
		account.UpdatedAt = now
		if _, err := recomputeAccount(ctx, tx, account); err != nil {
			return err
		}
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		result = &CollateralResult{Deposit: *deposit, Account: account.Snapshot()}
		return nil
	})
	if err != nil {
		return nil, s.finish("revalue", err)
	}
	return result, s.finish("revalue", nil)
}
