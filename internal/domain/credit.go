/**
 * @description
 * Domain models for credit accounts, collateral deposits and draw sessions.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AccountStatusActive      = "active"
	AccountStatusFrozen      = "frozen"
	AccountStatusLiquidating = "liquidating"
	AccountStatusLiquidated  = "liquidated"
)

const (
	DepositStatusActive     = "active"
	DepositStatusWithdrawn  = "withdrawn"
	DepositStatusLiquidated = "liquidated"
)

const (
	DrawStatusPending  = "pending"
	DrawStatusApproved = "approved"
	DrawStatusRejected = "rejected"
	DrawStatusExpired  = "expired"
)

// CreditAccount is a consumer's revolving credit line backed by collateral.
// Every update is conditional on Version.
type CreditAccount struct {
	ID                   string          `json:"id"`
	ConsumerID           string          `json:"consumer_id"`
	CreditLimit          decimal.Decimal `json:"credit_limit"`
	UsedCredit           decimal.Decimal `json:"used_credit"`
	AvailableCredit      decimal.Decimal `json:"available_credit"`
	TotalCollateral      decimal.Decimal `json:"total_collateral"`
	HealthFactor         decimal.Decimal `json:"health_factor"`
	LTV                  decimal.Decimal `json:"ltv"`
	InterestRatePerCycle decimal.Decimal `json:"interest_rate_per_cycle"`
	Status               string          `json:"status"`
	Version              int64           `json:"version"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// IsOpen reports whether the account can still receive collateral.
func (a *CreditAccount) IsOpen() bool {
	return a.Status == AccountStatusActive || a.Status == AccountStatusFrozen
}

// CollateralDeposit is a single collateral position. Only active deposits count
// toward the account's total collateral.
type CollateralDeposit struct {
	ID              string          `json:"id"`
	CreditAccountID string          `json:"credit_account_id"`
	ConsumerID      string          `json:"consumer_id"`
	TokenMint       string          `json:"token_mint"`
	Amount          decimal.Decimal `json:"amount"`
	ValueUSD        decimal.Decimal `json:"value_usd"`
	LTV             decimal.Decimal `json:"ltv"`
	Status          string          `json:"status"`
	Version         int64           `json:"version"`
	DepositedAt     time.Time       `json:"deposited_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// DrawSession is a merchant-initiated request to draw credit, approved or
// rejected by the consumer before it expires.
type DrawSession struct {
	ID         string          `json:"id"`
	MerchantID string          `json:"merchant_id"`
	ConsumerID *string         `json:"consumer_id,omitempty"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	ExpiresAt  time.Time       `json:"expires_at"`
	Version    int64           `json:"version"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// AccountSnapshot is the externally visible view of an account.
type AccountSnapshot struct {
	AccountID       string          `json:"account_id"`
	ConsumerID      string          `json:"consumer_id"`
	CreditLimit     decimal.Decimal `json:"credit_limit"`
	UsedCredit      decimal.Decimal `json:"used_credit"`
	AvailableCredit decimal.Decimal `json:"available_credit"`
	TotalCollateral decimal.Decimal `json:"total_collateral"`
	HealthFactor    decimal.Decimal `json:"health_factor"`
	Status          string          `json:"status"`
}

// Snapshot returns the externally visible view of the account.
func (a *CreditAccount) Snapshot() AccountSnapshot {
	return AccountSnapshot{
		AccountID:       a.ID,
		ConsumerID:      a.ConsumerID,
		CreditLimit:     a.CreditLimit,
		UsedCredit:      a.UsedCredit,
		AvailableCredit: a.AvailableCredit,
		TotalCollateral: a.TotalCollateral,
		HealthFactor:    a.HealthFactor,
		Status:          a.Status,
	}
}
