/**
 * @description
 * Health factor, credit limit and account status math. All values are
 * fixed-point decimals; nothing here touches storage.
 */
package risk

import (
	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/shopspring/decimal"
)

// DivisionPlaces is the scale used for every ratio this package produces.
const DivisionPlaces = 8

// InfiniteHealthFactor is reported for accounts with no used credit.
var InfiniteHealthFactor = decimal.NewFromInt(999)

// Thresholds configures the risk status transitions.
type Thresholds struct {
	MinHealthFactor      decimal.Decimal
	LiquidationThreshold decimal.Decimal
}

// DefaultThresholds returns the production defaults (1.2 / 1.1).
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinHealthFactor:      decimal.RequireFromString("1.2"),
		LiquidationThreshold: decimal.RequireFromString("1.1"),
	}
}

// HealthFactor returns totalCollateral / usedCredit, or InfiniteHealthFactor
// when nothing is drawn.
func HealthFactor(totalCollateral, usedCredit decimal.Decimal) decimal.Decimal {
	if !usedCredit.IsPositive() {
		return InfiniteHealthFactor
	}
	return totalCollateral.DivRound(usedCredit, DivisionPlaces)
}

// CreditLimit returns totalCollateral × ltv.
func CreditLimit(totalCollateral, ltv decimal.Decimal) decimal.Decimal {
	return totalCollateral.Mul(ltv)
}

// AvailableCredit returns limit − used, floored at zero.
func AvailableCredit(creditLimit, usedCredit decimal.Decimal) decimal.Decimal {
	available := creditLimit.Sub(usedCredit)
	if available.IsNegative() {
		return decimal.Zero
	}
	return available
}

// SumActiveCollateral sums the USD value of active deposits only.
func SumActiveCollateral(deposits []domain.CollateralDeposit) decimal.Decimal {
	total := decimal.Zero
	for _, d := range deposits {
		if d.Status != domain.DepositStatusActive {
			continue
		}
		total = total.Add(d.ValueUSD)
	}
	return total
}

// Recompute refreshes the derived fields of account from its deposits. The
// status is left untouched.
func Recompute(account *domain.CreditAccount, deposits []domain.CollateralDeposit) {
	account.TotalCollateral = SumActiveCollateral(deposits)
	account.CreditLimit = CreditLimit(account.TotalCollateral, account.LTV)
	RefreshUsage(account)
}

// RefreshUsage recomputes the fields that depend on used credit.
func RefreshUsage(account *domain.CreditAccount) {
	if account.UsedCredit.IsNegative() {
		account.UsedCredit = decimal.Zero
	}
	account.AvailableCredit = AvailableCredit(account.CreditLimit, account.UsedCredit)
	account.HealthFactor = HealthFactor(account.TotalCollateral, account.UsedCredit)
}

// NextStatus applies the monitor's transition rules. Liquidating is checked
// independently of freezing, so an active account can move straight to
// liquidating. Accounts outside active/frozen are returned unchanged.
func NextStatus(current string, healthFactor decimal.Decimal, t Thresholds) string {
	if current != domain.AccountStatusActive && current != domain.AccountStatusFrozen {
		return current
	}

	next := current
	if healthFactor.LessThan(t.MinHealthFactor) && current == domain.AccountStatusActive {
		next = domain.AccountStatusFrozen
	}
	if healthFactor.LessThan(t.LiquidationThreshold) {
		next = domain.AccountStatusLiquidating
	}
	if healthFactor.GreaterThanOrEqual(t.MinHealthFactor) && current == domain.AccountStatusFrozen {
		next = domain.AccountStatusActive
	}
	return next
}

// WithdrawalAllowed reports whether removing value from the account keeps the
// health factor at or above the minimum. It always allows withdrawal when
// nothing is drawn.
func WithdrawalAllowed(account *domain.CreditAccount, value decimal.Decimal, t Thresholds) bool {
	if !account.UsedCredit.IsPositive() {
		return true
	}
	projected := account.TotalCollateral.Sub(value)
	return !HealthFactor(projected, account.UsedCredit).LessThan(t.MinHealthFactor)
}
