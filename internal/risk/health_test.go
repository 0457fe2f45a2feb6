package risk

import (
	"testing"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestHealthFactor(t *testing.T) {
	assert.True(t, HealthFactor(d("1000"), decimal.Zero).Equal(InfiniteHealthFactor))
	assert.True(t, HealthFactor(d("1000"), d("500")).Equal(d("2")))
	assert.True(t, HealthFactor(d("1000"), d("300")).Equal(d("3.33333333")))
}

func TestAvailableCreditFloorsAtZero(t *testing.T) {
	assert.True(t, AvailableCredit(d("400"), d("500")).IsZero())
	assert.True(t, AvailableCredit(d("600"), d("100")).Equal(d("500")))
}

func TestRecomputeUsesActiveDepositsOnly(t *testing.T) {
	account := &domain.CreditAccount{
		LTV:        d("0.6"),
		UsedCredit: d("300"),
		Status:     domain.AccountStatusActive,
	}
	deposits := []domain.CollateralDeposit{
		{ValueUSD: d("1000"), Status: domain.DepositStatusActive},
		{ValueUSD: d("700"), Status: domain.DepositStatusWithdrawn},
		{ValueUSD: d("50"), Status: domain.DepositStatusLiquidated},
	}

	Recompute(account, deposits)

	require.True(t, account.TotalCollateral.Equal(d("1000")))
	require.True(t, account.CreditLimit.Equal(d("600")))
	require.True(t, account.AvailableCredit.Equal(d("300")))
	require.True(t, account.HealthFactor.Equal(d("3.33333333")))
	require.Equal(t, domain.AccountStatusActive, account.Status)
}

func TestNextStatus(t *testing.T) {
	th := DefaultThresholds()

	tests := []struct {
		name    string
		current string
		hf      string
		want    string
	}{
		{name: "healthy stays active", current: domain.AccountStatusActive, hf: "2", want: domain.AccountStatusActive},
		{name: "below min freezes", current: domain.AccountStatusActive, hf: "1.15", want: domain.AccountStatusFrozen},
		{name: "below liquidation from active", current: domain.AccountStatusActive, hf: "1.05", want: domain.AccountStatusLiquidating},
		{name: "below liquidation from frozen", current: domain.AccountStatusFrozen, hf: "1.0", want: domain.AccountStatusLiquidating},
		{name: "frozen stays frozen between thresholds", current: domain.AccountStatusFrozen, hf: "1.15", want: domain.AccountStatusFrozen},
		{name: "frozen recovers at min", current: domain.AccountStatusFrozen, hf: "1.2", want: domain.AccountStatusActive},
		{name: "liquidating is left alone", current: domain.AccountStatusLiquidating, hf: "5", want: domain.AccountStatusLiquidating},
		{name: "liquidated is terminal", current: domain.AccountStatusLiquidated, hf: "999", want: domain.AccountStatusLiquidated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextStatus(tt.current, d(tt.hf), th))
		})
	}
}

func TestWithdrawalAllowed(t *testing.T) {
	th := DefaultThresholds()
	account := &domain.CreditAccount{TotalCollateral: d("1000"), UsedCredit: d("300")}

	// 700/300 = 2.33
	assert.True(t, WithdrawalAllowed(account, d("300"), th))
	// 300/300 = 1.0
	assert.False(t, WithdrawalAllowed(account, d("700"), th))

	account.UsedCredit = decimal.Zero
	assert.True(t, WithdrawalAllowed(account, d("1000"), th))
}
