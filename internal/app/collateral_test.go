package app

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDepositCollateralValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		req     DepositRequest
		wantErr error
	}{
		{name: "missing mint", req: DepositRequest{Amount: dec("1"), ValueUSD: dec("10"), LTV: dec("0.5")}, wantErr: domain.ErrInvalidRequest},
		{name: "zero amount", req: DepositRequest{TokenMint: "mint", Amount: dec("0"), ValueUSD: dec("10"), LTV: dec("0.5")}, wantErr: domain.ErrInvalidAmount},
		{name: "negative value", req: DepositRequest{TokenMint: "mint", Amount: dec("1"), ValueUSD: dec("-10"), LTV: dec("0.5")}, wantErr: domain.ErrInvalidAmount},
		{name: "ltv above one", req: DepositRequest{TokenMint: "mint", Amount: dec("1"), ValueUSD: dec("10"), LTV: dec("1.5")}, wantErr: domain.ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.DepositCollateral(ctx, "consumer-1", tt.req)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestDepositCollateralExtendsOpenAccount(t *testing.T) {
	svc, st, _ := newTestService(t)

	first := openCreditLine(t, svc, "consumer-1", "100", "0.5")
	second := openCreditLine(t, svc, "consumer-1", "100", "0.7")

	assert.Equal(t, first.Account.AccountID, second.Account.AccountID)
	requireDecimal(t, "200", second.Account.TotalCollateral)
	requireDecimal(t, "140", second.Account.CreditLimit, "limit follows the latest deposit's ltv")

	account := loadAccount(t, st, first.Account.AccountID)
	requireDecimal(t, "0.7", account.LTV)
	requireDecimal(t, "0.0299", account.InterestRatePerCycle)
	assert.Len(t, loadDeposits(t, st, account.ID), 2)
}

func TestWithdrawCollateral(t *testing.T) {
	svc, st, _ := newTestService(t)
	ctx := context.Background()

	large := openCreditLine(t, svc, "consumer-1", "250", "0.8")
	small := openCreditLine(t, svc, "consumer-1", "100", "0.8")
	draw(t, svc, "consumer-1", "150")

	t.Run("other consumer", func(t *testing.T) {
		_, err := svc.WithdrawCollateral(ctx, small.Deposit.ID, "consumer-2")
		require.ErrorIs(t, err, domain.ErrUnauthorized)
	})

	t.Run("unknown deposit", func(t *testing.T) {
		_, err := svc.WithdrawCollateral(ctx, "missing", "consumer-1")
		require.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("allowed while healthy", func(t *testing.T) {
		res, err := svc.WithdrawCollateral(ctx, small.Deposit.ID, "consumer-1")
		require.NoError(t, err)
		assert.Equal(t, domain.DepositStatusWithdrawn, res.Deposit.Status)
		assert.NotEmpty(t, res.TransactionID)
		requireDecimal(t, "250", res.Account.TotalCollateral)
		requireDecimal(t, "200", res.Account.CreditLimit)
		requireDecimal(t, "50", res.Account.AvailableCredit)
	})

	t.Run("already withdrawn", func(t *testing.T) {
		_, err := svc.WithdrawCollateral(ctx, small.Deposit.ID, "consumer-1")
		require.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("rejected below minimum health factor", func(t *testing.T) {
		_, err := svc.WithdrawCollateral(ctx, large.Deposit.ID, "consumer-1")
		require.ErrorIs(t, err, domain.ErrWithdrawalRejected)

		deposits := loadDeposits(t, st, large.Account.AccountID)
		for _, d := range deposits {
			if d.ID == large.Deposit.ID {
				assert.Equal(t, domain.DepositStatusActive, d.Status)
			}
		}
	})
}

func TestWithdrawCollateralWithoutDebt(t *testing.T) {
	svc, _, _ := newTestService(t)

	opened := openCreditLine(t, svc, "consumer-1", "100", "0.5")
	res, err := svc.WithdrawCollateral(context.Background(), opened.Deposit.ID, "consumer-1")
	require.NoError(t, err)
	requireDecimal(t, "0", res.Account.TotalCollateral)
	requireDecimal(t, "0", res.Account.CreditLimit)
	requireDecimal(t, "999", res.Account.HealthFactor)
}

func TestRevalueCollateralRejectsInactiveDeposit(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	opened := openCreditLine(t, svc, "consumer-1", "100", "0.5")
	_, err := svc.WithdrawCollateral(ctx, opened.Deposit.ID, "consumer-1")
	require.NoError(t, err)

	_, err = svc.RevalueCollateral(ctx, opened.Deposit.ID, dec("80"))
	require.ErrorIs(t, err, domain.ErrInvalidState)

	_, err = svc.RevalueCollateral(ctx, opened.Deposit.ID, dec("0"))
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestGetAccountOverview(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.GetAccountOverview(ctx, "consumer-1")
	require.ErrorIs(t, err, domain.ErrNotFound)

	opened := openCreditLine(t, svc, "consumer-1", "100", "0.5")
	overview, err := svc.GetAccountOverview(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, opened.Account.AccountID, overview.Account.AccountID)
	require.Len(t, overview.Deposits, 1)

	txns, err := svc.ListTransactions(ctx, "consumer-1", 0)
	require.NoError(t, err)
	require.Len(t, txns, 1)
	assert.Equal(t, domain.TransactionTypeDeposit, txns[0].Type)
	assert.Equal(t, domain.TransactionStatusPending, txns[0].Status)
}

func TestConcurrentFirstDepositsShareOneAccount(t *testing.T) {
	st := newFaultyStore()
	svc, _ := newTestServiceWithStore(t, st)
	ctx := context.Background()

	// Both deposits see no open account before either commits.
	var (
		arrived sync.WaitGroup
		lookups atomic.Int32
	)
	arrived.Add(2)
	st.afterFindOpen = func() {
		if lookups.Add(1) <= 2 {
			arrived.Done()
			arrived.Wait()
		}
	}

	var (
		wg      sync.WaitGroup
		results = make([]*CollateralResult, 2)
		errs    = make([]error, 2)
	)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = svc.DepositCollateral(ctx, "consumer-1", DepositRequest{
				TokenMint: "So11111111111111111111111111111111111111112",
				Amount:    dec("1"),
				ValueUSD:  dec("100"),
				LTV:       dec("0.8"),
			})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, results[0].Account.AccountID, results[1].Account.AccountID)
	assert.GreaterOrEqual(t, lookups.Load(), int32(3), "the losing deposit re-read the open account")

	accounts := loadConsumerAccounts(t, st, "consumer-1")
	require.Len(t, accounts, 1)
	requireDecimal(t, "200", accounts[0].TotalCollateral)
	requireDecimal(t, "160", accounts[0].CreditLimit)
	assert.Len(t, loadDeposits(t, st, accounts[0].ID), 2)
}

func TestConsumerViewsKeepDebtOfLiquidatingAccount(t *testing.T) {
	svc, _, clock := newTestService(t)
	ctx := context.Background()

	opened := openCreditLine(t, svc, "consumer-1", "250", "0.8")
	draw(t, svc, "consumer-1", "150")
	_, err := svc.RunBillingCycle(ctx, "2024-12")
	require.NoError(t, err)
	_, err = svc.RevalueCollateral(ctx, opened.Deposit.ID, dec("150"))
	require.NoError(t, err)
	monitor, err := svc.RunRiskMonitor(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, monitor.Liquidating)

	// A top-up cannot revive a liquidating line, so it opens a new one.
	clock.Advance(time.Hour)
	topUp := openCreditLine(t, svc, "consumer-1", "500", "0.8")
	require.NotEqual(t, opened.Account.AccountID, topUp.Account.AccountID)
	requireDecimal(t, "400", topUp.Account.AvailableCredit)

	invoices, err := svc.ListInvoices(ctx, "consumer-1")
	require.NoError(t, err)
	require.Len(t, invoices, 1)
	assert.Equal(t, opened.Account.AccountID, invoices[0].CreditAccountID)
	assert.Equal(t, domain.InvoiceStatusPending, invoices[0].Status)
	requireDecimal(t, "154.485", invoices[0].TotalAmount)

	overview, err := svc.GetAccountOverview(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Equal(t, topUp.Account.AccountID, overview.Account.AccountID)
	require.Len(t, overview.Outstanding, 1)
	assert.Equal(t, opened.Account.AccountID, overview.Outstanding[0].AccountID)
	assert.Equal(t, domain.AccountStatusLiquidating, overview.Outstanding[0].Status)
	requireDecimal(t, "150", overview.Outstanding[0].UsedCredit)
	assert.Len(t, overview.Deposits, 2)

	txns, err := svc.ListTransactions(ctx, "consumer-1", 0)
	require.NoError(t, err)
	require.Len(t, txns, 3)
	assert.Equal(t, topUp.TransactionID, txns[0].ID)

	// The old invoice can still be paid off by its owner.
	repaid, err := svc.Repay(ctx, invoices[0].ID, "consumer-1", RepayRequest{Amount: dec("154.485")})
	require.NoError(t, err)
	assert.Equal(t, domain.InvoiceStatusPaid, repaid.Invoice.Status)

	overview, err = svc.GetAccountOverview(ctx, "consumer-1")
	require.NoError(t, err)
	assert.Empty(t, overview.Outstanding)
}
