package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *store.MemoryStore, *testClock) {
	t.Helper()
	st := store.NewMemoryStore()
	svc, clock := newTestServiceWithStore(t, st)
	return svc, st, clock
}

func newTestServiceWithStore(t *testing.T, st store.Store) (*Service, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2024, 12, 10, 12, 0, 0, 0, time.UTC)}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(st, DefaultSettings(), logger)
	svc.now = clock.Now
	return svc, clock
}

var errStorageDown = errors.New("storage unavailable")

// faultyStore wraps a MemoryStore and injects failures into units of work.
type faultyStore struct {
	*store.MemoryStore

	mu          sync.Mutex
	failIDs     map[string]bool
	failListing bool
	// afterFindOpen runs after every FindOpenAccountByConsumer lookup.
	afterFindOpen func()
}

func newFaultyStore() *faultyStore {
	return &faultyStore{MemoryStore: store.NewMemoryStore(), failIDs: make(map[string]bool)}
}

func (s *faultyStore) failOn(ids ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		s.failIDs[id] = true
	}
}

func (s *faultyStore) setFailListing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failListing = fail
}

func (s *faultyStore) failing(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failIDs[id]
}

func (s *faultyStore) listingFails() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failListing
}

func (s *faultyStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return s.MemoryStore.RunInTx(ctx, func(tx store.Tx) error {
		return fn(&faultyTx{Tx: tx, owner: s})
	})
}

type faultyTx struct {
	store.Tx
	owner *faultyStore
}

func (t *faultyTx) GetAccount(ctx context.Context, id string) (*domain.CreditAccount, error) {
	if t.owner.failing(id) {
		return nil, errStorageDown
	}
	return t.Tx.GetAccount(ctx, id)
}

func (t *faultyTx) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	if t.owner.failing(id) {
		return nil, errStorageDown
	}
	return t.Tx.GetInvoice(ctx, id)
}

func (t *faultyTx) ListAccountsByStatus(ctx context.Context, statuses ...string) ([]domain.CreditAccount, error) {
	if t.owner.listingFails() {
		return nil, errStorageDown
	}
	return t.Tx.ListAccountsByStatus(ctx, statuses...)
}

func (t *faultyTx) ListInvoicesDueBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Invoice, error) {
	if t.owner.listingFails() {
		return nil, errStorageDown
	}
	return t.Tx.ListInvoicesDueBefore(ctx, status, cutoff)
}

func (t *faultyTx) FindOpenAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error) {
	account, err := t.Tx.FindOpenAccountByConsumer(ctx, consumerID)
	if t.owner.afterFindOpen != nil {
		t.owner.afterFindOpen()
	}
	return account, err
}

func loadConsumerAccounts(t *testing.T, st store.Store, consumerID string) []domain.CreditAccount {
	t.Helper()
	var accounts []domain.CreditAccount
	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		accounts, err = tx.ListAccountsByConsumer(context.Background(), consumerID)
		return err
	}))
	return accounts
}

// openCreditLine deposits collateral for consumerID and returns the deposit result.
func openCreditLine(t *testing.T, svc *Service, consumerID, valueUSD, ltv string) *CollateralResult {
	t.Helper()
	res, err := svc.DepositCollateral(context.Background(), consumerID, DepositRequest{
		TokenMint: "So11111111111111111111111111111111111111112",
		Amount:    dec("10"),
		ValueUSD:  dec(valueUSD),
		LTV:       dec(ltv),
	})
	require.NoError(t, err)
	return res
}

// draw creates a session for amount and approves it for consumerID.
func draw(t *testing.T, svc *Service, consumerID, amount string) *DrawResult {
	t.Helper()
	session, err := svc.CreateDrawSession(context.Background(), "merchant-1", dec(amount), "usdc")
	require.NoError(t, err)
	res, err := svc.ApproveDraw(context.Background(), session.ID, consumerID)
	require.NoError(t, err)
	return res
}

func loadAccount(t *testing.T, st store.Store, id string) *domain.CreditAccount {
	t.Helper()
	var account *domain.CreditAccount
	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		account, err = tx.GetAccount(context.Background(), id)
		return err
	}))
	return account
}

func loadInvoice(t *testing.T, st store.Store, id string) *domain.Invoice {
	t.Helper()
	var invoice *domain.Invoice
	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		invoice, err = tx.GetInvoice(context.Background(), id)
		return err
	}))
	return invoice
}

func loadDeposits(t *testing.T, st store.Store, accountID string) []domain.CollateralDeposit {
	t.Helper()
	var deposits []domain.CollateralDeposit
	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		deposits, err = tx.ListDepositsByAccount(context.Background(), accountID)
		return err
	}))
	return deposits
}

func loadTransactions(t *testing.T, st store.Store, accountID string) []domain.Transaction {
	t.Helper()
	var txns []domain.Transaction
	require.NoError(t, st.RunInTx(context.Background(), func(tx store.Tx) error {
		var err error
		txns, err = tx.ListTransactionsByAccount(context.Background(), accountID, 0)
		return err
	}))
	return txns
}

func requireDecimal(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	require.Truef(t, dec(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}
