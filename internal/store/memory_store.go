/**
 * @description
 * In-memory Store backing the test suites and the API's DATABASE_URL-less
 * development mode. Nothing survives a restart. A unit of
 * work reads committed rows, stages its writes, and validates every staged
 * version again at commit, so concurrent units behave like the Postgres
 * conditional updates.
 */
package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
)

type stagedRow[T any] struct {
	value    T
	expected int64
	insert   bool
}

type memoryOutboxRow struct {
	msg         OutboxMessage
	status      string
	nextAttempt time.Time
	claimedAt   time.Time
	lastError   string
}

// MemoryStore keeps all rows in process memory.
type MemoryStore struct {
	mu           sync.Mutex
	accounts     map[string]domain.CreditAccount
	deposits     map[string]domain.CollateralDeposit
	sessions     map[string]domain.DrawSession
	receivables  map[string]domain.Receivable
	invoices     map[string]domain.Invoice
	payments     []domain.Payment
	transactions map[string]domain.Transaction
	outbox       []*memoryOutboxRow
	jobRuns      []domain.JobRun
	nextOutboxID int64
	now          func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts:     make(map[string]domain.CreditAccount),
		deposits:     make(map[string]domain.CollateralDeposit),
		sessions:     make(map[string]domain.DrawSession),
		receivables:  make(map[string]domain.Receivable),
		invoices:     make(map[string]domain.Invoice),
		transactions: make(map[string]domain.Transaction),
		now:          time.Now,
	}
}

// RunInTx runs fn in a staged unit of work and commits it atomically.
func (s *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		store:       s,
		accounts:    make(map[string]*stagedRow[domain.CreditAccount]),
		deposits:    make(map[string]*stagedRow[domain.CollateralDeposit]),
		sessions:    make(map[string]*stagedRow[domain.DrawSession]),
		receivables: make(map[string]*stagedRow[domain.Receivable]),
		invoices:    make(map[string]*stagedRow[domain.Invoice]),
		confirms:    make(map[string]domain.Transaction),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

func (s *MemoryStore) commit(tx *memoryTx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	accountVersion := func(a domain.CreditAccount) int64 { return a.Version }
	depositVersion := func(d domain.CollateralDeposit) int64 { return d.Version }
	sessionVersion := func(d domain.DrawSession) int64 { return d.Version }
	invoiceVersion := func(i domain.Invoice) int64 { return i.Version }
	receivableVersion := func(r domain.Receivable) int64 { return r.Version }

	if err := validateStaged(s.accounts, tx.accounts, accountVersion); err != nil {
		return err
	}
	if err := validateStaged(s.deposits, tx.deposits, depositVersion); err != nil {
		return err
	}
	if err := validateStaged(s.sessions, tx.sessions, sessionVersion); err != nil {
		return err
	}
	if err := validateStaged(s.invoices, tx.invoices, invoiceVersion); err != nil {
		return err
	}
	if err := validateStaged(s.receivables, tx.receivables, receivableVersion); err != nil {
		return err
	}
	// At most one open account per consumer.
	for id, staged := range tx.accounts {
		if !staged.insert || !staged.value.IsOpen() {
			continue
		}
		for otherID, existing := range s.accounts {
			if otherID != id && existing.ConsumerID == staged.value.ConsumerID && existing.IsOpen() {
				return ErrConflict
			}
		}
	}
	for _, staged := range tx.invoices {
		if !staged.insert {
			continue
		}
		for _, existing := range s.invoices {
			if existing.CreditAccountID == staged.value.CreditAccountID && existing.BillingCycle == staged.value.BillingCycle {
				return ErrConflict
			}
		}
	}
	for id := range tx.confirms {
		if current, ok := s.transactions[id]; ok && current.Status == domain.TransactionStatusConfirmed {
			return ErrConflict
		}
	}

	applyStaged(s.accounts, tx.accounts)
	applyStaged(s.deposits, tx.deposits)
	applyStaged(s.sessions, tx.sessions)
	applyStaged(s.invoices, tx.invoices)
	applyStaged(s.receivables, tx.receivables)
	s.payments = append(s.payments, tx.payments...)
	for _, txn := range tx.transactions {
		s.transactions[txn.ID] = txn
	}
	for id, txn := range tx.confirms {
		s.transactions[id] = txn
	}
	now := s.now()
	for _, msg := range tx.events {
		s.nextOutboxID++
		msg.ID = s.nextOutboxID
		s.outbox = append(s.outbox, &memoryOutboxRow{msg: msg, status: "pending", nextAttempt: now})
	}
	s.jobRuns = append(s.jobRuns, tx.jobRuns...)
	return nil
}

func validateStaged[T any](committed map[string]T, staged map[string]*stagedRow[T], version func(T) int64) error {
	for id, row := range staged {
		current, ok := committed[id]
		if row.insert {
			if ok {
				return ErrConflict
			}
			continue
		}
		if !ok || version(current) != row.expected {
			return ErrConflict
		}
	}
	return nil
}

func applyStaged[T any](committed map[string]T, staged map[string]*stagedRow[T]) {
	for id, row := range staged {
		committed[id] = row.value
	}
}

// ClaimOutboxMessages marks up to limit due messages as processing.
func (s *MemoryStore) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 50
	}
	now := s.now()
	stale := time.Duration(staleAfterSeconds) * time.Second

	var claimed []OutboxMessage
	for _, row := range s.outbox {
		if len(claimed) >= limit {
			break
		}
		due := row.status == "pending" && !row.nextAttempt.After(now)
		abandoned := row.status == "processing" && row.claimedAt.Before(now.Add(-stale))
		if !due && !abandoned {
			continue
		}
		row.status = "processing"
		row.claimedAt = now
		row.msg.Attempts++
		claimed = append(claimed, row.msg)
	}
	return claimed, nil
}

// MarkOutboxPublished marks a claimed message as delivered.
func (s *MemoryStore) MarkOutboxPublished(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, row := range s.outbox {
		if row.msg.ID == id {
			row.status = "published"
			row.lastError = ""
		}
	}
	return nil
}

// MarkOutboxFailed returns a claimed message to pending after a delay.
func (s *MemoryStore) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	for _, row := range s.outbox {
		if row.msg.ID == id {
			row.status = "pending"
			row.nextAttempt = s.now().Add(time.Duration(retryAfterSeconds) * time.Second)
			row.lastError = reason
		}
	}
	return nil
}

// OutboxStatuses returns the delivery status of every enqueued event, in
// enqueue order.
func (s *MemoryStore) OutboxStatuses() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]string, 0, len(s.outbox))
	for _, row := range s.outbox {
		statuses = append(statuses, row.status)
	}
	return statuses
}

// Payments returns every recorded payment.
func (s *MemoryStore) Payments() []domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]domain.Payment(nil), s.payments...)
}

type memoryTx struct {
	store        *MemoryStore
	accounts     map[string]*stagedRow[domain.CreditAccount]
	deposits     map[string]*stagedRow[domain.CollateralDeposit]
	sessions     map[string]*stagedRow[domain.DrawSession]
	receivables  map[string]*stagedRow[domain.Receivable]
	invoices     map[string]*stagedRow[domain.Invoice]
	payments     []domain.Payment
	transactions []domain.Transaction
	confirms     map[string]domain.Transaction
	events       []OutboxMessage
	jobRuns      []domain.JobRun
}

func lookup[T any](tx *memoryTx, committed map[string]T, staged map[string]*stagedRow[T], id string) (T, bool) {
	if row, ok := staged[id]; ok {
		return row.value, true
	}
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	value, ok := committed[id]
	return value, ok
}

func snapshot[T any](tx *memoryTx, committed map[string]T, staged map[string]*stagedRow[T]) []T {
	tx.store.mu.Lock()
	merged := make(map[string]T, len(committed))
	for id, value := range committed {
		merged[id] = value
	}
	tx.store.mu.Unlock()
	for id, row := range staged {
		merged[id] = row.value
	}
	values := make([]T, 0, len(merged))
	for _, value := range merged {
		values = append(values, value)
	}
	return values
}

// stageUpdate records an update of a row whose caller read version current.
// The stored copy carries current+1.
func stageUpdate[T any](tx *memoryTx, committed map[string]T, staged map[string]*stagedRow[T], id string, current int64, version func(T) int64, next T) error {
	if row, ok := staged[id]; ok {
		if version(row.value) != current {
			return ErrConflict
		}
		row.value = next
		return nil
	}
	tx.store.mu.Lock()
	existing, ok := committed[id]
	tx.store.mu.Unlock()
	if !ok || version(existing) != current {
		return ErrConflict
	}
	staged[id] = &stagedRow[T]{value: next, expected: current}
	return nil
}

func (t *memoryTx) GetAccount(ctx context.Context, id string) (*domain.CreditAccount, error) {
	account, ok := lookup(t, t.store.accounts, t.accounts, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &account, nil
}

func (t *memoryTx) findAccount(consumerID string, statuses ...string) (*domain.CreditAccount, error) {
	accounts := snapshot(t, t.store.accounts, t.accounts)
	sortAccounts(accounts)
	for i := len(accounts) - 1; i >= 0; i-- {
		account := accounts[i]
		if account.ConsumerID != consumerID {
			continue
		}
		if len(statuses) > 0 && !containsStatus(statuses, account.Status) {
			continue
		}
		return &account, nil
	}
	return nil, domain.ErrNotFound
}

func (t *memoryTx) FindOpenAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error) {
	return t.findAccount(consumerID, domain.AccountStatusActive, domain.AccountStatusFrozen)
}

func (t *memoryTx) FindActiveAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error) {
	return t.findAccount(consumerID, domain.AccountStatusActive)
}

func (t *memoryTx) ListAccountsByConsumer(ctx context.Context, consumerID string) ([]domain.CreditAccount, error) {
	var result []domain.CreditAccount
	for _, account := range snapshot(t, t.store.accounts, t.accounts) {
		if account.ConsumerID == consumerID {
			result = append(result, account)
		}
	}
	sortAccounts(result)
	for i, j := 0, len(result)-1; i < j; i, j = i+1, j-1 {
		result[i], result[j] = result[j], result[i]
	}
	return result, nil
}

func (t *memoryTx) ListAccountsByStatus(ctx context.Context, statuses ...string) ([]domain.CreditAccount, error) {
	var result []domain.CreditAccount
	for _, account := range snapshot(t, t.store.accounts, t.accounts) {
		if containsStatus(statuses, account.Status) {
			result = append(result, account)
		}
	}
	sortAccounts(result)
	return result, nil
}

func (t *memoryTx) InsertAccount(ctx context.Context, account *domain.CreditAccount) error {
	account.Version = 1
	t.accounts[account.ID] = &stagedRow[domain.CreditAccount]{value: *account, insert: true}
	return nil
}

func (t *memoryTx) UpdateAccount(ctx context.Context, account *domain.CreditAccount) error {
	next := *account
	next.Version++
	if err := stageUpdate(t, t.store.accounts, t.accounts, account.ID, account.Version, func(a domain.CreditAccount) int64 { return a.Version }, next); err != nil {
		return err
	}
	account.Version = next.Version
	return nil
}

func (t *memoryTx) GetDeposit(ctx context.Context, id string) (*domain.CollateralDeposit, error) {
	deposit, ok := lookup(t, t.store.deposits, t.deposits, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &deposit, nil
}

func (t *memoryTx) ListDepositsByAccount(ctx context.Context, accountID string) ([]domain.CollateralDeposit, error) {
	var result []domain.CollateralDeposit
	for _, deposit := range snapshot(t, t.store.deposits, t.deposits) {
		if deposit.CreditAccountID == accountID {
			result = append(result, deposit)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DepositedAt.Equal(result[j].DepositedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].DepositedAt.Before(result[j].DepositedAt)
	})
	return result, nil
}

func (t *memoryTx) InsertDeposit(ctx context.Context, deposit *domain.CollateralDeposit) error {
	deposit.Version = 1
	t.deposits[deposit.ID] = &stagedRow[domain.CollateralDeposit]{value: *deposit, insert: true}
	return nil
}

func (t *memoryTx) UpdateDeposit(ctx context.Context, deposit *domain.CollateralDeposit) error {
	next := *deposit
	next.Version++
	if err := stageUpdate(t, t.store.deposits, t.deposits, deposit.ID, deposit.Version, func(d domain.CollateralDeposit) int64 { return d.Version }, next); err != nil {
		return err
	}
	deposit.Version = next.Version
	return nil
}

func (t *memoryTx) GetDrawSession(ctx context.Context, id string) (*domain.DrawSession, error) {
	session, ok := lookup(t, t.store.sessions, t.sessions, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &session, nil
}

func (t *memoryTx) InsertDrawSession(ctx context.Context, session *domain.DrawSession) error {
	session.Version = 1
	t.sessions[session.ID] = &stagedRow[domain.DrawSession]{value: *session, insert: true}
	return nil
}

func (t *memoryTx) UpdateDrawSession(ctx context.Context, session *domain.DrawSession) error {
	next := *session
	next.Version++
	if err := stageUpdate(t, t.store.sessions, t.sessions, session.ID, session.Version, func(s domain.DrawSession) int64 { return s.Version }, next); err != nil {
		return err
	}
	session.Version = next.Version
	return nil
}

func (t *memoryTx) GetReceivable(ctx context.Context, id string) (*domain.Receivable, error) {
	receivable, ok := lookup(t, t.store.receivables, t.receivables, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &receivable, nil
}

func (t *memoryTx) ListReceivables(ctx context.Context, merchantID, status string) ([]domain.Receivable, error) {
	var result []domain.Receivable
	for _, receivable := range snapshot(t, t.store.receivables, t.receivables) {
		if merchantID != "" && receivable.MerchantID != merchantID {
			continue
		}
		if status != "" && receivable.Status != status {
			continue
		}
		result = append(result, receivable)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID > result[j].ID
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (t *memoryTx) InsertReceivable(ctx context.Context, receivable *domain.Receivable) error {
	receivable.Version = 1
	t.receivables[receivable.ID] = &stagedRow[domain.Receivable]{value: *receivable, insert: true}
	return nil
}

func (t *memoryTx) UpdateReceivable(ctx context.Context, receivable *domain.Receivable) error {
	next := *receivable
	next.Version++
	if err := stageUpdate(t, t.store.receivables, t.receivables, receivable.ID, receivable.Version, func(r domain.Receivable) int64 { return r.Version }, next); err != nil {
		return err
	}
	receivable.Version = next.Version
	return nil
}

func (t *memoryTx) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	invoice, ok := lookup(t, t.store.invoices, t.invoices, id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &invoice, nil
}

func (t *memoryTx) FindInvoiceByCycle(ctx context.Context, accountID, billingCycle string) (*domain.Invoice, error) {
	for _, invoice := range snapshot(t, t.store.invoices, t.invoices) {
		if invoice.CreditAccountID == accountID && invoice.BillingCycle == billingCycle {
			return &invoice, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (t *memoryTx) ListInvoicesByAccount(ctx context.Context, accountID string) ([]domain.Invoice, error) {
	var result []domain.Invoice
	for _, invoice := range snapshot(t, t.store.invoices, t.invoices) {
		if invoice.CreditAccountID == accountID {
			result = append(result, invoice)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BillingCycle > result[j].BillingCycle })
	return result, nil
}

func (t *memoryTx) ListInvoicesDueBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Invoice, error) {
	var result []domain.Invoice
	for _, invoice := range snapshot(t, t.store.invoices, t.invoices) {
		if invoice.Status == status && invoice.DueDate.Before(cutoff) {
			result = append(result, invoice)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DueDate.Equal(result[j].DueDate) {
			return result[i].ID < result[j].ID
		}
		return result[i].DueDate.Before(result[j].DueDate)
	})
	return result, nil
}

func (t *memoryTx) InsertInvoice(ctx context.Context, invoice *domain.Invoice) (bool, error) {
	if _, err := t.FindInvoiceByCycle(ctx, invoice.CreditAccountID, invoice.BillingCycle); err == nil {
		return false, nil
	}
	invoice.Version = 1
	t.invoices[invoice.ID] = &stagedRow[domain.Invoice]{value: *invoice, insert: true}
	return true, nil
}

func (t *memoryTx) UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error {
	next := *invoice
	next.Version++
	if err := stageUpdate(t, t.store.invoices, t.invoices, invoice.ID, invoice.Version, func(i domain.Invoice) int64 { return i.Version }, next); err != nil {
		return err
	}
	invoice.Version = next.Version
	return nil
}

func (t *memoryTx) InsertPayment(ctx context.Context, payment *domain.Payment) error {
	t.payments = append(t.payments, *payment)
	return nil
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	t.transactions = append(t.transactions, *txn)
	return nil
}

func (t *memoryTx) ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	t.store.mu.Lock()
	var result []domain.Transaction
	for _, txn := range t.store.transactions {
		if staged, ok := t.confirms[txn.ID]; ok {
			txn = staged
		}
		if txn.CreditAccountID == accountID {
			result = append(result, txn)
		}
	}
	t.store.mu.Unlock()
	for _, txn := range t.transactions {
		if txn.CreditAccountID == accountID {
			result = append(result, txn)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (t *memoryTx) ConfirmTransaction(ctx context.Context, id, txSignature string, confirmedAt time.Time) (bool, error) {
	if _, ok := t.confirms[id]; ok {
		return false, nil
	}
	t.store.mu.Lock()
	txn, ok := t.store.transactions[id]
	t.store.mu.Unlock()
	if !ok {
		return false, domain.ErrNotFound
	}
	if txn.Status == domain.TransactionStatusConfirmed {
		return false, nil
	}
	signature := txSignature
	at := confirmedAt
	txn.Status = domain.TransactionStatusConfirmed
	txn.TxSignature = &signature
	txn.ConfirmedAt = &at
	t.confirms[id] = txn
	return true, nil
}

func (t *memoryTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	t.events = append(t.events, OutboxMessage{
		Exchange:   strings.TrimSpace(exchange),
		RoutingKey: strings.TrimSpace(routingKey),
		Payload:    blob,
	})
	return nil
}

func (t *memoryTx) InsertJobRun(ctx context.Context, run *domain.JobRun) error {
	t.jobRuns = append(t.jobRuns, *run)
	return nil
}

func (t *memoryTx) ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	t.store.mu.Lock()
	runs := append([]domain.JobRun(nil), t.store.jobRuns...)
	t.store.mu.Unlock()
	runs = append(runs, t.jobRuns...)

	var result []domain.JobRun
	for i := len(runs) - 1; i >= 0; i-- {
		if jobName != "" && runs[i].JobName != jobName {
			continue
		}
		result = append(result, runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func sortAccounts(accounts []domain.CreditAccount) {
	sort.Slice(accounts, func(i, j int) bool {
		if accounts[i].CreatedAt.Equal(accounts[j].CreatedAt) {
			return accounts[i].ID < accounts[j].ID
		}
		return accounts[i].CreatedAt.Before(accounts[j].CreatedAt)
	})
}

func containsStatus(statuses []string, status string) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
