/**
 * @description
 * Persistence contracts for the credit core. Every state change runs inside one
 * unit of work (RunInTx). Mutable rows carry a version; updates are conditional
 * on the version that was read and fail with ErrConflict when another writer
 * got there first. Lookups that find nothing return domain.ErrNotFound.
 */
package store

import (
	"context"
	"errors"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
)

// ErrConflict is returned when a conditional update lost an optimistic
// concurrency race. The whole unit of work should be retried.
var ErrConflict = errors.New("concurrent modification")

// Store opens units of work and exposes outbox maintenance.
type Store interface {
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// Tx is the set of operations available inside a unit of work.
type Tx interface {
	GetAccount(ctx context.Context, id string) (*domain.CreditAccount, error)
	FindOpenAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error)
	FindActiveAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error)
	// ListAccountsByConsumer returns every account of the consumer, newest first.
	ListAccountsByConsumer(ctx context.Context, consumerID string) ([]domain.CreditAccount, error)
	ListAccountsByStatus(ctx context.Context, statuses ...string) ([]domain.CreditAccount, error)
	// InsertAccount returns ErrConflict when the consumer already has an open
	// (active or frozen) account.
	InsertAccount(ctx context.Context, account *domain.CreditAccount) error
	UpdateAccount(ctx context.Context, account *domain.CreditAccount) error

	GetDeposit(ctx context.Context, id string) (*domain.CollateralDeposit, error)
	ListDepositsByAccount(ctx context.Context, accountID string) ([]domain.CollateralDeposit, error)
	InsertDeposit(ctx context.Context, deposit *domain.CollateralDeposit) error
	UpdateDeposit(ctx context.Context, deposit *domain.CollateralDeposit) error

	GetDrawSession(ctx context.Context, id string) (*domain.DrawSession, error)
	InsertDrawSession(ctx context.Context, session *domain.DrawSession) error
	UpdateDrawSession(ctx context.Context, session *domain.DrawSession) error

	GetReceivable(ctx context.Context, id string) (*domain.Receivable, error)
	// ListReceivables filters by merchant and status when they are not empty.
	ListReceivables(ctx context.Context, merchantID, status string) ([]domain.Receivable, error)
	InsertReceivable(ctx context.Context, receivable *domain.Receivable) error
	UpdateReceivable(ctx context.Context, receivable *domain.Receivable) error

	GetInvoice(ctx context.Context, id string) (*domain.Invoice, error)
	FindInvoiceByCycle(ctx context.Context, accountID, billingCycle string) (*domain.Invoice, error)
	ListInvoicesByAccount(ctx context.Context, accountID string) ([]domain.Invoice, error)
	ListInvoicesDueBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Invoice, error)
	// InsertInvoice reports false without error when the account already has
	// an invoice for the billing cycle.
	InsertInvoice(ctx context.Context, invoice *domain.Invoice) (bool, error)
	UpdateInvoice(ctx context.Context, invoice *domain.Invoice) error

	InsertPayment(ctx context.Context, payment *domain.Payment) error

	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error)
	// ConfirmTransaction reports false when the transaction was already confirmed.
	ConfirmTransaction(ctx context.Context, id, txSignature string, confirmedAt time.Time) (bool, error)
	EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error

	InsertJobRun(ctx context.Context, run *domain.JobRun) error
	ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error)
}

// OutboxMessage is a claimed event waiting to be published.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}
