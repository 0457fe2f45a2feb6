/**
 * @description
 * PostgreSQL implementation of the credit core persistence layer. Each unit of
 * work is one database transaction; updates of versioned rows are conditional
 * on the version the caller read.
 */
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the production Store backed by a pgx connection pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new store.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// RunInTx runs fn inside a database transaction and commits when fn succeeds.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ClaimOutboxMessages locks up to limit due outbox rows and marks them processing.
// Rows stuck in processing for longer than staleAfterSeconds are reclaimed.
func (s *PostgresStore) ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	if staleAfterSeconds <= 0 {
		staleAfterSeconds = 120
	}

	query := `
		WITH candidates AS (
			SELECT id
			FROM event_outbox
			WHERE (
				(status = 'pending' AND next_attempt_at <= NOW())
				OR (status = 'processing' AND processing_started_at < NOW() - ($2 * INTERVAL '1 second'))
			)
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE event_outbox AS o
		SET status = 'processing',
			processing_started_at = NOW(),
			attempts = o.attempts + 1
		FROM candidates
		WHERE o.id = candidates.id
		RETURNING o.id, o.exchange, o.routing_key, o.payload::text, o.attempts
	`

	rows, err := s.db.Query(ctx, query, limit, staleAfterSeconds)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := make([]OutboxMessage, 0, limit)
	for rows.Next() {
		var (
			msg         OutboxMessage
			payloadText string
		)
		if err := rows.Scan(&msg.ID, &msg.Exchange, &msg.RoutingKey, &payloadText, &msg.Attempts); err != nil {
			return nil, err
		}
		msg.Payload = []byte(payloadText)
		messages = append(messages, msg)
	}
	return messages, rows.Err()
}

// MarkOutboxPublished marks a claimed row as delivered.
func (s *PostgresStore) MarkOutboxPublished(ctx context.Context, id int64) error {
	_, err := s.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'published',
			published_at = NOW(),
			processing_started_at = NULL,
			last_error = NULL
		WHERE id = $1
	`, id)
	return err
}

// MarkOutboxFailed returns a claimed row to pending after retryAfterSeconds.
func (s *PostgresStore) MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error {
	if retryAfterSeconds < 1 {
		retryAfterSeconds = 1
	}
	if len(reason) > 2000 {
		reason = reason[:2000]
	}
	_, err := s.db.Exec(ctx, `
		UPDATE event_outbox
		SET status = 'pending',
			next_attempt_at = NOW() + ($2 * INTERVAL '1 second'),
			processing_started_at = NULL,
			last_error = $3
		WHERE id = $1
	`, id, retryAfterSeconds, reason)
	return err
}

type pgTx struct {
	tx pgx.Tx
}

// openAccountIndex enforces one active or frozen account per consumer.
const openAccountIndex = "credit_accounts_one_open_per_consumer"

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

const accountColumns = `id, consumer_id, credit_limit, used_credit, available_credit, total_collateral,
	health_factor, ltv, interest_rate_per_cycle, status, version, created_at, updated_at`

func scanAccount(row pgx.Row) (*domain.CreditAccount, error) {
	var a domain.CreditAccount
	err := row.Scan(
		&a.ID,
		&a.ConsumerID,
		&a.CreditLimit,
		&a.UsedCredit,
		&a.AvailableCredit,
		&a.TotalCollateral,
		&a.HealthFactor,
		&a.LTV,
		&a.InterestRatePerCycle,
		&a.Status,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (t *pgTx) GetAccount(ctx context.Context, id string) (*domain.CreditAccount, error) {
	return scanAccount(t.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM credit_accounts WHERE id = $1`, id))
}

func (t *pgTx) findAccountByConsumer(ctx context.Context, consumerID string, statuses []string) (*domain.CreditAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM credit_accounts
		WHERE consumer_id = $1 AND (cardinality($2::text[]) = 0 OR status = ANY($2::text[]))
		ORDER BY created_at DESC
		LIMIT 1`
	if statuses == nil {
		statuses = []string{}
	}
	return scanAccount(t.tx.QueryRow(ctx, query, consumerID, statuses))
}

func (t *pgTx) FindOpenAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error) {
	return t.findAccountByConsumer(ctx, consumerID, []string{domain.AccountStatusActive, domain.AccountStatusFrozen})
}

func (t *pgTx) FindActiveAccountByConsumer(ctx context.Context, consumerID string) (*domain.CreditAccount, error) {
	return t.findAccountByConsumer(ctx, consumerID, []string{domain.AccountStatusActive})
}

func (t *pgTx) ListAccountsByConsumer(ctx context.Context, consumerID string) ([]domain.CreditAccount, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM credit_accounts
		WHERE consumer_id = $1
		ORDER BY created_at DESC, id DESC`, consumerID)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func (t *pgTx) ListAccountsByStatus(ctx context.Context, statuses ...string) ([]domain.CreditAccount, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+accountColumns+` FROM credit_accounts
		WHERE status = ANY($1::text[])
		ORDER BY created_at, id`, statuses)
	if err != nil {
		return nil, err
	}
	return collectAccounts(rows)
}

func collectAccounts(rows pgx.Rows) ([]domain.CreditAccount, error) {
	defer rows.Close()

	var accounts []domain.CreditAccount
	for rows.Next() {
		account, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, *account)
	}
	return accounts, rows.Err()
}

func (t *pgTx) InsertAccount(ctx context.Context, a *domain.CreditAccount) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO credit_accounts (
			id, consumer_id, credit_limit, used_credit, available_credit, total_collateral,
			health_factor, ltv, interest_rate_per_cycle, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
	`, a.ID, a.ConsumerID, a.CreditLimit, a.UsedCredit, a.AvailableCredit, a.TotalCollateral,
		a.HealthFactor, a.LTV, a.InterestRatePerCycle, a.Status, a.CreatedAt, a.UpdatedAt)
	if isUniqueViolation(err, openAccountIndex) {
		// A concurrent first deposit opened the line; the retry will find it.
		return ErrConflict
	}
	if err != nil {
		return fmt.Errorf("insert credit account: %w", err)
	}
	a.Version = 1
	return nil
}

func (t *pgTx) UpdateAccount(ctx context.Context, a *domain.CreditAccount) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE credit_accounts
		SET credit_limit = $3,
			used_credit = $4,
			available_credit = $5,
			total_collateral = $6,
			health_factor = $7,
			ltv = $8,
			status = $9,
			updated_at = $10,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, a.ID, a.Version, a.CreditLimit, a.UsedCredit, a.AvailableCredit, a.TotalCollateral,
		a.HealthFactor, a.LTV, a.Status, a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update credit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	a.Version++
	return nil
}

const depositColumns = `id, credit_account_id, consumer_id, token_mint, amount, value_usd, ltv, status,
	version, deposited_at, updated_at`

func scanDeposit(row pgx.Row) (*domain.CollateralDeposit, error) {
	var d domain.CollateralDeposit
	err := row.Scan(
		&d.ID,
		&d.CreditAccountID,
		&d.ConsumerID,
		&d.TokenMint,
		&d.Amount,
		&d.ValueUSD,
		&d.LTV,
		&d.Status,
		&d.Version,
		&d.DepositedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (t *pgTx) GetDeposit(ctx context.Context, id string) (*domain.CollateralDeposit, error) {
	return scanDeposit(t.tx.QueryRow(ctx, `SELECT `+depositColumns+` FROM collateral_deposits WHERE id = $1`, id))
}

func (t *pgTx) ListDepositsByAccount(ctx context.Context, accountID string) ([]domain.CollateralDeposit, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+depositColumns+` FROM collateral_deposits
		WHERE credit_account_id = $1
		ORDER BY deposited_at, id`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deposits []domain.CollateralDeposit
	for rows.Next() {
		deposit, err := scanDeposit(rows)
		if err != nil {
			return nil, err
		}
		deposits = append(deposits, *deposit)
	}
	return deposits, rows.Err()
}

func (t *pgTx) InsertDeposit(ctx context.Context, d *domain.CollateralDeposit) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO collateral_deposits (
			id, credit_account_id, consumer_id, token_mint, amount, value_usd, ltv, status,
			version, deposited_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
	`, d.ID, d.CreditAccountID, d.ConsumerID, d.TokenMint, d.Amount, d.ValueUSD, d.LTV, d.Status,
		d.DepositedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert collateral deposit: %w", err)
	}
	d.Version = 1
	return nil
}

func (t *pgTx) UpdateDeposit(ctx context.Context, d *domain.CollateralDeposit) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE collateral_deposits
		SET value_usd = $3,
			status = $4,
			updated_at = $5,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, d.ID, d.Version, d.ValueUSD, d.Status, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update collateral deposit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	d.Version++
	return nil
}

const sessionColumns = `id, merchant_id, consumer_id, amount, currency, status, expires_at, version,
	created_at, updated_at`

func scanSession(row pgx.Row) (*domain.DrawSession, error) {
	var s domain.DrawSession
	err := row.Scan(
		&s.ID,
		&s.MerchantID,
		&s.ConsumerID,
		&s.Amount,
		&s.Currency,
		&s.Status,
		&s.ExpiresAt,
		&s.Version,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (t *pgTx) GetDrawSession(ctx context.Context, id string) (*domain.DrawSession, error) {
	return scanSession(t.tx.QueryRow(ctx, `SELECT `+sessionColumns+` FROM draw_sessions WHERE id = $1`, id))
}

func (t *pgTx) InsertDrawSession(ctx context.Context, s *domain.DrawSession) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO draw_sessions (
			id, merchant_id, consumer_id, amount, currency, status, expires_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, 1, $8, $9)
	`, s.ID, s.MerchantID, s.ConsumerID, s.Amount, s.Currency, s.Status, s.ExpiresAt, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert draw session: %w", err)
	}
	s.Version = 1
	return nil
}

func (t *pgTx) UpdateDrawSession(ctx context.Context, s *domain.DrawSession) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE draw_sessions
		SET consumer_id = $3,
			status = $4,
			updated_at = $5,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, s.ID, s.Version, s.ConsumerID, s.Status, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update draw session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	s.Version++
	return nil
}

const receivableColumns = `id, merchant_id, draw_session_id, amount, currency, status, settlement_ref,
	settled_at, version, created_at, updated_at`

func scanReceivable(row pgx.Row) (*domain.Receivable, error) {
	var r domain.Receivable
	err := row.Scan(
		&r.ID,
		&r.MerchantID,
		&r.DrawSessionID,
		&r.Amount,
		&r.Currency,
		&r.Status,
		&r.SettlementRef,
		&r.SettledAt,
		&r.Version,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (t *pgTx) GetReceivable(ctx context.Context, id string) (*domain.Receivable, error) {
	return scanReceivable(t.tx.QueryRow(ctx, `SELECT `+receivableColumns+` FROM receivables WHERE id = $1`, id))
}

func (t *pgTx) ListReceivables(ctx context.Context, merchantID, status string) ([]domain.Receivable, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+receivableColumns+` FROM receivables
		WHERE ($1::text = '' OR merchant_id = $1) AND ($2::text = '' OR status = $2)
		ORDER BY created_at DESC, id DESC`, merchantID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var receivables []domain.Receivable
	for rows.Next() {
		receivable, err := scanReceivable(rows)
		if err != nil {
			return nil, err
		}
		receivables = append(receivables, *receivable)
	}
	return receivables, rows.Err()
}

func (t *pgTx) InsertReceivable(ctx context.Context, r *domain.Receivable) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO receivables (
			id, merchant_id, draw_session_id, amount, currency, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, 1, $7, $8)
	`, r.ID, r.MerchantID, r.DrawSessionID, r.Amount, r.Currency, r.Status, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert receivable: %w", err)
	}
	r.Version = 1
	return nil
}

func (t *pgTx) UpdateReceivable(ctx context.Context, r *domain.Receivable) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE receivables
		SET status = $3,
			settlement_ref = $4,
			settled_at = $5,
			updated_at = $6,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, r.ID, r.Version, r.Status, r.SettlementRef, r.SettledAt, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update receivable: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	r.Version++
	return nil
}

const invoiceColumns = `id, credit_account_id, billing_cycle, due_date, principal_amount, interest_amount,
	fees_amount, total_amount, paid_amount, status, paid_at, version, created_at, updated_at`

func scanInvoice(row pgx.Row) (*domain.Invoice, error) {
	var i domain.Invoice
	err := row.Scan(
		&i.ID,
		&i.CreditAccountID,
		&i.BillingCycle,
		&i.DueDate,
		&i.PrincipalAmount,
		&i.InterestAmount,
		&i.FeesAmount,
		&i.TotalAmount,
		&i.PaidAmount,
		&i.Status,
		&i.PaidAt,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &i, nil
}

func collectInvoices(rows pgx.Rows) ([]domain.Invoice, error) {
	defer rows.Close()

	var invoices []domain.Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, *invoice)
	}
	return invoices, rows.Err()
}

func (t *pgTx) GetInvoice(ctx context.Context, id string) (*domain.Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, id))
}

func (t *pgTx) FindInvoiceByCycle(ctx context.Context, accountID, billingCycle string) (*domain.Invoice, error) {
	return scanInvoice(t.tx.QueryRow(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE credit_account_id = $1 AND billing_cycle = $2`, accountID, billingCycle))
}

func (t *pgTx) ListInvoicesByAccount(ctx context.Context, accountID string) ([]domain.Invoice, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE credit_account_id = $1
		ORDER BY billing_cycle DESC`, accountID)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (t *pgTx) ListInvoicesDueBefore(ctx context.Context, status string, cutoff time.Time) ([]domain.Invoice, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+invoiceColumns+` FROM invoices
		WHERE status = $1 AND due_date < $2
		ORDER BY due_date, id`, status, cutoff)
	if err != nil {
		return nil, err
	}
	return collectInvoices(rows)
}

func (t *pgTx) InsertInvoice(ctx context.Context, i *domain.Invoice) (bool, error) {
	var id string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (
			id, credit_account_id, billing_cycle, due_date, principal_amount, interest_amount,
			fees_amount, total_amount, paid_amount, status, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 1, $11, $12)
		ON CONFLICT (credit_account_id, billing_cycle) DO NOTHING
		RETURNING id
	`, i.ID, i.CreditAccountID, i.BillingCycle, i.DueDate, i.PrincipalAmount, i.InterestAmount,
		i.FeesAmount, i.TotalAmount, i.PaidAmount, i.Status, i.CreatedAt, i.UpdatedAt).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("insert invoice: %w", err)
	}
	i.Version = 1
	return true, nil
}

func (t *pgTx) UpdateInvoice(ctx context.Context, i *domain.Invoice) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE invoices
		SET paid_amount = $3,
			status = $4,
			paid_at = $5,
			updated_at = $6,
			version = version + 1
		WHERE id = $1 AND version = $2
	`, i.ID, i.Version, i.PaidAmount, i.Status, i.PaidAt, i.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update invoice: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	i.Version++
	return nil
}

func (t *pgTx) InsertPayment(ctx context.Context, p *domain.Payment) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO payments (id, invoice_id, amount, payment_method, tx_signature, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, p.ID, p.InvoiceID, p.Amount, p.PaymentMethod, p.TxSignature, p.Status, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (t *pgTx) InsertTransaction(ctx context.Context, txn *domain.Transaction) error {
	metadata := txn.Metadata
	if metadata == nil {
		metadata = map[string]interface{}{}
	}
	blob, err := json.Marshal(metadata)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO transactions (
			id, credit_account_id, consumer_id, type, amount, status, tx_signature, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
	`, txn.ID, txn.CreditAccountID, txn.ConsumerID, txn.Type, txn.Amount, txn.Status, txn.TxSignature,
		string(blob), txn.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

func (t *pgTx) ListTransactionsByAccount(ctx context.Context, accountID string, limit int) ([]domain.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, credit_account_id, consumer_id, type, amount, status, tx_signature,
		       metadata::text, created_at, confirmed_at
		FROM transactions
		WHERE credit_account_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []domain.Transaction
	for rows.Next() {
		var (
			txn      domain.Transaction
			metadata string
		)
		if err := rows.Scan(
			&txn.ID,
			&txn.CreditAccountID,
			&txn.ConsumerID,
			&txn.Type,
			&txn.Amount,
			&txn.Status,
			&txn.TxSignature,
			&metadata,
			&txn.CreatedAt,
			&txn.ConfirmedAt,
		); err != nil {
			return nil, err
		}
		if metadata != "" {
			if err := json.Unmarshal([]byte(metadata), &txn.Metadata); err != nil {
				return nil, fmt.Errorf("decode transaction metadata: %w", err)
			}
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

func (t *pgTx) ConfirmTransaction(ctx context.Context, id, txSignature string, confirmedAt time.Time) (bool, error) {
	tag, err := t.tx.Exec(ctx, `
		UPDATE transactions
		SET status = 'confirmed',
			tx_signature = $2,
			confirmed_at = $3
		WHERE id = $1 AND status <> 'confirmed'
	`, id, txSignature, confirmedAt)
	if err != nil {
		return false, fmt.Errorf("confirm transaction: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM transactions WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, err
	}
	if !exists {
		return false, domain.ErrNotFound
	}
	return false, nil
}

func (t *pgTx) EnqueueEvent(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	blob, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO event_outbox (exchange, routing_key, payload)
		VALUES ($1, $2, $3::jsonb)
	`, strings.TrimSpace(exchange), strings.TrimSpace(routingKey), string(blob))
	if err != nil {
		return fmt.Errorf("failed to enqueue outbox event: %w", err)
	}
	return nil
}

func (t *pgTx) InsertJobRun(ctx context.Context, run *domain.JobRun) error {
	blob, err := json.Marshal(run.Details)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO job_runs (id, job_name, started_at, finished_at, ok, processed, failed, details)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, run.ID, run.JobName, run.StartedAt, run.FinishedAt, run.OK, run.Processed, run.Failed, string(blob))
	if err != nil {
		return fmt.Errorf("insert job run: %w", err)
	}
	return nil
}

func (t *pgTx) ListJobRuns(ctx context.Context, jobName string, limit int) ([]domain.JobRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := t.tx.Query(ctx, `
		SELECT id, job_name, started_at, finished_at, ok, processed, failed, details::text
		FROM job_runs
		WHERE ($1 = '' OR job_name = $1)
		ORDER BY started_at DESC
		LIMIT $2
	`, jobName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []domain.JobRun
	for rows.Next() {
		var (
			run     domain.JobRun
			details string
		)
		if err := rows.Scan(&run.ID, &run.JobName, &run.StartedAt, &run.FinishedAt, &run.OK, &run.Processed, &run.Failed, &details); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(details), &run.Details); err != nil {
			return nil, fmt.Errorf("decode job run details: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
