/**
 * @description
 * Domain models for invoices, payments, ledger transactions and sweep run history.
 */
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	InvoiceStatusPending    = "pending"
	InvoiceStatusOverdue    = "overdue"
	InvoiceStatusPaid       = "paid"
	InvoiceStatusLiquidated = "liquidated"
)

const (
	TransactionTypeDeposit     = "deposit"
	TransactionTypeWithdrawal  = "withdrawal"
	TransactionTypeDraw        = "draw"
	TransactionTypePayment     = "payment"
	TransactionTypeLiquidation = "liquidation"
)

const (
	TransactionStatusPending   = "pending"
	TransactionStatusConfirmed = "confirmed"
)

const PaymentStatusConfirmed = "confirmed"

// Invoice is the statement issued for one account and one billing cycle.
type Invoice struct {
	ID              string          `json:"id"`
	CreditAccountID string          `json:"credit_account_id"`
	BillingCycle    string          `json:"billing_cycle"`
	DueDate         time.Time       `json:"due_date"`
	PrincipalAmount decimal.Decimal `json:"principal_amount"`
	InterestAmount  decimal.Decimal `json:"interest_amount"`
	FeesAmount      decimal.Decimal `json:"fees_amount"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	PaidAmount      decimal.Decimal `json:"paid_amount"`
	Status          string          `json:"status"`
	PaidAt          *time.Time      `json:"paid_at,omitempty"`
	Version         int64           `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// Outstanding returns the unpaid remainder of the invoice.
func (i *Invoice) Outstanding() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

// Payment records a repayment applied to an invoice.
type Payment struct {
	ID            string          `json:"id"`
	InvoiceID     string          `json:"invoice_id"`
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	TxSignature   *string         `json:"tx_signature,omitempty"`
	Status        string          `json:"status"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Transaction is an append-only ledger entry consumed by the settlement layer.
type Transaction struct {
	ID              string                 `json:"id"`
	CreditAccountID string                 `json:"credit_account_id"`
	ConsumerID      string                 `json:"consumer_id"`
	Type            string                 `json:"type"`
	Amount          decimal.Decimal        `json:"amount"`
	Status          string                 `json:"status"`
	TxSignature     *string                `json:"tx_signature,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt       time.Time              `json:"created_at"`
	ConfirmedAt     *time.Time             `json:"confirmed_at,omitempty"`
}

// JobFailure identifies one entity a sweep could not process.
type JobFailure struct {
	EntityID string `json:"entity_id"`
	Error    string `json:"error"`
}

// JobRunDetails is the JSON body stored with every run.
type JobRunDetails struct {
	CycleKey string       `json:"cycle_key,omitempty"`
	Error    string       `json:"error,omitempty"`
	Failures []JobFailure `json:"failures,omitempty"`
}

// JobRun is the history record written after every sweep.
type JobRun struct {
	ID         string        `json:"id"`
	JobName    string        `json:"job_name"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	OK         bool          `json:"ok"`
	Processed  int           `json:"processed"`
	Failed     int           `json:"failed"`
	Details    JobRunDetails `json:"details"`
}
