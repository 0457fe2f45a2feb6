package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReceivableStatusProcessing = "processing"
	ReceivableStatusSettled    = "settled"
)

// Receivable is what a merchant is owed for an approved draw. It stays
// processing until the settlement layer pays the merchant out.
type Receivable struct {
	ID            string          `json:"id"`
	MerchantID    string          `json:"merchant_id"`
	DrawSessionID string          `json:"draw_session_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        string          `json:"status"`
	SettlementRef *string         `json:"settlement_ref,omitempty"`
	SettledAt     *time.Time      `json:"settled_at,omitempty"`
	Version       int64           `json:"version"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}
