/**
 * @description
 * Repayment of invoices. Partial payments accumulate; a full payment settles
 * the invoice and releases its principal from the account's used credit.
 */
package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/risk"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/shopspring/decimal"
)

// RepayRequest describes a payment toward an invoice.
type RepayRequest struct {
	Amount        decimal.Decimal `json:"amount"`
	PaymentMethod string          `json:"payment_method"`
	TxSignature   *string         `json:"tx_signature,omitempty"`
}

// RepayResult is returned by Repay.
type RepayResult struct {
	Invoice       domain.Invoice         `json:"invoice"`
	Payment       domain.Payment         `json:"payment"`
	Account       domain.AccountSnapshot `json:"account"`
	TransactionID string                 `json:"transaction_id"`
}

// Repay applies a payment to an invoice. consumerID, when not empty, must own
// the invoice's account.
func (s *Service) Repay(ctx context.Context, invoiceID, consumerID string, req RepayRequest) (*RepayResult, error) {
	if !req.Amount.IsPositive() {
		return nil, s.finish("repay", fmt.Errorf("payment amount must be positive: %w", domain.ErrInvalidAmount))
	}
	method := strings.TrimSpace(req.PaymentMethod)
	if method == "" {
		method = "wallet"
	}

	var result *RepayResult
	err := s.inTx(ctx, "repay", func(tx store.Tx) error {
		invoice, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return fmt.Errorf("invoice %s: %w", invoiceID, err)
		}
		switch invoice.Status {
		case domain.InvoiceStatusPaid:
			return fmt.Errorf("invoice %s: %w", invoiceID, domain.ErrAlreadyPaid)
		case domain.InvoiceStatusLiquidated:
			return fmt.Errorf("invoice %s is liquidated: %w", invoiceID, domain.ErrInvalidState)
		}

		account, err := tx.GetAccount(ctx, invoice.CreditAccountID)
		if err != nil {
			return fmt.Errorf("account %s: %w", invoice.CreditAccountID, err)
		}
		if consumerID != "" && account.ConsumerID != consumerID {
			return fmt.Errorf("invoice %s belongs to another consumer: %w", invoiceID, domain.ErrUnauthorized)
		}
		if req.Amount.GreaterThan(invoice.Outstanding()) {
			return fmt.Errorf("outstanding %s, paying %s: %w", invoice.Outstanding(), req.Amount, domain.ErrExceedsBalance)
		}

		now := s.now()
		payment := &domain.Payment{
			ID:            s.newID(),
			InvoiceID:     invoice.ID,
			Amount:        req.Amount,
			PaymentMethod: method,
			TxSignature:   req.TxSignature,
			Status:        domain.PaymentStatusConfirmed,
			CreatedAt:     now,
		}
		if err := tx.InsertPayment(ctx, payment); err != nil {
			return err
		}

		invoice.PaidAmount = invoice.PaidAmount.Add(req.Amount)
		invoice.UpdatedAt = now
		if invoice.PaidAmount.GreaterThanOrEqual(invoice.TotalAmount) {
			paidAt := now
			invoice.Status = domain.InvoiceStatusPaid
			invoice.PaidAt = &paidAt

			account.UsedCredit = account.UsedCredit.Sub(invoice.PrincipalAmount)
			account.UpdatedAt = now
			risk.RefreshUsage(account)
			if err := tx.UpdateAccount(ctx, account); err != nil {
				return err
			}
		}
		if err := tx.UpdateInvoice(ctx, invoice); err != nil {
			return err
		}

		txn, err := s.appendTransaction(ctx, tx, account, domain.TransactionTypePayment, req.Amount, map[string]interface{}{
			"invoice_id":     invoice.ID,
			"payment_id":     payment.ID,
			"payment_method": method,
		})
		if err != nil {
			return err
		}

		result = &RepayResult{Invoice: *invoice, Payment: *payment, Account: account.Snapshot(), TransactionID: txn.ID}
		return nil
	})
	if err != nil {
		return nil, s.finish("repay", err)
	}

	s.logger.Info("invoice repayment applied", "invoice_id", invoiceID, "amount", req.Amount.String(), "status", result.Invoice.Status)
	return result, s.finish("repay", nil)
}
