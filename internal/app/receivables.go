package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
)

// ListReceivables returns receivables newest first, filtered by merchant and
// status when they are given.
func (s *Service) ListReceivables(ctx context.Context, merchantID, status string) ([]domain.Receivable, error) {
	switch status {
	case "", domain.ReceivableStatusProcessing, domain.ReceivableStatusSettled:
	default:
		return nil, fmt.Errorf("unknown receivable status %q: %w", status, domain.ErrInvalidRequest)
	}

	receivables := []domain.Receivable{}
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		found, err := tx.ListReceivables(ctx, strings.TrimSpace(merchantID), status)
		if err != nil {
			return err
		}
		receivables = append(receivables[:0], found...)
		return nil
	})
	return receivables, err
}

// GetReceivable returns one receivable.
func (s *Service) GetReceivable(ctx context.Context, receivableID string) (*domain.Receivable, error) {
	var receivable *domain.Receivable
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		var err error
		receivable, err = tx.GetReceivable(ctx, receivableID)
		if err != nil {
			return fmt.Errorf("receivable %s: %w", receivableID, err)
		}
		return nil
	})
	return receivable, err
}

// SettleReceivable records the merchant payout of a processing receivable.
func (s *Service) SettleReceivable(ctx context.Context, receivableID, settlementRef string) (*domain.Receivable, error) {
	settlementRef = strings.TrimSpace(settlementRef)
	if settlementRef == "" {
		return nil, s.finish("settle_receivable", fmt.Errorf("settlement reference is required: %w", domain.ErrInvalidRequest))
	}

	var receivable *domain.Receivable
	err := s.inTx(ctx, "settle_receivable", func(tx store.Tx) error {
		current, err := tx.GetReceivable(ctx, receivableID)
		if err != nil {
			return fmt.Errorf("receivable %s: %w", receivableID, err)
		}
		if current.Status != domain.ReceivableStatusProcessing {
			return fmt.Errorf("receivable %s is %s: %w", receivableID, current.Status, domain.ErrInvalidState)
		}

		now := s.now()
		current.Status = domain.ReceivableStatusSettled
		current.SettlementRef = &settlementRef
		current.SettledAt = &now
		current.UpdatedAt = now
		if err := tx.UpdateReceivable(ctx, current); err != nil {
			return err
		}
		receivable = current
		return nil
	})
	if err != nil {
		return nil, s.finish("settle_receivable", err)
	}

	s.logger.Info("receivable settled", "receivable_id", receivableID, "merchant_id", receivable.MerchantID, "settlement_ref", settlementRef)
	return receivable, s.finish("settle_receivable", nil)
}
