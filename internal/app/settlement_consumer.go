package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/Cr0nia/Cronia/pkg/rabbitmq"
)

// SettlementAckRoutingKey is the routing key of settlement acknowledgments.
const SettlementAckRoutingKey = "settlement.transaction.confirmed"

// SettlementAck is published by the settlement layer once a ledger entry has
// landed on chain.
type SettlementAck struct {
	TransactionID string `json:"transaction_id"`
	TxSignature   string `json:"tx_signature"`
}

// ConfirmTransaction marks a ledger entry confirmed. Repeated acknowledgments
// are no-ops and report false.
func (s *Service) ConfirmTransaction(ctx context.Context, transactionID, txSignature string) (bool, error) {
	if strings.TrimSpace(transactionID) == "" || strings.TrimSpace(txSignature) == "" {
		return false, fmt.Errorf("transaction id and signature are required: %w", domain.ErrInvalidRequest)
	}

	var changed bool
	err := s.inTx(ctx, "confirm_transaction", func(tx store.Tx) error {
		var err error
		changed, err = tx.ConfirmTransaction(ctx, transactionID, txSignature, s.now())
		return err
	})
	return changed, err
}

// SettlementConsumer handles settlement acknowledgments from the broker.
type SettlementConsumer struct {
	service *Service
	timeout time.Duration
}

// SettlementConsumer returns a message handler bound to the service.
func (s *Service) SettlementConsumer() *SettlementConsumer {
	return &SettlementConsumer{service: s, timeout: 10 * time.Second}
}

// HandleMessage processes one acknowledgment. Malformed or unknown
// acknowledgments are rejected for good; storage failures are retried.
func (c *SettlementConsumer) HandleMessage(ctx context.Context, body []byte) error {
	var ack SettlementAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return fmt.Errorf("decode settlement ack: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	changed, err := c.service.ConfirmTransaction(ctx, ack.TransactionID, ack.TxSignature)
	switch {
	case errors.Is(err, domain.ErrInvalidRequest), errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("settlement ack for %q: %w", ack.TransactionID, err)
	case err != nil:
		c.service.logger.Error("failed to confirm transaction", "transaction_id", ack.TransactionID, "error", err)
		return fmt.Errorf("%w: %v", rabbitmq.ErrRetry, err)
	}

	if changed {
		c.service.logger.Info("transaction confirmed", "transaction_id", ack.TransactionID, "tx_signature", ack.TxSignature)
	}
	return nil
}
