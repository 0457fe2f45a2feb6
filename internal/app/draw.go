/**
 * @description
 * Draw authorization. A merchant opens a draw session; the consumer approves it
 * against the available credit of their active account. Sessions expire
 * lazily when they are read after their deadline.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/risk"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/shopspring/decimal"
)

// DrawResult is returned by a successful approval.
type DrawResult struct {
	Session       domain.DrawSession     `json:"session"`
	Receivable    domain.Receivable      `json:"receivable"`
	Account       domain.AccountSnapshot `json:"account"`
	TransactionID string                 `json:"transaction_id"`
}

// CreateDrawSession opens a pending draw session for a merchant.
func (s *Service) CreateDrawSession(ctx context.Context, merchantID string, amount decimal.Decimal, currency string) (*domain.DrawSession, error) {
	if strings.TrimSpace(merchantID) == "" {
		return nil, s.finish("create_draw", fmt.Errorf("merchant id is required: %w", domain.ErrInvalidRequest))
	}
	if !amount.IsPositive() {
		return nil, s.finish("create_draw", fmt.Errorf("draw amount must be positive: %w", domain.ErrInvalidAmount))
	}
	if strings.TrimSpace(currency) == "" {
		currency = "USDC"
	}

	var session *domain.DrawSession
	err := s.inTx(ctx, "create_draw", func(tx store.Tx) error {
		now := s.now()
		session = &domain.DrawSession{
			ID:         s.newID(),
			MerchantID: strings.TrimSpace(merchantID),
			Amount:     amount,
			Currency:   strings.ToUpper(strings.TrimSpace(currency)),
			Status:     domain.DrawStatusPending,
			ExpiresAt:  now.Add(s.settings.DrawSessionTTL),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.InsertDrawSession(ctx, session)
	})
	if err != nil {
		return nil, s.finish("create_draw", err)
	}
	return session, s.finish("create_draw", nil)
}

// GetDrawSession returns a session, expiring it first when its deadline passed.
func (s *Service) GetDrawSession(ctx context.Context, sessionID string) (*domain.DrawSession, error) {
	var session *domain.DrawSession
	err := s.inTx(ctx, "get_draw", func(tx store.Tx) error {
		var err error
		session, err = s.loadDrawSession(ctx, tx, sessionID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return session, nil
}

// loadDrawSession reads a session and persists the pending→expired transition
// when the deadline has passed. The caller checks the returned status.
func (s *Service) loadDrawSession(ctx context.Context, tx store.Tx, sessionID string) (*domain.DrawSession, error) {
	session, err := tx.GetDrawSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("draw session %s: %w", sessionID, err)
	}
	now := s.now()
	if session.Status == domain.DrawStatusPending && now.After(session.ExpiresAt) {
		session.Status = domain.DrawStatusExpired
		session.UpdatedAt = now
		if err := tx.UpdateDrawSession(ctx, session); err != nil {
			return nil, err
		}
	}
	return session, nil
}

func pendingSessionError(session *domain.DrawSession) error {
	switch session.Status {
	case domain.DrawStatusPending:
		return nil
	case domain.DrawStatusExpired:
		return fmt.Errorf("draw session %s: %w", session.ID, domain.ErrExpired)
	default:
		return fmt.Errorf("draw session %s is %s: %w", session.ID, session.Status, domain.ErrInvalidState)
	}
}

func (s *Service) checkDrawRateLimit(ctx context.Context, consumerID string) error {
	if s.limiter == nil || s.settings.DrawRateLimitPerMinute <= 0 {
		return nil
	}
	decision, err := s.limiter.Allow(ctx, consumerID, s.settings.DrawRateLimitPerMinute, time.Minute)
	if err != nil {
		s.logger.Warn("draw rate limiter unavailable; allowing request", "consumer_id", consumerID, "error", err)
		return nil
	}
	if !decision.Allowed {
		return fmt.Errorf("retry after %s: %w", decision.RetryAfter.Round(time.Second), domain.ErrRateLimited)
	}
	return nil
}

// ApproveDraw debits the session amount from the consumer's available credit.
// An expired session is persisted as expired and ErrExpired is returned.
func (s *Service) ApproveDraw(ctx context.Context, sessionID, consumerID string) (*DrawResult, error) {
	if strings.TrimSpace(consumerID) == "" {
		return nil, s.finish("approve_draw", fmt.Errorf("consumer id is required: %w", domain.ErrInvalidRequest))
	}
	if err := s.checkDrawRateLimit(ctx, consumerID); err != nil {
		return nil, s.finish("approve_draw", err)
	}

	var (
		result     *DrawResult
		sessionErr error
	)
	err := s.inTx(ctx, "approve_draw", func(tx store.Tx) error {
		result, sessionErr = nil, nil

		session, err := s.loadDrawSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := pendingSessionError(session); err != nil {
			if errors.Is(err, domain.ErrExpired) {
				// Commit the expiry, then report it.
				sessionErr = err
				return nil
			}
			return err
		}

		account, err := tx.FindActiveAccountByConsumer(ctx, consumerID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				return fmt.Errorf("consumer %s: %w", consumerID, domain.ErrNoActiveAccount)
			}
			return err
		}
		if account.AvailableCredit.LessThan(session.Amount) {
			return fmt.Errorf("available %s, requested %s: %w", account.AvailableCredit, session.Amount, domain.ErrInsufficientCredit)
		}

		now := s.now()
		account.UsedCredit = account.UsedCredit.Add(session.Amount)
		account.UpdatedAt = now
		risk.RefreshUsage(account)
		if err := tx.UpdateAccount(ctx, account); err != nil {
			return err
		}

		consumer := consumerID
		session.ConsumerID = &consumer
		session.Status = domain.DrawStatusApproved
		session.UpdatedAt = now
		if err := tx.UpdateDrawSession(ctx, session); err != nil {
			return err
		}

		receivable := &domain.Receivable{
			ID:            s.newID(),
			MerchantID:    session.MerchantID,
			DrawSessionID: session.ID,
			Amount:        session.Amount,
			Currency:      session.Currency,
			Status:        domain.ReceivableStatusProcessing,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := tx.InsertReceivable(ctx, receivable); err != nil {
			return err
		}

		txn, err := s.appendTransaction(ctx, tx, account, domain.TransactionTypeDraw, session.Amount, map[string]interface{}{
			"draw_session_id": session.ID,
			"merchant_id":     session.MerchantID,
			"currency":        session.Currency,
			"receivable_id":   receivable.ID,
		})
		if err != nil {
			return err
		}

		result = &DrawResult{Session: *session, Receivable: *receivable, Account: account.Snapshot(), TransactionID: txn.ID}
		return nil
	})
	if err == nil {
		err = sessionErr
	}
	if err != nil {
		return nil, s.finish("approve_draw", err)
	}

	s.logger.Info("draw approved", "session_id", sessionID, "account_id", result.Account.AccountID, "amount", result.Session.Amount.String())
	return result, s.finish("approve_draw", nil)
}

// RejectDraw marks a pending session rejected.
func (s *Service) RejectDraw(ctx context.Context, sessionID string) (*domain.DrawSession, error) {
	var (
		session    *domain.DrawSession
		sessionErr error
	)
	err := s.inTx(ctx, "reject_draw", func(tx store.Tx) error {
		session, sessionErr = nil, nil

		current, err := s.loadDrawSession(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if err := pendingSessionError(current); err != nil {
			if errors.Is(err, domain.ErrExpired) {
				sessionErr = err
				return nil
			}
			return err
		}

		current.Status = domain.DrawStatusRejected
		current.UpdatedAt = s.now()
		if err := tx.UpdateDrawSession(ctx, current); err != nil {
			return err
		}
		session = current
		return nil
	})
	if err == nil {
		err = sessionErr
	}
	if err != nil {
		return nil, s.finish("reject_draw", err)
	}
	return session, s.finish("reject_draw", nil)
}
