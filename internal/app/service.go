/**
 * @description
 * Core business logic for the collateralised credit line: collateral ledger,
 * draw authorization, repayment, and the billing, risk and liquidation sweeps.
 * Every state change runs as one unit of work and is retried from scratch when
 * it loses an optimistic concurrency race.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Cr0nia/Cronia/internal/config"
	"github.com/Cr0nia/Cronia/internal/domain"
	"github.com/Cr0nia/Cronia/internal/risk"
	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"
)

// RateLimiter throttles draw approvals per consumer.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (RateDecision, error)
}

// Settings holds the risk and billing parameters of the service.
type Settings struct {
	Thresholds             risk.Thresholds
	DefaultInterestRate    decimal.Decimal
	GracePeriodDays        int
	LiquidationDays        int
	CycleDueDay            int
	DrawSessionTTL         time.Duration
	Location               *time.Location
	MaxConflictRetries     uint64
	DrawRateLimitPerMinute int
	EventExchange          string
}

// DefaultSettings returns the production defaults.
func DefaultSettings() Settings {
	return Settings{
		Thresholds:          risk.DefaultThresholds(),
		DefaultInterestRate: decimal.RequireFromString("0.0299"),
		GracePeriodDays:     15,
		LiquidationDays:     30,
		CycleDueDay:         1,
		DrawSessionTTL:      30 * time.Minute,
		Location:            time.UTC,
		MaxConflictRetries:  8,
		EventExchange:       "cronia.events",
	}
}

// SettingsFromConfig maps loaded configuration onto service settings.
func SettingsFromConfig(cfg config.Config) Settings {
	return Settings{
		Thresholds: risk.Thresholds{
			MinHealthFactor:      cfg.MinHealthFactor,
			LiquidationThreshold: cfg.LiquidationThreshold,
		},
		DefaultInterestRate:    cfg.DefaultInterestRate,
		GracePeriodDays:        cfg.BillingGracePeriodDays,
		LiquidationDays:        cfg.BillingLiquidationDays,
		CycleDueDay:            cfg.BillingCycleDueDay,
		DrawSessionTTL:         time.Duration(cfg.DrawSessionTTLMinutes) * time.Minute,
		Location:               cfg.Location(),
		MaxConflictRetries:     uint64(cfg.ConflictMaxRetries),
		DrawRateLimitPerMinute: cfg.DrawRateLimitPerMinute,
		EventExchange:          cfg.EventExchange,
	}
}

// Service provides the business logic of the credit core.
type Service struct {
	store    store.Store
	settings Settings
	logger   *slog.Logger
	metrics  *Metrics
	limiter  RateLimiter
	now      func() time.Time
	newID    func() string
}

// NewService creates a new credit service.
func NewService(st store.Store, settings Settings, logger *slog.Logger) *Service {
	if settings.Location == nil {
		settings.Location = time.UTC
	}
	if settings.EventExchange == "" {
		settings.EventExchange = "cronia.events"
	}
	return &Service{
		store:    st,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// SetRateLimiter enables per-consumer draw throttling.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.limiter = limiter
}

// SetMetrics enables Prometheus instrumentation.
func (s *Service) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// inTx runs fn as one unit of work, retrying the whole unit with exponential
// backoff while it loses optimistic concurrency races. fn must not keep state
// between attempts.
func (s *Service) inTx(ctx context.Context, operation string, fn func(tx store.Tx) error) error {
	backoff := retry.WithMaxRetries(s.settings.MaxConflictRetries, retry.WithJitterPercent(20, retry.NewExponential(5*time.Millisecond)))
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := s.store.RunInTx(ctx, fn)
		if errors.Is(err, store.ErrConflict) {
			s.metrics.observeConflict(operation)
			s.logger.Debug("optimistic concurrency conflict; retrying", "operation", operation)
			return retry.RetryableError(err)
		}
		return err
	})
}

// finish records the outcome of a synchronous operation and passes err through.
func (s *Service) finish(operation string, err error) error {
	s.metrics.observeOperation(operation, domain.KindOf(err))
	return err
}

// appendTransaction writes a ledger entry and its settlement event in the
// current unit of work.
func (s *Service) appendTransaction(ctx context.Context, tx store.Tx, account *domain.CreditAccount, txnType string, amount decimal.Decimal, metadata map[string]interface{}) (*domain.Transaction, error) {
	txn := &domain.Transaction{
		ID:              s.newID(),
		CreditAccountID: account.ID,
		ConsumerID:      account.ConsumerID,
		Type:            txnType,
		Amount:          amount,
		Status:          domain.TransactionStatusPending,
		Metadata:        metadata,
		CreatedAt:       s.now(),
	}
	if err := tx.InsertTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := tx.EnqueueEvent(ctx, s.settings.EventExchange, "credit.transaction."+txnType, txn); err != nil {
		return nil, err
	}
	return txn, nil
}

// recomputeAccount refreshes an account's derived fields from its deposits.
func recomputeAccount(ctx context.Context, tx store.Tx, account *domain.CreditAccount) ([]domain.CollateralDeposit, error) {
	deposits, err := tx.ListDepositsByAccount(ctx, account.ID)
	if err != nil {
		return nil, fmt.Errorf("list deposits for account %s: %w", account.ID, err)
	}
	risk.Recompute(account, deposits)
	return deposits, nil
}
