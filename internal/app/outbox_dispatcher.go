package app

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/Cr0nia/Cronia/internal/store"
	"github.com/Cr0nia/Cronia/pkg/rabbitmq"
)

// OutboxRepository is the part of the store the dispatcher drains.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]store.OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}

// OutboxDispatcher relays committed ledger events to the broker. Rows are
// claimed in batches; a broker failure drops the connection, reschedules the
// row with exponential backoff and ends the batch.
type OutboxDispatcher struct {
	repo      OutboxRepository
	brokerURL string
	logger    *slog.Logger

	batch      int
	interval   time.Duration
	claimLease time.Duration

	connect   func(url string) (rabbitmq.Publisher, error)
	publisher rabbitmq.Publisher
}

func NewOutboxDispatcher(repo OutboxRepository, brokerURL string, logger *slog.Logger) *OutboxDispatcher {
	return &OutboxDispatcher{
		repo:       repo,
		brokerURL:  brokerURL,
		logger:     logger,
		batch:      50,
		interval:   time.Second,
		claimLease: 2 * time.Minute,
		connect: func(url string) (rabbitmq.Publisher, error) {
			return rabbitmq.NewConfirmingPublisher(url)
		},
	}
}

// Run drains the outbox until ctx is cancelled. A full batch is followed by
// another drain without waiting for the next tick.
func (d *OutboxDispatcher) Run(ctx context.Context) {
	defer d.disconnect()

	timer := time.NewTimer(d.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		sent, err := d.drain(ctx)
		if err != nil {
			d.logger.Error("outbox drain failed", "error", err)
		}
		if sent == d.batch {
			timer.Reset(0)
		} else {
			timer.Reset(d.interval)
		}
	}
}

// drain publishes one claimed batch and reports how many rows were delivered.
func (d *OutboxDispatcher) drain(ctx context.Context) (int, error) {
	rows, err := d.repo.ClaimOutboxMessages(ctx, d.batch, int(d.claimLease/time.Second))
	if err != nil {
		return 0, fmt.Errorf("claim outbox rows: %w", err)
	}

	sent := 0
	for i, row := range rows {
		if err := d.send(ctx, row); err != nil {
			d.disconnect()
			d.release(ctx, rows[i:], err)
			return sent, nil
		}
		if err := d.repo.MarkOutboxPublished(ctx, row.ID); err != nil {
			// The row is re-claimed after the lease and delivered again.
			d.logger.Error("outbox row published but not marked", "outbox_id", row.ID, "error", err)
			continue
		}
		sent++
	}
	return sent, nil
}

func (d *OutboxDispatcher) send(ctx context.Context, row store.OutboxMessage) error {
	if d.publisher == nil {
		publisher, err := d.connect(d.brokerURL)
		if err != nil {
			return fmt.Errorf("connect broker: %w", err)
		}
		d.publisher = publisher
	}
	return d.publisher.Publish(ctx, rabbitmq.Message{
		ID:         strconv.FormatInt(row.ID, 10),
		Exchange:   row.Exchange,
		RoutingKey: row.RoutingKey,
		Body:       row.Payload,
	})
}

// release reschedules the rows left in a batch after a broker failure. The
// claim already counted an attempt for every row; only the failing row backs
// off by its count, the untried rows wait the base delay.
func (d *OutboxDispatcher) release(ctx context.Context, rows []store.OutboxMessage, cause error) {
	for i, row := range rows {
		attempts := row.Attempts
		if i > 0 {
			attempts = 0
		}
		delay := backoffSeconds(attempts)
		d.logger.Warn("outbox publish deferred", "outbox_id", row.ID, "routing_key", row.RoutingKey, "retry_in_seconds", delay, "error", cause)
		if err := d.repo.MarkOutboxFailed(ctx, row.ID, delay, cause.Error()); err != nil {
			d.logger.Error("failed to reschedule outbox row", "outbox_id", row.ID, "error", err)
		}
	}
}

func (d *OutboxDispatcher) disconnect() {
	if d.publisher == nil {
		return
	}
	d.publisher.Close()
	d.publisher = nil
}

// backoffSeconds doubles per attempt and is capped at five minutes.
func backoffSeconds(attempts int) int {
	if attempts < 1 {
		return 1
	}
	return min(1<<min(attempts, 9), 300)
}
