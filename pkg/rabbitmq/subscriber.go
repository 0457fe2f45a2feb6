package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrRetry marks a handler failure worth redelivering.
var ErrRetry = errors.New("retry delivery")

// Handler processes one delivery body. A nil error acks the delivery, an
// error wrapping ErrRetry re-queues it and any other error drops it.
type Handler func(ctx context.Context, body []byte) error

// Binding routes the listed keys of a topic exchange into a durable queue.
type Binding struct {
	Exchange string
	Queue    string
	Handlers map[string]Handler
}

// Subscriber consumes deliveries from one channel.
type Subscriber struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	logger   *slog.Logger
	prefetch int
}

// NewSubscriber dials the broker.
func NewSubscriber(amqpURL string, logger *slog.Logger) (*Subscriber, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, ch: ch, logger: logger, prefetch: 16}, nil
}

// Subscribe declares the topology of b and dispatches deliveries to its
// handlers until ctx is done or the channel closes.
func (s *Subscriber) Subscribe(ctx context.Context, b Binding) error {
	if len(b.Handlers) == 0 {
		return errors.New("binding has no handlers")
	}
	if err := declareTopic(s.ch, b.Exchange); err != nil {
		return fmt.Errorf("declare exchange %s: %w", b.Exchange, err)
	}
	q, err := s.ch.QueueDeclare(b.Queue, true, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("declare queue %s: %w", b.Queue, err)
	}
	for routingKey := range b.Handlers {
		if err := s.ch.QueueBind(q.Name, routingKey, b.Exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s: %w", routingKey, err)
		}
	}
	if err := s.ch.Qos(s.prefetch, 0, false); err != nil {
		return fmt.Errorf("set prefetch: %w", err)
	}

	deliveries, err := s.ch.ConsumeWithContext(ctx, q.Name, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", q.Name, err)
	}

	go func() {
		for d := range deliveries {
			s.handle(ctx, d, b.Handlers)
		}
		s.logger.Info("subscription closed", "queue", q.Name)
	}()
	return nil
}

func (s *Subscriber) handle(ctx context.Context, d amqp.Delivery, handlers map[string]Handler) {
	handler, ok := handlers[d.RoutingKey]
	if !ok {
		s.logger.Warn("no handler for routing key; dropping", "routing_key", d.RoutingKey)
		_ = d.Ack(false)
		return
	}

	err := handler(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, ErrRetry):
		s.logger.Warn("delivery failed; re-queuing", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, true)
	default:
		s.logger.Warn("delivery rejected; dropping", "routing_key", d.RoutingKey, "error", err)
		_ = d.Nack(false, false)
	}
}

// Close closes the channel and the connection.
func (s *Subscriber) Close() {
	if s.ch != nil {
		_ = s.ch.Close()
	}
	if s.conn != nil {
		_ = s.conn.Close()
	}
}
