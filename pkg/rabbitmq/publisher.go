package rabbitmq

import (
	"context"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Message is one event ready for the broker. Body is already JSON encoded.
type Message struct {
	ID         string
	Exchange   string
	RoutingKey string
	Body       []byte
}

// Publisher delivers messages to the broker.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close()
}

// ConfirmingPublisher publishes persistent messages and waits for the broker
// to confirm each one. It is safe for concurrent use.
type ConfirmingPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	declared map[string]struct{}
}

// NewConfirmingPublisher dials the broker and puts the channel in confirm mode.
func NewConfirmingPublisher(amqpURL string) (*ConfirmingPublisher, error) {
	conn, ch, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &ConfirmingPublisher{conn: conn, ch: ch, declared: make(map[string]struct{})}, nil
}

// Publish sends msg and blocks until the broker acks or nacks it.
func (p *ConfirmingPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.declared[msg.Exchange]; !ok {
		if err := declareTopic(p.ch, msg.Exchange); err != nil {
			return fmt.Errorf("declare exchange %s: %w", msg.Exchange, err)
		}
		p.declared[msg.Exchange] = struct{}{}
	}

	confirm, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, msg.Exchange, msg.RoutingKey, true, false, amqp.Publishing{
		MessageId:    msg.ID,
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Body:         msg.Body,
	})
	if err != nil {
		return err
	}

	acked, err := confirm.WaitContext(ctx)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("broker nacked message %s", msg.ID)
	}
	return nil
}

// Close closes the channel and the connection.
func (p *ConfirmingPublisher) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.conn != nil {
		_ = p.conn.Close()
	}
}
