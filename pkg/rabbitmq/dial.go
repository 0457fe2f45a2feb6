/**
 * @description
 * RabbitMQ plumbing for the credit core: ledger events are published to a
 * durable topic exchange with publisher confirms, and settlement
 * acknowledgments are consumed from a durable queue.
 */
package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const dialTimeout = 10 * time.Second

// SanitizeURL strips whitespace, quotes and any "KEY=" prefix pasted in front
// of an AMQP URL and checks its scheme.
func SanitizeURL(raw string) (string, error) {
	clean := strings.Trim(strings.TrimSpace(raw), "\"'")
	if idx := strings.Index(strings.ToLower(clean), "amqp"); idx > 0 {
		clean = clean[idx:]
	}
	if clean == "" {
		return "", errors.New("AMQP URL is empty")
	}

	parsed, err := url.Parse(clean)
	if err != nil {
		return "", err
	}
	switch parsed.Scheme {
	case "amqp", "amqps":
		return clean, nil
	default:
		return "", fmt.Errorf("invalid AMQP scheme: %q", parsed.Scheme)
	}
}

// dial opens a connection and a channel on it.
func dial(rawURL string) (*amqp.Connection, *amqp.Channel, error) {
	cleanURL, err := SanitizeURL(rawURL)
	if err != nil {
		return nil, nil, err
	}

	conn, err := amqp.DialConfig(cleanURL, amqp.Config{Dial: amqp.DefaultDial(dialTimeout)})
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return conn, ch, nil
}

func declareTopic(ch *amqp.Channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil)
}
