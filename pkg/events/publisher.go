package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"notebookai/pkg/domain"
)

// SourceStatusEvent is emitted on every source lifecycle transition.
type SourceStatusEvent struct {
	SourceID   string              `json:"sourceId"`
	NotebookID string              `json:"notebookId"`
	Status     domain.SourceStatus `json:"status"`
	Detail     string              `json:"detail,omitempty"`
	At         time.Time           `json:"at"`
}

// Publisher broadcasts source lifecycle events to interested consumers
// (sync services, notification fan-out).
type Publisher interface {
	PublishSourceStatus(ctx context.Context, evt SourceStatusEvent) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ topic exchange.
type AMQPPublisher struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

// NewAMQPPublisher dials the broker and declares the exchange.
func NewAMQPPublisher(url, exchange string) (*AMQPPublisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange: %w", err)
	}
	return &AMQPPublisher{conn: conn, channel: channel, exchange: exchange}, nil
}

// PublishSourceStatus sends the event with routing key "source.status.<status>".
func (p *AMQPPublisher) PublishSourceStatus(ctx context.Context, evt SourceStatusEvent) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := fmt.Sprintf("source.status.%s", evt.Status)
	if err := p.channel.PublishWithContext(ctx, p.exchange, key, false, false, amqp.Publishing{
		ContentType: "application/json",
		Timestamp:   evt.At,
		Body:        body,
	}); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Close releases the channel and connection.
func (p *AMQPPublisher) Close() error {
	if err := p.channel.Close(); err != nil {
		p.conn.Close()
		return fmt.Errorf("close channel: %w", err)
	}
	return p.conn.Close()
}

// NoopPublisher drops all events; used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) PublishSourceStatus(context.Context, SourceStatusEvent) error { return nil }
func (NoopPublisher) Close() error                                                 { return nil }
