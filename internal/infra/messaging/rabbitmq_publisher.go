package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog"

	"billing-gateway/internal/domain/ports/adapter"
)

// publishChannel is the part of *amqp.Channel the publisher needs.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

var _ adapter.EventPublisher = (*RabbitMQPublisher)(nil)

// RabbitMQPublisher sends payment events to a durable topic exchange. The
// routing key is the event kind, e.g. "payment.processed".
type RabbitMQPublisher struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       publishChannel
	exchange string
	log      *zerolog.Logger
}

func NewRabbitMQPublisher(amqpURL, exchange string, logger *zerolog.Logger) (*RabbitMQPublisher, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	err = ch.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	logger.Info().Str("exchange", exchange).Msg("rabbitmq publisher ready")
	return &RabbitMQPublisher{conn: conn, ch: ch, exchange: exchange, log: logger}, nil
}

func newPublisherWithChannel(ch publishChannel, exchange string, logger *zerolog.Logger) *RabbitMQPublisher {
	return &RabbitMQPublisher{ch: ch, exchange: exchange, log: logger}
}

func (p *RabbitMQPublisher) Publish(ctx context.Context, ev adapter.PaymentEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.TransactionID + ":" + string(ev.Kind),
		Timestamp:    ev.OccurredAt,
		Type:         string(ev.Kind),
		Body:         body,
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ch.PublishWithContext(ctx, p.exchange, string(ev.Kind), false, false, msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Kind, err)
	}
	p.log.Debug().Str("kind", string(ev.Kind)).Str("transaction_id", ev.TransactionID).Msg("payment event published")
	return nil
}

func (p *RabbitMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		p.ch.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
