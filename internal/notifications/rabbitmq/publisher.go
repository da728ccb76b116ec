// Package rabbitmq publishes delivery outcomes to a RabbitMQ topic exchange
// so that other services can follow what was sent without polling the
// delivery log.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bissquit/alert-relay/internal/notifications"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Config holds publisher configuration.
type Config struct {
	URL        string
	Exchange   string
	RoutingKey string
}

// publishChannel is the part of *amqp.Channel the publisher uses.
type publishChannel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher implements notifications.OutcomePublisher.
type Publisher struct {
	conn       *amqp.Connection
	channel    publishChannel
	exchange   string
	routingKey string
}

// Connect dials RabbitMQ and declares the durable topic exchange.
func Connect(cfg Config) (*Publisher, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq: url is required")
	}
	if cfg.Exchange == "" {
		return nil, errors.New("rabbitmq: exchange is required")
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		cfg.Exchange,
		amqp.ExchangeTopic,
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", cfg.Exchange, err)
	}

	slog.Info("rabbitmq publisher connected", "exchange", cfg.Exchange, "routing_key", cfg.RoutingKey)

	return newPublisher(conn, ch, cfg), nil
}

func newPublisher(conn *amqp.Connection, ch publishChannel, cfg Config) *Publisher {
	return &Publisher{
		conn:       conn,
		channel:    ch,
		exchange:   cfg.Exchange,
		routingKey: cfg.RoutingKey,
	}
}

// PublishOutcome publishes entry as a persistent JSON message routed by
// channel and status, for example delivery.outcome.email.failed.
func (p *Publisher) PublishOutcome(ctx context.Context, entry notifications.DeliveryLogEntry) error {
	msg, err := buildPublishing(entry)
	if err != nil {
		return err
	}

	if err := p.channel.PublishWithContext(ctx, p.exchange, p.key(entry), false, false, msg); err != nil {
		return fmt.Errorf("publish outcome: %w", err)
	}
	return nil
}

func (p *Publisher) key(entry notifications.DeliveryLogEntry) string {
	return fmt.Sprintf("%s.%s.%s", p.routingKey, entry.Channel, entry.DeliveryStatus)
}

func buildPublishing(entry notifications.DeliveryLogEntry) (amqp.Publishing, error) {
	body, err := json.Marshal(entry)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("marshal outcome: %w", err)
	}

	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    entry.ID,
		Timestamp:    entry.CreatedAt,
		Type:         "notification.delivery",
		Headers: amqp.Table{
			"user_id":  entry.UserID,
			"provider": entry.Provider,
		},
		Body: body,
	}, nil
}

// Close closes the channel and the connection.
func (p *Publisher) Close() error {
	var errs []error
	if p.channel != nil {
		errs = append(errs, p.channel.Close())
	}
	if p.conn != nil {
		errs = append(errs, p.conn.Close())
	}
	return errors.Join(errs...)
}
