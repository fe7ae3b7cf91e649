// Package amqp publishes and consumes ledger events over RabbitMQ.
package amqp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/warp/finance-engine/events"
)

const publishTimeout = 5 * time.Second

// Client owns one connection and one channel. It implements
// events.Publisher.
type Client struct {
	conn         *amqp091.Connection
	channel      *amqp091.Channel
	exchangeName string
	queueName    string
	logger       *slog.Logger
}

func NewClient(url, exchangeName, queueName string, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial AMQP: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	client := &Client{
		conn:         conn,
		channel:      channel,
		exchangeName: exchangeName,
		queueName:    queueName,
		logger:       logger.With("component", "amqp"),
	}

	if err := client.setup(); err != nil {
		client.Close()
		return nil, fmt.Errorf("setup exchange and queue: %w", err)
	}

	return client, nil
}

// setup declares a durable direct exchange and a durable queue bound to it
// with the queue name as routing key.
func (c *Client) setup() error {
	err := c.channel.ExchangeDeclare(
		c.exchangeName, // name
		"direct",       // type
		true,           // durable
		false,          // auto-deleted
		false,          // internal
		false,          // no-wait
		nil,            // arguments
	)
	if err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}

	_, err = c.channel.QueueDeclare(
		c.queueName, // name
		true,        // durable
		false,       // delete when unused
		false,       // exclusive
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}

	err = c.channel.QueueBind(
		c.queueName,    // queue name
		c.queueName,    // routing key
		c.exchangeName, // exchange
		false,
		nil,
	)
	if err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}

	return nil
}

// Publish sends ev as a persistent JSON message.
func (c *Client) Publish(ctx context.Context, ev events.LedgerEvent) error {
	body, err := ev.ToJSON()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()

	err = c.channel.PublishWithContext(
		ctx,
		c.exchangeName, // exchange
		c.queueName,    // routing key
		false,          // mandatory
		false,          // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Type:         string(ev.Kind),
			Timestamp:    ev.OccurredAt,
			Body:         body,
		},
	)
	if err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	c.logger.DebugContext(ctx, "published ledger event",
		"kind", ev.Kind,
		"owner_id", ev.OwnerID,
		"exchange", c.exchangeName,
		"queue", c.queueName)
	return nil
}

// ConsumeLedgerEvents blocks, handing each event to handler until ctx is
// done. Malformed messages are dropped; handler failures are requeued.
func (c *Client) ConsumeLedgerEvents(ctx context.Context, handler func(context.Context, *events.LedgerEvent) error) error {
	msgs, err := c.channel.Consume(
		c.queueName, // queue
		"",          // consumer
		false,       // auto-ack
		false,       // exclusive
		false,       // no-local
		false,       // no-wait
		nil,         // args
	)
	if err != nil {
		return fmt.Errorf("start consuming: %w", err)
	}

	c.logger.InfoContext(ctx, "started consuming ledger events", "queue", c.queueName)

	for {
		select {
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "stopping message consumption", "reason", ctx.Err())
			return ctx.Err()
		case delivery, ok := <-msgs:
			if !ok {
				return errors.New("message channel closed")
			}

			ev, err := events.LedgerEventFromJSON(delivery.Body)
			if err != nil {
				c.logger.ErrorContext(ctx, "failed to unmarshal ledger event", "error", err)
				delivery.Nack(false, false)
				continue
			}

			if err := handler(ctx, ev); err != nil {
				c.logger.ErrorContext(ctx, "failed to handle ledger event",
					"error", err, "kind", ev.Kind, "owner_id", ev.OwnerID)
				delivery.Nack(false, !delivery.Redelivered)
				continue
			}

			delivery.Ack(false)
		}
	}
}

func (c *Client) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
