// Package notify delivers order notifications. Delivery is fire-and-forget:
// the saga never waits on it and never fails because of it.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/schooleats/orderflow/internal/application/notification"

	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

var _ notification.Notifier = (*AMQPNotifier)(nil)

const exchange = "orderflow.notifications"

// AMQPNotifier publishes notifications to a RabbitMQ topic exchange, routed
// by notification kind (order_confirmed, order_cancelled, order_refunded).
type AMQPNotifier struct {
	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
	log     *zap.Logger
}

func NewAMQPNotifier(url string, logger *zap.Logger) (*AMQPNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: dial amqp: %w", err)
	}
	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("notify: open channel: %w", err)
	}
	if err := channel.ExchangeDeclare(
		exchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		channel.Close()
		conn.Close()
		return nil, fmt.Errorf("notify: declare exchange: %w", err)
	}

	return &AMQPNotifier{
		conn:    conn,
		channel: channel,
		log:     logger.With(zap.String("component", "amqp_notifier")),
	}, nil
}

func (n *AMQPNotifier) Notify(ctx context.Context, msg notification.Notification) error {
	_ = ctx

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("notify: marshal: %w", err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.channel.Publish(
		exchange,
		"notification."+msg.Kind,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("notify: publish: %w", err)
	}
	return nil
}

func (n *AMQPNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var firstErr error
	if n.channel != nil {
		if err := n.channel.Close(); err != nil {
			firstErr = err
		}
	}
	if n.conn != nil {
		if err := n.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
