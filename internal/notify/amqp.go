package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/rs/zerolog/log"
)

const (
	// DefaultExchange is the topic exchange lead events are published to.
	DefaultExchange = "leadlink.events"

	RoutingKeySalesAlert = "lead.sales_alert"
	RoutingKeyMerged     = "lead.merged"
)

// publisher is the part of *amqp.Channel used for publishing.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPNotifier publishes lead events as persistent JSON messages on a topic exchange.
type AMQPNotifier struct {
	conn     *amqp.Connection
	exchange string

	mu sync.Mutex // amqp channels are not safe for concurrent publishing
	ch publisher
}

// DialAMQP connects to the broker and declares the exchange.
func DialAMQP(url, exchange string) (*AMQPNotifier, error) {
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to broker: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	log.Info().Str("exchange", exchange).Msg("Connected to AMQP broker")

	return &AMQPNotifier{conn: conn, exchange: exchange, ch: ch}, nil
}

func (n *AMQPNotifier) SalesAlert(ctx context.Context, alert *SalesAlert) error {
	return n.publish(ctx, RoutingKeySalesAlert, alert)
}

func (n *AMQPNotifier) LeadsMerged(ctx context.Context, event *MergeEvent) error {
	return n.publish(ctx, RoutingKeyMerged, event)
}

func (n *AMQPNotifier) publish(ctx context.Context, key string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode %s event: %w", key, err)
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	err = n.ch.PublishWithContext(ctx, n.exchange, key, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish %s event: %w", key, err)
	}
	return nil
}

// Close closes the broker connection.
func (n *AMQPNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Close()
}
