// ABOUTME: AMQP egress sink publishing relayed events to a topic exchange
// ABOUTME: Routing key tenant.<id>.message, durable exchange, persistent JSON

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPSink publishes relay events to a RabbitMQ topic exchange so external
// consumers can subscribe by tenant without holding a gateway connection.
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
	logger   *slog.Logger
}

// DialAMQP connects to the broker with exponential backoff and declares the
// durable topic exchange the sink publishes to.
func DialAMQP(url, exchange string, maxRetries int, logger *slog.Logger) (*AMQPSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "amqp-sink")

	var conn *amqp.Connection
	var err error
	backoff := time.Second
	for attempt := 0; attempt <= maxRetries; attempt++ {
		conn, err = amqp.Dial(url)
		if err == nil {
			break
		}
		if attempt == maxRetries {
			return nil, fmt.Errorf("dial amqp after %d attempts: %w", maxRetries+1, err)
		}
		logger.Warn("amqp dial failed, retrying", "attempt", attempt+1, "error", err)
		time.Sleep(backoff)
		backoff *= 2
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}

	logger.Info("amqp sink connected", "exchange", exchange)
	return &AMQPSink{
		conn:     conn,
		channel:  ch,
		exchange: exchange,
		logger:   logger,
	}, nil
}

// Publish sends one event as a persistent JSON message routed by tenant.
func (s *AMQPSink) Publish(ctx context.Context, evt *Event) error {
	body, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel.PublishWithContext(ctx,
		s.exchange,
		RoutingKey(evt.TenantID),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			MessageId:    uuid.New().String(),
			Timestamp:    time.Now(),
			Body:         body,
		})
}

// Close releases the channel and connection.
func (s *AMQPSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.channel != nil {
		s.channel.Close()
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// RoutingKey builds the per-tenant routing key for relayed messages.
func RoutingKey(tenantID string) string {
	return fmt.Sprintf("tenant.%s.message", tenantID)
}
