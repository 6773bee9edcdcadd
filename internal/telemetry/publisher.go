// Package telemetry publishes sync run reports to an AMQP broker so a fleet
// backend can watch device health. The broker is optional: publish failures
// are logged by the caller and never change a sync result.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/adloop/signage-agent-go/internal/models"
	"github.com/adloop/signage-agent-go/pkg/logger"
)

// Routing keys per sync outcome. The queue is bound with BindingKey, which
// defaults to matching both.
const (
	RouteSyncCompleted = "sync.completed"
	RouteSyncFailed    = "sync.failed"
)

// Config holds broker connection and topology settings.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	Exchange   string
	Queue      string
	BindingKey string
	DeviceID   string
}

// Message is the envelope published for every finished sync run.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Message struct {
	DeviceID string            `json:"device_id,omitempty"`
	Event    string            `json:"event"`
	Report   models.SyncReport `json:"report"`
	SentAt   time.Time         `json:"sent_at"`
}

// Publisher maintains one confirmed AMQP channel for sync reports.
type Publisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	config  Config
	mu      sync.RWMutex
}

// NewPublisher connects to the broker and declares the telemetry topology.
func NewPublisher(cfg Config) (*Publisher, error) {
	if cfg.BindingKey == "" {
		cfg.BindingKey = "sync.*"
	}

	p := &Publisher{config: cfg}
	if err := p.connect(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Publisher) connect() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	connURL := fmt.Sprintf("amqp://%s:%s@%s:%d/",
		p.config.User, p.config.Password, p.config.Host, p.config.Port)

	conn, err := amqp.Dial(connURL)
	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("failed to open channel: %w", err)
	}

	// Enable publisher confirms
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to enable publisher confirms: %w", err)
	}

	if err := ch.ExchangeDeclare(
		p.config.Exchange, // name
		"topic",           // type
		true,              // durable
		false,             // auto-deleted
		false,             // internal
		false,             // no-wait
		nil,               // arguments
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	_, err = ch.QueueDeclare(
		p.config.Queue, // name
		true,           // durable
		false,          // delete when unused
		false,          // exclusive
		false,          // no-wait
		amqp.Table{
			"x-message-ttl": 86400000, // 24 hours
		},
	)
	if err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	if err := ch.QueueBind(
		p.config.Queue,      // queue name
		p.config.BindingKey, // routing key pattern
		p.config.Exchange,   // exchange
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	p.conn = conn
	p.channel = ch

	logger.Log.Info("Connected to RabbitMQ",
		zap.String("exchange", p.config.Exchange),
		zap.String("queue", p.config.Queue),
	)

	return nil
}

// PublishReport sends one sync report, routed by its outcome, and waits for
// broker confirmation.
func (p *Publisher) PublishReport(ctx context.Context, report models.SyncReport) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.channel == nil {
		return fmt.Errorf("channel is not initialized")
	}

	routingKey := RouteSyncCompleted
	if !report.Succeeded() {
		routingKey = RouteSyncFailed
	}

	msg := Message{
		DeviceID: p.config.DeviceID,
		Event:    routingKey,
		Report:   report,
		SentAt:   time.Now(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	// Publish with confirmation
	confirms := p.channel.NotifyPublish(make(chan amqp.Confirmation, 1))

	err = p.channel.PublishWithContext(
		ctx,
		p.config.Exchange, // exchange
		routingKey,        // routing key
		true,              // mandatory
		false,             // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			Body:         body,
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			MessageId:    report.RunID.String(),
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish message: %w", err)
	}

	// Wait for confirmation with timeout
	select {
	case confirm := <-confirms:
		if !confirm.Ack {
			return fmt.Errorf("message was not acknowledged by broker")
		}
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout waiting for publish confirmation")
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.Log.Debug("Published sync report",
		zap.String("runId", report.RunID.String()),
		zap.String("routingKey", routingKey),
	)

	return nil
}

// Close shuts down the channel and connection.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var errs []error
	if p.channel != nil {
		if err := p.channel.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing publisher: %v", errs)
	}

	logger.Log.Info("Telemetry publisher closed")
	return nil
}

// IsHealthy reports whether the broker connection is usable.
func (p *Publisher) IsHealthy() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return p.conn != nil && !p.conn.IsClosed() && p.channel != nil
}
