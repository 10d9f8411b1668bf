package scheduler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"maintenix.io/internal/obs"
)

// publisher is the subset of *amqp.Channel the dispatcher needs.
type publisher interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// AMQPDispatcher publishes jobs as persistent JSON messages on a topic
// exchange, routed as "jobs.<kind>".
type AMQPDispatcher struct {
	conn     *amqp.Connection
	ch       publisher
	exchange string
}

// DialAMQP connects, opens a channel and declares a durable topic exchange.
func DialAMQP(url, exchange string) (*AMQPDispatcher, error) {
	if exchange == "" {
		return nil, errors.New("scheduler: amqp exchange is required")
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPDispatcher{conn: conn, ch: ch, exchange: exchange}, nil
}

func (d *AMQPDispatcher) Dispatch(ctx context.Context, job Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now().UTC(),
		Headers:      amqp.Table{"tenant_id": job.TenantID},
		Body:         body,
	}
	if err := d.ch.PublishWithContext(ctx, d.exchange, RoutingKey(job.Kind), false, false, msg); err != nil {
		return fmt.Errorf("publish %s job: %w", job.Kind, err)
	}
	return nil
}

// Close closes the underlying connection, if any.
func (d *AMQPDispatcher) Close() error {
	if d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// RoutingKey is the topic a job of kind is published under.
func RoutingKey(kind Kind) string {
	return "jobs." + string(kind)
}

// LogDispatcher only logs jobs. It stands in when no broker is configured.
type LogDispatcher struct{}

func (LogDispatcher) Dispatch(_ context.Context, job Job) error {
	obs.Logger().Info("job dispatched",
		zap.String("kind", string(job.Kind)),
		zap.String("tenant_id", job.TenantID),
		zap.String("asset_id", job.AssetID))
	return nil
}
