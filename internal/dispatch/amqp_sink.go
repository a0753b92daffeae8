package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/example/ride-matchmaking/internal/models"
)

// AMQPSink publishes ride events to a durable topic exchange with routing
// key ride.status.<status>.
type AMQPSink struct {
	mu       sync.Mutex
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func DialAMQP(url, exchange string) (*AMQPSink, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(
		exchange,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}
	return &AMQPSink{conn: conn, ch: ch, exchange: exchange}, nil
}

func (a *AMQPSink) Name() string { return "amqp" }

func routingKey(status models.Status) string {
	return "ride.status." + strings.ToLower(string(status))
}

func (a *AMQPSink) Publish(ctx context.Context, ev models.RideEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to marshal ride event: %w", err)
	}
	// channels are not safe for concurrent publishing
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.ch.PublishWithContext(
		ctx,
		a.exchange,
		routingKey(ev.Status),
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Timestamp:    ev.At,
			Type:         ev.Event,
			Body:         body,
		},
	); err != nil {
		return fmt.Errorf("failed to publish ride event: %w", err)
	}
	return nil
}

func (a *AMQPSink) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.ch != nil {
		_ = a.ch.Close()
	}
	if a.conn != nil {
		return a.conn.Close()
	}
	return nil
}
