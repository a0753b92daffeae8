package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"github.com/example/ride-matchmaking/internal/models"
)

// KafkaSink streams ride events to a topic keyed by ride id, so all updates
// of one ride land on the same partition in order.
type KafkaSink struct {
	writer *kafka.Writer
}

func NewKafkaSink(brokers []string, topic string, logger *slog.Logger) *KafkaSink {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.Hash{}, Async: true})
	w.Completion = func(messages []kafka.Message, err error) {
		if err != nil && logger != nil {
			logger.Warn("kafka ride event write failed", "topic", topic, "messages", len(messages), "error", err)
		}
	}
	return &KafkaSink{writer: w}
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Publish(ctx context.Context, ev models.RideEvent) error {
	msg, err := rideEventMessage(ev)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, msg)
}

func rideEventMessage(ev models.RideEvent) (kafka.Message, error) {
	b, err := json.Marshal(ev)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:     []byte(ev.RideID),
		Value:   b,
		Time:    ev.At,
		Headers: []kafka.Header{{Key: "event", Value: []byte(ev.Event)}},
	}, nil
}

func (k *KafkaSink) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}
