package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaTransport publishes envelopes to a single topic keyed by channel,
// so every channel's events land in one partition in order.
type KafkaTransport struct {
	writer *kafka.Writer
}

func NewKafkaTransport(brokers []string, topic string) *KafkaTransport {
	return &KafkaTransport{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

func (t *KafkaTransport) Name() string { return "kafka" }

func (t *KafkaTransport) Send(ctx context.Context, env Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return t.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(env.Channel),
		Value: value,
	})
}

func (t *KafkaTransport) Close() error {
	return t.writer.Close()
}
