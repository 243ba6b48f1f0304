package events

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
)

// Publisher forwards processor events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, key string, value []byte) error
	Close() error
}

type kafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher writes to topic on the given brokers. Messages are keyed by
// event id so redeliveries of one event land on the same partition.
func NewKafkaPublisher(brokers []string, topic string) (Publisher, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("no kafka brokers configured")
	}
	if topic == "" {
		return nil, fmt.Errorf("no kafka topic configured")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		WriteTimeout: 5 * time.Second,
	}
	return kafkaPublisher{writer: w}, nil
}

func (p kafkaPublisher) Publish(ctx context.Context, key string, value []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: value})
}

func (p kafkaPublisher) Close() error {
	return p.writer.Close()
}

type nopPublisher struct{}

// Nop discards every message.
func Nop() Publisher { return nopPublisher{} }

func (nopPublisher) Publish(context.Context, string, []byte) error { return nil }
func (nopPublisher) Close() error                                  { return nil }
