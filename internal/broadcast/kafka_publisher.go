package broadcast

import (
	"context"
	"fmt"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the part of *kafka.Writer the publishers need.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaPublisher keys each message by channel so one order's events stay on one partition.
type KafkaPublisher struct {
	writer MessageWriter
}

func NewKafkaPublisher(writer MessageWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

func (p *KafkaPublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	msg := kafka.Message{
		Key:   []byte(channel),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka publish failed: %w", err)
	}
	return nil
}
