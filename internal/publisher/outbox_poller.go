// Package publisher relays the order status outbox to Kafka.
package publisher

import (
	"context"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const DefaultTopic = "order-status-events"

type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

type OutboxPoller struct {
	timeout     time.Duration
	eventTick   time.Duration
	batchSize   int
	maxAttempts int
	repo        r.OutboxRepository
	writer      MessageWriter
	logger      *zap.Logger
}

type PollerConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func NewOutboxPoller(repo r.OutboxRepository, writer MessageWriter, cfg PollerConfig, logger *zap.Logger) *OutboxPoller {
	p := &OutboxPoller{
		timeout:     5 * time.Second,
		eventTick:   cfg.Interval,
		batchSize:   cfg.BatchSize,
		maxAttempts: cfg.MaxAttempts,
		repo:        repo,
		writer:      writer,
		logger:      logger,
	}
	if p.eventTick <= 0 {
		p.eventTick = time.Second
	}
	if p.batchSize <= 0 {
		p.batchSize = 100
	}
	if p.maxAttempts <= 0 {
		p.maxAttempts = 5
	}
	return p
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
}

func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	defer eventTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	events, err := p.repo.GetUnprocessedEvents(ctx, p.batchSize, p.maxAttempts)
	if err != nil {
		p.logger.Error("failed to fetch outbox events", zap.Error(err))
		return
	}

	for _, event := range events {
		if err := p.publishToKafka(ctx, event); err != nil {
			p.recordFailure(ctx, event, err)
			continue
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			// the event is published again on the next tick; consumers dedupe by order id and status
			p.logger.Error("failed to mark event as processed", zap.Int64("event_id", event.ID), zap.Error(err))
		}
	}
}

func (p *OutboxPoller) recordFailure(ctx context.Context, event *domain.StatusEvent, cause error) {
	if err := p.repo.MarkEventFailed(ctx, event.ID); err != nil {
		p.logger.Error("failed to record outbox failure", zap.Int64("event_id", event.ID), zap.Error(err))
		return
	}

	fields := []zap.Field{
		zap.Int64("event_id", event.ID),
		zap.String("order_id", event.OrderID.String()),
		zap.Int("attempt", event.Attempts+1),
		zap.Error(cause),
	}
	if event.Attempts+1 >= p.maxAttempts {
		p.logger.Error("outbox event dead, giving up", fields...)
		return
	}
	p.logger.Warn("failed to publish outbox event", fields...)
}

func (p *OutboxPoller) publishToKafka(ctx context.Context, event *domain.StatusEvent) error {
	writeCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	msg := kafka.Message{
		Key:   []byte(event.OrderID.String()), // order id keeps one order's events in sequence
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	}
	return p.writer.WriteMessages(writeCtx, msg)
}
