package broadcast

import (
	"context"

	"go.uber.org/zap"
)

// LogPublisher writes events to the log. Development only.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	p.logger.Info("broadcast", zap.String("channel", channel), zap.ByteString("payload", payload))
	return nil
}
