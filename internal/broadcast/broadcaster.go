// Package broadcast pushes order status changes to per-order realtime channels.
// Delivery is best effort: failures are logged and dropped.
package broadcast

import (
	"context"
	"encoding/json"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const channelPrefix = "order-status."

// Publisher is the realtime transport.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// StatusPayload is the wire format of a status event.
type StatusPayload struct {
	OrderID string             `json:"orderId"`
	Status  domain.OrderStatus `json:"status"`
}

func ChannelName(orderID uuid.UUID) string {
	return channelPrefix + orderID.String()
}

type Broadcaster struct {
	publisher   Publisher
	maxAttempts int
	retryDelay  time.Duration
	timeout     time.Duration
	logger      *zap.Logger
}

func NewBroadcaster(publisher Publisher, maxAttempts int, logger *zap.Logger) *Broadcaster {
	return &Broadcaster{
		publisher:   publisher,
		maxAttempts: max(maxAttempts, 1),
		retryDelay:  50 * time.Millisecond,
		timeout:     2 * time.Second,
		logger:      logger,
	}
}

// Publish sends the status to the order's channel. It never fails the caller.
func (b *Broadcaster) Publish(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus) {
	channel := ChannelName(orderID)
	payload, err := json.Marshal(StatusPayload{OrderID: orderID.String(), Status: status})
	if err != nil {
		b.logger.Error("failed to marshal status payload", zap.String("channel", channel), zap.Error(err))
		return
	}

	for attempt := 1; attempt <= b.maxAttempts; attempt++ {
		pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.timeout)
		err = b.publisher.Publish(pubCtx, channel, payload)
		cancel()
		if err == nil {
			return
		}

		b.logger.Warn("status broadcast failed",
			zap.String("channel", channel),
			zap.Int("attempt", attempt),
			zap.Error(err))
		if attempt < b.maxAttempts {
			time.Sleep(b.retryDelay)
		}
	}

	b.logger.Error("status broadcast dropped",
		zap.String("channel", channel),
		zap.String("status", status.String()))
}
