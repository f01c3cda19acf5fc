package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"
)

type RetryConfig struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type BreakerConfig struct {
	ConsecutiveFailures uint32
	OpenTimeout         time.Duration
}

// ResilientGateway retries session creation with exponential backoff behind a
// circuit breaker. Lookups and webhooks pass straight through.
type ResilientGateway struct {
	Gateway
	breaker *gobreaker.CircuitBreaker[*Session]
	retry   RetryConfig
	sleep   func(ctx context.Context, d time.Duration) error
	logger  *zap.Logger
}

func NewResilientGateway(next Gateway, retry RetryConfig, breaker BreakerConfig, logger *zap.Logger) *ResilientGateway {
	failures := max(breaker.ConsecutiveFailures, 1)
	cb := gobreaker.NewCircuitBreaker[*Session](gobreaker.Settings{
		Name:    "payment-session",
		Timeout: breaker.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		// rejected requests say nothing about provider health
		IsSuccessful: func(err error) bool {
			return err == nil || IsPermanent(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &ResilientGateway{
		Gateway: next,
		breaker: cb,
		retry:   retry,
		sleep:   sleepCtx,
		logger:  logger,
	}
}

func (g *ResilientGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	backoff := g.retry.InitialBackoff
	var lastErr error

	for attempt := 0; attempt <= g.retry.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := g.sleep(ctx, backoff); err != nil {
				return nil, fmt.Errorf("create session retry aborted: %w", errors.Join(err, lastErr))
			}
			backoff = min(backoff*2, g.retry.MaxBackoff)
		}

		session, err := g.breaker.Execute(func() (*Session, error) {
			return g.Gateway.CreateSession(ctx, req)
		})
		if err == nil {
			return session, nil
		}
		lastErr = err

		if IsPermanent(err) || errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			break
		}
		g.logger.Warn("payment session attempt failed",
			zap.String("order_id", req.OrderID.String()),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
