package coupon

import (
	"context"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHoldSweeper_ReleasesExpired(t *testing.T) {
	s := seed(t)
	ctx := context.Background()
	order := domain.NewPendingOrder(1, domain.PricedCart{CouponCode: "X"}, now)
	require.NoError(t, s.CreateOrder(ctx, order, &domain.CouponHold{
		OrderID: order.ID, Code: "X", UserID: 1, ExpiresAt: now.Add(time.Minute),
	}))

	sweeper := NewHoldSweeper(s, time.Millisecond, zap.NewNop())
	sweeper.now = func() time.Time { return now.Add(2 * time.Minute) }
	sweeper.sweep(ctx)

	assert.Equal(t, 0, s.HeldCoupons())
}

func TestHoldSweeper_RunStopsOnCancel(t *testing.T) {
	sweeper := NewHoldSweeper(seed(t), time.Millisecond, zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
