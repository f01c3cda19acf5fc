package coupon

import (
	"context"
	"time"

	r "github.com/fjod/go_cart/storefront/internal/repository"
	"go.uber.org/zap"
)

// HoldSweeper releases coupon holds of checkouts that were never paid or cancelled.
type HoldSweeper struct {
	repo     r.CouponRepository
	interval time.Duration
	now      func() time.Time
	logger   *zap.Logger
}

func NewHoldSweeper(repo r.CouponRepository, interval time.Duration, logger *zap.Logger) *HoldSweeper {
	return &HoldSweeper{repo: repo, interval: interval, now: time.Now, logger: logger}
}

func (s *HoldSweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (s *HoldSweeper) sweep(ctx context.Context) {
	released, err := s.repo.ReleaseExpiredHolds(ctx, s.now())
	if err != nil {
		s.logger.Error("failed to release expired coupon holds", zap.Error(err))
		return
	}
	if released > 0 {
		s.logger.Info("released expired coupon holds", zap.Int64("count", released))
	}
}
