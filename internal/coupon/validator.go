package coupon

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
)

type Validator struct {
	repo r.CouponRepository
}

func NewValidator(repo r.CouponRepository) *Validator {
	return &Validator{repo: repo}
}

// Validate checks the code against the cart and user at now and returns the
// coupon to price with. Rejections are *domain.CouponError. Counters are only read.
func (v *Validator) Validate(ctx context.Context, code string, cart *domain.Cart, userID int64, now time.Time) (*domain.Coupon, error) {
	code = domain.NormalizeCode(code)

	c, err := v.repo.GetCoupon(ctx, code)
	if errors.Is(err, r.ErrCouponNotFound) {
		return nil, &domain.CouponError{Kind: domain.CouponNotFound, Code: code}
	}
	if err != nil {
		return nil, fmt.Errorf("load coupon: %w", err)
	}

	// coupons owned by someone else are indistinguishable from unknown ones
	if !c.Active || !c.OwnedBy(userID) {
		return nil, &domain.CouponError{Kind: domain.CouponNotFound, Code: code}
	}
	if !c.ActiveAt(now) {
		return nil, &domain.CouponError{Kind: domain.CouponExpired, Code: code}
	}
	if !c.AppliesTo(cart.ProductIDs()) {
		return nil, &domain.CouponError{Kind: domain.CouponNotApplicable, Code: code}
	}

	if c.UsageLimit > 0 || c.PerUserLimit > 0 {
		usage, err := v.repo.GetUsage(ctx, code, userID, now)
		if err != nil {
			return nil, fmt.Errorf("load coupon usage: %w", err)
		}
		if c.UsageLimit > 0 && usage.Used+usage.Held >= c.UsageLimit {
			return nil, &domain.CouponError{Kind: domain.CouponUsageExceeded, Code: code}
		}
		if c.PerUserLimit > 0 && usage.UsedByUser+usage.HeldByUser >= c.PerUserLimit {
			return nil, &domain.CouponError{Kind: domain.CouponUsageExceeded, Code: code}
		}
	}

	if cart.Subtotal() < c.MinimumSubtotal {
		return nil, &domain.CouponError{Kind: domain.CouponMinimumNotMet, Code: code}
	}

	return c, nil
}
