package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeCode(t *testing.T) {
	assert.Equal(t, "SAVE15", NormalizeCode("  save15 "))
}

func TestCoupon_ActiveAt_InclusiveWindow(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)
	c := &Coupon{StartsAt: start, EndsAt: end}

	assert.True(t, c.ActiveAt(start))
	assert.True(t, c.ActiveAt(end))
	assert.False(t, c.ActiveAt(start.Add(-time.Second)))
	assert.False(t, c.ActiveAt(end.Add(time.Second)))
}

func TestCoupon_AppliesTo(t *testing.T) {
	open := &Coupon{}
	scoped := &Coupon{ProductIDs: []int64{3, 4}}

	assert.True(t, open.AppliesTo(nil))
	assert.True(t, scoped.AppliesTo([]int64{1, 4}))
	assert.False(t, scoped.AppliesTo([]int64{1, 2}))
}

func TestCoupon_Validate(t *testing.T) {
	now := time.Now()
	c := &Coupon{Code: "X", DiscountPercent: decimal.NewFromInt(101), StartsAt: now, EndsAt: now.Add(time.Hour)}

	var ve *ValidationError
	assert.True(t, errors.As(c.Validate(), &ve))
	assert.Equal(t, "discount_percent", ve.Field)

	c.DiscountPercent = decimal.NewFromInt(10)
	assert.NoError(t, c.Validate())
}

func TestCouponError_IsValidationError(t *testing.T) {
	err := error(&CouponError{Kind: CouponExpired, Code: "OLD"})

	var ve *ValidationError
	assert.True(t, errors.As(err, &ve))
	assert.True(t, IsCouponError(err, CouponExpired))
	assert.False(t, IsCouponError(err, CouponNotFound))
}
