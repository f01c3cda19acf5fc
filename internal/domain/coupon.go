package domain

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Coupon is immutable once issued apart from UsedCount and Active.
// Zero UsageLimit or PerUserLimit means unlimited.
type Coupon struct {
	Code            string
	DiscountPercent decimal.Decimal
	StartsAt        time.Time
	EndsAt          time.Time
	MinimumSubtotal int64
	UsageLimit      int
	PerUserLimit    int
	UsedCount       int
	Active          bool
	OwnerUserID     *int64
	ProductIDs      []int64
	CreatedAt       time.Time
}

// NormalizeCode makes coupon codes case-insensitive.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func (c *Coupon) ActiveAt(now time.Time) bool {
	return !now.Before(c.StartsAt) && !now.After(c.EndsAt)
}

func (c *Coupon) OwnedBy(userID int64) bool {
	return c.OwnerUserID == nil || *c.OwnerUserID == userID
}

// AppliesTo reports whether a product-scoped coupon matches any product in the list.
func (c *Coupon) AppliesTo(productIDs []int64) bool {
	if len(c.ProductIDs) == 0 {
		return true
	}
	for _, id := range productIDs {
		if slices.Contains(c.ProductIDs, id) {
			return true
		}
	}
	return false
}

// Validate checks the fields a new coupon must carry.
func (c *Coupon) Validate() error {
	if NormalizeCode(c.Code) == "" {
		return &ValidationError{Field: "code", Reason: "must not be empty"}
	}
	if c.DiscountPercent.IsNegative() || c.DiscountPercent.GreaterThan(decimal.NewFromInt(100)) {
		return &ValidationError{Field: "discount_percent", Reason: "must be between 0 and 100"}
	}
	if !c.EndsAt.After(c.StartsAt) {
		return &ValidationError{Field: "ends_at", Reason: "must be after starts_at"}
	}
	if c.MinimumSubtotal < 0 || c.UsageLimit < 0 || c.PerUserLimit < 0 {
		return &ValidationError{Field: "limits", Reason: "must not be negative"}
	}
	return nil
}

// CouponUsage is the per-coupon count of consumed and currently held redemptions.
type CouponUsage struct {
	Used       int
	Held       int
	UsedByUser int
	HeldByUser int
}

// CouponHold reserves one redemption for a pending order until it is paid,
// cancelled or expired.
type CouponHold struct {
	OrderID   uuid.UUID
	Code      string
	UserID    int64
	ExpiresAt time.Time
}
