package pricing

import (
	"testing"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func cartWith(items ...domain.CartItem) *domain.Cart {
	return &domain.Cart{UserID: 1, Items: items}
}

func coupon(pct string) *domain.Coupon {
	return &domain.Coupon{Code: "TEST", DiscountPercent: decimal.RequireFromString(pct)}
}

func TestPrice_EmptyCart(t *testing.T) {
	priced := Price(cartWith(), coupon("50"), "usd")

	assert.Equal(t, int64(0), priced.Subtotal)
	assert.Equal(t, int64(0), priced.Discount)
	assert.Equal(t, int64(0), priced.FinalTotal)
	assert.Empty(t, priced.Items)
}

func TestPrice_NoCoupon_FinalEqualsSubtotal(t *testing.T) {
	carts := []*domain.Cart{
		cartWith(domain.CartItem{ProductID: 1, UnitPrice: 1, Quantity: 1}),
		cartWith(domain.CartItem{ProductID: 1, UnitPrice: 999, Quantity: 3}, domain.CartItem{ProductID: 2, UnitPrice: 12345, Quantity: 1}),
	}

	for _, c := range carts {
		priced := Price(c, nil, "usd")
		assert.Equal(t, c.Subtotal(), priced.Subtotal)
		assert.Equal(t, priced.Subtotal, priced.FinalTotal)
		assert.Equal(t, int64(0), priced.Discount)
		assert.Empty(t, priced.CouponCode)
	}
}

func TestPrice_FifteenPercentOfTenThousand(t *testing.T) {
	c := cartWith(domain.CartItem{ProductID: 1, UnitPrice: 2500, Quantity: 4})

	priced := Price(c, coupon("15"), "usd")

	assert.Equal(t, int64(10000), priced.Subtotal)
	assert.Equal(t, int64(1500), priced.Discount)
	assert.Equal(t, int64(8500), priced.FinalTotal)
	assert.Equal(t, "TEST", priced.CouponCode)
	assert.Equal(t, int64(10000), priced.Items[0].LineTotal)
}

func TestPrice_DiscountFormulaHolds(t *testing.T) {
	subtotals := []int64{1, 3, 99, 101, 333, 10000, 123457}
	pcts := []string{"0", "1", "12.5", "33", "50", "99.9", "100"}

	for _, s := range subtotals {
		for _, p := range pcts {
			c := cartWith(domain.CartItem{ProductID: 1, UnitPrice: s, Quantity: 1})
			priced := Price(c, coupon(p), "usd")

			expected := decimal.NewFromInt(s).Mul(decimal.RequireFromString(p)).Div(decimal.NewFromInt(100)).Round(0).IntPart()
			assert.Equal(t, s-expected, priced.FinalTotal, "subtotal %d pct %s", s, p)
			assert.GreaterOrEqual(t, priced.FinalTotal, int64(0))
		}
	}
}

func TestDiscount_RoundsHalfAwayFromZero(t *testing.T) {
	// 5 * 10% = 0.5
	assert.Equal(t, int64(1), Discount(5, decimal.NewFromInt(10)))
	// 14 * 10% = 1.4
	assert.Equal(t, int64(1), Discount(14, decimal.NewFromInt(10)))
	assert.Equal(t, int64(0), Discount(0, decimal.NewFromInt(10)))
}

func TestPrice_FullDiscountClampsAtZero(t *testing.T) {
	c := cartWith(domain.CartItem{ProductID: 1, UnitPrice: 777, Quantity: 1})

	priced := Price(c, coupon("100"), "usd")

	assert.Equal(t, int64(777), priced.Discount)
	assert.Equal(t, int64(0), priced.FinalTotal)
}

func TestPrice_IsDeterministic(t *testing.T) {
	c := cartWith(domain.CartItem{ProductID: 1, UnitPrice: 1234, Quantity: 2})
	assert.Equal(t, Price(c, coupon("7"), "usd"), Price(c, coupon("7"), "usd"))
}
