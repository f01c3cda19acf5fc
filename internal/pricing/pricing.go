// Package pricing turns carts into priced carts. Everything here is pure.
package pricing

import (
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Price computes subtotal, discount and final total in minor units.
// The coupon must already have passed validation; nil means no discount.
func Price(cart *domain.Cart, coupon *domain.Coupon, currency string) domain.PricedCart {
	priced := domain.PricedCart{
		Items:           make([]domain.PricedItem, 0, len(cart.Items)),
		DiscountPercent: decimal.Zero,
		Currency:        currency,
	}

	for _, item := range cart.Items {
		line := item.LineTotal()
		priced.Items = append(priced.Items, domain.PricedItem{
			ProductID: item.ProductID,
			Name:      item.Name,
			UnitPrice: item.UnitPrice,
			Quantity:  item.Quantity,
			LineTotal: line,
		})
		priced.Subtotal += line
	}

	if coupon != nil {
		priced.CouponCode = coupon.Code
		priced.DiscountPercent = coupon.DiscountPercent
		priced.Discount = Discount(priced.Subtotal, coupon.DiscountPercent)
	}

	priced.FinalTotal = max(priced.Subtotal-priced.Discount, 0)
	return priced
}

// Discount is round(subtotal * pct / 100), half away from zero.
func Discount(subtotal int64, pct decimal.Decimal) int64 {
	if subtotal <= 0 || !pct.IsPositive() {
		return 0
	}
	return decimal.NewFromInt(subtotal).Mul(pct).Div(hundred).Round(0).IntPart()
}
