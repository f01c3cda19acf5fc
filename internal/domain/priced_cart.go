package domain

import "github.com/shopspring/decimal"

type PricedItem struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	UnitPrice int64  `json:"unit_price"`
	Quantity  int    `json:"quantity"`
	LineTotal int64  `json:"line_total"`
}

// PricedCart is a computed view of a cart. Orders freeze a copy of it at checkout.
type PricedCart struct {
	Items           []PricedItem    `json:"items"`
	Subtotal        int64           `json:"subtotal"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Discount        int64           `json:"discount"`
	FinalTotal      int64           `json:"final_total"`
	Currency        string          `json:"currency"`
}
