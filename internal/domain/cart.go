package domain

import "time"

// MaxItemQuantity caps the quantity of a single product in a cart.
const MaxItemQuantity = 99

type Cart struct {
	ID         string     `bson:"_id,omitempty" json:"id,omitempty"`
	UserID     int64      `bson:"user_id" json:"user_id"`
	Items      []CartItem `bson:"items" json:"items"`
	CouponCode string     `bson:"coupon_code,omitempty" json:"coupon_code,omitempty"`
	Version    int64      `bson:"version" json:"version"`
	CreatedAt  time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt  time.Time  `bson:"updated_at" json:"updated_at"`
}

// CartItem keeps the unit price the product had when it was added.
type CartItem struct {
	ProductID int64     `bson:"product_id" json:"product_id"`
	Name      string    `bson:"name" json:"name"`
	UnitPrice int64     `bson:"unit_price" json:"unit_price"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

func (i CartItem) LineTotal() int64 {
	return i.UnitPrice * int64(i.Quantity)
}

func (c *Cart) Subtotal() int64 {
	var total int64
	for _, item := range c.Items {
		total += item.LineTotal()
	}
	return total
}

func (c *Cart) IsEmpty() bool {
	return len(c.Items) == 0
}

// ProductIDs returns the ids of all products in the cart, in cart order.
func (c *Cart) ProductIDs() []int64 {
	ids := make([]int64, 0, len(c.Items))
	for _, item := range c.Items {
		ids = append(ids, item.ProductID)
	}
	return ids
}

// AddItem merges quantities when the product is already in the cart.
// The original unit price is kept in that case. A merged quantity above
// MaxItemQuantity is rejected and the cart is left unchanged.
func (c *Cart) AddItem(item CartItem) error {
	for i := range c.Items {
		if c.Items[i].ProductID == item.ProductID {
			merged := c.Items[i].Quantity + item.Quantity
			if merged > MaxItemQuantity {
				return quantityError()
			}
			c.Items[i].Quantity = merged
			return nil
		}
	}
	if item.Quantity > MaxItemQuantity {
		return quantityError()
	}
	c.Items = append(c.Items, item)
	return nil
}

// RemoveQuantity takes up to quantity units of a product out of the cart,
// dropping the line once nothing is left.
func (c *Cart) RemoveQuantity(productID int64, quantity int) {
	for i := range c.Items {
		if c.Items[i].ProductID != productID {
			continue
		}
		if c.Items[i].Quantity > quantity {
			c.Items[i].Quantity -= quantity
			return
		}
		c.Items = append(c.Items[:i], c.Items[i+1:]...)
		return
	}
}

func quantityError() error {
	return &ValidationError{Field: "quantity", Reason: "must not exceed 99 per product"}
}

func (c *Cart) UpdateQuantity(productID int64, quantity int) bool {
	for i := range c.Items {
		if c.Items[i].ProductID == productID {
			c.Items[i].Quantity = quantity
			return true
		}
	}
	return false
}

func (c *Cart) RemoveItem(productID int64) bool {
	for i, item := range c.Items {
		if item.ProductID == productID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (c *Cart) Clone() *Cart {
	cp := *c
	cp.Items = append([]CartItem(nil), c.Items...)
	return &cp
}
