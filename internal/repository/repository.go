package repository

import (
	"context"
	"errors"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/google/uuid"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrCouponNotFound  = errors.New("coupon not found")
	ErrOrderNotFound   = errors.New("order not found")
	ErrProductNotFound = errors.New("product not found")
	ErrDuplicateCoupon = errors.New("coupon with this code already exists")
	ErrVersionConflict = errors.New("version conflict")
	// ErrCouponExhausted means a hold would exceed the coupon's limits.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

// CartRepository stores carts under an optimistic version.
// SaveCart writes only if the stored version still equals cart.Version and
// bumps cart.Version on success. Version 0 means the cart was never stored.
type CartRepository interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
	SaveCart(ctx context.Context, cart *domain.Cart) error
}

type CouponRepository interface {
	GetCoupon(ctx context.Context, code string) (*domain.Coupon, error)
	CreateCoupon(ctx context.Context, coupon *domain.Coupon) error
	// GetUsage counts consumed redemptions plus holds that have not expired at now.
	GetUsage(ctx context.Context, code string, userID int64, now time.Time) (domain.CouponUsage, error)
	ListCouponsForUser(ctx context.Context, userID int64) ([]*domain.Coupon, error)
	DeactivateUserCoupons(ctx context.Context, userID int64, codePrefix string) error
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

type CouponEffect int

const (
	CouponEffectNone CouponEffect = iota
	// CouponEffectConsume turns the order's hold into a counted redemption, once per order.
	CouponEffectConsume
	CouponEffectRelease
)

// TransitionWrite is everything one accepted status change persists atomically.
type TransitionWrite struct {
	Order           *domain.Order
	ExpectedVersion int64
	Transition      domain.StatusTransition
	CouponEffect    CouponEffect
	Event           *domain.StatusEvent
}

type OrderRepository interface {
	// CreateOrder stores a pending order and its coupon hold, if any, in one transaction.
	// It fails with ErrCouponExhausted when the hold no longer fits the coupon's limits.
	CreateOrder(ctx context.Context, order *domain.Order, hold *domain.CouponHold) error
	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
	SetPaymentSession(ctx context.Context, id uuid.UUID, sessionID string) error
	// ApplyTransition fails with ErrVersionConflict when the order moved since it was read.
	ApplyTransition(ctx context.Context, write TransitionWrite) error
}

type OutboxRepository interface {
	GetUnprocessedEvents(ctx context.Context, limit int, maxAttempts int) ([]*domain.StatusEvent, error)
	MarkEventAsProcessed(ctx context.Context, id int64) error
	MarkEventFailed(ctx context.Context, id int64) error
}

type ProductCatalog interface {
	GetAllProducts(ctx context.Context) ([]*domain.Product, error)
	GetProduct(ctx context.Context, id int64) (*domain.Product, error)
}
