package checkout

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/coupon"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/payment"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/fjod/go_cart/storefront/internal/store"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const userID = int64(7)

type fixture struct {
	orch    *Orchestrator
	mem     *store.MemoryStore
	carts   *cart.CartService
	gateway *mockGateway
	machine *order.StatusMachine
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := store.NewMemoryStore()
	mem.SetProduct(&domain.Product{ID: 1, Name: "Keyboard", PriceCents: 5000})
	mem.SetProduct(&domain.Product{ID: 2, Name: "Monitor", PriceCents: 25000})

	now := time.Now().UTC()
	for _, c := range []*domain.Coupon{
		{Code: "SAVE15", DiscountPercent: decimal.NewFromInt(15), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
		{Code: "FREE", DiscountPercent: decimal.NewFromInt(100), StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
		{Code: "ONCE", DiscountPercent: decimal.NewFromInt(10), UsageLimit: 1, StartsAt: now.Add(-time.Hour), EndsAt: now.Add(time.Hour), Active: true},
	} {
		require.NoError(t, mem.CreateCoupon(ctx, c))
	}

	validator := coupon.NewValidator(mem)
	carts := cart.NewCartService(mem, mem, cache.NoopCartCache{}, validator, "usd", zap.NewNop())
	gifts := coupon.NewService(mem, validator, coupon.GiftConfig{
		Threshold: 20000,
		Percent:   decimal.NewFromInt(10),
		Validity:  30 * 24 * time.Hour,
	}, zap.NewNop())
	machine := order.NewStatusMachine(mem, nopBroadcaster{}, zap.NewNop())
	gw := newMockGateway()

	orch := NewOrchestrator(carts, validator, mem, gw, machine, &cache.MemoryIdempotencyStore{}, gifts,
		Config{Currency: "usd", HoldTTL: 30 * time.Minute, PaymentTimeout: time.Second}, zap.NewNop())
	machine.OnTransition(orch.AfterPaid)

	return &fixture{orch: orch, mem: mem, carts: carts, gateway: gw, machine: machine}
}

func (f *fixture) fillCart(t *testing.T, productID int64, qty int, code string) {
	t.Helper()
	ctx := context.Background()
	view, err := f.carts.AddItem(ctx, userID, productID, qty)
	require.NoError(t, err)
	if code != "" {
		_, err = f.carts.ApplyCoupon(ctx, userID, code, view.Cart.Version)
		require.NoError(t, err)
	}
}

func TestBeginCheckout_FreezesServerPrice(t *testing.T) {
	f := setup(t)
	f.fillCart(t, 1, 2, "SAVE15")

	res, err := f.orch.BeginCheckout(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, res.Order.Status)
	assert.Equal(t, int64(10000), res.Order.Snapshot.Subtotal)
	assert.Equal(t, int64(1500), res.Order.Snapshot.Discount)
	assert.Equal(t, int64(8500), res.Order.Snapshot.FinalTotal)
	require.NotNil(t, res.PaymentSession)
	assert.Equal(t, res.PaymentSession.ID, res.Order.PaymentSessionID)

	require.Len(t, f.gateway.requests, 1)
	req := f.gateway.requests[0]
	assert.Equal(t, int64(8500), req.Amount)
	assert.Equal(t, "usd", req.Currency)
	assert.Equal(t, "SAVE15", req.CouponCode)
	assert.Equal(t, res.Order.ID, req.OrderID)

	stored, err := f.mem.GetOrder(context.Background(), res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, res.PaymentSession.ID, stored.PaymentSessionID)
	assert.Equal(t, 1, f.mem.HeldCoupons())
}

func TestBeginCheckout_EmptyCart(t *testing.T) {
	f := setup(t)

	_, err := f.orch.BeginCheckout(context.Background(), userID)

	assert.ErrorIs(t, err, domain.ErrEmptyCart)
	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
	assert.Empty(t, f.gateway.requests)
}

func TestBeginCheckout_RevalidatesCoupon(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 1, "ONCE")

	// another order holds the only redemption
	other := domain.NewPendingOrder(99, domain.PricedCart{CouponCode: "ONCE"}, time.Now())
	require.NoError(t, f.mem.CreateOrder(ctx, other, &domain.CouponHold{
		OrderID: other.ID, Code: "ONCE", UserID: 99, ExpiresAt: time.Now().Add(time.Hour),
	}))

	_, err := f.orch.BeginCheckout(ctx, userID)

	assert.True(t, domain.IsCouponError(err, domain.CouponUsageExceeded))
	assert.Empty(t, f.gateway.requests)
}

func TestBeginCheckout_PaymentSessionFailure(t *testing.T) {
	f := setup(t)
	f.fillCart(t, 1, 1, "")
	f.gateway.createErr = errors.New("stripe unavailable")

	_, err := f.orch.BeginCheckout(context.Background(), userID)

	var ext *domain.ExternalServiceError
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "payment_session", ext.Op)
	assert.Equal(t, "stripe", ext.Service)

	orders, err := f.mem.ListOrdersByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, domain.OrderStatusPending, orders[0].Status)
}

func TestBeginCheckout_FreeOrderIsPaidImmediately(t *testing.T) {
	f := setup(t)
	f.fillCart(t, 1, 1, "FREE")

	res, err := f.orch.BeginCheckout(context.Background(), userID)

	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, res.Order.Status)
	assert.Nil(t, res.PaymentSession)
	assert.Empty(t, f.gateway.requests)
}

func TestHandlePaymentOutcome_ConfirmsOnceAndClearsCart(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 2, "SAVE15")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	outcome := payment.Outcome{EventID: "evt_1", OrderID: res.Order.ID, SessionID: res.PaymentSession.ID, Paid: true}
	paid, err := f.orch.HandlePaymentOutcome(ctx, outcome)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)

	replayed, err := f.orch.HandlePaymentOutcome(ctx, outcome)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, replayed.Status)

	// a new event id for the same payment is absorbed by the machine
	outcome.EventID = "evt_2"
	_, err = f.orch.HandlePaymentOutcome(ctx, outcome)
	require.NoError(t, err)

	usage, err := f.mem.GetUsage(ctx, "SAVE15", userID, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Used)
	assert.Equal(t, 0, usage.Held)

	c, err := f.carts.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.True(t, c.IsEmpty())
}

func TestHandlePaymentOutcome_FailureThenStrayConfirmation(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 1, "SAVE15")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	failed, err := f.orch.HandlePaymentOutcome(ctx, payment.Outcome{EventID: "evt_f", OrderID: res.Order.ID, Paid: false})
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, failed.Status)
	assert.Equal(t, 0, f.mem.HeldCoupons())

	_, err = f.orch.HandlePaymentOutcome(ctx, payment.Outcome{EventID: "evt_late", OrderID: res.Order.ID, Paid: true})
	var invalid *domain.InvalidTransitionError
	require.ErrorAs(t, err, &invalid)

	stored, err := f.mem.GetOrder(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCancelled, stored.Status)
	c, err := f.carts.GetCart(ctx, userID)
	require.NoError(t, err)
	assert.False(t, c.IsEmpty(), "cart survives a failed payment")
}

func TestHandlePaymentOutcome_RejectsForeignSession(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 1, "")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	_, err = f.orch.HandlePaymentOutcome(ctx, payment.Outcome{OrderID: res.Order.ID, SessionID: "cs_other", Paid: true})

	var ve *domain.ValidationError
	assert.ErrorAs(t, err, &ve)
}

func TestHandlePaymentOutcome_IdempotencyStoreDown(t *testing.T) {
	f := setup(t)
	f.orch.processed = failingIdempotency{}

	_, err := f.orch.HandlePaymentOutcome(context.Background(), payment.Outcome{EventID: "evt_1", Paid: true})

	assert.Error(t, err)
}

func TestAfterPaid_IssuesGiftAboveThreshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 2, 1, "")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	_, err = f.orch.HandlePaymentOutcome(ctx, payment.Outcome{EventID: "evt_1", OrderID: res.Order.ID, Paid: true})
	require.NoError(t, err)

	mine, err := f.mem.ListCouponsForUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.True(t, strings.HasPrefix(mine[0].Code, "GIFT"))
	assert.Len(t, mine[0].Code, 10)
	assert.True(t, mine[0].DiscountPercent.Equal(decimal.NewFromInt(10)))
}

func TestAfterPaid_NoGiftBelowThreshold(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 1, "")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	_, err = f.orch.HandlePaymentOutcome(ctx, payment.Outcome{OrderID: res.Order.ID, Paid: true})
	require.NoError(t, err)

	mine, err := f.mem.ListCouponsForUser(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, mine)
}

func TestConfirmFromRedirect(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 1, "")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)
	sid := res.PaymentSession.ID

	f.gateway.lookup[sid] = &payment.Outcome{OrderID: res.Order.ID, SessionID: sid, Paid: false}
	pending, err := f.orch.ConfirmFromRedirect(ctx, userID, sid)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPending, pending.Status)

	_, err = f.orch.ConfirmFromRedirect(ctx, 12345, sid)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	f.gateway.lookup[sid].Paid = true
	paid, err := f.orch.ConfirmFromRedirect(ctx, userID, sid)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusPaid, paid.Status)

	_, err = f.orch.ConfirmFromRedirect(ctx, userID, "cs_unknown")
	var ext *domain.ExternalServiceError
	assert.ErrorAs(t, err, &ext)
}

type exhaustingOrders struct {
	*store.MemoryStore
}

func (exhaustingOrders) CreateOrder(context.Context, *domain.Order, *domain.CouponHold) error {
	return r.ErrCouponExhausted
}

func TestBeginCheckout_LostRaceForLastRedemption(t *testing.T) {
	f := setup(t)
	f.fillCart(t, 1, 1, "ONCE")
	f.orch.orders = exhaustingOrders{f.mem}

	_, err := f.orch.BeginCheckout(context.Background(), userID)

	assert.True(t, domain.IsCouponError(err, domain.CouponUsageExceeded))
	assert.Empty(t, f.gateway.requests)
}

func TestBeginCheckout_PricesStoredCartNotCachedCopy(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 2, 1, "")
	stale := &domain.Cart{UserID: userID, Version: 9, Items: []domain.CartItem{
		{ProductID: 1, Name: "Keyboard", UnitPrice: 5000, Quantity: 3},
	}}
	validator := coupon.NewValidator(f.mem)
	carts := cart.NewCartService(f.mem, f.mem, frozenCache{cart: stale}, validator, "usd", zap.NewNop())
	orch := NewOrchestrator(carts, validator, f.mem, f.gateway, f.machine, &cache.MemoryIdempotencyStore{}, nil,
		Config{Currency: "usd", HoldTTL: time.Minute}, zap.NewNop())

	res, err := orch.BeginCheckout(ctx, userID)

	require.NoError(t, err)
	require.Len(t, res.Order.Snapshot.Items, 1)
	assert.Equal(t, int64(2), res.Order.Snapshot.Items[0].ProductID)
	assert.Equal(t, int64(25000), res.Order.Snapshot.FinalTotal)
}

func TestAfterPaid_KeepsItemsAddedDuringPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.fillCart(t, 1, 2, "SAVE15")
	res, err := f.orch.BeginCheckout(ctx, userID)
	require.NoError(t, err)

	f.fillCart(t, 2, 1, "")

	_, err = f.orch.HandlePaymentOutcome(ctx, payment.Outcome{
		EventID: "evt_1", OrderID: res.Order.ID, SessionID: res.PaymentSession.ID, Paid: true,
	})
	require.NoError(t, err)

	c, err := f.carts.CurrentCart(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []int64{2}, c.ProductIDs())
	assert.Empty(t, c.CouponCode)
}
