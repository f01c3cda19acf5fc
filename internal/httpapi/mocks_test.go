package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type mockCatalog struct {
	products []*domain.Product
	err      error
}

func (m *mockCatalog) GetAllProducts(context.Context) ([]*domain.Product, error) {
	return m.products, m.err
}

type mockCartService struct {
	view *cart.View
	err  error

	lastProductID int64
	lastQuantity  int
	lastCode      string
	lastVersion   int64
}

func (m *mockCartService) View(context.Context, int64) (*cart.View, error) {
	return m.view, m.err
}

func (m *mockCartService) AddItem(_ context.Context, _ int64, productID int64, quantity int) (*cart.View, error) {
	m.lastProductID, m.lastQuantity = productID, quantity
	return m.view, m.err
}

func (m *mockCartService) UpdateQuantity(_ context.Context, _ int64, productID int64, quantity int) (*cart.View, error) {
	m.lastProductID, m.lastQuantity = productID, quantity
	return m.view, m.err
}

func (m *mockCartService) RemoveItem(_ context.Context, _ int64, productID int64) (*cart.View, error) {
	m.lastProductID = productID
	return m.view, m.err
}

func (m *mockCartService) ApplyCoupon(_ context.Context, _ int64, code string, expectedVersion int64) (*cart.View, error) {
	m.lastCode, m.lastVersion = code, expectedVersion
	return m.view, m.err
}

func (m *mockCartService) RemoveCoupon(context.Context, int64) (*cart.View, error) {
	return m.view, m.err
}

func (m *mockCartService) GetCart(_ context.Context, userID int64) (*domain.Cart, error) {
	if m.view == nil {
		return &domain.Cart{UserID: userID}, m.err
	}
	return m.view.Cart, m.err
}

type mockCouponService struct {
	created    *domain.Coupon
	applicable []*domain.Coupon
	err        error
}

func (m *mockCouponService) Create(_ context.Context, c *domain.Coupon) error {
	if m.err != nil {
		return m.err
	}
	c.Code = domain.NormalizeCode(c.Code)
	m.created = c
	return nil
}

func (m *mockCouponService) ListApplicable(context.Context, int64, *domain.Cart, time.Time) ([]*domain.Coupon, error) {
	return m.applicable, m.err
}

type mockCheckout struct {
	result   *checkout.Result
	order    *domain.Order
	err      error
	outcomes []payment.Outcome
}

func (m *mockCheckout) BeginCheckout(context.Context, int64) (*checkout.Result, error) {
	return m.result, m.err
}

func (m *mockCheckout) HandlePaymentOutcome(_ context.Context, outcome payment.Outcome) (*domain.Order, error) {
	m.outcomes = append(m.outcomes, outcome)
	return m.order, m.err
}

func (m *mockCheckout) ConfirmFromRedirect(context.Context, int64, string) (*domain.Order, error) {
	return m.order, m.err
}

type mockWebhooks struct {
	outcome   *payment.Outcome
	err       error
	signature string
}

func (m *mockWebhooks) ParseWebhook(_ []byte, signature string) (*payment.Outcome, error) {
	m.signature = signature
	return m.outcome, m.err
}

type mockOrders struct {
	byID    map[uuid.UUID]*domain.Order
	applied []domain.OrderEvent
	opts    order.ApplyOptions
	err     error
}

func newMockOrders(orders ...*domain.Order) *mockOrders {
	m := &mockOrders{byID: map[uuid.UUID]*domain.Order{}}
	for _, o := range orders {
		m.byID[o.ID] = o
	}
	return m
}

func (m *mockOrders) ListOrdersByUser(_ context.Context, userID int64) ([]*domain.Order, error) {
	var out []*domain.Order
	for _, o := range m.byID {
		if o.UserID == userID {
			out = append(out, o)
		}
	}
	return out, m.err
}

func (m *mockOrders) Get(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o, nil
}

func (m *mockOrders) Apply(_ context.Context, id uuid.UUID, event domain.OrderEvent, opts order.ApplyOptions) (*domain.Order, error) {
	if m.err != nil {
		return nil, m.err
	}
	o, ok := m.byID[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	to, err := domain.NextStatus(o.Status, event)
	if err != nil {
		return nil, err
	}
	m.applied = append(m.applied, event)
	m.opts = opts
	o.Status = to
	o.TrackingNumber = opts.TrackingNumber
	return o, nil
}

func withUser(r *http.Request, userID int64, roles ...domain.Role) *http.Request {
	return r.WithContext(WithIdentity(r.Context(), Identity{UserID: userID, Roles: roles}))
}

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func sampleView(userID int64) *cart.View {
	c := &domain.Cart{
		UserID:  userID,
		Version: 3,
		Items: []domain.CartItem{
			{ProductID: 1, Name: "Mechanical Keyboard", UnitPrice: 8999, Quantity: 1},
		},
	}
	return &cart.View{
		Cart: c,
		Priced: domain.PricedCart{
			Items: []domain.PricedItem{
				{ProductID: 1, Name: "Mechanical Keyboard", UnitPrice: 8999, Quantity: 1, LineTotal: 8999},
			},
			Subtotal:   8999,
			FinalTotal: 8999,
			Currency:   "usd",
		},
	}
}

func sampleOrder(userID int64, status domain.OrderStatus) *domain.Order {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	o := domain.NewPendingOrder(userID, sampleView(userID).Priced, now)
	o.Status = status
	return o
}
