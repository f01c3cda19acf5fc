// Package store keeps every repository in process memory. It backs the
// "memory" storage driver and the service tests.
package store

import (
	"cmp"
	"context"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
)

type couponUsage struct {
	code   string
	userID int64
}

// MemoryStore implements the cart, coupon, order, outbox and catalog repositories.
type MemoryStore struct {
	mu       sync.RWMutex
	carts    map[int64]*domain.Cart
	coupons  map[string]*domain.Coupon
	holds    map[uuid.UUID]*domain.CouponHold
	usages   map[uuid.UUID]couponUsage // orderID -> consumed redemption
	orders   map[uuid.UUID]*domain.Order
	events   []*domain.StatusEvent
	products map[int64]*domain.Product
	nextID   int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		carts:    make(map[int64]*domain.Cart),
		coupons:  make(map[string]*domain.Coupon),
		holds:    make(map[uuid.UUID]*domain.CouponHold),
		usages:   make(map[uuid.UUID]couponUsage),
		orders:   make(map[uuid.UUID]*domain.Order),
		products: make(map[int64]*domain.Product),
	}
}

// SetProduct seeds the catalog.
func (s *MemoryStore) SetProduct(p *domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.products[p.ID] = &cp
}

func (s *MemoryStore) GetAllProducts(_ context.Context) ([]*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	products := make([]*domain.Product, 0, len(s.products))
	for _, p := range s.products {
		cp := *p
		products = append(products, &cp)
	}
	slices.SortFunc(products, func(a, b *domain.Product) int { return cmp.Compare(a.ID, b.ID) })
	return products, nil
}

func (s *MemoryStore) GetProduct(_ context.Context, id int64) (*domain.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.products[id]
	if !ok {
		return nil, r.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) GetCart(_ context.Context, userID int64) (*domain.Cart, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cart, ok := s.carts[userID]
	if !ok {
		return nil, r.ErrCartNotFound
	}
	return cart.Clone(), nil
}

func (s *MemoryStore) SaveCart(_ context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.carts[cart.UserID]
	switch {
	case !ok && cart.Version != 0:
		return r.ErrVersionConflict
	case ok && current.Version != cart.Version:
		return r.ErrVersionConflict
	}

	now := time.Now()
	if cart.CreatedAt.IsZero() {
		cart.CreatedAt = now
	}
	cart.UpdatedAt = now
	cart.Version++
	s.carts[cart.UserID] = cart.Clone()
	return nil
}

func (s *MemoryStore) GetCoupon(_ context.Context, code string) (*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.coupons[domain.NormalizeCode(code)]
	if !ok {
		return nil, r.ErrCouponNotFound
	}
	return cloneCoupon(c), nil
}

func (s *MemoryStore) CreateCoupon(_ context.Context, c *domain.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	code := domain.NormalizeCode(c.Code)
	if _, exists := s.coupons[code]; exists {
		return r.ErrDuplicateCoupon
	}
	cp := cloneCoupon(c)
	cp.Code = code
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now()
	}
	s.coupons[code] = cp
	return nil
}

func (s *MemoryStore) GetUsage(_ context.Context, code string, userID int64, now time.Time) (domain.CouponUsage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	code = domain.NormalizeCode(code)
	var usage domain.CouponUsage
	if c, ok := s.coupons[code]; ok {
		usage.Used = c.UsedCount
	}
	for _, u := range s.usages {
		if u.code == code && u.userID == userID {
			usage.UsedByUser++
		}
	}
	for _, h := range s.holds {
		if h.Code != code || !h.ExpiresAt.After(now) {
			continue
		}
		usage.Held++
		if h.UserID == userID {
			usage.HeldByUser++
		}
	}
	return usage, nil
}

func (s *MemoryStore) ListCouponsForUser(_ context.Context, userID int64) ([]*domain.Coupon, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var coupons []*domain.Coupon
	for _, c := range s.coupons {
		if c.Active && c.OwnerUserID != nil && *c.OwnerUserID == userID {
			coupons = append(coupons, cloneCoupon(c))
		}
	}
	slices.SortFunc(coupons, func(a, b *domain.Coupon) int { return strings.Compare(a.Code, b.Code) })
	return coupons, nil
}

func (s *MemoryStore) DeactivateUserCoupons(_ context.Context, userID int64, codePrefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range s.coupons {
		if c.OwnerUserID != nil && *c.OwnerUserID == userID && strings.HasPrefix(c.Code, codePrefix) {
			c.Active = false
		}
	}
	return nil
}

func (s *MemoryStore) ReleaseExpiredHolds(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var released int64
	for id, h := range s.holds {
		if !h.ExpiresAt.After(now) {
			delete(s.holds, id)
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) CreateOrder(_ context.Context, order *domain.Order, hold *domain.CouponHold) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if hold != nil && !s.holdFits(hold, time.Now()) {
		return r.ErrCouponExhausted
	}
	s.orders[order.ID] = cloneOrder(order)
	if hold != nil {
		h := *hold
		s.holds[hold.OrderID] = &h
	}
	return nil
}

func (s *MemoryStore) holdFits(hold *domain.CouponHold, now time.Time) bool {
	c, ok := s.coupons[hold.Code]
	if !ok {
		return false
	}
	used, byUser := c.UsedCount, 0
	for _, u := range s.usages {
		if u.code == hold.Code && u.userID == hold.UserID {
			byUser++
		}
	}
	for _, h := range s.holds {
		if h.Code != hold.Code || !h.ExpiresAt.After(now) {
			continue
		}
		used++
		if h.UserID == hold.UserID {
			byUser++
		}
	}
	if c.UsageLimit > 0 && used >= c.UsageLimit {
		return false
	}
	return c.PerUserLimit == 0 || byUser < c.PerUserLimit
}

func (s *MemoryStore) GetOrder(_ context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, r.ErrOrderNotFound
	}
	return cloneOrder(o), nil
}

func (s *MemoryStore) ListOrdersByUser(_ context.Context, userID int64) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []*domain.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, cloneOrder(o))
		}
	}
	slices.SortFunc(orders, func(a, b *domain.Order) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return orders, nil
}

func (s *MemoryStore) SetPaymentSession(_ context.Context, id uuid.UUID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return r.ErrOrderNotFound
	}
	o.PaymentSessionID = sessionID
	return nil
}

func (s *MemoryStore) ApplyTransition(_ context.Context, w r.TransitionWrite) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.orders[w.Order.ID]
	if !ok {
		return r.ErrOrderNotFound
	}
	if current.Version != w.ExpectedVersion {
		return r.ErrVersionConflict
	}

	switch w.CouponEffect {
	case r.CouponEffectConsume:
		s.consumeHold(w.Order)
	case r.CouponEffectRelease:
		delete(s.holds, w.Order.ID)
	}

	// same columns as the SQL update; fields such as the payment session stay as stored
	next := cloneOrder(w.Order)
	current.Status = next.Status
	current.Version = next.Version
	current.TrackingNumber = next.TrackingNumber
	current.Transitions = next.Transitions
	current.UpdatedAt = next.UpdatedAt
	if w.Event != nil {
		s.nextID++
		ev := *w.Event
		ev.ID = s.nextID
		s.events = append(s.events, &ev)
	}
	return nil
}

// consumeHold counts the redemption once per order id.
func (s *MemoryStore) consumeHold(order *domain.Order) {
	delete(s.holds, order.ID)
	code := order.Snapshot.CouponCode
	if code == "" {
		return
	}
	if _, done := s.usages[order.ID]; done {
		return
	}
	s.usages[order.ID] = couponUsage{code: code, userID: order.UserID}
	if c, ok := s.coupons[code]; ok {
		c.UsedCount++
	}
}

func (s *MemoryStore) GetUnprocessedEvents(_ context.Context, limit int, maxAttempts int) ([]*domain.StatusEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var events []*domain.StatusEvent
	for _, ev := range s.events {
		if ev.ProcessedAt != nil || ev.Attempts >= maxAttempts {
			continue
		}
		cp := *ev
		events = append(events, &cp)
		if len(events) == limit {
			break
		}
	}
	return events, nil
}

func (s *MemoryStore) MarkEventAsProcessed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ID == id {
			now := time.Now()
			ev.ProcessedAt = &now
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) MarkEventFailed(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range s.events {
		if ev.ID == id {
			ev.Attempts++
			return nil
		}
	}
	return nil
}

// HeldCoupons returns the number of live holds, for tests and diagnostics.
func (s *MemoryStore) HeldCoupons() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.holds)
}

func cloneCoupon(c *domain.Coupon) *domain.Coupon {
	cp := *c
	cp.ProductIDs = slices.Clone(c.ProductIDs)
	if c.OwnerUserID != nil {
		owner := *c.OwnerUserID
		cp.OwnerUserID = &owner
	}
	return &cp
}

func cloneOrder(o *domain.Order) *domain.Order {
	cp := *o
	cp.Snapshot.Items = slices.Clone(o.Snapshot.Items)
	cp.Transitions = slices.Clone(o.Transitions)
	return &cp
}
