// Package checkout turns a cart into a pending order with a payment session and
// routes payment outcomes back into the status machine.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cache"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"github.com/fjod/go_cart/storefront/internal/pricing"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Carts interface {
	// CurrentCart reads the stored cart, never a cached copy.
	CurrentCart(ctx context.Context, userID int64) (*domain.Cart, error)
	RemovePurchased(ctx context.Context, userID int64, paid domain.PricedCart) error
}

type CouponValidator interface {
	Validate(ctx context.Context, code string, cart *domain.Cart, userID int64, now time.Time) (*domain.Coupon, error)
}

type GiftIssuer interface {
	IssueGift(ctx context.Context, userID int64, paidTotal int64, now time.Time) (*domain.Coupon, error)
}

type Transitioner interface {
	Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	Apply(ctx context.Context, orderID uuid.UUID, event domain.OrderEvent, opts order.ApplyOptions) (*domain.Order, error)
}

type Config struct {
	Currency       string
	HoldTTL        time.Duration
	PaymentTimeout time.Duration
}

type Result struct {
	Order          *domain.Order
	PaymentSession *payment.Session
}

type Orchestrator struct {
	carts     Carts
	validator CouponValidator
	orders    r.OrderRepository
	gateway   payment.Gateway
	machine   Transitioner
	processed cache.IdempotencyStore
	gifts     GiftIssuer
	cfg       Config
	now       func() time.Time
	logger    *zap.Logger
}

func NewOrchestrator(
	carts Carts,
	validator CouponValidator,
	orders r.OrderRepository,
	gateway payment.Gateway,
	machine Transitioner,
	processed cache.IdempotencyStore,
	gifts GiftIssuer,
	cfg Config,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		carts:     carts,
		validator: validator,
		orders:    orders,
		gateway:   gateway,
		machine:   machine,
		processed: processed,
		gifts:     gifts,
		cfg:       cfg,
		now:       time.Now,
		logger:    logger,
	}
}

// BeginCheckout prices the cart on the server, freezes it into a pending order
// and opens a payment session for the final total.
func (o *Orchestrator) BeginCheckout(ctx context.Context, userID int64) (*Result, error) {
	cart, err := o.carts.CurrentCart(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, fmt.Errorf("%w: %w", domain.ErrEmptyCart, &domain.ValidationError{Field: "cart", Reason: "is empty"})
	}

	now := o.now().UTC()
	var coupon *domain.Coupon
	if cart.CouponCode != "" {
		coupon, err = o.validator.Validate(ctx, cart.CouponCode, cart, userID, now)
		if err != nil {
			return nil, err
		}
	}

	priced := pricing.Price(cart, coupon, o.cfg.Currency)
	pending := domain.NewPendingOrder(userID, priced, now)

	var hold *domain.CouponHold
	if coupon != nil {
		hold = &domain.CouponHold{
			OrderID:   pending.ID,
			Code:      coupon.Code,
			UserID:    userID,
			ExpiresAt: now.Add(o.cfg.HoldTTL),
		}
	}
	if err := o.orders.CreateOrder(ctx, pending, hold); err != nil {
		if errors.Is(err, r.ErrCouponExhausted) {
			// another checkout took the last redemption after validation
			return nil, &domain.CouponError{Kind: domain.CouponUsageExceeded, Code: coupon.Code}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	o.logger.Info("order created",
		zap.String("order_id", pending.ID.String()),
		zap.Int64("user_id", userID),
		zap.Int64("final_total", priced.FinalTotal),
		zap.String("coupon", priced.CouponCode))

	// nothing to charge, so there is no provider session to wait for
	if priced.FinalTotal == 0 {
		paid, err := o.machine.Apply(ctx, pending.ID, domain.EventPaymentConfirmed, order.ApplyOptions{})
		if err != nil {
			return nil, err
		}
		return &Result{Order: paid}, nil
	}

	session, err := o.createSession(ctx, pending)
	if err != nil {
		return nil, err
	}
	if err := o.orders.SetPaymentSession(ctx, pending.ID, session.ID); err != nil {
		return nil, fmt.Errorf("failed to record payment session: %w", err)
	}
	pending.PaymentSessionID = session.ID

	return &Result{Order: pending, PaymentSession: session}, nil
}

func (o *Orchestrator) createSession(ctx context.Context, pending *domain.Order) (*payment.Session, error) {
	if o.cfg.PaymentTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.PaymentTimeout)
		defer cancel()
	}

	session, err := o.gateway.CreateSession(ctx, payment.SessionRequest{
		OrderID:    pending.ID,
		UserID:     pending.UserID,
		Amount:     pending.Snapshot.FinalTotal,
		Currency:   pending.Snapshot.Currency,
		CouponCode: pending.Snapshot.CouponCode,
	})
	if err != nil {
		o.logger.Error("payment session failed",
			zap.String("order_id", pending.ID.String()),
			zap.Error(err))
		return nil, &domain.ExternalServiceError{Service: "stripe", Op: "payment_session", Err: err}
	}
	return session, nil
}

// HandlePaymentOutcome applies a provider callback. Events already seen are
// acknowledged without touching the order.
func (o *Orchestrator) HandlePaymentOutcome(ctx context.Context, outcome payment.Outcome) (*domain.Order, error) {
	if outcome.EventID != "" {
		first, err := o.processed.MarkProcessed(ctx, outcome.EventID)
		if err != nil {
			return nil, fmt.Errorf("failed to check payment event: %w", err)
		}
		if !first {
			o.logger.Info("duplicate payment event ignored",
				zap.String("event_id", outcome.EventID),
				zap.String("order_id", outcome.OrderID.String()))
			return o.machine.Get(ctx, outcome.OrderID)
		}
	}

	updated, err := o.applyOutcome(ctx, outcome)
	if err != nil && outcome.EventID != "" && retryable(err) {
		// let the provider's redelivery through
		if ferr := o.processed.Forget(ctx, outcome.EventID); ferr != nil {
			o.logger.Warn("failed to forget payment event", zap.String("event_id", outcome.EventID), zap.Error(ferr))
		}
	}
	return updated, err
}

func (o *Orchestrator) applyOutcome(ctx context.Context, outcome payment.Outcome) (*domain.Order, error) {
	current, err := o.machine.Get(ctx, outcome.OrderID)
	if err != nil {
		return nil, err
	}
	if outcome.SessionID != "" && current.PaymentSessionID != "" && outcome.SessionID != current.PaymentSessionID {
		return nil, &domain.ValidationError{Field: "session_id", Reason: "does not belong to the order"}
	}

	event := domain.EventPaymentFailed
	if outcome.Paid {
		event = domain.EventPaymentConfirmed
	}
	return o.machine.Apply(ctx, outcome.OrderID, event, order.ApplyOptions{})
}

// ConfirmFromRedirect checks the session the customer returned from. An unpaid
// session leaves the order pending for the webhook to settle.
func (o *Orchestrator) ConfirmFromRedirect(ctx context.Context, userID int64, sessionID string) (*domain.Order, error) {
	outcome, err := o.gateway.LookupSession(ctx, sessionID)
	if err != nil {
		return nil, &domain.ExternalServiceError{Service: "stripe", Op: "session_lookup", Err: err}
	}

	current, err := o.machine.Get(ctx, outcome.OrderID)
	if err != nil {
		return nil, err
	}
	if current.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", outcome.OrderID, domain.ErrNotFound)
	}
	if !outcome.Paid {
		return current, nil
	}
	return o.applyOutcome(ctx, *outcome)
}

// AfterPaid is a transition hook. It removes the purchased items from the cart
// and issues the gift coupon. Failures are logged only.
func (o *Orchestrator) AfterPaid(ctx context.Context, paid *domain.Order, transition domain.StatusTransition) {
	if transition.To != domain.OrderStatusPaid {
		return
	}
	log := o.logger.With(zap.String("order_id", paid.ID.String()), zap.Int64("user_id", paid.UserID))

	if err := o.carts.RemovePurchased(ctx, paid.UserID, paid.Snapshot); err != nil {
		log.Error("failed to remove purchased items from cart", zap.Error(err))
	}
	if o.gifts == nil {
		return
	}
	if _, err := o.gifts.IssueGift(ctx, paid.UserID, paid.Snapshot.FinalTotal, o.now().UTC()); err != nil {
		log.Error("failed to issue gift coupon", zap.Error(err))
	}
}

// retryable reports whether a redelivered event could succeed where this one failed.
func retryable(err error) bool {
	var invalid *domain.InvalidTransitionError
	var validation *domain.ValidationError
	return !errors.As(err, &invalid) && !errors.As(err, &validation) && !errors.Is(err, domain.ErrNotFound)
}
