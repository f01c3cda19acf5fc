package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/checkout/session"
	"github.com/stripe/stripe-go/v81/webhook"
	"go.uber.org/zap"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	SessionExpiry time.Duration
}

// StripeGateway creates Checkout Sessions and verifies webhook events.
type StripeGateway struct {
	sessions *session.Client
	cfg      StripeConfig
	logger   *zap.Logger
}

// NewStripeGateway uses the default API backend when backend is nil.
func NewStripeGateway(cfg StripeConfig, backend stripe.Backend, logger *zap.Logger) *StripeGateway {
	if backend == nil {
		backend = stripe.GetBackend(stripe.APIBackend)
	}
	return &StripeGateway{
		sessions: &session.Client{B: backend, Key: cfg.SecretKey},
		cfg:      cfg,
		logger:   logger,
	}
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.cfg.SuccessURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(g.cfg.CancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(req.Currency),
					UnitAmount: stripe.Int64(req.Amount),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String("Order " + req.OrderID.String()),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"order_id": req.OrderID.String(),
			"user_id":  fmt.Sprintf("%d", req.UserID),
		},
	}
	if req.CouponCode != "" {
		params.Metadata["coupon_code"] = req.CouponCode
	}
	if g.cfg.SessionExpiry > 0 {
		params.ExpiresAt = stripe.Int64(time.Now().Add(g.cfg.SessionExpiry).Unix())
	}
	params.Context = ctx
	// one session per order even if the request is repeated
	params.SetIdempotencyKey("checkout-" + req.OrderID.String())

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, classify(err)
	}

	out := &Session{ID: s.ID, URL: s.URL}
	if s.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	g.logger.Info("payment session created",
		zap.String("order_id", req.OrderID.String()),
		zap.String("session_id", s.ID))
	return out, nil
}

func (g *StripeGateway) LookupSession(ctx context.Context, sessionID string) (*Outcome, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return nil, classify(err)
	}
	return sessionOutcome("", s, s.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid)
}

func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Outcome, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var paid bool
	switch string(event.Type) {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		paid = true
	case "checkout.session.expired", "checkout.session.async_payment_failed":
		paid = false
	default:
		return nil, nil
	}
	if event.Data == nil {
		return nil, ErrMalformedEvent
	}

	var s stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	// delayed payment methods complete the session before the money arrives
	if paid && s.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid &&
		s.PaymentStatus != stripe.CheckoutSessionPaymentStatusNoPaymentRequired {
		return nil, nil
	}
	return sessionOutcome(event.ID, &s, paid)
}

func sessionOutcome(eventID string, s *stripe.CheckoutSession, paid bool) (*Outcome, error) {
	ref := s.Metadata["order_id"]
	if ref == "" {
		ref = s.ClientReferenceID
	}
	orderID, err := uuid.Parse(ref)
	if err != nil {
		return nil, fmt.Errorf("%w: session %s has no order reference", ErrMalformedEvent, s.ID)
	}
	return &Outcome{EventID: eventID, OrderID: orderID, SessionID: s.ID, Paid: paid}, nil
}

// classify marks client errors other than rate limiting as permanent.
func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		code := se.HTTPStatusCode
		if code >= http.StatusBadRequest && code < http.StatusInternalServerError && code != http.StatusTooManyRequests {
			return Permanent(err)
		}
	}
	return err
}
