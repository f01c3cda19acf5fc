package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/checkout"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/logger"
	"github.com/fjod/go_cart/storefront/internal/payment"
	"go.uber.org/zap"
)

// maxWebhookBytes follows Stripe's guidance for event payload size.
const maxWebhookBytes = 65536

type CheckoutService interface {
	BeginCheckout(ctx context.Context, userID int64) (*checkout.Result, error)
	HandlePaymentOutcome(ctx context.Context, outcome payment.Outcome) (*domain.Order, error)
	ConfirmFromRedirect(ctx context.Context, userID int64, sessionID string) (*domain.Order, error)
}

type WebhookParser interface {
	ParseWebhook(payload []byte, signature string) (*payment.Outcome, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
	webhooks WebhookParser
	timeout  time.Duration
}

func NewCheckoutHandler(svc CheckoutService, webhooks WebhookParser, timeout time.Duration) *CheckoutHandler {
	return &CheckoutHandler{
		checkout: svc,
		webhooks: webhooks,
		timeout:  timeout,
	}
}

type CheckoutResponseDTO struct {
	OrderID    string `json:"order_id"`
	Status     string `json:"status"`
	SessionID  string `json:"session_id,omitempty"`
	SessionURL string `json:"session_url,omitempty"`
	FinalTotal int64  `json:"final_total"`
	Currency   string `json:"currency"`
}

type WebhookAckDTO struct {
	Received bool   `json:"received"`
	Ignored  string `json:"ignored,omitempty"`
}

// POST /api/v1/checkout
func (h *CheckoutHandler) InitiateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	res, err := h.checkout.BeginCheckout(ctx, id.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	resp := CheckoutResponseDTO{
		OrderID:    res.Order.ID.String(),
		Status:     res.Order.Status.String(),
		FinalTotal: res.Order.Snapshot.FinalTotal,
		Currency:   res.Order.Snapshot.Currency,
	}
	if res.PaymentSession != nil {
		resp.SessionID = res.PaymentSession.ID
		resp.SessionURL = res.PaymentSession.URL
	}
	respondJSON(w, http.StatusCreated, resp)
}

// GET /api/v1/checkout/success?session_id=
func (h *CheckoutHandler) Success(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		respondError(w, http.StatusBadRequest, "missing_session_id", "session_id is required")
		return
	}

	o, err := h.checkout.ConfirmFromRedirect(ctx, id.UserID, sessionID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// POST /api/v1/webhooks/stripe
//
// Outcomes that can never apply are acknowledged so the provider stops
// redelivering them. Anything else answers 500 and is retried.
func (h *CheckoutHandler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context(), zap.L())

	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBytes))
	if err != nil {
		respondError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "webhook payload too large")
		return
	}

	outcome, err := h.webhooks.ParseWebhook(payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, payment.ErrInvalidSignature):
		log.Warn("stripe webhook rejected", zap.Error(err))
		respondError(w, http.StatusBadRequest, "invalid_signature", "webhook signature verification failed")
		return
	case err != nil:
		log.Warn("stripe webhook unreadable", zap.Error(err))
		respondError(w, http.StatusBadRequest, "malformed_event", "webhook event could not be read")
		return
	case outcome == nil:
		respondJSON(w, http.StatusOK, WebhookAckDTO{Received: true, Ignored: "not_a_payment_outcome"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	_, err = h.checkout.HandlePaymentOutcome(ctx, *outcome)
	if err == nil {
		respondJSON(w, http.StatusOK, WebhookAckDTO{Received: true})
		return
	}

	log = log.With(
		zap.String("event_id", outcome.EventID),
		zap.String("order_id", outcome.OrderID.String()),
		zap.Error(err))

	var (
		transitionErr *domain.InvalidTransitionError
		validationErr *domain.ValidationError
	)
	switch {
	case errors.As(err, &transitionErr):
		log.Warn("payment outcome does not apply to order")
		respondJSON(w, http.StatusOK, WebhookAckDTO{Received: true, Ignored: "invalid_transition"})
	case errors.As(err, &validationErr):
		log.Warn("payment outcome rejected")
		respondJSON(w, http.StatusOK, WebhookAckDTO{Received: true, Ignored: "validation_failed"})
	case errors.Is(err, domain.ErrNotFound):
		log.Warn("payment outcome for unknown order")
		respondJSON(w, http.StatusOK, WebhookAckDTO{Received: true, Ignored: "unknown_order"})
	default:
		log.Error("failed to apply payment outcome")
		respondError(w, http.StatusInternalServerError, "internal_error", "payment outcome not applied")
	}
}
