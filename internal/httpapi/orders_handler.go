package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/broadcast"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/fjod/go_cart/storefront/internal/order"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type OrderLister interface {
	ListOrdersByUser(ctx context.Context, userID int64) ([]*domain.Order, error)
}

type OrderTransitioner interface {
	Get(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	Apply(ctx context.Context, orderID uuid.UUID, event domain.OrderEvent, opts order.ApplyOptions) (*domain.Order, error)
}

// eventRoles says who may post each manual event. payment_confirmed is
// absent because only the provider confirms payments.
var eventRoles = map[domain.OrderEvent][]domain.Role{
	domain.EventFulfillmentDispatched: {domain.RoleWarehouseManager, domain.RoleAdministration},
	domain.EventDeliveryConfirmed:     {domain.RoleDeliveryDriver, domain.RoleAdministration},
	domain.EventRefundIssued:          {domain.RoleFinanceManager, domain.RoleAdministration},
	domain.EventPaymentFailed:         {domain.RoleCustomerSupport, domain.RoleAdministration},
}

// staffRoles may read orders of any user.
var staffRoles = []domain.Role{
	domain.RoleAdministration,
	domain.RoleCustomerSupport,
	domain.RoleWarehouseManager,
	domain.RoleDeliveryDriver,
	domain.RoleFinanceManager,
}

type OrdersHandler struct {
	orders  OrderLister
	machine OrderTransitioner
	timeout time.Duration
}

func NewOrdersHandler(orders OrderLister, machine OrderTransitioner, timeout time.Duration) *OrdersHandler {
	return &OrdersHandler{
		orders:  orders,
		machine: machine,
		timeout: timeout,
	}
}

type OrderItemDTO struct {
	ProductID   int64  `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
	UnitPrice   int64  `json:"unit_price"`
	LineTotal   int64  `json:"line_total"`
}

type TransitionDTO struct {
	From  string    `json:"from"`
	To    string    `json:"to"`
	Event string    `json:"event"`
	At    time.Time `json:"at"`
}

type OrderResponseDTO struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Items           []OrderItemDTO  `json:"items"`
	Subtotal        int64           `json:"subtotal"`
	CouponCode      string          `json:"coupon_code,omitempty"`
	DiscountPercent string          `json:"discount_percent"`
	Discount        int64           `json:"discount"`
	FinalTotal      int64           `json:"final_total"`
	Currency        string          `json:"currency"`
	TrackingNumber  string          `json:"tracking_number,omitempty"`
	Transitions     []TransitionDTO `json:"transitions"`
	CreatedAt       string          `json:"created_at"`
	UpdatedAt       string          `json:"updated_at"`
}

type OrderEventRequestDTO struct {
	Event          string `json:"event" validate:"required,oneof=payment_confirmed payment_failed fulfillment_dispatched delivery_confirmed refund_issued"`
	TrackingNumber string `json:"tracking_number,omitempty" validate:"omitempty,max=64"`
}

func toOrderResponse(o *domain.Order) OrderResponseDTO {
	items := make([]OrderItemDTO, 0, len(o.Snapshot.Items))
	for _, item := range o.Snapshot.Items {
		items = append(items, OrderItemDTO{
			ProductID:   item.ProductID,
			ProductName: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			LineTotal:   item.LineTotal,
		})
	}
	transitions := make([]TransitionDTO, 0, len(o.Transitions))
	for _, t := range o.Transitions {
		transitions = append(transitions, TransitionDTO{
			From:  t.From.String(),
			To:    t.To.String(),
			Event: t.Event.String(),
			At:    t.At,
		})
	}

	return OrderResponseDTO{
		ID:              o.ID.String(),
		Status:          o.Status.String(),
		Items:           items,
		Subtotal:        o.Snapshot.Subtotal,
		CouponCode:      o.Snapshot.CouponCode,
		DiscountPercent: o.Snapshot.DiscountPercent.String(),
		Discount:        o.Snapshot.Discount,
		FinalTotal:      o.Snapshot.FinalTotal,
		Currency:        o.Snapshot.Currency,
		TrackingNumber:  o.TrackingNumber,
		Transitions:     transitions,
		CreatedAt:       o.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       o.UpdatedAt.Format(time.RFC3339),
	}
}

// GET /api/v1/orders
func (h *OrdersHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	orders, err := h.orders.ListOrdersByUser(ctx, id.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}

	dtos := make([]OrderResponseDTO, 0, len(orders))
	for _, o := range orders {
		dtos = append(dtos, toOrderResponse(o))
	}
	respondJSON(w, http.StatusOK, dtos)
}

// GET /api/v1/orders/{order_id}
func (h *OrdersHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, ok := h.loadVisible(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(o))
}

// GET /api/v1/orders/{order_id}/status answers in the realtime wire format.
func (h *OrdersHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	o, ok := h.loadVisible(ctx, w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, broadcast.StatusPayload{OrderID: o.ID.String(), Status: o.Status})
}

// POST /api/v1/orders/{order_id}/events
func (h *OrdersHandler) PostEvent(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return
	}

	var req OrderEventRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	event := domain.OrderEvent(req.Event)
	roles, allowed := eventRoles[event]
	if !allowed {
		respondError(w, http.StatusBadRequest, "webhook_only", fmt.Sprintf("%s is reported by the payment provider", event))
		return
	}
	if !domain.HasRequiredRole(id.Roles, roles) {
		respondError(w, http.StatusForbidden, "forbidden", "insufficient role")
		return
	}

	updated, err := h.machine.Apply(ctx, orderID, event, order.ApplyOptions{TrackingNumber: req.TrackingNumber})
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toOrderResponse(updated))
}

// loadVisible hides orders of other users unless the caller is staff.
func (h *OrdersHandler) loadVisible(ctx context.Context, w http.ResponseWriter, r *http.Request) (*domain.Order, bool) {
	id, ok := requireIdentity(w, r)
	if !ok {
		return nil, false
	}
	orderID, ok := orderIDParam(w, r)
	if !ok {
		return nil, false
	}

	o, err := h.machine.Get(ctx, orderID)
	if err != nil {
		respondServiceError(w, r, err)
		return nil, false
	}
	if o.UserID != id.UserID && !domain.HasRequiredRole(id.Roles, staffRoles) {
		respondError(w, http.StatusNotFound, "not_found", "order not found")
		return nil, false
	}
	return o, true
}

func orderIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_order_id", "order_id must be a UUID")
		return uuid.Nil, false
	}
	return orderID, true
}
