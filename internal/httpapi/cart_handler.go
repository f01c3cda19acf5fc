package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/fjod/go_cart/storefront/internal/cart"
	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
)

type CartService interface {
	View(ctx context.Context, userID int64) (*cart.View, error)
	AddItem(ctx context.Context, userID int64, productID int64, quantity int) (*cart.View, error)
	UpdateQuantity(ctx context.Context, userID int64, productID int64, quantity int) (*cart.View, error)
	RemoveItem(ctx context.Context, userID int64, productID int64) (*cart.View, error)
	ApplyCoupon(ctx context.Context, userID int64, code string, expectedVersion int64) (*cart.View, error)
	RemoveCoupon(ctx context.Context, userID int64) (*cart.View, error)
}

type CartHandler struct {
	carts   CartService
	timeout time.Duration
}

func NewCartHandler(carts CartService, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		timeout: timeout,
	}
}

type AddItemRequestDTO struct {
	ProductID int64 `json:"product_id" validate:"required,gt=0"`
	Quantity  int   `json:"quantity" validate:"required,min=1,max=99"`
}

type UpdateQuantityRequestDTO struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=99"`
}

type ApplyCouponRequestDTO struct {
	Code string `json:"code" validate:"required,max=64"`
	// ExpectedVersion pins the cart version the client priced against. Zero skips the check.
	ExpectedVersion int64 `json:"expected_version" validate:"gte=0"`
}

// CartResponseDTO is the priced cart plus the version clients send back with coupon changes.
type CartResponseDTO struct {
	domain.PricedCart
	Version     int64  `json:"version"`
	CouponIssue string `json:"coupon_issue,omitempty"`
}

func toCartResponse(v *cart.View) CartResponseDTO {
	resp := CartResponseDTO{
		PricedCart:  v.Priced,
		Version:     v.Cart.Version,
		CouponIssue: v.CouponIssue,
	}
	if resp.Items == nil {
		resp.Items = []domain.PricedItem{}
	}
	return resp
}

// GET /api/v1/cart
func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	view, err := h.carts.View(ctx, id.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// POST /api/v1/cart/items
func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req AddItemRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.carts.AddItem(ctx, id.UserID, req.ProductID, req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCartResponse(view))
}

// PUT /api/v1/cart/items/{product_id}
func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	var req UpdateQuantityRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.carts.UpdateQuantity(ctx, id.UserID, productID, req.Quantity)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// DELETE /api/v1/cart/items/{product_id}
func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}
	productID, ok := productIDParam(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveItem(ctx, id.UserID, productID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// POST /api/v1/cart/coupon
func (h *CartHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	var req ApplyCouponRequestDTO
	if !decodeJSON(w, r, &req) {
		return
	}

	view, err := h.carts.ApplyCoupon(ctx, id.UserID, req.Code, req.ExpectedVersion)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

// DELETE /api/v1/cart/coupon
func (h *CartHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, r)
	if !ok {
		return
	}

	view, err := h.carts.RemoveCoupon(ctx, id.UserID)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, toCartResponse(view))
}

func requireIdentity(w http.ResponseWriter, r *http.Request) (Identity, bool) {
	id, ok := IdentityFrom(r.Context())
	if !ok || id.UserID == 0 {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return Identity{}, false
	}
	return id, true
}

func productIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	productID, err := strconv.ParseInt(chi.URLParam(r, "product_id"), 10, 64)
	if err != nil || productID <= 0 {
		respondError(w, http.StatusBadRequest, "invalid_product_id", "product_id must be a positive integer")
		return 0, false
	}
	return productID, true
}
