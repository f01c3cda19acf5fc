package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
)

type CouponService interface {
	Create(ctx context.Context, c *domain.Coupon) error
	ListApplicable(ctx context.Context, userID int64, cart *domain.Cart, now time.Time) ([]*domain.Coupon, error)
}

type CartReader interface {
	GetCart(ctx context.Context, userID int64) (*domain.Cart, error)
}

type CouponHandler struct {
	coupons CouponService
	carts   CartReader
	timeout time.Duration
	now     func() time.Time
}

func NewCouponHandler(coupons CouponService, carts CartReader, timeout time.Duration) *CouponHandler {
	return &CouponHandler{
		coupons: coupons,
		carts:   carts,
		timeout: timeout,
		now:     time.Now,
	}
}

type CreateCouponRequestDTO struct {
	Code            string    `json:"code" validate:"required,max=64"`
	DiscountPercent string    `json:"discount_percent" validate:"required,numeric"`
	StartsAt        time.Time `json:"starts_at" validate:"required"`
	EndsAt          time.Time `json:"ends_at" validate:"required,gtfield=StartsAt"`
	MinimumSubtotal int64     `json:"minimum_subtotal" validate:"gte=0"`
	UsageLimit      int       `json:"usage_limit" validate:"gte=0"`
	PerUserLimit    int       `json:"per_user_limit" validate:"gte=0"`
	OwnerUserID     *int64    `json:"owner_user_id,omitempty" validate:"omitempty,gt=0"`
	ProductIDs      []int64   `json:"product_ids,omitempty" validate:"omitempty,dive,gt=0"`
}

type CouponResponseDTO struct {
	Code            string    `json:"code"`
	DiscountPercent string    `json:"discount_percent"`
	StartsAt        time.Time `json:"starts_at"`
	EndsAt          time.Time `json:"ends_at"`
	MinimumSubtotal int64     `json:"minimum_subtotal"`
	UsageLimit      int       `json:"usage_limit"`
	PerUserLimit    int       `json:"per_user_limit"`
	ProductIDs      []int64   `json:"product_ids,omitempty"`
}

func toCouponResponse(c *domain.Coupon) CouponResponseDTO {
	return CouponResponseDTO{
		Code:            c.Code,
		DiscountPercent: c.DiscountPercent.String(),
		StartsAt:        c.StartsAt,
		EndsAt:          c.EndsAt,
		MinimumSubtotal: c.MinimumSubtotal,
		UsageLimit:      c.UsageLimit,
		PerUserLimit:    c.PerUserLimit,
		ProductIDs:      c.ProductIDs,
	}
}

// POST /api/v1/coupons
func (h *CouponHandler) Create(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()

	var dto CreateCouponRequestDTO
	if !decodeJSON(w, req, &dto) {
		return
	}
	percent, err := decimal.NewFromString(dto.DiscountPercent)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "discount_percent must be a decimal")
		return
	}

	c := &domain.Coupon{
		Code:            dto.Code,
		DiscountPercent: percent,
		StartsAt:        dto.StartsAt.UTC(),
		EndsAt:          dto.EndsAt.UTC(),
		MinimumSubtotal: dto.MinimumSubtotal,
		UsageLimit:      dto.UsageLimit,
		PerUserLimit:    dto.PerUserLimit,
		OwnerUserID:     dto.OwnerUserID,
		ProductIDs:      dto.ProductIDs,
		CreatedAt:       h.now().UTC(),
	}
	if err := h.coupons.Create(ctx, c); err != nil {
		if errors.Is(err, r.ErrDuplicateCoupon) {
			respondError(w, http.StatusConflict, "duplicate_coupon", r.ErrDuplicateCoupon.Error())
			return
		}
		respondServiceError(w, req, err)
		return
	}
	respondJSON(w, http.StatusCreated, toCouponResponse(c))
}

// GET /api/v1/coupons/mine
func (h *CouponHandler) ListMine(w http.ResponseWriter, req *http.Request) {
	ctx, cancel := context.WithTimeout(req.Context(), h.timeout)
	defer cancel()

	id, ok := requireIdentity(w, req)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, id.UserID)
	if err != nil {
		respondServiceError(w, req, err)
		return
	}
	coupons, err := h.coupons.ListApplicable(ctx, id.UserID, cart, h.now().UTC())
	if err != nil {
		respondServiceError(w, req, err)
		return
	}

	dtos := make([]CouponResponseDTO, 0, len(coupons))
	for _, c := range coupons {
		dtos = append(dtos, toCouponResponse(c))
	}
	respondJSON(w, http.StatusOK, dtos)
}
