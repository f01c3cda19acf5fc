package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	r "github.com/fjod/go_cart/storefront/internal/repository"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validCouponBody = `{
	"code": "spring20",
	"discount_percent": "20",
	"starts_at": "2026-03-01T00:00:00Z",
	"ends_at": "2026-04-01T00:00:00Z",
	"usage_limit": 100,
	"per_user_limit": 1,
	"product_ids": [1, 3]
}`

func TestCreateCoupon(t *testing.T) {
	svc := &mockCouponService{}
	handler := NewCouponHandler(svc, &mockCartService{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/coupons", strings.NewReader(validCouponBody)))

	require.Equal(t, http.StatusCreated, rec.Code)
	require.NotNil(t, svc.created)
	assert.Equal(t, "SPRING20", svc.created.Code)
	assert.True(t, decimal.NewFromInt(20).Equal(svc.created.DiscountPercent))
	assert.Equal(t, []int64{1, 3}, svc.created.ProductIDs)

	var resp CouponResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "SPRING20", resp.Code)
	assert.Equal(t, "20", resp.DiscountPercent)
}

func TestCreateCoupon_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"missing code", `{"discount_percent":"10","starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z"}`},
		{"percent not numeric", `{"code":"A","discount_percent":"ten","starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z"}`},
		{"ends before starts", `{"code":"A","discount_percent":"10","starts_at":"2026-04-01T00:00:00Z","ends_at":"2026-03-01T00:00:00Z"}`},
		{"negative limit", `{"code":"A","discount_percent":"10","starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z","usage_limit":-1}`},
		{"bad product id", `{"code":"A","discount_percent":"10","starts_at":"2026-03-01T00:00:00Z","ends_at":"2026-04-01T00:00:00Z","product_ids":[0]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockCouponService{}
			handler := NewCouponHandler(svc, &mockCartService{}, 5*time.Second)

			rec := httptest.NewRecorder()
			handler.Create(rec, httptest.NewRequest(http.MethodPost, "/coupons", strings.NewReader(tt.body)))

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Nil(t, svc.created)
		})
	}
}

func TestCreateCoupon_DomainRejectsPercentAbove100(t *testing.T) {
	svc := &mockCouponService{err: &domain.ValidationError{Field: "discount_percent", Reason: "must be between 0 and 100"}}
	handler := NewCouponHandler(svc, &mockCartService{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/coupons", strings.NewReader(validCouponBody)))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "discount_percent", decodeError(t, rec).Details)
}

func TestCreateCoupon_Duplicate(t *testing.T) {
	handler := NewCouponHandler(&mockCouponService{err: r.ErrDuplicateCoupon}, &mockCartService{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Create(rec, httptest.NewRequest(http.MethodPost, "/coupons", strings.NewReader(validCouponBody)))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_coupon", decodeError(t, rec).Code)
}

func TestListMine(t *testing.T) {
	owner := int64(1)
	svc := &mockCouponService{applicable: []*domain.Coupon{
		{Code: "GIFTABCDEF", DiscountPercent: decimal.NewFromInt(10), OwnerUserID: &owner},
	}}
	handler := NewCouponHandler(svc, &mockCartService{view: sampleView(1)}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.ListMine(rec, withUser(httptest.NewRequest(http.MethodGet, "/coupons/mine", nil), 1))

	require.Equal(t, http.StatusOK, rec.Code)
	var coupons []CouponResponseDTO
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&coupons))
	require.Len(t, coupons, 1)
	assert.Equal(t, "GIFTABCDEF", coupons[0].Code)
	assert.Equal(t, "10", coupons[0].DiscountPercent)
}
