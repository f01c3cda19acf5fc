package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetProducts_Success(t *testing.T) {
	catalog := &mockCatalog{products: []*domain.Product{
		{ID: 1, Name: "Mechanical Keyboard", Description: "Tactile switches", PriceCents: 8999, ImageURL: "/img/kb.png"},
		{ID: 3, Name: `27" Monitor`, PriceCents: 32999},
	}}
	handler := NewProductHandler(catalog, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Get(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp ProductsResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Products, 2)
	assert.Equal(t, ProductResponse{
		ID:          1,
		Name:        "Mechanical Keyboard",
		Description: "Tactile switches",
		PriceCents:  8999,
		ImageURL:    "/img/kb.png",
	}, resp.Products[0])
	assert.Equal(t, int64(32999), resp.Products[1].PriceCents)
}

func TestGetProducts_EmptyList(t *testing.T) {
	handler := NewProductHandler(&mockCatalog{}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Get(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"products":[]}`, rec.Body.String())
}

func TestGetProducts_CatalogError(t *testing.T) {
	handler := NewProductHandler(&mockCatalog{err: errors.New("disk I/O error")}, 5*time.Second)

	rec := httptest.NewRecorder()
	handler.Get(rec, httptest.NewRequest(http.MethodGet, "/products", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decodeError(t, rec).Code)
}
