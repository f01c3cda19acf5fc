package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
)

type ProductLister interface {
	GetAllProducts(ctx context.Context) ([]*domain.Product, error)
}

type ProductHandler struct {
	catalog ProductLister
	timeout time.Duration
}

func NewProductHandler(catalog ProductLister, timeout time.Duration) *ProductHandler {
	return &ProductHandler{
		catalog: catalog,
		timeout: timeout,
	}
}

type ProductResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	PriceCents  int64  `json:"price_cents"`
	ImageURL    string `json:"image_url"`
}

type ProductsResponse struct {
	Products []ProductResponse `json:"products"`
}

// GET /api/v1/products
func (h *ProductHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	res, err := h.catalog.GetAllProducts(ctx)
	if err != nil {
		respondServiceError(w, r, err)
		return
	}
	products := make([]ProductResponse, len(res))
	for i, p := range res {
		products[i] = ProductResponse{
			ID:          p.ID,
			Name:        p.Name,
			Description: p.Description,
			PriceCents:  p.PriceCents,
			ImageURL:    p.ImageURL,
		}
	}

	respondJSON(w, http.StatusOK, &ProductsResponse{Products: products})
}
