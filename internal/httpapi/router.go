package httpapi

import (
	"net/http"
	"time"

	"github.com/fjod/go_cart/storefront/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Handlers struct {
	Products *ProductHandler
	Cart     *CartHandler
	Coupons  *CouponHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
}

type RouterConfig struct {
	RequestTimeout time.Duration
	Verifier       *TokenVerifier
	Logger         *zap.Logger
}

func NewRouter(h Handlers, cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(middleware.Compress(5))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/products", h.Products.Get)

		// signature checked instead of a bearer token
		r.Post("/webhooks/stripe", h.Checkout.StripeWebhook)

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(cfg.Verifier))

			r.Route("/cart", func(r chi.Router) {
				r.Get("/", h.Cart.GetCart)
				r.Post("/items", h.Cart.AddItem)
				r.Put("/items/{product_id}", h.Cart.UpdateQuantity)
				r.Delete("/items/{product_id}", h.Cart.RemoveItem)
				r.Post("/coupon", h.Cart.ApplyCoupon)
				r.Delete("/coupon", h.Cart.RemoveCoupon)
			})

			r.Route("/coupons", func(r chi.Router) {
				r.Get("/mine", h.Coupons.ListMine)
				r.With(RequireRoles(domain.RoleAdministration, domain.RoleProductSeller)).
					Post("/", h.Coupons.Create)
			})

			r.Post("/checkout", h.Checkout.InitiateCheckout)
			r.Get("/checkout/success", h.Checkout.Success)

			r.Route("/orders", func(r chi.Router) {
				r.Get("/", h.Orders.ListOrders)
				r.Get("/{order_id}", h.Orders.GetOrder)
				r.Get("/{order_id}/status", h.Orders.GetStatus)
				r.Post("/{order_id}/events", h.Orders.PostEvent)
			})
		})
	})

	return r
}
