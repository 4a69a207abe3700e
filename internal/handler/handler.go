// Package handler serves the storefront HTTP API: catalog listing, discount
// lookup for staff, cart editing and checkout.
package handler

import (
	"net/http"
	"time"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/pkg/httpmiddleware"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// APIKeyPepper is the HMAC key API keys are hashed with before lookup.
	APIKeyPepper []byte
	// CheckoutRate limits checkout attempts per identity. A zero RPS
	// disables the limit.
	CheckoutRate httpmiddleware.RateLimitConfig
}

// Deps are the domain collaborators of the Handler.
type Deps struct {
	Catalog   catalog.Lister
	Discounts discount.Repository
	Carts     *cart.Service
	Checkout  *checkout.Service
	Orders    order.Repository
	APIKeys   auth.Repository
	Tokens    *auth.Tokens
}

// Handler maps HTTP requests onto the cart and checkout services.
type Handler struct {
	catalog   catalog.Lister
	discounts discount.Repository
	carts     *cart.Service
	checkout  *checkout.Service
	orders    order.Repository
	apikeys   auth.Repository
	tokens    *auth.Tokens

	pepper       []byte
	checkoutRate httpmiddleware.RateLimitConfig
	now          func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, d Deps) *Handler {
	return &Handler{
		catalog:      d.Catalog,
		discounts:    d.Discounts,
		carts:        d.Carts,
		checkout:     d.Checkout,
		orders:       d.Orders,
		apikeys:      d.APIKeys,
		tokens:       d.Tokens,
		pepper:       cfg.APIKeyPepper,
		checkoutRate: cfg.CheckoutRate,
		now:          time.Now,
	}
}

// Register adds every API route to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/products", h.ListProducts)

	staff := func(fn http.HandlerFunc) http.Handler {
		return h.requireScope(auth.ScopeDiscountsRead, fn)
	}
	mux.Handle("GET /api/discounts", staff(h.ListDiscounts))
	mux.Handle("GET /api/discounts/{code}", staff(h.GetDiscount))

	customer := func(fn http.HandlerFunc) http.Handler {
		return h.identify(fn)
	}
	mux.Handle("POST /api/carts", customer(h.CreateCart))
	mux.Handle("GET /api/carts/{cartID}", customer(h.GetCart))
	mux.Handle("POST /api/carts/{cartID}/items", customer(h.AddItem))
	mux.Handle("PATCH /api/carts/{cartID}/items/{itemID}", customer(h.SetQuantity))
	mux.Handle("DELETE /api/carts/{cartID}/items/{itemID}", customer(h.RemoveItem))
	mux.Handle("POST /api/carts/{cartID}/discount", customer(h.ValidateDiscount))

	var settle http.Handler = http.HandlerFunc(h.Checkout)
	if h.checkoutRate.RPS > 0 {
		cfg := h.checkoutRate
		cfg.KeyFunc = func(r *http.Request) string {
			id, _ := IdentityFrom(r.Context())
			return id
		}
		settle = httpmiddleware.RateLimit(cfg)(settle)
	}
	mux.Handle("POST /api/carts/{cartID}/checkout", h.identify(settle))
	mux.Handle("GET /api/orders/{orderID}", customer(h.GetOrder))
}
