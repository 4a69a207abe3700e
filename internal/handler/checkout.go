package handler

import (
	"net/http"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/order"
)

const idempotencyKeyHeader = "Idempotency-Key"

// ValidateDiscount previews a discount code against the cart. A rejected
// code is a 200 response with applicable=false and the reason.
func (h *Handler) ValidateDiscount(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		if key != "code" {
			return d.Skip()
		}
		var err error
		code, err = readStr(d)
		return err
	})
	if err == nil && code == "" {
		err = badRequest("code is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	identity, _ := IdentityFrom(r.Context())
	res, err := h.checkout.ValidateDiscount(r.Context(), code, r.PathValue("cartID"), identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeApplicability(&e, res)
	writeJSON(w, http.StatusOK, &e)
}

// Checkout settles the cart into an order, optionally with a discount code.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var code string
	err := decodeBody(w, r, true, func(d *jx.Decoder, key string) error {
		if key != "discount_code" {
			return d.Skip()
		}
		var err error
		code, err = readStr(d)
		return err
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	key := r.Header.Get(idempotencyKeyHeader)
	if len(key) > 255 {
		h.fail(w, r, badRequest("idempotency key too long"))
		return
	}

	identity, _ := IdentityFrom(r.Context())
	o, err := h.checkout.SettleCart(r.Context(), checkout.SettleRequest{
		CartID:         r.PathValue("cartID"),
		Identity:       identity,
		DiscountCode:   code,
		IdempotencyKey: key,
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	w.Header().Set("Location", "/api/orders/"+o.ID)
	writeJSON(w, http.StatusCreated, &e)
}

// GetOrder serves an order placed by the caller. Orders of other identities
// are reported as not found.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	o, err := h.orders.Get(r.Context(), r.PathValue("orderID"))
	if err == nil && o.Identity != identity {
		err = order.ErrNotFound
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeOrder(&e, o)
	writeJSON(w, http.StatusOK, &e)
}
