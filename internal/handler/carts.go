package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// CreateCart opens an empty cart for the caller.
func (h *Handler) CreateCart(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	c, err := h.carts.Create(r.Context(), identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeCart(&e, c)
	w.Header().Set("Location", "/api/carts/"+c.ID)
	writeJSON(w, http.StatusCreated, &e)
}

// GetCart serves a cart with every item, including soft-deleted ones.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	c, err := h.carts.Get(r.Context(), r.PathValue("cartID"), identity)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeCart(&e, c)
	writeJSON(w, http.StatusOK, &e)
}

// AddItem adds a variant to the cart at its current price.
func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	var (
		variantID string
		qty       int
	)
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "variant_id":
			variantID, err = readStr(d)
		case "quantity":
			qty, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && variantID == "" {
		err = badRequest("variant_id is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	identity, _ := IdentityFrom(r.Context())
	it, err := h.carts.AddItem(r.Context(), r.PathValue("cartID"), identity, variantID, qty)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeItem(&e, it)
	writeJSON(w, http.StatusCreated, &e)
}

// SetQuantity changes the quantity of an Active item.
func (h *Handler) SetQuantity(w http.ResponseWriter, r *http.Request) {
	qty := -1
	err := decodeBody(w, r, false, func(d *jx.Decoder, key string) error {
		if key != "quantity" {
			return d.Skip()
		}
		var err error
		qty, err = d.Int()
		return err
	})
	if err == nil && qty < 0 {
		err = badRequest("quantity is required")
	}
	if err != nil {
		h.fail(w, r, err)
		return
	}

	identity, _ := IdentityFrom(r.Context())
	it, err := h.carts.SetQuantity(r.Context(), r.PathValue("cartID"), identity, r.PathValue("itemID"), qty)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeItem(&e, it)
	writeJSON(w, http.StatusOK, &e)
}

// RemoveItem soft-deletes an item. The item stays visible in the cart as
// removed.
func (h *Handler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	identity, _ := IdentityFrom(r.Context())
	if err := h.carts.RemoveItem(r.Context(), r.PathValue("cartID"), identity, r.PathValue("itemID")); err != nil {
		h.fail(w, r, errors.Wrap(err, "remove item"))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
