package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/catalog"
)

// ListProducts serves the catalog with the variants of every product.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	products, err := h.catalog.ListProducts(ctx)
	if err != nil {
		h.internalError(w, r, errors.Wrap(err, "list products"))
		return
	}
	variants := make([][]catalog.Variant, len(products))
	for i, p := range products {
		if variants[i], err = h.catalog.ListVariants(ctx, p.ID); err != nil {
			h.internalError(w, r, errors.Wrapf(err, "list variants of %s", p.ID))
			return
		}
	}

	var e jx.Encoder
	e.ArrStart()
	for i, p := range products {
		encodeProduct(&e, p, variants[i])
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}
