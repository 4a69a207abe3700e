package handler

import (
	"net/http"
	"strconv"

	"github.com/go-faster/jx"

	"github.com/xenking/storefront-checkout/internal/domain/discount"
)

const maxListLimit = 500

// ListDiscounts serves discount definitions. Query parameters: active,
// scope, prefix and limit.
func (h *Handler) ListDiscounts(w http.ResponseWriter, r *http.Request) {
	f, err := parseFilter(r)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	list, err := h.discounts.List(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	now := h.now()
	var e jx.Encoder
	e.ArrStart()
	for i := range list {
		encodeDiscount(&e, &list[i], now)
	}
	e.ArrEnd()
	writeJSON(w, http.StatusOK, &e)
}

// GetDiscount serves one discount by its code.
func (h *Handler) GetDiscount(w http.ResponseWriter, r *http.Request) {
	d, err := h.discounts.FindByCode(r.Context(), discount.NormalizeCode(r.PathValue("code")))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	var e jx.Encoder
	encodeDiscount(&e, d, h.now())
	writeJSON(w, http.StatusOK, &e)
}

func parseFilter(r *http.Request) (discount.Filter, error) {
	q := r.URL.Query()
	f := discount.Filter{
		CodePrefix: discount.NormalizeCode(q.Get("prefix")),
		Limit:      maxListLimit,
	}
	if v := q.Get("active"); v != "" {
		active, err := strconv.ParseBool(v)
		if err != nil {
			return f, badRequest("active must be a boolean")
		}
		f.ActiveOnly = active
	}
	switch s := discount.Scope(q.Get("scope")); s {
	case "":
	case discount.ScopeAllProducts, discount.ScopeSpecificProducts, discount.ScopeSpecificCategories:
		f.Scope = s
	default:
		return f, badRequest("unknown scope " + string(s))
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxListLimit {
			return f, badRequest("limit must be between 1 and " + strconv.Itoa(maxListLimit))
		}
		f.Limit = n
	}
	return f, nil
}
