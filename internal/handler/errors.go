package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/storefront-checkout/internal/domain/cart"
	"github.com/xenking/storefront-checkout/internal/domain/catalog"
	"github.com/xenking/storefront-checkout/internal/domain/checkout"
	"github.com/xenking/storefront-checkout/internal/domain/discount"
	"github.com/xenking/storefront-checkout/internal/domain/order"
	"github.com/xenking/storefront-checkout/internal/domain/usage"
)

// errBadRequest marks malformed request input.
var errBadRequest = errors.New("bad request")

func badRequest(msg string) error {
	return errors.Wrap(errBadRequest, msg)
}

// apiError is the JSON error body.
type apiError struct {
	status int
	msg    string
	reason string
}

// mapError converts domain errors to HTTP errors. ok is false for errors the
// client cannot act on.
func mapError(err error) (e apiError, ok bool) {
	var (
		validation *checkout.ValidationError
		stock      *catalog.OutOfStockError
	)
	switch {
	// Validation errors unwrap to catalog lookups; they must win over 404.
	case errors.As(err, &validation):
		return apiError{status: http.StatusUnprocessableEntity, msg: validation.Error(), reason: string(validation.Code)}, true
	case errors.Is(err, discount.ErrNotApplicable):
		reason, _ := discount.ReasonOf(err)
		return apiError{status: http.StatusUnprocessableEntity, msg: err.Error(), reason: string(reason)}, true
	case errors.Is(err, errBadRequest):
		return apiError{status: http.StatusBadRequest, msg: err.Error()}, true
	case errors.Is(err, cart.ErrInvalidQuantity):
		return apiError{status: http.StatusBadRequest, msg: err.Error()}, true
	case errors.Is(err, cart.ErrNotOwner):
		return apiError{status: http.StatusForbidden, msg: err.Error()}, true
	case errors.Is(err, cart.ErrNotFound),
		errors.Is(err, cart.ErrItemNotFound),
		errors.Is(err, catalog.ErrVariantNotFound),
		errors.Is(err, catalog.ErrProductNotFound),
		errors.Is(err, discount.ErrNotFound),
		errors.Is(err, order.ErrNotFound):
		return apiError{status: http.StatusNotFound, msg: err.Error()}, true
	case errors.As(err, &stock):
		return apiError{status: http.StatusUnprocessableEntity, msg: stock.Error(), reason: string(checkout.CodeInsufficientStock)}, true
	case errors.Is(err, cart.ErrItemNotActive):
		return apiError{status: http.StatusConflict, msg: err.Error()}, true
	case errors.Is(err, usage.ErrUsageRaceLost):
		return apiError{status: http.StatusConflict, msg: err.Error(), reason: "usage_race_lost"}, true
	case errors.Is(err, order.ErrCartChanged), errors.Is(err, order.ErrDuplicateKey):
		return apiError{status: http.StatusConflict, msg: err.Error()}, true
	default:
		return apiError{}, false
	}
}

// fail writes the mapped error, or a logged 500.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	if e, ok := mapError(err); ok {
		writeAPIError(w, e)
		return
	}
	h.internalError(w, r, err)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("Request error", zap.Error(err), zap.String("path", r.URL.Path))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeAPIError(w, apiError{status: status, msg: msg})
}

func writeAPIError(w http.ResponseWriter, e apiError) {
	var enc jx.Encoder
	enc.Obj(func(enc *jx.Encoder) {
		enc.Field("code", func(enc *jx.Encoder) { enc.Int(e.status) })
		enc.Field("message", func(enc *jx.Encoder) { enc.Str(e.msg) })
		if e.reason != "" {
			enc.Field("reason", func(enc *jx.Encoder) { enc.Str(e.reason) })
		}
	})
	writeJSON(w, e.status, &enc)
}

func writeJSON(w http.ResponseWriter, status int, enc *jx.Encoder) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(enc.Bytes())
}
