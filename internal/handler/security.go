package handler

import (
	"context"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/errors"

	"github.com/xenking/storefront-checkout/internal/domain/auth"
)

const (
	apiKeyHeader    = "api_key"
	sessionHeader   = "X-Session-ID"
	maxSessionIDLen = 128
)

type identityKey struct{}

// IdentityFrom returns the customer identity resolved for the request.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey{}).(string)
	return id, ok && id != ""
}

// identify resolves the customer from a bearer token, falling back to a guest
// session id. Requests with neither, or with a bad token, get 401.
func (h *Handler) identify(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := h.identityOf(r)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey{}, identity)))
	})
}

func (h *Handler) identityOf(r *http.Request) (string, error) {
	if authz := r.Header.Get("Authorization"); authz != "" {
		token, ok := strings.CutPrefix(authz, "Bearer ")
		if !ok || h.tokens == nil {
			return "", auth.ErrInvalidToken
		}
		email, err := h.tokens.Identity(strings.TrimSpace(token))
		if err != nil {
			return "", auth.ErrInvalidToken
		}
		return "customer:" + strings.ToLower(email), nil
	}
	sid := strings.TrimSpace(r.Header.Get(sessionHeader))
	if sid == "" {
		return "", errors.New("identity is required")
	}
	if len(sid) > maxSessionIDLen {
		return "", errors.New("session id too long")
	}
	return "guest:" + sid, nil
}

// requireScope authenticates a staff API key by its HMAC-SHA256 hash and
// checks it was granted scope.
func (h *Handler) requireScope(scope string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(apiKeyHeader)
		if key == "" {
			writeError(w, http.StatusUnauthorized, "api key required")
			return
		}
		hexHash := auth.HashKey(h.pepper, key)
		info, err := h.apikeys.FindByHash(r.Context(), hexHash)
		switch {
		case errors.Is(err, auth.ErrKeyNotFound):
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		case err != nil:
			h.internalError(w, r, errors.Wrap(err, "find api key"))
			return
		}

		want, _ := hex.DecodeString(hexHash)
		stored, err := hex.DecodeString(info.KeyHash)
		if err != nil || subtle.ConstantTimeCompare(want, stored) != 1 {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !info.HasScope(scope) {
			writeError(w, http.StatusForbidden, "missing scope "+scope)
			return
		}
		next.ServeHTTP(w, r)
	})
}
