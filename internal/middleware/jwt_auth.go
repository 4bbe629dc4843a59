package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"
)

type contextKey string

const ctxAddressKey contextKey = "address"

// TokenValidator validates a bearer token and returns the wallet address it
// was issued to. Implemented by the auth service.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (string, error)
}

// JWTAuth authenticates requests by validating the Bearer token. On success
// it sets the caller's wallet address into request context.
func JWTAuth(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractBearer(r)
			if raw == "" {
				unauthorized(w, "missing or malformed Authorization header")
				return
			}

			address, err := validator.ValidateToken(r.Context(), raw)
			if err != nil {
				unauthorized(w, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithAddress(r.Context(), address)))
		})
	}
}

// AddressFromCtx returns the authenticated wallet address or "".
func AddressFromCtx(ctx context.Context) string {
	addr, _ := ctx.Value(ctxAddressKey).(string)
	return addr
}

// WithAddress returns a context carrying the given wallet address.
func WithAddress(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, ctxAddressKey, address)
}

func extractBearer(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	fmt.Fprintf(w, `{"error":"Unauthorized","message":%q}`, msg)
}
