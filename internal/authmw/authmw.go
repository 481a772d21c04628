// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type principalKey struct{}

// WithPrincipal returns a copy of ctx carrying the authenticated principal.
func WithPrincipal(ctx context.Context, principal string) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFromContext returns the principal set by Principals, if any.
func PrincipalFromContext(ctx context.Context) (string, bool) {
	p, ok := ctx.Value(principalKey{}).(string)
	return p, ok && p != ""
}

type credential struct {
	token     []byte
	principal string
}

// Principals returns middleware that accepts any of the given bearer tokens
// (token -> principal) and stores the matching principal on the request
// context. Every token is compared in constant time.
func Principals(tokens map[string]string) func(http.Handler) http.Handler {
	creds := make([]credential, 0, len(tokens))
	for tok, p := range tokens {
		creds = append(creds, credential{token: []byte(tok), principal: p})
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, "Bearer ") {
				unauthorized(w, "missing or malformed authorization header")
				return
			}
			got := []byte(auth[len("Bearer "):])

			var principal string
			for _, c := range creds {
				if subtle.ConstantTimeCompare(got, c.token) == 1 {
					principal = c.principal
				}
			}
			if principal == "" {
				unauthorized(w, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func unauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", "Bearer")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":"` + msg + `","code":"unauthorized"}`))
}
