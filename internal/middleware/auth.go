// Package middleware holds the HTTP middleware chain cmd/mesd mounts
// in front of every /api/v1 route, grounded on the teacher's
// control_plane/middleware package (auth.go, cors.go): a thin
// Bearer-token gate plus permissive CORS for the dashboard frontend.
package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopforge/mes/internal/auth"
)

type contextKey string

const (
	operatorContextKey contextKey = "operator"
	roleContextKey     contextKey = "role"
)

// Auth enforces a Bearer JWT on every request it wraps. Grounded on
// the teacher's control_plane/middleware/auth.go AuthMiddleware: fail
// fast on a missing or malformed header, inject the validated claims
// into the request context for downstream handlers.
func Auth(issuer *auth.Issuer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}
			parts := strings.SplitN(header, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				http.Error(w, "invalid Authorization format, expected 'Bearer <token>'", http.StatusUnauthorized)
				return
			}
			claims, err := issuer.Validate(parts[1])
			if err != nil {
				http.Error(w, fmt.Sprintf("unauthorized: %v", err), http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), operatorContextKey, claims.Operator)
			ctx = context.WithValue(ctx, roleContextKey, claims.Role)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRole rejects requests whose injected role isn't one of
// allowed, e.g. gating downtime acknowledge/close to supervisors.
func RequireRole(allowed ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := RoleFromContext(r.Context())
			for _, a := range allowed {
				if role == a {
					next.ServeHTTP(w, r)
					return
				}
			}
			http.Error(w, "forbidden", http.StatusForbidden)
		})
	}
}

// OperatorFromContext returns the operator identity injected by Auth.
func OperatorFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(operatorContextKey).(string)
	return v, ok
}

// RoleFromContext returns the role injected by Auth.
func RoleFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(roleContextKey).(string)
	return v, ok
}
