package auth

import (
	"net/http"
	"strings"
)

// Middleware authenticates API requests with bearer tokens and holds them
// to the route policy's minimum role.
type Middleware struct {
	secret []byte
	policy Policy
}

// NewMiddleware constructs the middleware over a signing secret and policy.
func NewMiddleware(secret []byte, policy Policy) *Middleware {
	return &Middleware{secret: secret, policy: policy}
}

// Wrap guards next: exempt routes pass through, protected routes need a
// valid token whose role satisfies the policy. The request identity is
// placed on the context for handlers downstream.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.policy.IsExempt(r) {
			next.ServeHTTP(w, r)
			return
		}
		required, protected := m.policy.RequiredRole(r)
		if !protected {
			next.ServeHTTP(w, r)
			return
		}

		claims, err := ParseJWT(bearerToken(r.Header.Get("Authorization")), m.secret)
		if err != nil {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		role, _ := ParseRole(claims.Role)
		if !RoleAtLeast(role, required) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		ctx := WithIdentity(r.Context(), claims.UserID, role, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(header string) string {
	const scheme = "bearer "
	if len(header) <= len(scheme) || !strings.EqualFold(header[:len(scheme)], scheme) {
		return ""
	}
	return strings.TrimSpace(header[len(scheme):])
}
