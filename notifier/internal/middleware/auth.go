package middleware

import (
	"context"
	"net/http"
	"strings"

	"issue-notifications/shared/authx"
	"issue-notifications/shared/httpx"
)

type Verifier interface {
	Verify(ctx context.Context, rawToken string) (authx.AuthContext, error)
}

// AuthMiddleware accepts a bearer JWT and, when Role is set, requires it.
type AuthMiddleware struct {
	Verifier Verifier
	Role     string
	Skip     func(*http.Request) bool
}

func (m AuthMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}

		if m.Verifier == nil {
			httpx.WriteError(w, r, http.StatusPreconditionFailed, httpx.CodeFailedPrecondition, "auth verifier not configured", nil)
			return
		}

		authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
		if !strings.HasPrefix(strings.ToLower(authHeader), "bearer ") {
			httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthenticated, "missing bearer token", nil)
			return
		}
		token := strings.TrimSpace(authHeader[len("bearer "):])
		auth, err := m.Verifier.Verify(r.Context(), token)
		if err != nil {
			httpx.WriteError(w, r, http.StatusUnauthorized, httpx.CodeUnauthenticated, "invalid token", nil)
			return
		}
		if m.Role != "" && !auth.HasRole(m.Role) {
			httpx.WriteError(w, r, http.StatusForbidden, httpx.CodePermissionDenied, "missing role "+m.Role, nil)
			return
		}

		next.ServeHTTP(w, r.WithContext(authx.WithAuth(r.Context(), auth)))
	})
}
