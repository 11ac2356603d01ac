package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"issue-notifications/shared/authx"
)

type fakeVerifier struct {
	auth authx.AuthContext
}

func (f fakeVerifier) Verify(_ context.Context, raw string) (authx.AuthContext, error) {
	if raw != "good" {
		return authx.AuthContext{}, authx.ErrInvalidToken
	}
	return f.auth, nil
}

func ok() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a, found := authx.FromContext(r.Context()); found {
			w.Header().Set("X-Subject", a.Subject)
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/notification-categories", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAuthMiddleware(t *testing.T) {
	m := AuthMiddleware{Verifier: fakeVerifier{auth: authx.AuthContext{Subject: "u1", Roles: []string{"notifications-admin"}}}}
	h := m.Wrap(ok())

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"bad token", "Bearer nope", http.StatusUnauthorized},
		{"good token", "bearer good", http.StatusNoContent},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := serve(h, tc.header)
			assert.Equal(t, tc.status, rec.Code)
		})
	}
	assert.Equal(t, "u1", serve(h, "Bearer good").Header().Get("X-Subject"))
}

func TestAuthMiddlewareRole(t *testing.T) {
	h := AuthMiddleware{Verifier: fakeVerifier{auth: authx.AuthContext{Subject: "u1"}}, Role: "notifications-admin"}.Wrap(ok())
	rec := serve(h, "Bearer good")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "PERMISSION_DENIED")
}

func TestAuthMiddlewareWithoutVerifier(t *testing.T) {
	rec := serve(AuthMiddleware{}.Wrap(ok()), "Bearer good")
	assert.Equal(t, http.StatusPreconditionFailed, rec.Code)

	skipped := AuthMiddleware{Skip: func(*http.Request) bool { return true }}.Wrap(ok())
	assert.Equal(t, http.StatusNoContent, serve(skipped, "").Code)
}

func TestIPRateLimiterBurstAndRefill(t *testing.T) {
	l := NewIPRateLimiter(1, 2, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"), "clients have separate buckets")

	now = now.Add(time.Second)
	assert.True(t, l.Allow("a"))
}

func TestIPRateLimiterForgetsIdleClients(t *testing.T) {
	l := NewIPRateLimiter(1, 1, time.Minute)
	now := time.Unix(1000, 0)
	l.now = func() time.Time { return now }

	require.True(t, l.Allow("a"))
	now = now.Add(2 * time.Minute)
	require.True(t, l.Allow("b"))
	l.mu.Lock()
	_, kept := l.clients["a"]
	l.mu.Unlock()
	assert.False(t, kept)
}

func TestRateLimitMiddleware(t *testing.T) {
	h := RateLimitMiddleware{Limiter: NewIPRateLimiter(0.001, 1, time.Minute)}.Wrap(ok())
	req := httptest.NewRequest(http.MethodGet, "/api/v1/x", nil)
	req.RemoteAddr = "10.1.1.1:5555"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
}

func TestRequiredMiddleware(t *testing.T) {
	present := false
	h := RequiredMiddleware{Name: "permission backend", Present: func() bool { return present }}.Wrap(ok())

	rec := serve(h, "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "permission backend not configured"))

	present = true
	assert.Equal(t, http.StatusNoContent, serve(h, "").Code)
}

