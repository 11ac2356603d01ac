package middleware

import (
	"net/http"

	"issue-notifications/shared/httpx"
)

type RequiredMiddleware struct {
	Name    string
	Present func() bool
	Skip    func(*http.Request) bool
}

func (m RequiredMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Present == nil || !m.Present() {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition, m.Name+" not configured", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}
