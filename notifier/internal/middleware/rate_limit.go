package middleware

import (
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"issue-notifications/shared/httpx"
)

type RateLimitMiddleware struct {
	Limiter *IPRateLimiter
	Skip    func(*http.Request) bool
}

func (m RateLimitMiddleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.Skip != nil && m.Skip(r) {
			next.ServeHTTP(w, r)
			return
		}
		if m.Limiter == nil {
			next.ServeHTTP(w, r)
			return
		}
		key := httpx.ClientIP(r)
		if key == "" {
			key = "unknown"
		}
		if !m.Limiter.Allow(key) {
			w.Header().Set("Retry-After", "1")
			httpx.WriteError(w, r, http.StatusTooManyRequests, httpx.CodeResourceExhausted, "rate limit exceeded", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// IPRateLimiter keeps one token bucket per client and forgets idle clients after ttl.
type IPRateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	ttl     time.Duration
	clients map[string]*client
	now     func() time.Time
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewIPRateLimiter(rps float64, burst int, ttl time.Duration) *IPRateLimiter {
	if rps <= 0 {
		rps = 5
	}
	if burst <= 0 {
		burst = 10
	}
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &IPRateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		ttl:     ttl,
		clients: make(map[string]*client),
		now:     time.Now,
	}
}

func (l *IPRateLimiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	l.cleanup(now)

	c, ok := l.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[key] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

func (l *IPRateLimiter) cleanup(now time.Time) {
	for key, c := range l.clients {
		if now.Sub(c.lastSeen) > l.ttl {
			delete(l.clients, key)
		}
	}
}
