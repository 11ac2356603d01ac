package permissions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/time/rate"

	"issue-notifications/shared/config"
	"issue-notifications/shared/metricsx"
)

const backendName = "http"

var ErrCircuitOpen = errors.New("permission service circuit open")

type Client struct {
	baseURL  string
	retryMax int
	http     *http.Client
	limiter  *rate.Limiter
	breaker  *circuitBreaker
}

type RecipientsRequest struct {
	DispatcherKey string   `json:"dispatcher_key"`
	ProjectKey    string   `json:"project_key"`
	Logins        []string `json:"logins,omitempty"`
	AllLogins     bool     `json:"all_logins"`
	Role          string   `json:"role"`
	IncludeGlobal bool     `json:"include_global"`
}

type Recipient struct {
	Login string `json:"login"`
	Email string `json:"email"`
}

type recipientsResponse struct {
	Recipients []Recipient `json:"recipients"`
}

func New(cfg config.Config) (*Client, error) {
	if strings.TrimSpace(cfg.PermissionServiceURL) == "" {
		return nil, errors.New("PERMISSION_SERVICE_URL is required")
	}
	timeout := time.Duration(cfg.PermissionTimeoutMS) * time.Millisecond
	rps := cfg.PermissionRPS
	if rps <= 0 {
		rps = 50
	}
	return &Client{
		baseURL:  strings.TrimRight(cfg.PermissionServiceURL, "/"),
		retryMax: cfg.PermissionRetryMax,
		http:     &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter:  rate.NewLimiter(rate.Limit(rps), maxInt(int(rps), 1)),
		breaker:  newCircuitBreaker(5, 30*time.Second),
	}, nil
}

// Recipients performs one batched lookup. Server errors and transport failures
// are retried up to the configured count; 4xx answers are not.
func (c *Client) Recipients(ctx context.Context, req RecipientsRequest) ([]Recipient, error) {
	if c == nil || c.http == nil {
		return nil, errors.New("permission client not initialized")
	}
	start := time.Now()
	out, err := c.recipients(ctx, req)
	metricsx.ObservePermissionCall(backendName, err, time.Since(start))
	return out, err
}

func (c *Client) recipients(ctx context.Context, req RecipientsRequest) ([]Recipient, error) {
	if c.breaker.Open() {
		return nil, ErrCircuitOpen
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= c.retryMax; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		out, retry, err := c.do(ctx, body)
		if err == nil {
			c.breaker.Success()
			return out, nil
		}
		if !retry {
			return nil, err
		}
		lastErr = err
		c.breaker.Fail()
		if c.breaker.Open() {
			return nil, ErrCircuitOpen
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) ([]Recipient, bool, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/v1/notification-recipients", bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, false, ctx.Err()
		}
		return nil, true, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("permission service error: status %d", resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("permission request failed: status %d", resp.StatusCode)
	}
	var out recipientsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, true, fmt.Errorf("decode permission response: %w", err)
	}
	return out.Recipients, false, nil
}

type circuitBreaker struct {
	mu            sync.Mutex
	failures      int
	openUntil     time.Time
	threshold     int
	resetDuration time.Duration
	now           func() time.Time
}

func newCircuitBreaker(threshold int, reset time.Duration) *circuitBreaker {
	return &circuitBreaker{threshold: threshold, resetDuration: reset, now: time.Now}
}

func (b *circuitBreaker) Open() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.openUntil.IsZero() {
		return false
	}
	if b.now().After(b.openUntil) {
		b.openUntil = time.Time{}
		b.failures = 0
		return false
	}
	return true
}

func (b *circuitBreaker) Fail() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures++
	if b.failures >= b.threshold {
		b.openUntil = b.now().Add(b.resetDuration)
	}
}

func (b *circuitBreaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.openUntil = time.Time{}
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
