package permissions

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"issue-notifications/shared/config"
)

func newClient(t *testing.T, url string, retry int) *Client {
	t.Helper()
	c, err := New(config.Config{PermissionServiceURL: url, PermissionTimeoutMS: 1000, PermissionRetryMax: retry, PermissionRPS: 1000})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRequiresURL(t *testing.T) {
	if _, err := New(config.Config{}); err == nil {
		t.Fatalf("expected error without PERMISSION_SERVICE_URL")
	}
}

func TestRecipientsSendsQuery(t *testing.T) {
	var got RecipientsRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/notification-recipients" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"recipients": []map[string]string{{"login": "keenan", "email": "keenan@example.com"}},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv.URL+"/", 0)
	out, err := c.Recipients(context.Background(), RecipientsRequest{
		DispatcherKey: "NewIssues", ProjectKey: "prj", AllLogins: true, Role: "user",
	})
	if err != nil {
		t.Fatalf("recipients: %v", err)
	}
	if len(out) != 1 || out[0].Login != "keenan" {
		t.Fatalf("unexpected recipients %+v", out)
	}
	if got.ProjectKey != "prj" || !got.AllLogins || got.Role != "user" {
		t.Fatalf("unexpected request body %+v", got)
	}
}

func TestRecipientsRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"recipients":[]}`))
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 2)
	if _, err := c.Recipients(context.Background(), RecipientsRequest{ProjectKey: "prj"}); err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
}

func TestRecipientsDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 3)
	if _, err := c.Recipients(context.Background(), RecipientsRequest{ProjectKey: "prj"}); err == nil {
		t.Fatalf("expected error")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single call, got %d", calls)
	}
}

func TestRecipientsOpensCircuit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv.URL, 10)
	if _, err := c.Recipients(context.Background(), RecipientsRequest{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected ErrCircuitOpen after repeated failures, got %v", err)
	}
	if _, err := c.Recipients(context.Background(), RecipientsRequest{}); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit to stay open, got %v", err)
	}
}

func TestCircuitBreakerResets(t *testing.T) {
	now := time.Unix(0, 0)
	b := newCircuitBreaker(2, time.Minute)
	b.now = func() time.Time { return now }
	b.Fail()
	if b.Open() {
		t.Fatalf("opened before threshold")
	}
	b.Fail()
	if !b.Open() {
		t.Fatalf("expected open at threshold")
	}
	now = now.Add(2 * time.Minute)
	if b.Open() {
		t.Fatalf("expected reset after duration")
	}
}
