package metricsx

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRegisterIsIdempotent(t *testing.T) {
	Register()
	Register()
}

func TestHandlerExposesNotificationMetrics(t *testing.T) {
	Register()
	AddDelivered("ChangesOnMyIssue", 2)
	IncDecodeFailure("issues.changes")
	ObservePermissionCall("db", errors.New("down"), 10*time.Millisecond)
	IncRecipientCache(true)

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`notifications_delivered_total{category="ChangesOnMyIssue"}`,
		`notification_decode_failures_total{topic="issues.changes"}`,
		`permission_calls_total{backend="db",outcome="error"}`,
		`recipient_cache_lookups_total{result="hit"}`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %s in metrics output", want)
		}
	}
}

func TestInstrumentKeepsStatus(t *testing.T) {
	Register()
	h := Instrument(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rec.Code != http.StatusTeapot {
		t.Fatalf("status not forwarded: %d", rec.Code)
	}
}
