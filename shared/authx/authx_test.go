package authx

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

func TestParseRoles(t *testing.T) {
	claims := map[string]any{
		"roles": []any{"admin", "operator"},
		"scp":   "read write",
	}
	roles := parseRoles(claims, "")
	if len(roles) != 4 {
		t.Fatalf("expected 4 roles, got %v", roles)
	}
}

func TestParseRolesDeduplicates(t *testing.T) {
	roles := parseRoles(map[string]any{"roles": "admin admin", "groups": []string{"admin", "notifications"}}, "")
	if len(roles) != 2 || roles[0] != "admin" || roles[1] != "notifications" {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestParseRolesNested(t *testing.T) {
	claims := map[string]any{
		"realm_access": map[string]any{"roles": []any{"offline_access"}},
		"resource_access": map[string]any{
			"notifier": map[string]any{"roles": []any{"notifications-admin"}},
			"other":    map[string]any{"roles": []any{"ignored"}},
		},
	}
	roles := parseRoles(claims, "notifier")
	if len(roles) != 2 || roles[0] != "offline_access" || roles[1] != "notifications-admin" {
		t.Fatalf("unexpected roles %v", roles)
	}
}

func TestJWKSCacheThrottlesUnknownKID(t *testing.T) {
	_, srv := newSigner(t)
	var calls atomic.Int32
	counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		resp, err := http.Get(srv.URL)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.Copy(w, resp.Body)
	}))
	t.Cleanup(counting.Close)

	c := NewJWKSCache(counting.URL, time.Minute, nil)
	if _, err := c.GetKey(context.Background(), "k1"); err != nil {
		t.Fatalf("get key: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := c.GetKey(context.Background(), "forged"); !errors.Is(err, ErrUnknownKID) {
			t.Fatalf("expected ErrUnknownKID, got %v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("expected one fetch, got %d", n)
	}
}

func TestHasRole(t *testing.T) {
	a := AuthContext{Roles: []string{"Notifications-Admin"}}
	if !a.HasRole("notifications-admin") {
		t.Fatalf("expected case-insensitive match")
	}
	if a.HasRole("user") {
		t.Fatalf("unexpected role match")
	}
}

func TestNewVerifierValidation(t *testing.T) {
	if _, err := NewVerifier(VerifierConfig{Audience: "aud"}); err == nil {
		t.Fatalf("expected error for missing issuer")
	}
	if _, err := NewVerifier(VerifierConfig{Issuer: "https://idp"}); err == nil {
		t.Fatalf("expected error for missing audience")
	}
}

func TestContextRoundTrip(t *testing.T) {
	ctx := WithAuth(context.Background(), AuthContext{Subject: "u1"})
	got, ok := FromContext(ctx)
	if !ok || got.Subject != "u1" {
		t.Fatalf("auth context lost: %+v %v", got, ok)
	}
	if _, ok := FromContext(context.Background()); ok {
		t.Fatalf("expected no auth on empty context")
	}
}

func newSigner(t *testing.T) (*rsa.PrivateKey, *httptest.Server) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	pub, err := jwk.FromRaw(priv.Public())
	if err != nil {
		t.Fatalf("jwk from raw: %v", err)
	}
	if err := pub.Set(jwk.KeyIDKey, "k1"); err != nil {
		t.Fatalf("set kid: %v", err)
	}
	if err := pub.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		t.Fatalf("set alg: %v", err)
	}
	set := jwk.NewSet()
	if err := set.AddKey(pub); err != nil {
		t.Fatalf("add key: %v", err)
	}
	body, err := json.Marshal(set)
	if err != nil {
		t.Fatalf("marshal set: %v", err)
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return priv, srv
}

func sign(t *testing.T, priv *rsa.PrivateKey, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	tok.Header["kid"] = "k1"
	raw, err := tok.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return raw
}

func TestVerifyAgainstJWKS(t *testing.T) {
	priv, srv := newSigner(t)
	v, err := NewVerifier(VerifierConfig{Issuer: "https://idp", Audience: "notifier", JWKSURL: srv.URL, TTLSeconds: 60})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	now := time.Now()
	raw := sign(t, priv, jwt.MapClaims{
		"iss":                "https://idp",
		"aud":                "notifier",
		"sub":                "u-1",
		"preferred_username": "keenan",
		"email":              "keenan@example.com",
		"roles":              []any{"notifications-admin"},
		"exp":                now.Add(time.Hour).Unix(),
		"nbf":                now.Add(-time.Minute).Unix(),
	})

	auth, err := v.Verify(context.Background(), raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if auth.Subject != "u-1" || auth.Login != "keenan" || auth.Name != "keenan" || auth.Email != "keenan@example.com" {
		t.Fatalf("unexpected auth %+v", auth)
	}
	if !auth.HasRole("notifications-admin") {
		t.Fatalf("expected role, got %v", auth.Roles)
	}
}

func TestVerifyRejectsWrongAudienceAndMissingClaims(t *testing.T) {
	priv, srv := newSigner(t)
	v, err := NewVerifier(VerifierConfig{Issuer: "https://idp", Audience: "notifier", JWKSURL: srv.URL})
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	now := time.Now()

	wrongAud := sign(t, priv, jwt.MapClaims{
		"iss": "https://idp", "aud": "other", "sub": "u-1",
		"exp": now.Add(time.Hour).Unix(), "nbf": now.Unix(),
	})
	if _, err := v.Verify(context.Background(), wrongAud); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}

	noNbf := sign(t, priv, jwt.MapClaims{
		"iss": "https://idp", "aud": "notifier", "sub": "u-1",
		"exp": now.Add(time.Hour).Unix(),
	})
	if _, err := v.Verify(context.Background(), noNbf); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for missing nbf, got %v", err)
	}

	if _, err := v.Verify(context.Background(), "  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for blank token")
	}
}
