package authx

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v2/jwk"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrUnknownKID   = errors.New("unknown kid")
)

type AuthContext struct {
	Subject string
	Login   string
	Email   string
	Name    string
	Roles   []string
	Claims  map[string]any
}

// HasRole matches case-insensitively against roles and scopes.
func (a AuthContext) HasRole(role string) bool {
	for _, r := range a.Roles {
		if strings.EqualFold(r, role) {
			return true
		}
	}
	return false
}

type contextKey struct{}

func WithAuth(ctx context.Context, auth AuthContext) context.Context {
	return context.WithValue(ctx, contextKey{}, auth)
}

func FromContext(ctx context.Context) (AuthContext, bool) {
	a, ok := ctx.Value(contextKey{}).(AuthContext)
	return a, ok
}

type VerifierConfig struct {
	Issuer           string
	Audience         string
	JWKSURL          string
	TTLSeconds       int
	ClockSkewSeconds int
	HTTPClient       *http.Client
}

type JWTVerifier struct {
	audience string
	jwks     *JWKSCache
	parser   *jwt.Parser
}

// NewVerifier checks RS/ES signed tokens for one issuer and audience. The key
// set defaults to {issuer}/.well-known/jwks.json and is cached for TTLSeconds.
func NewVerifier(cfg VerifierConfig) (*JWTVerifier, error) {
	issuer := strings.TrimSpace(cfg.Issuer)
	audience := strings.TrimSpace(cfg.Audience)
	if issuer == "" || audience == "" {
		return nil, fmt.Errorf("%w: missing issuer or audience", ErrInvalidToken)
	}
	jwksURL := strings.TrimSpace(cfg.JWKSURL)
	if jwksURL == "" {
		jwksURL = strings.TrimRight(issuer, "/") + "/.well-known/jwks.json"
	}
	ttl := time.Duration(cfg.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	skew := time.Duration(max(cfg.ClockSkewSeconds, 0)) * time.Second

	return &JWTVerifier{
		audience: audience,
		jwks:     NewJWKSCache(jwksURL, ttl, cfg.HTTPClient),
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
			jwt.WithAudience(audience),
			jwt.WithIssuer(issuer),
			jwt.WithLeeway(skew),
			jwt.WithExpirationRequired(),
		),
	}, nil
}

func (v *JWTVerifier) Verify(ctx context.Context, rawToken string) (AuthContext, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return AuthContext{}, ErrInvalidToken
	}

	claims := jwt.MapClaims{}
	_, err := v.parser.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (any, error) {
		kid, _ := token.Header["kid"].(string)
		return v.jwks.GetKey(ctx, strings.TrimSpace(kid))
	})
	if err != nil {
		return AuthContext{}, ErrInvalidToken
	}
	if claims["nbf"] == nil {
		return AuthContext{}, ErrInvalidToken
	}

	subject := stringClaim(claims, "sub")
	if subject == "" {
		return AuthContext{}, ErrInvalidToken
	}
	login := firstClaim(claims, "login", "preferred_username")
	return AuthContext{
		Subject: subject,
		Login:   login,
		Email:   stringClaim(claims, "email"),
		Name:    firstClaim(claims, "name", "login", "preferred_username"),
		Roles:   parseRoles(claims, v.audience),
		Claims:  map[string]any(claims),
	}, nil
}

// An unknown kid forces a refetch at most once per minRefresh.
type JWKSCache struct {
	url        string
	ttl        time.Duration
	minRefresh time.Duration
	client     *http.Client

	mu        sync.RWMutex
	keysByKID map[string]any
	expiresAt time.Time
	fetchedAt time.Time
}

func NewJWKSCache(url string, ttl time.Duration, client *http.Client) *JWKSCache {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Second}
	}
	return &JWKSCache{
		url:        url,
		ttl:        ttl,
		minRefresh: 10 * time.Second,
		client:     client,
		keysByKID:  map[string]any{},
	}
}

func (c *JWKSCache) GetKey(ctx context.Context, kid string) (any, error) {
	if kid == "" {
		return nil, ErrUnknownKID
	}
	now := time.Now()
	key, fresh, recent := c.lookup(kid, now)
	if key != nil && fresh {
		return key, nil
	}
	if key == nil && recent {
		return nil, ErrUnknownKID
	}

	if err := c.refresh(ctx); err != nil {
		if key != nil {
			return key, nil
		}
		return nil, err
	}
	if key, _, _ = c.lookup(kid, time.Now()); key == nil {
		return nil, ErrUnknownKID
	}
	return key, nil
}

func (c *JWKSCache) lookup(kid string, now time.Time) (key any, fresh bool, recent bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keysByKID[kid], now.Before(c.expiresAt), now.Sub(c.fetchedAt) < c.minRefresh
}

func (c *JWKSCache) refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("jwks fetch failed: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return err
	}
	keys := make(map[string]any, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok {
			continue
		}
		kid := strings.TrimSpace(key.KeyID())
		if kid == "" {
			continue
		}
		var raw any
		if err := key.Raw(&raw); err != nil {
			continue
		}
		keys[kid] = raw
	}
	if len(keys) == 0 {
		return errors.New("no usable jwks keys")
	}

	now := time.Now()
	c.mu.Lock()
	c.keysByKID = keys
	c.expiresAt = now.Add(c.ttl)
	c.fetchedAt = now
	c.mu.Unlock()
	return nil
}

func stringClaim(claims map[string]any, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func firstClaim(claims map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringClaim(claims, k); s != "" {
			return s
		}
	}
	return ""
}

// parseRoles collects flat role claims, space-separated scopes, and the
// nested realm_access / resource_access[audience] roles some providers emit.
func parseRoles(claims map[string]any, audience string) []string {
	var roles []string
	seen := map[string]bool{}
	add := func(role string) {
		role = strings.TrimSpace(role)
		if role == "" || seen[role] {
			return
		}
		seen[role] = true
		roles = append(roles, role)
	}
	addAll := func(v any) {
		switch t := v.(type) {
		case []string:
			for _, r := range t {
				add(r)
			}
		case []any:
			for _, r := range t {
				add(fmt.Sprint(r))
			}
		case string:
			for _, r := range strings.Fields(t) {
				add(r)
			}
		case nil:
		default:
			add(fmt.Sprint(t))
		}
	}

	for _, key := range []string{"roles", "role", "groups", "scp", "scope"} {
		addAll(claims[key])
	}
	if realm, ok := claims["realm_access"].(map[string]any); ok {
		addAll(realm["roles"])
	}
	if resources, ok := claims["resource_access"].(map[string]any); ok && audience != "" {
		if client, ok := resources[audience].(map[string]any); ok {
			addAll(client["roles"])
		}
	}
	return roles
}
