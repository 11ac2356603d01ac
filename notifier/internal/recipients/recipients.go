package recipients

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/clients/permissions"
	"issue-notifications/shared/metricsx"
)

type RemoteClient interface {
	Recipients(ctx context.Context, req permissions.RecipientsRequest) ([]permissions.Recipient, error)
}

type Remote struct {
	client RemoteClient
}

func NewRemote(client RemoteClient) *Remote {
	return &Remote{client: client}
}

func (r *Remote) ResolveRecipients(ctx context.Context, q routing.Query) ([]routing.Recipient, error) {
	if q.Logins != nil && len(q.Logins) == 0 {
		return nil, nil
	}
	out, err := r.client.Recipients(ctx, permissions.RecipientsRequest{
		DispatcherKey: q.DispatcherKey,
		ProjectKey:    q.ProjectKey,
		Logins:        q.Logins,
		AllLogins:     q.Logins == nil,
		Role:          string(q.Role),
		IncludeGlobal: q.IncludeGlobal,
	})
	if err != nil {
		return nil, err
	}
	recipients := make([]routing.Recipient, 0, len(out))
	for _, rc := range out {
		if strings.TrimSpace(rc.Email) == "" {
			continue
		}
		recipients = append(recipients, routing.Recipient{Login: rc.Login, Email: rc.Email})
	}
	return recipients, nil
}

type Cache interface {
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Cached remembers lookups for ttl. Cache failures fall through to next.
type Cached struct {
	next  routing.PermissionService
	cache Cache
	ttl   time.Duration
}

func NewCached(next routing.PermissionService, cache Cache, ttl time.Duration) (*Cached, error) {
	if next == nil {
		return nil, errors.New("recipients: permission service is required")
	}
	if cache == nil || ttl <= 0 {
		return nil, errors.New("recipients: cache and positive ttl are required")
	}
	return &Cached{next: next, cache: cache, ttl: ttl}, nil
}

func (c *Cached) ResolveRecipients(ctx context.Context, q routing.Query) ([]routing.Recipient, error) {
	key := CacheKey(q)
	var cached []routing.Recipient
	if ok, err := c.cache.GetJSON(ctx, key, &cached); err == nil && ok {
		metricsx.IncRecipientCache(true)
		return cached, nil
	}
	metricsx.IncRecipientCache(false)

	out, err := c.next.ResolveRecipients(ctx, q)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []routing.Recipient{}
	}
	_ = c.cache.SetJSON(ctx, key, out, c.ttl)
	return out, nil
}

// CacheKey is stable for equal queries regardless of login order.
func CacheKey(q routing.Query) string {
	h := sha256.New()
	h.Write([]byte(q.DispatcherKey + "\x00" + q.ProjectKey + "\x00" + string(q.Role) + "\x00" + strconv.FormatBool(q.IncludeGlobal) + "\x00"))
	if q.Logins == nil {
		h.Write([]byte("*"))
	} else {
		logins := append([]string(nil), q.Logins...)
		sort.Strings(logins)
		h.Write([]byte(strings.Join(logins, "\x00")))
	}
	return "recipients:" + hex.EncodeToString(h.Sum(nil))
}
