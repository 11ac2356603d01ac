package routing

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"issue-notifications/notifier/internal/notifications"
)

const DefaultAuthorizationConcurrency = 8

var tracer = otel.Tracer("issue-notifications/notifier/routing")

type Policy[T any] struct {
	Metadata Metadata
	Role     RequiredRole
	// Qualify returns the part of an item this category cares about, or false to drop it.
	Qualify func(item T) (T, bool)
	Projects func(item T) []string
	// Candidates narrows the lookup for one project. Nil asks for every subscriber;
	// an empty non-nil slice skips the lookup.
	Candidates func(items []T, projectKey string) []string
	Excludes func(item T, login string) bool
	FanOut func(item T, r Recipient, projects map[string]bool) []notifications.Notification
}

type Resolver[T any] struct {
	policy      Policy[T]
	permissions PermissionService
	transport   Transport
	concurrency int
}

type ResolverOption func(*resolverOptions)

type resolverOptions struct {
	concurrency int
}

func WithConcurrency(n int) ResolverOption {
	return func(o *resolverOptions) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

func NewResolver[T any](policy Policy[T], permissions PermissionService, transport Transport, opts ...ResolverOption) (*Resolver[T], error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if permissions == nil {
		return nil, fmt.Errorf("routing: permission service is required for %s", policy.Metadata.DispatcherKey)
	}
	if policy.Projects == nil || policy.FanOut == nil {
		return nil, fmt.Errorf("routing: incomplete policy for %s", policy.Metadata.DispatcherKey)
	}
	o := resolverOptions{concurrency: DefaultAuthorizationConcurrency}
	for _, opt := range opts {
		opt(&o)
	}
	if policy.Role == "" {
		policy.Role = AllMustHaveRoleUser
	}
	return &Resolver[T]{policy: policy, permissions: permissions, transport: transport, concurrency: o.concurrency}, nil
}

func (r *Resolver[T]) Metadata() Metadata { return r.policy.Metadata }

// Deliver returns the count reported by the transport, or 0 when nothing qualifies.
func (r *Resolver[T]) Deliver(ctx context.Context, items []T) (int, error) {
	if len(items) == 0 || !r.transport.IsEnabled() {
		return 0, nil
	}
	set, err := r.Resolve(ctx, items)
	if err != nil {
		return 0, err
	}
	if set.Len() == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "routing.deliver", trace.WithAttributes(
		attribute.String("notification.category", r.policy.Metadata.DispatcherKey),
		attribute.Int("notification.requests", set.Len()),
	))
	defer span.End()
	n, err := r.transport.Deliver(ctx, set.Requests())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}
	return n, nil
}

func (r *Resolver[T]) Resolve(ctx context.Context, items []T) (*DeliverySet, error) {
	qualified := make([]T, 0, len(items))
	for _, item := range items {
		if r.policy.Qualify != nil {
			var ok bool
			if item, ok = r.policy.Qualify(item); !ok {
				continue
			}
		}
		qualified = append(qualified, item)
	}

	byProject := make(map[string][]int)
	for i, item := range qualified {
		for _, key := range r.policy.Projects(item) {
			byProject[key] = append(byProject[key], i)
		}
	}
	if len(byProject) == 0 {
		return NewDeliverySet(), nil
	}

	recipients, err := r.authorize(ctx, qualified, byProject)
	if err != nil {
		return nil, err
	}

	type target struct {
		recipient Recipient
		projects  map[string]bool
	}
	set := NewDeliverySet()
	for _, item := range qualified {
		targets := make(map[string]*target)
		var order []string
		for _, key := range r.policy.Projects(item) {
			for _, rcpt := range recipients[key] {
				tg, ok := targets[rcpt.Login]
				if !ok {
					tg = &target{recipient: rcpt, projects: make(map[string]bool)}
					targets[rcpt.Login] = tg
					order = append(order, rcpt.Login)
				}
				tg.projects[key] = true
			}
		}
		for _, login := range order {
			if r.policy.Excludes != nil && r.policy.Excludes(item, login) {
				continue
			}
			tg := targets[login]
			for _, n := range r.policy.FanOut(item, tg.recipient, tg.projects) {
				set.Add(DeliveryRequest{Email: tg.recipient.Email, Login: tg.recipient.Login, Notification: n})
			}
		}
	}
	return set, nil
}

// authorize makes exactly one permission lookup per project, concurrently.
func (r *Resolver[T]) authorize(ctx context.Context, items []T, byProject map[string][]int) (map[string][]Recipient, error) {
	keys := make([]string, 0, len(byProject))
	for k := range byProject {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var mu sync.Mutex
	out := make(map[string][]Recipient, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, key := range keys {
		key := key
		var logins []string
		if r.policy.Candidates != nil {
			group := make([]T, 0, len(byProject[key]))
			for _, idx := range byProject[key] {
				group = append(group, items[idx])
			}
			logins = r.policy.Candidates(group, key)
			if logins != nil && len(logins) == 0 {
				continue
			}
		}
		q := Query{
			DispatcherKey: r.policy.Metadata.DispatcherKey,
			ProjectKey:    key,
			Logins:        logins,
			Role:          r.policy.Role,
			IncludeGlobal: r.policy.Metadata.GlobalEnabled,
		}
		g.Go(func() error {
			spanCtx, span := tracer.Start(gctx, "routing.authorize", trace.WithAttributes(
				attribute.String("notification.category", q.DispatcherKey),
				attribute.String("project.key", q.ProjectKey),
			))
			defer span.End()
			found, err := r.permissions.ResolveRecipients(spanCtx, q)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return fmt.Errorf("resolve recipients of %s on %s: %w", q.DispatcherKey, q.ProjectKey, err)
			}
			mu.Lock()
			out[q.ProjectKey] = found
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
