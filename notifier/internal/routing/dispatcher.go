package routing

import (
	"context"
	"fmt"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/issuechange"
	"issue-notifications/notifier/internal/notifications"
)

type Config struct {
	AuthorizationConcurrency int
}

type Dispatcher struct {
	codec       codec.Codec
	changes     []*Resolver[issuechange.Aggregate]
	newIssues   *Resolver[notifications.NewIssues]
	myNewIssues *Resolver[notifications.MyNewIssues]
}

func NewDispatcher(cfg Config, c codec.Codec, permissions PermissionService, transport Transport) (*Dispatcher, error) {
	if c == nil {
		c = codec.PropertiesCodec{}
	}
	opts := []ResolverOption{WithConcurrency(cfg.AuthorizationConcurrency)}

	changesOnMine, err := NewResolver(ChangesOnMyIssuePolicy(), permissions, transport, opts...)
	if err != nil {
		return nil, err
	}
	fp, err := NewResolver(FPOrAcceptedPolicy(), permissions, transport, opts...)
	if err != nil {
		return nil, err
	}
	newIssues, err := NewResolver(NewIssuesPolicy(), permissions, transport, opts...)
	if err != nil {
		return nil, err
	}
	myNewIssues, err := NewResolver(MyNewIssuesPolicy(), permissions, transport, opts...)
	if err != nil {
		return nil, err
	}
	return &Dispatcher{
		codec:       c,
		changes:     []*Resolver[issuechange.Aggregate]{changesOnMine, fp},
		newIssues:   newIssues,
		myNewIssues: myNewIssues,
	}, nil
}

// Decode turns raw payloads into aggregates; the first malformed one aborts the batch.
func (d *Dispatcher) Decode(payloads []codec.Properties) ([]issuechange.Aggregate, error) {
	aggs := make([]issuechange.Aggregate, 0, len(payloads))
	for i, p := range payloads {
		agg, err := d.codec.Decode(p)
		if err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		aggs = append(aggs, agg)
	}
	return aggs, nil
}

func (d *Dispatcher) DispatchIssueChanges(ctx context.Context, payloads []codec.Properties) (int, error) {
	if len(payloads) == 0 {
		return 0, nil
	}
	aggs, err := d.Decode(payloads)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, r := range d.changes {
		n, err := r.Deliver(ctx, aggs)
		if err != nil {
			return total, fmt.Errorf("%s: %w", r.Metadata().DispatcherKey, err)
		}
		total += n
	}
	return total, nil
}

func (d *Dispatcher) DispatchNewIssues(ctx context.Context, digests []notifications.NewIssues, mine []notifications.MyNewIssues) (int, error) {
	total, err := d.newIssues.Deliver(ctx, digests)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", d.newIssues.Metadata().DispatcherKey, err)
	}
	n, err := d.myNewIssues.Deliver(ctx, mine)
	if err != nil {
		return total, fmt.Errorf("%s: %w", d.myNewIssues.Metadata().DispatcherKey, err)
	}
	return total + n, nil
}

func (d *Dispatcher) Preview(ctx context.Context, aggs []issuechange.Aggregate) ([]DeliveryRequest, error) {
	var out []DeliveryRequest
	for _, r := range d.changes {
		set, err := r.Resolve(ctx, aggs)
		if err != nil {
			return nil, err
		}
		out = append(out, set.Requests()...)
	}
	return out, nil
}

func (d *Dispatcher) Categories() []Metadata { return Categories() }
