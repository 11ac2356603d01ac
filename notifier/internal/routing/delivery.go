package routing

import (
	"context"
	"errors"

	"issue-notifications/notifier/internal/notifications"
)

var ErrNilTransport = errors.New("routing: transport is required")

type Recipient struct {
	Login string `json:"login"`
	Email string `json:"email"`
}

// Nil Logins means every subscriber; a non-nil list restricts to those logins.
type Query struct {
	DispatcherKey string
	ProjectKey    string
	Logins        []string
	Role          RequiredRole
	IncludeGlobal bool
}

type PermissionService interface {
	ResolveRecipients(ctx context.Context, q Query) ([]Recipient, error)
}

type DeliveryRequest struct {
	Email        string
	Login        string
	Notification notifications.Notification
}

func (r DeliveryRequest) Key() string {
	return r.Email + "\x00" + r.Notification.Key()
}

type Transport interface {
	IsEnabled() bool
	Deliver(ctx context.Context, requests []DeliveryRequest) (int, error)
}

// DeliverySet keeps one request per (email, notification key) in insertion order.
type DeliverySet struct {
	seen     map[string]bool
	requests []DeliveryRequest
}

func NewDeliverySet() *DeliverySet {
	return &DeliverySet{seen: make(map[string]bool)}
}

func (s *DeliverySet) Add(r DeliveryRequest) bool {
	k := r.Key()
	if s.seen[k] {
		return false
	}
	s.seen[k] = true
	s.requests = append(s.requests, r)
	return true
}

func (s *DeliverySet) Len() int { return len(s.requests) }

func (s *DeliverySet) Requests() []DeliveryRequest {
	out := make([]DeliveryRequest, len(s.requests))
	copy(out, s.requests)
	return out
}
