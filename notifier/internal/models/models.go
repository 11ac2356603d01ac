package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusSending   = "sending"
	OutboxStatusDelivered = "delivered"
	OutboxStatusDead      = "dead"
)

type EmailOutbox struct {
	EmailID         uuid.UUID
	DispatcherKey   string
	NotificationKey string
	RecipientLogin  string
	RecipientEmail  string
	MessageID       string
	Subject         string
	HTMLBody        string
	TextBody        string
	FromName        string
	Status          string
	Attempts        int
	NextRetryAt     *time.Time
	LockedAt        *time.Time
	LockedBy        *string
	LastError       *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	PublishedAt     *time.Time
}

type OutboundEmail struct {
	EmailID       uuid.UUID `json:"email_id"`
	DispatcherKey string    `json:"dispatcher_key"`
	To            string    `json:"to"`
	Login         string    `json:"login"`
	From          string    `json:"from,omitempty"`
	MessageID     string    `json:"message_id"`
	Subject       string    `json:"subject"`
	HTML          string    `json:"html"`
	Text          string    `json:"text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

func (e EmailOutbox) Outbound() OutboundEmail {
	return OutboundEmail{
		EmailID:       e.EmailID,
		DispatcherKey: e.DispatcherKey,
		To:            e.RecipientEmail,
		Login:         e.RecipientLogin,
		From:          e.FromName,
		MessageID:     e.MessageID,
		Subject:       e.Subject,
		HTML:          e.HTMLBody,
		Text:          e.TextBody,
		CreatedAt:     e.CreatedAt,
	}
}
