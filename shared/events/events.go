package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	TypeIssueChanges     = "issues-changes"
	TypeAnalysisNewIssue = "analysis-new-issues"
	TypeEmailRendered    = "email-rendered"
	TypeDeadLetter       = "dead-letter"
)

var ErrInvalidEnvelope = errors.New("invalid envelope")

type Envelope struct {
	EventID    uuid.UUID       `json:"event_id"`
	OccurredAt time.Time       `json:"occurred_at"`
	EventType  string          `json:"event_type"`
	ProjectKey string          `json:"project_key,omitempty"`
	Payload    json.RawMessage `json:"payload"`
}

func New(eventType string, projectKey string, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:    uuid.New(),
		OccurredAt: time.Now().UTC(),
		EventType:  eventType,
		ProjectKey: projectKey,
		Payload:    b,
	}, nil
}

func Decode(raw []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}
	if env.EventID == uuid.Nil {
		return Envelope{}, fmt.Errorf("%w: missing event_id", ErrInvalidEnvelope)
	}
	if strings.TrimSpace(env.EventType) == "" {
		return Envelope{}, fmt.Errorf("%w: missing event_type", ErrInvalidEnvelope)
	}
	if len(env.Payload) == 0 {
		return Envelope{}, fmt.Errorf("%w: missing payload", ErrInvalidEnvelope)
	}
	return env, nil
}

type DeadLetter struct {
	Topic     string    `json:"topic"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Reason    string    `json:"reason"`
	Original  []byte    `json:"original"`
	FailedAt  time.Time `json:"failed_at"`
}
