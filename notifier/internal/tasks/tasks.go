package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"issue-notifications/notifier/internal/digest"
)

const (
	TypeNewIssuesProcess = "newissues.process"
	TypeOutboxScan       = "emails.outbox.scan"
	TypeOutboxDispatch   = "emails.outbox.dispatch"
)

var ErrInvalidPayload = errors.New("invalid task payload")

type OutboxDispatchPayload struct {
	EmailID string `json:"email_id"`
}

// NewIssuesProcess carries the whole analysis. The task id is the analysis id
// so a redelivered bus message does not enqueue a second digest.
func NewIssuesProcess(a digest.AnalysisNewIssues, queue string) (*asynq.Task, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypeNewIssuesProcess, b,
		asynq.Queue(queue),
		asynq.TaskID("newissues:"+a.AnalysisID),
		asynq.MaxRetry(10),
	), nil
}

func ParseNewIssuesProcess(t *asynq.Task) (digest.AnalysisNewIssues, error) {
	a, err := digest.Decode(t.Payload())
	if err != nil {
		return digest.AnalysisNewIssues{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return a, nil
}

func OutboxScan(queue string) *asynq.Task {
	return asynq.NewTask(TypeOutboxScan, nil, asynq.Queue(queue))
}

func OutboxDispatch(emailID uuid.UUID, queue string) *asynq.Task {
	b, _ := json.Marshal(OutboxDispatchPayload{EmailID: emailID.String()})
	return asynq.NewTask(TypeOutboxDispatch, b, asynq.Queue(queue), asynq.TaskID("outbox:"+emailID.String()))
}

func ParseOutboxDispatch(t *asynq.Task) (uuid.UUID, error) {
	var p OutboxDispatchPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	id, err := uuid.Parse(strings.TrimSpace(p.EmailID))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return id, nil
}
