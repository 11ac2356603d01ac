package mail

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"issue-notifications/notifier/internal/models"
	"issue-notifications/shared/events"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/mqx"
)

type OutboxRepo interface {
	ClaimPending(ctx context.Context, owner string, limit int) ([]models.EmailOutbox, error)
	GetByID(ctx context.Context, emailID uuid.UUID) (models.EmailOutbox, error)
	MarkDelivered(ctx context.Context, emailID uuid.UUID) error
	MarkFailed(ctx context.Context, emailID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error
}

type OutboxPublisher struct {
	repo        OutboxRepo
	publisher   mqx.Publisher
	topic       string
	maxAttempts int
	logger      logx.Logger
	now         func() time.Time
}

func NewOutboxPublisher(repo OutboxRepo, publisher mqx.Publisher, topic string, maxAttempts int, logger logx.Logger) *OutboxPublisher {
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &OutboxPublisher{repo: repo, publisher: publisher, topic: topic, maxAttempts: maxAttempts, logger: logger, now: time.Now}
}

func (p *OutboxPublisher) Claim(ctx context.Context, owner string, limit int) ([]models.EmailOutbox, error) {
	return p.repo.ClaimPending(ctx, owner, limit)
}

// Dispatch publishes one row. Already delivered or dead rows are ignored.
// A failed publish is rescheduled; it returns the error unless the row went dead.
func (p *OutboxPublisher) Dispatch(ctx context.Context, emailID uuid.UUID) error {
	email, err := p.repo.GetByID(ctx, emailID)
	if err != nil {
		return err
	}
	if email.Status == models.OutboxStatusDelivered || email.Status == models.OutboxStatusDead {
		return nil
	}

	if err := p.publish(ctx, email); err != nil {
		dead, markErr := p.Fail(ctx, email, err)
		if markErr != nil {
			return markErr
		}
		if dead {
			return nil
		}
		metricsx.IncOutboxPublished("retry")
		return err
	}
	if err := p.repo.MarkDelivered(ctx, email.EmailID); err != nil {
		return err
	}
	metricsx.IncOutboxPublished("delivered")
	return nil
}

func (p *OutboxPublisher) Fail(ctx context.Context, email models.EmailOutbox, cause error) (bool, error) {
	attempts := email.Attempts + 1
	nextRetry := p.now().UTC().Add(RetryDelay(attempts))
	dead := attempts >= p.maxAttempts
	if err := p.repo.MarkFailed(ctx, email.EmailID, attempts, &nextRetry, cause.Error(), dead); err != nil {
		return false, err
	}
	if dead {
		metricsx.IncOutboxPublished("dead")
		p.logger.Warn(ctx, "email_outbox_dead", "email moved to dead status",
			slog.String("email_id", email.EmailID.String()),
			slog.String("category", email.DispatcherKey),
			slog.Int("attempts", attempts),
		)
	}
	return dead, nil
}

func (p *OutboxPublisher) publish(ctx context.Context, email models.EmailOutbox) error {
	env, err := events.New(events.TypeEmailRendered, "", email.Outbound())
	if err != nil {
		return err
	}
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"event_id":     env.EventID.String(),
		"email_id":     email.EmailID.String(),
		"category":     email.DispatcherKey,
		"published_at": p.now().UTC().Format(time.RFC3339Nano),
	}
	return p.publisher.Publish(ctx, p.topic, []byte(email.RecipientEmail), value, headers)
}

// RetryDelay grows quadratically from 5s and is capped at five minutes.
func RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 5 * time.Second
	}
	delay := time.Duration(attempt*attempt) * 5 * time.Second
	if delay > 5*time.Minute {
		return 5 * time.Minute
	}
	return delay
}
