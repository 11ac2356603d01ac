package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"issue-notifications/notifier/internal/models"
)

const outboxColumns = `email_id, dispatcher_key, notification_key, recipient_login, recipient_email, message_id, subject,
	html_body, text_body, from_name, status, attempts, next_retry_at, locked_at, locked_by, last_error, created_at, updated_at, published_at`

type EmailOutboxRepo struct {
	db DBTX
}

func NewEmailOutboxRepo(db DBTX) *EmailOutboxRepo {
	return &EmailOutboxRepo{db: db}
}

// Insert stores one email. It reports false when the same notification was
// already queued for that address.
func (r *EmailOutboxRepo) Insert(ctx context.Context, db DBTX, email models.EmailOutbox) (models.EmailOutbox, bool, error) {
	if db == nil {
		db = r.db
	}
	if email.EmailID == uuid.Nil {
		email.EmailID = uuid.New()
	}
	if email.Status == "" {
		email.Status = models.OutboxStatusPending
	}
	if email.CreatedAt.IsZero() {
		email.CreatedAt = time.Now().UTC()
	}
	if email.UpdatedAt.IsZero() {
		email.UpdatedAt = email.CreatedAt
	}

	row := db.QueryRow(ctx, `
		INSERT INTO email_outbox (`+outboxColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (recipient_email, notification_key) DO NOTHING
		RETURNING `+outboxColumns,
		email.EmailID, email.DispatcherKey, email.NotificationKey, email.RecipientLogin, email.RecipientEmail, email.MessageID, email.Subject,
		email.HTMLBody, email.TextBody, email.FromName, email.Status, email.Attempts, email.NextRetryAt, email.LockedAt, email.LockedBy,
		email.LastError, email.CreatedAt, email.UpdatedAt, email.PublishedAt,
	)
	out, err := scanOutbox(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return email, false, nil
	}
	if err != nil {
		return email, false, err
	}
	return out, true, nil
}

func (r *EmailOutboxRepo) ClaimPending(ctx context.Context, owner string, limit int) ([]models.EmailOutbox, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		WITH candidates AS (
			SELECT email_id
			FROM email_outbox
			WHERE status = $1 AND (next_retry_at IS NULL OR next_retry_at <= now())
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT $2
		)
		UPDATE email_outbox o
		SET status = $3, locked_at = now(), locked_by = $4, updated_at = now()
		FROM candidates c
		WHERE o.email_id = c.email_id
		RETURNING o.email_id, o.dispatcher_key, o.notification_key, o.recipient_login, o.recipient_email, o.message_id, o.subject,
			o.html_body, o.text_body, o.from_name, o.status, o.attempts, o.next_retry_at, o.locked_at, o.locked_by, o.last_error,
			o.created_at, o.updated_at, o.published_at
	`, models.OutboxStatusPending, limit, models.OutboxStatusSending, owner)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]models.EmailOutbox, 0, limit)
	for rows.Next() {
		email, err := scanOutbox(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, email)
	}
	return out, rows.Err()
}

func (r *EmailOutboxRepo) GetByID(ctx context.Context, emailID uuid.UUID) (models.EmailOutbox, error) {
	return scanOutbox(r.db.QueryRow(ctx, `SELECT `+outboxColumns+` FROM email_outbox WHERE email_id = $1`, emailID))
}

func (r *EmailOutboxRepo) MarkDelivered(ctx context.Context, emailID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = $2, published_at = now(), locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE email_id = $1
	`, emailID, models.OutboxStatusDelivered)
	return err
}

// MarkFailed puts the row back to pending for nextRetryAt, or to dead.
func (r *EmailOutboxRepo) MarkFailed(ctx context.Context, emailID uuid.UUID, attempts int, nextRetryAt *time.Time, lastErr string, dead bool) error {
	status := models.OutboxStatusPending
	if dead {
		status = models.OutboxStatusDead
		nextRetryAt = nil
	}
	_, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = $2, attempts = $3, next_retry_at = $4, last_error = $5, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE email_id = $1
	`, emailID, status, attempts, nextRetryAt, lastErr)
	return err
}

func (r *EmailOutboxRepo) ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE email_outbox
		SET status = $1, locked_at = NULL, locked_by = NULL, updated_at = now()
		WHERE status = $2 AND locked_at < now() - make_interval(secs => $3)
	`, models.OutboxStatusPending, models.OutboxStatusSending, olderThan.Seconds())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (r *EmailOutboxRepo) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.db.Query(ctx, `SELECT status, count(*) FROM email_outbox GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

func scanOutbox(row pgx.Row) (models.EmailOutbox, error) {
	var e models.EmailOutbox
	err := row.Scan(
		&e.EmailID, &e.DispatcherKey, &e.NotificationKey, &e.RecipientLogin, &e.RecipientEmail, &e.MessageID, &e.Subject,
		&e.HTMLBody, &e.TextBody, &e.FromName, &e.Status, &e.Attempts, &e.NextRetryAt, &e.LockedAt, &e.LockedBy, &e.LastError,
		&e.CreatedAt, &e.UpdatedAt, &e.PublishedAt,
	)
	return e, err
}
