package repos

import (
	"context"
	"time"

	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/metricsx"
)

const emailChannel = "EmailNotificationChannel"

type RecipientsRepo struct {
	db DBTX
}

func NewRecipientsRepo(db DBTX) *RecipientsRepo {
	return &RecipientsRepo{db: db}
}

// ResolveRecipients returns active users with an email who subscribed to the
// category on the project, or globally when the query allows it, and who hold
// the required role on the project.
func (r *RecipientsRepo) ResolveRecipients(ctx context.Context, q routing.Query) ([]routing.Recipient, error) {
	start := time.Now()
	out, err := r.resolve(ctx, q)
	metricsx.ObservePermissionCall("db", err, time.Since(start))
	return out, err
}

func (r *RecipientsRepo) resolve(ctx context.Context, q routing.Query) ([]routing.Recipient, error) {
	if q.Logins != nil && len(q.Logins) == 0 {
		return nil, nil
	}
	role := string(q.Role)
	if role == "" {
		role = string(routing.AllMustHaveRoleUser)
	}
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT u.login, u.email
		FROM notification_subscriptions s
		JOIN users u ON u.uuid = s.user_uuid
		JOIN project_permissions p ON p.user_uuid = u.uuid AND p.project_key = $2 AND p.role = $5
		WHERE s.dispatcher_key = $1
			AND s.channel = $6
			AND u.active
			AND COALESCE(u.email, '') <> ''
			AND (s.project_key = $2 OR ($3 AND s.project_key IS NULL))
			AND ($4::text[] IS NULL OR u.login = ANY($4))
		ORDER BY u.login
	`, q.DispatcherKey, q.ProjectKey, q.IncludeGlobal, q.Logins, role, emailChannel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []routing.Recipient
	for rows.Next() {
		var rc routing.Recipient
		if err := rows.Scan(&rc.Login, &rc.Email); err != nil {
			return nil, err
		}
		out = append(out, rc)
	}
	return out, rows.Err()
}
