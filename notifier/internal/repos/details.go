package repos

import (
	"context"

	"issue-notifications/notifier/internal/issuechange"
)

type DetailsRepo struct {
	db DBTX
}

func NewDetailsRepo(db DBTX) *DetailsRepo {
	return &DetailsRepo{db: db}
}

func (r *DetailsRepo) Users(ctx context.Context, uuids []string) (map[string]issuechange.User, error) {
	out := make(map[string]issuechange.User, len(uuids))
	if len(uuids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT uuid, login, COALESCE(name, '') FROM users WHERE uuid = ANY($1)`, uuids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var id, login, name string
		if err := rows.Scan(&id, &login, &name); err != nil {
			return nil, err
		}
		u, err := issuechange.NewUser(id, login, name)
		if err != nil {
			continue
		}
		out[id] = u
	}
	return out, rows.Err()
}

func (r *DetailsRepo) ComponentNames(ctx context.Context, uuids []string) (map[string]string, error) {
	return r.stringMap(ctx, `SELECT uuid, long_name FROM components WHERE uuid = ANY($1)`, uuids)
}

func (r *DetailsRepo) RuleLabels(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `SELECT rule_key, name, COALESCE(language, '') FROM rules WHERE rule_key = ANY($1)`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var key, name, language string
		if err := rows.Scan(&key, &name, &language); err != nil {
			return nil, err
		}
		out[key] = RuleLabel(name, language)
	}
	return out, rows.Err()
}

func RuleLabel(name string, language string) string {
	if language == "" {
		return name
	}
	return name + " (" + language + ")"
}

func (r *DetailsRepo) stringMap(ctx context.Context, sql string, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, sql, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}
