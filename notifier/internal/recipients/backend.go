package recipients

import (
	"fmt"
	"time"

	"issue-notifications/notifier/internal/repos"
	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/clients/permissions"
	"issue-notifications/shared/config"
)

// FromConfig picks the permission backend and wraps it with the recipient
// cache when RECIPIENT_CACHE_TTL_SECONDS is set and a cache is available.
func FromConfig(cfg config.Config, db repos.DBTX, cache Cache) (routing.PermissionService, error) {
	var backend routing.PermissionService
	switch cfg.PermissionBackend {
	case config.PermissionBackendHTTP:
		client, err := permissions.New(cfg)
		if err != nil {
			return nil, err
		}
		backend = NewRemote(client)
	case config.PermissionBackendDB, "":
		if db == nil {
			return nil, fmt.Errorf("recipients: %s backend needs a database", config.PermissionBackendDB)
		}
		backend = repos.NewRecipientsRepo(db)
	default:
		return nil, fmt.Errorf("recipients: unknown backend %q", cfg.PermissionBackend)
	}

	if cfg.RecipientCacheTTLSec <= 0 || cache == nil {
		return backend, nil
	}
	return NewCached(backend, cache, time.Duration(cfg.RecipientCacheTTLSec)*time.Second)
}
