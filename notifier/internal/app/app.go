// Package app assembles the notification pipeline shared by the commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/emails"
	"issue-notifications/notifier/internal/mail"
	"issue-notifications/notifier/internal/recipients"
	"issue-notifications/notifier/internal/repos"
	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/cachex"
	"issue-notifications/shared/config"
	"issue-notifications/shared/logx"
)

// LoadCatalog reads NOTIFICATION_CATALOG_PATH when set. Otherwise it looks for
// configs/{env}.notifications.json and falls back to the built-in names.
// The returned path is empty when the defaults are used.
func LoadCatalog(cfg config.Config) (emails.Catalog, string, error) {
	if path := strings.TrimSpace(cfg.NotificationCatalogPath); path != "" {
		c, err := emails.LoadCatalog(path)
		return c, path, err
	}
	path, err := emails.DefaultCatalogPath(cfg.Env)
	if err != nil {
		return emails.DefaultCatalog(), "", nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return emails.DefaultCatalog(), "", nil
	}
	c, err := emails.LoadCatalog(path)
	return c, path, err
}

func NewFormatter(cfg config.Config, catalog emails.Catalog) *emails.Formatter {
	return emails.NewFormatter(emails.RenderContext{
		ServerBaseURL:    cfg.ServerBaseURL,
		ProductName:      cfg.ProductName,
		MaxIssuesPerLink: cfg.MaxIssuesPerLink,
		Catalog:          catalog,
	})
}

// Deps are the connections the pipeline runs on. Cache may be nil.
type Deps struct {
	Pool   *pgxpool.Pool
	Cache  *cachex.Client
	Logger logx.Logger
}

type Pipeline struct {
	Dispatcher  *routing.Dispatcher
	Permissions routing.PermissionService
	Formatter   *emails.Formatter
	Catalog     emails.Catalog
	Outbox      *repos.EmailOutboxRepo
}

func NewPipeline(cfg config.Config, deps Deps) (*Pipeline, error) {
	if deps.Pool == nil {
		return nil, errors.New("app: database pool is required")
	}
	catalog, path, err := LoadCatalog(cfg)
	if err != nil {
		return nil, fmt.Errorf("catalog: %w", err)
	}
	if path != "" {
		deps.Logger.Info(context.Background(), "catalog_loaded", "notification catalog loaded", slog.String("path", path))
	}
	formatter := NewFormatter(cfg, catalog)

	var cache recipients.Cache
	var dedup mail.Deduper
	if deps.Cache != nil {
		cache = deps.Cache
		dedup = deps.Cache
	}

	permissions, err := recipients.FromConfig(cfg, deps.Pool, cache)
	if err != nil {
		return nil, fmt.Errorf("permissions: %w", err)
	}

	outbox := repos.NewEmailOutboxRepo(deps.Pool)
	transport, err := mail.NewOutboxTransport(mail.Options{
		Enabled:     cfg.EmailEnabled,
		DefaultFrom: cfg.EmailFromDefault,
		DedupTTL:    time.Duration(cfg.DeliveryDedupTTLSec) * time.Second,
	}, formatter, outbox, mail.PoolTx(deps.Pool), dedup, deps.Logger)
	if err != nil {
		return nil, err
	}

	dispatcher, err := routing.NewDispatcher(routing.Config{
		AuthorizationConcurrency: cfg.AuthorizationConcurrency,
	}, codec.PropertiesCodec{}, permissions, transport)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		Dispatcher:  dispatcher,
		Permissions: permissions,
		Formatter:   formatter,
		Catalog:     catalog,
		Outbox:      outbox,
	}, nil
}
