package mail

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"issue-notifications/notifier/internal/emails"
	"issue-notifications/notifier/internal/models"
	"issue-notifications/notifier/internal/notifications"
	"issue-notifications/notifier/internal/repos"
	"issue-notifications/notifier/internal/routing"
	"issue-notifications/shared/dbx"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
)

var tracer = otel.Tracer("issue-notifications/notifier/mail")

type Renderer interface {
	Format(n notifications.Notification) (emails.EmailMessage, error)
}

type Deduper interface {
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

type OutboxStore interface {
	Insert(ctx context.Context, db repos.DBTX, email models.EmailOutbox) (models.EmailOutbox, bool, error)
}

type TxFunc func(ctx context.Context, fn func(db repos.DBTX) error) error

func PoolTx(pool *pgxpool.Pool) TxFunc {
	return func(ctx context.Context, fn func(db repos.DBTX) error) error {
		return dbx.InTx(ctx, pool, func(tx pgx.Tx) error { return fn(tx) })
	}
}

type Options struct {
	Enabled     bool
	DefaultFrom string
	// DedupTTL of zero turns the redis guard off; the outbox unique key still applies.
	DedupTTL time.Duration
}

type OutboxTransport struct {
	opts     Options
	renderer Renderer
	store    OutboxStore
	tx       TxFunc
	dedup    Deduper
	logger   logx.Logger
}

func NewOutboxTransport(opts Options, renderer Renderer, store OutboxStore, tx TxFunc, dedup Deduper, logger logx.Logger) (*OutboxTransport, error) {
	if renderer == nil || store == nil || tx == nil {
		return nil, errors.New("mail: renderer, store and tx are required")
	}
	return &OutboxTransport{opts: opts, renderer: renderer, store: store, tx: tx, dedup: dedup, logger: logger}, nil
}

func (t *OutboxTransport) IsEnabled() bool { return t.opts.Enabled }

// Deliver returns how many emails were queued. Requests seen within the
// dedup window are skipped and not counted.
func (t *OutboxTransport) Deliver(ctx context.Context, requests []routing.DeliveryRequest) (int, error) {
	if len(requests) == 0 {
		return 0, nil
	}
	ctx, span := tracer.Start(ctx, "mail.deliver", trace.WithAttributes(attribute.Int("mail.requests", len(requests))))
	defer span.End()

	rows := make([]models.EmailOutbox, 0, len(requests))
	var claimed []string
	for _, req := range requests {
		category := req.Notification.Category()
		msg, err := t.renderer.Format(req.Notification)
		metricsx.IncEmailRender(category, err)
		if err != nil {
			t.release(claimed)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return 0, fmt.Errorf("render %s for %s: %w", category, req.Login, err)
		}

		key := DedupKey(req.Email, msg.MessageID, req.Notification.Key())
		fresh, took := t.claim(ctx, key, category)
		if !fresh {
			continue
		}
		if took {
			claimed = append(claimed, key)
		}

		from := msg.From
		if from == "" {
			from = t.opts.DefaultFrom
		}
		rows = append(rows, models.EmailOutbox{
			DispatcherKey:   category,
			NotificationKey: req.Notification.Key(),
			RecipientLogin:  req.Login,
			RecipientEmail:  req.Email,
			MessageID:       msg.MessageID,
			Subject:         msg.Subject,
			HTMLBody:        msg.HTML,
			TextBody:        msg.Text,
			FromName:        from,
		})
	}
	if len(rows) == 0 {
		return 0, nil
	}

	perCategory := make(map[string]int)
	err := t.tx(ctx, func(db repos.DBTX) error {
		for k := range perCategory {
			delete(perCategory, k)
		}
		for _, row := range rows {
			_, inserted, err := t.store.Insert(ctx, db, row)
			if err != nil {
				return err
			}
			if inserted {
				perCategory[row.DispatcherKey]++
			}
		}
		return nil
	})
	if err != nil {
		t.release(claimed)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, fmt.Errorf("queue emails: %w", err)
	}

	total := 0
	for category, n := range perCategory {
		metricsx.AddDelivered(category, n)
		total += n
	}
	span.SetAttributes(attribute.Int("mail.queued", total))
	return total, nil
}

func (t *OutboxTransport) claim(ctx context.Context, key string, category string) (fresh bool, claimed bool) {
	if t.dedup == nil || t.opts.DedupTTL <= 0 {
		return true, false
	}
	ok, err := t.dedup.SetNX(ctx, key, t.opts.DedupTTL)
	if err != nil {
		t.logger.Warn(ctx, "delivery_dedup_unavailable", "delivery dedup check failed", logx.Failure(logx.CodeInternal, err)...)
		return true, false
	}
	if !ok {
		metricsx.IncDeduplicated(category)
		t.logger.Debug(ctx, "delivery_deduplicated", "delivery skipped", slog.String("category", category))
		return false, false
	}
	return true, true
}

func (t *OutboxTransport) release(keys []string) {
	if t.dedup == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for _, k := range keys {
		_ = t.dedup.Delete(ctx, k)
	}
}

func DedupKey(email string, messageID string, notificationKey string) string {
	sum := sha256.Sum256([]byte(email + "\x00" + messageID + "\x00" + notificationKey))
	return "delivery:" + hex.EncodeToString(sum[:])
}
