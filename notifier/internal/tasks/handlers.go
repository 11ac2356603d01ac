package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"issue-notifications/notifier/internal/digest"
	"issue-notifications/notifier/internal/models"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/lockx"
)

var tracer = otel.Tracer("issue-notifications/notifier/tasks")

type DigestProcessor interface {
	Process(ctx context.Context, a digest.AnalysisNewIssues) (digest.Result, error)
}

type Locker func(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error

type Outbox interface {
	Claim(ctx context.Context, owner string, limit int) ([]models.EmailOutbox, error)
	Dispatch(ctx context.Context, emailID uuid.UUID) error
	Fail(ctx context.Context, email models.EmailOutbox, cause error) (bool, error)
}

type StaleReleaser interface {
	ReleaseStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type HandlersConfig struct {
	Queue      string
	Owner      string
	BatchSize  int
	DigestLock time.Duration
	StaleAfter time.Duration
}

type Handlers struct {
	cfg      HandlersConfig
	digests  DigestProcessor
	lock     Locker
	outbox   Outbox
	stale    StaleReleaser
	enqueuer Enqueuer
	logger   logx.Logger
}

func NewHandlers(cfg HandlersConfig, digests DigestProcessor, lock Locker, outbox Outbox, stale StaleReleaser, enqueuer Enqueuer, logger logx.Logger) (*Handlers, error) {
	if digests == nil || lock == nil || outbox == nil || enqueuer == nil {
		return nil, errors.New("tasks: digests, lock, outbox and enqueuer are required")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.DigestLock <= 0 {
		cfg.DigestLock = 5 * time.Minute
	}
	return &Handlers{cfg: cfg, digests: digests, lock: lock, outbox: outbox, stale: stale, enqueuer: enqueuer, logger: logger}, nil
}

func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeNewIssuesProcess, h.ProcessNewIssues)
	mux.HandleFunc(TypeOutboxScan, h.ScanOutbox)
	mux.HandleFunc(TypeOutboxDispatch, h.DispatchOutbox)
}

// ProcessNewIssues computes and routes one analysis digest under a lock so
// two workers never send the same digest concurrently.
func (h *Handlers) ProcessNewIssues(ctx context.Context, t *asynq.Task) error {
	a, err := ParseNewIssuesProcess(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	err = h.lock(ctx, "digest:"+a.AnalysisID, h.cfg.DigestLock, func(ctx context.Context) error {
		res, err := h.digests.Process(ctx, a)
		if err != nil {
			return err
		}
		h.logger.Info(ctx, "digest_processed", "analysis digest processed",
			slog.String("analysis_id", a.AnalysisID),
			slog.String("project_key", a.Project.Key),
			slog.Int("new_issues", res.NewIssues),
			slog.Int("digests", res.Digests),
			slog.Int("delivered", res.Delivered),
		)
		return nil
	})
	if errors.Is(err, lockx.ErrHeld) {
		return fmt.Errorf("analysis %s: %w", a.AnalysisID, err)
	}
	return err
}

func (h *Handlers) ScanOutbox(ctx context.Context, _ *asynq.Task) error {
	if h.stale != nil && h.cfg.StaleAfter > 0 {
		n, err := h.stale.ReleaseStale(ctx, h.cfg.StaleAfter)
		if err != nil {
			h.logger.Warn(ctx, "outbox_release_failed", "failed to release stale outbox rows", logx.Failure(logx.CodeInternal, err)...)
		} else if n > 0 {
			h.logger.Info(ctx, "outbox_released", "stale outbox rows released", slog.Int64("rows", n))
		}
	}

	emails, err := h.outbox.Claim(ctx, h.cfg.Owner, h.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, email := range emails {
		_, err := h.enqueuer.EnqueueContext(ctx, OutboxDispatch(email.EmailID, h.cfg.Queue))
		if err == nil || errors.Is(err, asynq.ErrTaskIDConflict) {
			continue
		}
		h.logger.Error(ctx, "enqueue_failed", "failed to enqueue outbox dispatch",
			append(logx.Failure(logx.CodeInternal, err), slog.String("email_id", email.EmailID.String()))...)
		if _, markErr := h.outbox.Fail(ctx, email, err); markErr != nil {
			return markErr
		}
	}
	return nil
}

func (h *Handlers) DispatchOutbox(ctx context.Context, t *asynq.Task) error {
	ctx, span := tracer.Start(ctx, "emails.outbox.dispatch")
	span.SetAttributes(attribute.String("queue", h.cfg.Queue))
	defer span.End()

	id, err := ParseOutboxDispatch(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	if err := h.outbox.Dispatch(ctx, id); err != nil {
		span.RecordError(err)
		return err
	}
	return nil
}
