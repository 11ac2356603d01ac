package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"

	"issue-notifications/notifier/internal/codec"
	"issue-notifications/notifier/internal/digest"
	"issue-notifications/notifier/internal/tasks"
	"issue-notifications/shared/events"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/mqx"
)

var ErrUnknownTopic = errors.New("no handler for topic")

type IssueChangeRouter interface {
	DispatchIssueChanges(ctx context.Context, payloads []codec.Properties) (int, error)
}

type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

type Topics struct {
	IssueChanges      string
	AnalysisNewIssues string
	DeadLetter        string
}

// Messages that can never succeed go to the dead-letter topic and count as handled.
type Handler struct {
	router    IssueChangeRouter
	enqueuer  Enqueuer
	publisher mqx.Publisher
	topics    Topics
	queue     string
	logger    logx.Logger
}

func NewHandler(router IssueChangeRouter, enqueuer Enqueuer, publisher mqx.Publisher, topics Topics, queue string, logger logx.Logger) (*Handler, error) {
	if topics.IssueChanges != "" && router == nil {
		return nil, errors.New("ingest: router is required for " + topics.IssueChanges)
	}
	if topics.AnalysisNewIssues != "" && enqueuer == nil {
		return nil, errors.New("ingest: enqueuer is required for " + topics.AnalysisNewIssues)
	}
	if publisher == nil {
		return nil, errors.New("ingest: dead-letter publisher is required")
	}
	return &Handler{
		router:    router,
		enqueuer:  enqueuer,
		publisher: publisher,
		topics:    topics,
		queue:     queue,
		logger:    logger,
	}, nil
}

func (h *Handler) Handle(ctx context.Context, msg kafka.Message) error {
	err := h.dispatch(ctx, msg)
	if err == nil || !IsPoison(err) {
		return err
	}
	metricsx.IncDecodeFailure(msg.Topic)
	h.logger.Warn(ctx, "message_dead_lettered", "message cannot be processed",
		slog.String("error_code", logx.CodeDataCorruption),
		slog.String("topic", msg.Topic),
		slog.Int("partition", msg.Partition),
		slog.Int64("offset", msg.Offset),
		slog.String("error", err.Error()),
	)
	return h.deadLetter(ctx, msg, err)
}

func (h *Handler) dispatch(ctx context.Context, msg kafka.Message) error {
	switch msg.Topic {
	case "":
		// an unset topic must not match an unconfigured handler
	case h.topics.IssueChanges:
		return h.issueChanges(ctx, msg)
	case h.topics.AnalysisNewIssues:
		return h.analysis(ctx, msg)
	}
	return fmt.Errorf("%w %q", ErrUnknownTopic, msg.Topic)
}

func (h *Handler) issueChanges(ctx context.Context, msg kafka.Message) error {
	env, err := decodeEnvelope(msg.Value, events.TypeIssueChanges)
	if err != nil {
		return err
	}
	var props codec.Properties
	if err := json.Unmarshal(env.Payload, &props); err != nil {
		return fmt.Errorf("%w: %v", codec.ErrMalformed, err)
	}
	delivered, err := h.router.DispatchIssueChanges(ctx, []codec.Properties{props})
	if err != nil {
		return err
	}
	h.logger.Info(ctx, "issue_changes_routed", "issue changes routed",
		slog.String("event_id", env.EventID.String()),
		slog.String("project_key", env.ProjectKey),
		slog.Int("delivered", delivered),
	)
	return nil
}

func (h *Handler) analysis(ctx context.Context, msg kafka.Message) error {
	env, err := decodeEnvelope(msg.Value, events.TypeAnalysisNewIssue)
	if err != nil {
		return err
	}
	a, err := digest.Decode(env.Payload)
	if err != nil {
		return err
	}
	task, err := tasks.NewIssuesProcess(a, h.queue)
	if err != nil {
		return err
	}
	if _, err := h.enqueuer.EnqueueContext(ctx, task); err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			h.logger.Debug(ctx, "analysis_already_queued", "analysis digest already queued",
				slog.String("analysis_id", a.AnalysisID),
			)
			return nil
		}
		return fmt.Errorf("enqueue digest: %w", err)
	}
	h.logger.Info(ctx, "analysis_queued", "analysis digest queued",
		slog.String("analysis_id", a.AnalysisID),
		slog.String("project_key", a.Project.Key),
		slog.Int("issues", len(a.Issues)),
	)
	return nil
}

func decodeEnvelope(raw []byte, eventType string) (events.Envelope, error) {
	env, err := events.Decode(raw)
	if err != nil {
		return events.Envelope{}, err
	}
	if env.EventType != eventType {
		return events.Envelope{}, fmt.Errorf("%w: unexpected event_type %q", events.ErrInvalidEnvelope, env.EventType)
	}
	return env, nil
}

func (h *Handler) deadLetter(ctx context.Context, msg kafka.Message, cause error) error {
	env, err := events.New(events.TypeDeadLetter, "", events.DeadLetter{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Reason:    cause.Error(),
		Original:  msg.Value,
		FailedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	headers := map[string]string{
		"event_id":     env.EventID.String(),
		"source_topic": msg.Topic,
	}
	if err := h.publisher.Publish(ctx, h.topics.DeadLetter, msg.Key, b, headers); err != nil {
		return fmt.Errorf("dead-letter: %w", err)
	}
	return nil
}

// IsPoison reports whether redelivering the message could ever succeed.
func IsPoison(err error) bool {
	return errors.Is(err, events.ErrInvalidEnvelope) ||
		errors.Is(err, codec.ErrMalformed) ||
		errors.Is(err, digest.ErrInvalidAnalysis) ||
		errors.Is(err, ErrUnknownTopic)
}
