package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/mqx"
)

type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Stats() kafka.ReaderStats
}

type MessageHandler interface {
	Handle(ctx context.Context, msg kafka.Message) error
}

// Consumer commits a message only once its handler succeeded. A failing
// message is retried in place so a later commit never skips past it.
type Consumer struct {
	reader  Reader
	handler MessageHandler
	group   string
	logger  logx.Logger
	backoff func(attempt int) time.Duration
}

func NewConsumer(reader Reader, handler MessageHandler, group string, logger logx.Logger) *Consumer {
	return &Consumer{reader: reader, handler: handler, group: group, logger: logger, backoff: Backoff}
}

// Backoff doubles from 500ms and caps at 30s.
func Backoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := 500 * time.Millisecond
	for i := 1; i < attempt && delay < 30*time.Second; i++ {
		delay *= 2
	}
	if delay > 30*time.Second {
		return 30 * time.Second
	}
	return delay
}

func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message", logx.Failure(logx.CodeInternal, err)...)
			if !sleep(ctx, 500*time.Millisecond) {
				return nil
			}
			continue
		}

		if !c.handle(ctx, msg) {
			return nil
		}
		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				append(logx.Failure(logx.CodeInternal, err), slog.String("topic", msg.Topic), slog.Int64("offset", msg.Offset))...,
			)
		}
		stats := c.reader.Stats()
		metricsx.SetKafkaLag(msg.Topic, c.group, stats.Lag)
	}
}

// handle reports false when ctx ended before the handler succeeded.
func (c *Consumer) handle(ctx context.Context, msg kafka.Message) bool {
	for attempt := 1; ; attempt++ {
		spanCtx, span := mqx.StartConsumeSpan(ctx, msg)
		err := c.handler.Handle(spanCtx, msg)
		if err != nil {
			span.RecordError(err)
		}
		span.End()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		delay := c.backoff(attempt)
		c.logger.Error(ctx, "message_handle_failed", "failed to handle message, will retry",
			append(logx.Failure(logx.CodeInternal, err),
				slog.String("topic", msg.Topic),
				slog.Int("partition", msg.Partition),
				slog.Int64("offset", msg.Offset),
				slog.Int("attempt", attempt),
				slog.Int64("retry_in_ms", delay.Milliseconds()),
			)...,
		)
		if !sleep(ctx, delay) {
			return false
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
