package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"issue-notifications/notifier/internal/app"
	"issue-notifications/notifier/internal/ingest"
	"issue-notifications/notifier/migrations"
	"issue-notifications/shared/cachex"
	"issue-notifications/shared/config"
	"issue-notifications/shared/dbx"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/mqx"
	"issue-notifications/shared/observability"
)

func main() {
	cfg, problems := config.Load("notifications-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.RecipientCacheTTLSec > 0 && cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required when RECIPIENT_CACHE_TTL_SECONDS is set"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", logx.CodeFailedPrecondition),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.FromConfig(cfg, version))
	if err != nil {
		logger.Warn(context.Background(), "tracer_init_failed", "tracing disabled", logx.Failure(logx.CodeFailedPrecondition, err)...)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}

	if cfg.MigrateOnStart {
		if err := migrations.Up(cfg.DatabaseURL); err != nil {
			fatal(logger, "migrate_failed", "schema migration failed", err)
		}
		logger.Info(context.Background(), "migrate_done", "schema is up to date")
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			fatal(logger, "redis_init_failed", "redis init failed", err)
		}
		defer cache.Close()
	}

	pipeline, err := app.NewPipeline(cfg, app.Deps{Pool: dbPool, Cache: cache, Logger: logger})
	if err != nil {
		fatal(logger, "pipeline_init_failed", "notification pipeline init failed", err)
	}

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka producer init failed", err)
	}
	defer producer.Close()

	tasks := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	})
	defer tasks.Close()

	handler, err := ingest.NewHandler(pipeline.Dispatcher, tasks, producer, ingest.Topics{
		IssueChanges:      cfg.TopicIssueChanges,
		AnalysisNewIssues: cfg.TopicAnalysisNewIssues,
		DeadLetter:        cfg.TopicDeadLetter,
	}, cfg.AsynqQueue, logger)
	if err != nil {
		fatal(logger, "handler_init_failed", "ingest handler init failed", err)
	}

	topics := []string{cfg.TopicIssueChanges, cfg.TopicAnalysisNewIssues}
	readers := make([]*kafka.Reader, 0, len(topics))
	for _, topic := range topics {
		reader, err := mqx.NewConsumer(cfg, topic, cfg.KafkaGroupID)
		if err != nil {
			fatal(logger, "kafka_init_failed", "kafka reader init failed", err)
		}
		defer reader.Close()
		readers = append(readers, reader)
	}

	metricsx.Register()
	metricsServer := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           metricsx.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "metrics_server_failed", "metrics server failed", logx.Failure(logx.CodeInternal, err)...)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info(ctx, "consumer_start", "notification consumer started",
		slog.Any("topics", topics),
		slog.String("group", cfg.KafkaGroupID),
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, reader := range readers {
		consumer := ingest.NewConsumer(reader, handler, cfg.KafkaGroupID, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if err := g.Wait(); err != nil {
		logger.Error(context.Background(), "consumer_failed", "consumer failed", logx.Failure(logx.CodeInternal, err)...)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "consumer_stop", "notification consumer stopped")
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg, logx.Failure(logx.CodeFailedPrecondition, err)...)
	os.Exit(1)
}
