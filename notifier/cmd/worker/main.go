package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"issue-notifications/notifier/internal/app"
	"issue-notifications/notifier/internal/digest"
	"issue-notifications/notifier/internal/mail"
	"issue-notifications/notifier/internal/repos"
	"issue-notifications/notifier/internal/tasks"
	"issue-notifications/shared/cachex"
	"issue-notifications/shared/config"
	"issue-notifications/shared/dbx"
	"issue-notifications/shared/influxx"
	"issue-notifications/shared/lockx"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/mqx"
	"issue-notifications/shared/observability"
)

func main() {
	cfg, problems := config.Load("notifications-worker", 8083)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if cfg.AsynqRedisAddr == "" {
		problems = append(problems, config.Problem{Field: "ASYNQ_REDIS_ADDR", Message: "ASYNQ_REDIS_ADDR is required"})
	}
	if cfg.RedisAddr == "" {
		problems = append(problems, config.Problem{Field: "REDIS_ADDR", Message: "REDIS_ADDR is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
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

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		fatal(logger, "db_init_failed", "db init failed", err)
	}
	defer dbPool.Close()

	cache, err := cachex.New(cfg)
	if err != nil {
		fatal(logger, "redis_init_failed", "redis init failed", err)
	}
	defer cache.Close()

	pipeline, err := app.NewPipeline(cfg, app.Deps{Pool: dbPool, Cache: cache, Logger: logger})
	if err != nil {
		fatal(logger, "pipeline_init_failed", "notification pipeline init failed", err)
	}

	var points digest.PointWriter
	if cfg.InfluxURL != "" {
		influx, err := influxx.New(cfg)
		if err != nil {
			logger.Warn(context.Background(), "influx_init_failed", "statistics history disabled", logx.Failure(logx.CodeFailedPrecondition, err)...)
		} else {
			defer influx.Close()
			points = influx
		}
	}
	digests := digest.NewPipeline(repos.NewDetailsRepo(dbPool), pipeline.Dispatcher, points, runtime.NumCPU(), logger)

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		fatal(logger, "kafka_init_failed", "kafka producer init failed", err)
	}
	defer producer.Close()
	publisher := mail.NewOutboxPublisher(pipeline.Outbox, producer, cfg.TopicEmails, cfg.OutboxMaxAttempts, logger)

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.AsynqRedisAddr,
		Password: cfg.AsynqRedisPass,
		DB:       cfg.AsynqRedisDB,
	}
	client := asynq.NewClient(redisOpt)
	defer client.Close()

	hostname, _ := os.Hostname()
	rdb := cache.Client()
	handlers, err := tasks.NewHandlers(tasks.HandlersConfig{
		Queue:      cfg.AsynqQueue,
		Owner:      cfg.ServiceName + "@" + hostname,
		BatchSize:  cfg.OutboxBatchSize,
		DigestLock: time.Duration(cfg.DigestLockTTLSec) * time.Second,
		StaleAfter: 5 * time.Minute,
	}, digests, func(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
		return lockx.Run(ctx, rdb, cache.Key(key), ttl, fn)
	}, publisher, pipeline.Outbox, client, logger)
	if err != nil {
		fatal(logger, "handlers_init_failed", "task handlers init failed", err)
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.AsynqConcurrency,
		Queues: map[string]int{
			cfg.AsynqQueue: 1,
		},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error(ctx, "task_failed", "task failed",
				append(logx.Failure(logx.CodeInternal, err), slog.String("task_type", task.Type()))...)
		}),
	})
	defer server.Shutdown()

	mux := asynq.NewServeMux()
	handlers.Register(mux)

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{
		Location: time.UTC,
	})
	defer scheduler.Shutdown()
	if _, err := scheduler.Register("@every "+strconv.Itoa(cfg.OutboxScanSec)+"s", tasks.OutboxScan(cfg.AsynqQueue)); err != nil {
		fatal(logger, "scheduler_init_failed", "scheduler init failed", err)
	}
	if err := scheduler.Start(); err != nil {
		fatal(logger, "scheduler_start_failed", "scheduler start failed", err)
	}

	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			info, err := inspector.GetQueueInfo(cfg.AsynqQueue)
			if err != nil {
				continue
			}
			metricsx.SetAsynqQueueDepth(cfg.AsynqQueue, info.Size)
		}
	}()

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

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "worker_start", "notification worker started",
			slog.String("queue", cfg.AsynqQueue),
			slog.Int("concurrency", cfg.AsynqConcurrency),
			slog.Bool("influx", points != nil),
		)
		errCh <- server.Run(mux)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, asynq.ErrServerClosed) {
			fatal(logger, "worker_failed", "worker failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logger.Info(context.Background(), "worker_stop", "notification worker stopped")
}

func fatal(logger logx.Logger, event string, msg string, err error) {
	logger.Error(context.Background(), event, msg, logx.Failure(logx.CodeFailedPrecondition, err)...)
	os.Exit(1)
}
