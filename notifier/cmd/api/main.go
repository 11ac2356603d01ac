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

	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"issue-notifications/notifier/internal/admin"
	"issue-notifications/notifier/internal/app"
	"issue-notifications/notifier/internal/middleware"
	"issue-notifications/shared/authx"
	"issue-notifications/shared/cachex"
	"issue-notifications/shared/config"
	"issue-notifications/shared/dbx"
	"issue-notifications/shared/httpx"
	"issue-notifications/shared/logx"
	"issue-notifications/shared/metricsx"
	"issue-notifications/shared/observability"
)

type statusResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
	Env     string `json:"env,omitempty"`
	Version string `json:"version,omitempty"`
}

func main() {
	cfg, readyProblems := config.Load("notifications-api", 8080)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}

	shutdownTracer, err := observability.InitTracer(context.Background(), observability.FromConfig(cfg, version))
	if err != nil {
		logger.Warn(context.Background(), "tracer_init_failed", "tracing disabled", logx.Failure(logx.CodeFailedPrecondition, err)...)
	} else {
		defer func() { _ = shutdownTracer(context.Background()) }()
	}
	metricsx.Register()

	var dbPool *pgxpool.Pool
	if cfg.DatabaseURL != "" {
		dbPool, err = dbx.NewPool(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "DATABASE_URL", Message: "failed to connect to database"})
			logger.Error(context.Background(), "db_init_failed", "database init failed", logx.Failure(logx.CodeFailedPrecondition, err)...)
		}
	}

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		cache, err = cachex.New(cfg)
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "REDIS_ADDR", Message: "failed to initialize redis"})
		}
	}

	var pipeline *app.Pipeline
	if dbPool != nil {
		pipeline, err = app.NewPipeline(cfg, app.Deps{Pool: dbPool, Cache: cache, Logger: logger})
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "PERMISSION_BACKEND", Message: err.Error()})
		}
	}

	// A nil *JWTVerifier must not reach the middleware as a non-nil interface.
	var verifier middleware.Verifier
	if cfg.OIDCIssuer != "" && cfg.OIDCAudience != "" {
		v, err := authx.NewVerifier(authx.VerifierConfig{
			Issuer:           cfg.OIDCIssuer,
			Audience:         cfg.OIDCAudience,
			JWKSURL:          cfg.OIDCJWKSURL,
			TTLSeconds:       cfg.JWKSTTLSeconds,
			ClockSkewSeconds: cfg.JWTClockSkewSec,
		})
		if err != nil {
			readyProblems = append(readyProblems, config.Problem{Field: "OIDC_ISSUER", Message: "failed to initialize JWT verifier"})
		} else {
			verifier = v
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ok",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.HandleFunc("GET /readyz", func(w http.ResponseWriter, r *http.Request) {
		if len(readyProblems) > 0 {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeFailedPrecondition,
				"service not ready: invalid configuration", map[string]any{"problems": readyProblems})
			return
		}
		if err := dbx.Ping(r.Context(), dbPool); err != nil {
			httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeUnavailable,
				"service not ready: database unavailable", map[string]any{"problem": "db_ping_failed"})
			return
		}
		if cache != nil {
			if err := cache.Ping(r.Context()); err != nil {
				httpx.WriteError(w, r, http.StatusServiceUnavailable, httpx.CodeUnavailable,
					"service not ready: redis unavailable", map[string]any{"problem": "redis_ping_failed"})
				return
			}
		}
		httpx.WriteJSON(w, http.StatusOK, statusResponse{
			Status:  "ready",
			Service: cfg.ServiceName,
			Env:     cfg.Env,
			Version: version,
		})
	})
	mux.Handle("GET /metrics", metricsx.Handler())

	if pipeline != nil {
		admin.New(admin.Deps{
			Previewer:   pipeline.Dispatcher,
			Renderer:    pipeline.Formatter,
			Permissions: pipeline.Permissions,
			Catalog:     pipeline.Catalog,
			Logger:      logger,
		}).Routes(mux)
	}

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteError(w, r, http.StatusNotFound, httpx.CodeNotFound, "route not found", nil)
	})
	public := func(r *http.Request) bool {
		return !strings.HasPrefix(r.URL.Path, "/api/v1/")
	}

	handler := httpx.WrapServeMux(mux, notFound)
	handler = middleware.RequiredMiddleware{
		Name:    "notification pipeline",
		Present: func() bool { return pipeline != nil },
		Skip:    public,
	}.Wrap(handler)
	handler = middleware.AuthMiddleware{
		Verifier: verifier,
		Role:     cfg.AdminRole,
		Skip:     public,
	}.Wrap(handler)
	handler = middleware.RateLimitMiddleware{
		Limiter: middleware.NewIPRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, 10*time.Minute),
		Skip:    public,
	}.Wrap(handler)
	handler = metricsx.Instrument(handler)
	handler = httpx.WithTimeout(cfg.RequestTimeout, handler)
	handler = httpx.WithRequestID(handler)
	handler = httpx.WithRecover(logger, handler)
	handler = httpx.WithRequestLog(logger, httpx.RequestLogOptions{
		SkipPaths: map[string]bool{"/healthz": true, "/metrics": true},
		Enrich: func(r *http.Request) []slog.Attr {
			return []slog.Attr{slog.String("user_agent", r.UserAgent())}
		},
	}, handler)
	handler = otelhttp.NewHandler(handler, "notifications-api")

	server := &http.Server{
		Addr:              net.JoinHostPort("", strconv.Itoa(cfg.HTTPPort)),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(context.Background(), "service_start", "starting service",
			slog.String("addr", server.Addr),
			slog.Int("http_port", cfg.HTTPPort),
			slog.String("log_level", cfg.LogLevel),
			slog.Int("request_timeout_ms", cfg.RequestTimeoutMS),
			slog.Int("ready_problems", len(readyProblems)),
		)
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info(context.Background(), "shutdown_signal", "received signal", slog.String("signal", sig.String()))
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Error(context.Background(), "server_failed", "server failed", logx.Failure(logx.CodeInternal, err)...)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(context.Background(), "shutdown_failed", "shutdown failed", logx.Failure(logx.CodeInternal, err)...)
	}
	if cache != nil {
		_ = cache.Close()
	}
	if dbPool != nil {
		dbPool.Close()
	}
	logger.Info(context.Background(), "service_stop", "service stopped")
}
