package dbx

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"issue-notifications/shared/config"
)

var ErrNoPool = errors.New("db pool is nil")

var tracer = otel.Tracer("issue-notifications/shared/dbx")

func NewPool(cfg config.Config) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	poolCfg.MaxConns = int32(cfg.DBMaxConns)
	poolCfg.MinConns = int32(cfg.DBMinConns)
	poolCfg.MaxConnIdleTime = time.Duration(cfg.DBConnMaxIdleSec) * time.Second
	poolCfg.MaxConnLifetime = time.Duration(cfg.DBConnMaxLifeSec) * time.Second
	poolCfg.ConnConfig.RuntimeParams["application_name"] = cfg.ServiceName
	poolCfg.ConnConfig.Tracer = QueryTracer{}

	return pgxpool.NewWithConfig(context.Background(), poolCfg)
}

func Ping(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return ErrNoPool
	}
	var one int
	return pool.QueryRow(ctx, "SELECT 1").Scan(&one)
}

func InTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	if pool == nil {
		return ErrNoPool
	}
	return pgx.BeginFunc(ctx, pool, fn)
}

type QueryTracer struct{}

func (QueryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	ctx, _ = tracer.Start(ctx, "db.query",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.statement", data.SQL),
			attribute.Int("db.args", len(data.Args)),
		),
	)
	return ctx
}

func (QueryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	span := trace.SpanFromContext(ctx)
	if data.Err != nil && !errors.Is(data.Err, pgx.ErrNoRows) {
		span.RecordError(data.Err)
		span.SetStatus(codes.Error, data.Err.Error())
	} else {
		span.SetAttributes(attribute.Int64("db.rows_affected", data.CommandTag.RowsAffected()))
	}
	span.End()
}
