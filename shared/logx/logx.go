package logx

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

const (
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeInternal           = "INTERNAL_ERROR"
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeDataCorruption     = "DATA_CORRUPTION"
)

type Logger struct {
	slog *slog.Logger
	env  string
}

func New(service string, env string, version string, level string) Logger {
	return NewWithWriter(os.Stdout, service, env, version, level)
}

func NewWithWriter(w io.Writer, service string, env string, version string, level string) Logger {
	opts := &slog.HandlerOptions{
		Level: parseLevel(level),
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "ts"
			case slog.LevelKey:
				a.Key = "level"
			case slog.MessageKey:
				a.Key = "event"
			}
			return a
		},
	}

	base := slog.New(slog.NewJSONHandler(w, opts)).With(
		slog.String("service", service),
		slog.String("env", env),
	)
	if v := strings.TrimSpace(version); v != "" {
		base = base.With(slog.String("version", v))
	}
	return Logger{slog: base, env: env}
}

func (l Logger) With(attrs ...slog.Attr) Logger {
	if l.slog == nil {
		return l
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	return Logger{slog: l.slog.With(args...), env: l.env}
}

func (l Logger) Info(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelInfo, event, msg, attrs)
}

func (l Logger) Warn(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelWarn, event, msg, attrs)
}

func (l Logger) Error(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelError, event, msg, attrs)
}

func (l Logger) Debug(ctx context.Context, event string, msg string, attrs ...slog.Attr) {
	l.log(ctx, slog.LevelDebug, event, msg, attrs)
}

func (l Logger) log(ctx context.Context, level slog.Level, event string, msg string, attrs []slog.Attr) {
	if l.slog == nil {
		return
	}
	attrs = append(attrs, slog.String("msg", msg))
	l.slog.LogAttrs(ctx, level, event, attrs...)
}

func (l Logger) Env() string { return l.env }

func Failure(code string, err error) []slog.Attr {
	attrs := []slog.Attr{slog.String("error_code", code)}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	return attrs
}

func parseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
