// Package httpx holds the JSON error envelope and the middleware every
// notification HTTP surface is wrapped in.
package httpx

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"issue-notifications/shared/logx"
)

const (
	CodeInvalidArgument    = "INVALID_ARGUMENT"
	CodeUnauthenticated    = "UNAUTHENTICATED"
	CodePermissionDenied   = "PERMISSION_DENIED"
	CodeNotFound           = "NOT_FOUND"
	CodeFailedPrecondition = "FAILED_PRECONDITION"
	CodeResourceExhausted  = "RESOURCE_EXHAUSTED"
	CodeUnavailable        = "UNAVAILABLE"
	CodeTimeout            = "TIMEOUT"
	CodeInternal           = "INTERNAL_ERROR"
)

var (
	ErrEmptyBody    = errors.New("request body is empty")
	ErrTrailingData = errors.New("request body must hold a single JSON value")
)

type requestIDKey struct{}

type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

type ErrorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Details   any    `json:"details,omitempty"`
}

func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, r *http.Request, statusCode int, code string, message string, details any) {
	WriteJSON(w, statusCode, ErrorEnvelope{
		Error: ErrorBody{
			Code:      code,
			Message:   message,
			RequestID: RequestIDFromContext(r.Context()),
			Details:   details,
		},
	})
}

// DecodeJSON reads exactly one JSON value of at most maxBytes and rejects
// unknown fields.
func DecodeJSON(r *http.Request, maxBytes int64, dst any) error {
	if maxBytes <= 0 {
		maxBytes = 1 << 20
	}
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return ErrEmptyBody
		}
		return fmt.Errorf("invalid json: %w", err)
	}
	if dec.More() {
		return ErrTrailingData
	}
	return nil
}

func WithRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-ID"))
		if requestID == "" || len(requestID) > 128 {
			requestID = newRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, requestID)))
	})
}

func RequestIDFromContext(ctx context.Context) string {
	s, _ := ctx.Value(requestIDKey{}).(string)
	return s
}

func newRequestID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}

// WithRecover turns a handler panic into a logged 500. Stacks are logged
// outside prod only.
func WithRecover(l logx.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			attrs := []slog.Attr{
				slog.String("request_id", RequestIDFromContext(r.Context())),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.String("error_code", logx.CodeInternal),
				slog.Any("error", rec),
			}
			if !strings.EqualFold(l.Env(), "prod") {
				attrs = append(attrs, slog.String("stack", string(debug.Stack())))
			}
			l.Error(r.Context(), "panic", "panic recovered", attrs...)
			WriteError(w, r, http.StatusInternalServerError, CodeInternal, "internal server error", nil)
		}()
		next.ServeHTTP(w, r)
	})
}

type RequestLogOptions struct {
	SkipPaths map[string]bool
	Enrich func(*http.Request) []slog.Attr
}

func WithRequestLog(l logx.Logger, opts RequestLogOptions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if opts.SkipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		lrw := &loggingResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(lrw, r)

		attrs := []slog.Attr{
			slog.String("request_id", RequestIDFromContext(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status_code", lrw.statusCode),
			slog.Int("bytes", lrw.bytes),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
			slog.String("client_ip", ClientIP(r)),
		}
		if opts.Enrich != nil {
			attrs = append(attrs, opts.Enrich(r)...)
		}
		if lrw.statusCode >= http.StatusInternalServerError {
			l.Error(r.Context(), "http_request", "http request", attrs...)
			return
		}
		l.Info(r.Context(), "http_request", "http request", attrs...)
	})
}

// WithTimeout buffers the handler's response and answers 504 when it does
// not finish in time. Writes after the deadline are dropped.
func WithTimeout(timeout time.Duration, next http.Handler) http.Handler {
	if timeout <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()

		done := make(chan struct{})
		panicked := make(chan any, 1)
		crw := newCaptureResponseWriter()
		go func() {
			defer func() {
				if p := recover(); p != nil {
					panicked <- p
				}
			}()
			next.ServeHTTP(crw, r.WithContext(ctx))
			close(done)
		}()

		select {
		case p := <-panicked:
			panic(p)
		case <-done:
			crw.copyTo(w)
		case <-ctx.Done():
			crw.expire()
			WriteError(w, r, http.StatusGatewayTimeout, CodeTimeout, "request timeout", nil)
		}
	})
}

func WrapServeMux(mux *http.ServeMux, notFound http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, pattern := mux.Handler(r)
		if pattern == "" {
			notFound.ServeHTTP(w, r)
			return
		}
		h.ServeHTTP(w, r)
	})
}

// ClientIP prefers proxy headers over the socket address.
func ClientIP(r *http.Request) string {
	if v := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); v != "" {
		first, _, _ := strings.Cut(v, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	if v := strings.TrimSpace(r.Header.Get("X-Real-IP")); v != "" {
		return v
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil && host != "" {
		return host
	}
	return r.RemoteAddr
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
	bytes      int
}

func (w *loggingResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *loggingResponseWriter) Write(p []byte) (int, error) {
	n, err := w.ResponseWriter.Write(p)
	w.bytes += n
	return n, err
}

type captureResponseWriter struct {
	mu          sync.Mutex
	header      http.Header
	statusCode  int
	wroteHeader bool
	body        bytes.Buffer
	expired     bool
}

func newCaptureResponseWriter() *captureResponseWriter {
	return &captureResponseWriter{header: make(http.Header), statusCode: http.StatusOK}
}

func (w *captureResponseWriter) Header() http.Header {
	return w.header
}

func (w *captureResponseWriter) WriteHeader(statusCode int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired || w.wroteHeader {
		return
	}
	w.statusCode = statusCode
	w.wroteHeader = true
}

func (w *captureResponseWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.expired {
		return 0, http.ErrHandlerTimeout
	}
	w.wroteHeader = true
	return w.body.Write(p)
}

func (w *captureResponseWriter) expire() {
	w.mu.Lock()
	w.expired = true
	w.mu.Unlock()
}

func (w *captureResponseWriter) copyTo(dst http.ResponseWriter) {
	w.mu.Lock()
	defer w.mu.Unlock()
	for k, v := range w.header {
		dst.Header()[k] = append([]string(nil), v...)
	}
	dst.WriteHeader(w.statusCode)
	_, _ = dst.Write(w.body.Bytes())
}
