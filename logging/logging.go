// Package logging builds the process slog.Logger and the HTTP request
// logging middleware.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

// Common field names
const (
	FieldComponent  = "component"
	FieldRequestID  = "request_id"
	FieldMethod     = "method"
	FieldPath       = "path"
	FieldStatusCode = "status_code"
	FieldDuration   = "duration_ms"
	FieldOwnerID    = "owner_id"
)

// Component names
const (
	ComponentApp       = "app"
	ComponentHTTP      = "http"
	ComponentLedger    = "ledger"
	ComponentAudit     = "audit"
	ComponentAMQP      = "amqp"
	ComponentStorage   = "storage"
	ComponentAgent     = "agent"
	ComponentScenarios = "scenarios"
)

type Config struct {
	Level  string // debug, info, warn, error
	Format string // text, json
	Output io.Writer
}

// New builds a logger. Unknown levels fall back to info and unknown
// formats to text.
func New(cfg Config) *slog.Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return slog.New(handler)
}

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// Discard returns a logger that drops everything, for tests.
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// =============================================================================
// CONTEXT
// =============================================================================

type contextKey struct{}

func WithLogger(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, contextKey{}, logger)
}

// FromContext returns the request-scoped logger, or slog.Default().
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(contextKey{}).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// =============================================================================
// HTTP MIDDLEWARE
// =============================================================================

// Middleware stores a request-scoped logger (tagged with chi's request id)
// in the context and logs one line per request when it completes. 5xx
// responses log at ERROR, 4xx at WARN.
func Middleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			reqLogger := logger.With(FieldComponent, ComponentHTTP)
			if id := middleware.GetReqID(r.Context()); id != "" {
				reqLogger = reqLogger.With(FieldRequestID, id)
			}

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(WithLogger(r.Context(), reqLogger)))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			level := slog.LevelInfo
			switch {
			case status >= 500:
				level = slog.LevelError
			case status >= 400:
				level = slog.LevelWarn
			}
			reqLogger.Log(r.Context(), level, "http request",
				FieldMethod, r.Method,
				FieldPath, r.URL.Path,
				FieldStatusCode, status,
				FieldDuration, time.Since(start).Milliseconds())
		})
	}
}
