// Package logging builds the gateway's structured logger: a thin
// log/slog wrapper selecting a JSON or text handler by config and
// optionally redacting a fixed set of sensitive field names before
// they reach a log line. Grounded on the teacher's
// pkg/telemetry/logging, trimmed from its async LogBuffer and
// regex-pattern Redactor down to the subset SPEC_FULL.md's ambient
// stack actually calls for: every component here already takes a
// *slog.Logger directly (see internal/store, internal/queue,
// internal/server, ...), so this package hands out a real *slog.Logger
// rather than introducing a parallel Logger type those constructors
// would all have to be rewritten to accept.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
)

// Config selects the logger's level, output format, and redaction
// behavior.
type Config struct {
	// Level is "debug", "info", "warn", or "error". Empty defaults to "info".
	Level string

	// Format is "json" or "text". Empty defaults to "json".
	Format string

	// Redact enables redaction of well-known sensitive field names
	// (see redactedKeys) before a record is written.
	Redact bool

	// Writer defaults to os.Stdout.
	Writer io.Writer
}

// redactedKeys are the field names masked when Config.Redact is set,
// matching SPEC_FULL.md's ambient-stack description: request/response
// payloads and credentials are the two things a dispatch log line
// would otherwise leak verbatim.
var redactedKeys = map[string]bool{
	"message":  true,
	"api_key":  true,
	"response": true,
}

const redactedValue = "[REDACTED]"

// New builds a *slog.Logger per cfg. An invalid Level or Format falls
// back to its default rather than erroring, since a logger is
// infrastructure a misconfiguration should degrade gracefully around,
// not crash the process over.
func New(cfg Config) *slog.Logger {
	writer := cfg.Writer
	if writer == nil {
		writer = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if cfg.Redact {
		opts.ReplaceAttr = redactAttr
	}

	var handler slog.Handler
	if cfg.Format == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}
	return slog.New(handler)
}

func redactAttr(groups []string, a slog.Attr) slog.Attr {
	if redactedKeys[a.Key] {
		a.Value = slog.StringValue(redactedValue)
	}
	return a
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// contextKey namespaces values this package stashes on a
// context.Context, mirroring the teacher's pkg/telemetry/logging
// context keys but trimmed to the two IDs the gateway actually
// threads through dispatch and discussion rounds.
type contextKey string

const (
	requestIDKey contextKey = "request_id"
	sessionIDKey contextKey = "session_id"
)

// WithRequestID attaches a request ID for FromContext to pick up.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithSessionID attaches a discussion session ID for FromContext.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// FromContext returns log, augmented with request_id/session_id attrs
// pulled out of ctx if present. Components that already receive a
// request or session ID as a plain argument can log it directly
// instead; this exists for the deeper call paths (backend execution,
// discussion round fan-out) where threading ctx is already mandatory
// for cancellation but an explicit ID parameter would just duplicate it.
func FromContext(ctx context.Context, log *slog.Logger) *slog.Logger {
	var attrs []any
	if requestID, ok := ctx.Value(requestIDKey).(string); ok && requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok && sessionID != "" {
		attrs = append(attrs, "session_id", sessionID)
	}
	if len(attrs) == 0 {
		return log
	}
	return log.With(attrs...)
}

// Sync is a no-op hook kept for symmetry with the teacher's
// Logger.Shutdown: this package's handlers write synchronously, so
// there is nothing to flush, but callers that bootstrap/shutdown a
// logging subsystem explicitly (cmd/gateway) have a name to call.
func Sync(log *slog.Logger) error {
	_ = log
	return nil
}
