package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs the process-wide slog logger. Production gets JSON output,
// everything else gets the human-readable text handler.
func Setup(env, level string) {
	slog.SetDefault(slog.New(NewHandler(os.Stdout, env, level)))
}

// NewHandler builds the context-enriching handler used by Setup
func NewHandler(w io.Writer, env, level string) slog.Handler {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(env, "production") {
		return NewContextHandler(slog.NewJSONHandler(w, opts))
	}
	return NewContextHandler(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a config string onto a slog level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

// ContextHandler adds the fields stored by WithLogFields to every record
type ContextHandler struct {
	slog.Handler
}

func NewContextHandler(h slog.Handler) *ContextHandler {
	return &ContextHandler{Handler: h}
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	fields := GetLogFields(ctx)
	if fields.RequestID != "" {
		r.AddAttrs(slog.String("request_id", fields.RequestID))
	}
	if fields.IncidentID != "" {
		r.AddAttrs(slog.String("incident_id", fields.IncidentID))
	}
	if fields.SuggestionID != "" {
		r.AddAttrs(slog.String("suggestion_id", fields.SuggestionID))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *ContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *ContextHandler) WithGroup(name string) slog.Handler {
	return &ContextHandler{Handler: h.Handler.WithGroup(name)}
}

// Component returns the default logger tagged with a component name
func Component(name string) *slog.Logger {
	return slog.Default().With("component", name)
}
