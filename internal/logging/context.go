package logging

import (
	"context"
	"log/slog"
)

type ctxKey int

const (
	actionKey ctxKey = iota
	invocationIDKey
	sourceKey
)

// WithAction returns a context with the action name set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// WithInvocationID returns a context with the invocation ID set.
func WithInvocationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, invocationIDKey, id)
}

// WithSource returns a context naming the entry point that started the
// invocation ("http", "mcp", "scheduler", ...).
func WithSource(ctx context.Context, source string) context.Context {
	return context.WithValue(ctx, sourceKey, source)
}

// Action extracts the action name from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// InvocationID extracts the invocation ID from the context, or "" if absent.
func InvocationID(ctx context.Context) string {
	v, _ := ctx.Value(invocationIDKey).(string)
	return v
}

// Source extracts the invocation source from the context, or "" if absent.
func Source(ctx context.Context) string {
	v, _ := ctx.Value(sourceKey).(string)
	return v
}

// WithIDs sets the action and invocation ID on the context at once.
func WithIDs(ctx context.Context, action, invocationID string) context.Context {
	return WithInvocationID(WithAction(ctx, action), invocationID)
}

func correlationAttrs(ctx context.Context) []slog.Attr {
	var attrs []slog.Attr
	if v := Action(ctx); v != "" {
		attrs = append(attrs, slog.String("action", v))
	}
	if v := InvocationID(ctx); v != "" {
		attrs = append(attrs, slog.String("invocation_id", v))
	}
	if v := Source(ctx); v != "" {
		attrs = append(attrs, slog.String("source", v))
	}
	return attrs
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	for _, a := range correlationAttrs(ctx) {
		logger = logger.With(a)
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record.
// Use with slog.New(NewCorrelationHandler(inner)) so callers can use
// logger.InfoContext(ctx, ...) and IDs appear automatically.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler with automatic correlation ID injection.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	r.AddAttrs(correlationAttrs(ctx)...)
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
