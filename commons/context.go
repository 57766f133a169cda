package commons

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

type customContextKey string

// CustomContextKey holds the per-request infrastructure values.
var CustomContextKey = customContextKey("custom_context")

// CustomContextKeyValue groups the logger, tracer and request id attached to a call chain.
type CustomContextKeyValue struct {
	HeaderID string
	Tracer   trace.Tracer
	Logger   log.Logger
}

// values returns a copy of the current values so that callers never mutate
// a struct shared with a parent context.
func values(ctx context.Context) CustomContextKeyValue {
	if v, ok := ctx.Value(CustomContextKey).(*CustomContextKeyValue); ok && v != nil {
		return *v
	}

	return CustomContextKeyValue{}
}

// NewLoggerFromContext extract the Logger from "logger" value inside context
//
//nolint:ireturn
func NewLoggerFromContext(ctx context.Context) log.Logger {
	if v := values(ctx); v.Logger != nil {
		return v.Logger
	}

	return &log.NoneLogger{}
}

// ContextWithLogger returns a context within a Logger in "logger" value.
func ContextWithLogger(ctx context.Context, logger log.Logger) context.Context {
	v := values(ctx)
	v.Logger = logger

	return context.WithValue(ctx, CustomContextKey, &v)
}

// NewTracerFromContext returns a new tracer from the context.
//
//nolint:ireturn
func NewTracerFromContext(ctx context.Context) trace.Tracer {
	if v := values(ctx); v.Tracer != nil {
		return v.Tracer
	}

	return otel.Tracer("default")
}

// ContextWithTracer returns a context within a trace.Tracer in "tracer" value.
func ContextWithTracer(ctx context.Context, tracer trace.Tracer) context.Context {
	v := values(ctx)
	v.Tracer = tracer

	return context.WithValue(ctx, CustomContextKey, &v)
}

// ContextWithHeaderID returns a context within a HeaderID in "headerID" value.
func ContextWithHeaderID(ctx context.Context, headerID string) context.Context {
	v := values(ctx)
	v.HeaderID = headerID

	return context.WithValue(ctx, CustomContextKey, &v)
}

// NewHeaderIDFromContext returns a HeaderID from the context, or a fresh one.
func NewHeaderIDFromContext(ctx context.Context) string {
	if v := values(ctx); v.HeaderID != "" {
		return v.HeaderID
	}

	return uuid.New().String()
}

// WithTimeout returns a context with the given timeout, never extending a
// shorter deadline already set on the parent.
func WithTimeout(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) < timeout {
		return context.WithCancel(parent)
	}

	return context.WithTimeout(parent, timeout)
}
