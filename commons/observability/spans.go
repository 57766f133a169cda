package observability

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// HandleSpanError marks span failed with message and records err as an
// exception event. err itself is left for the caller to return.
func HandleSpanError(span trace.Span, message string, err error) {
	if span == nil || err == nil {
		return
	}

	span.SetStatus(codes.Error, message+": "+err.Error())
	span.RecordError(err)
}

// FinishSpan sets the final status of span and ends it. Work abandoned
// through a cancelled or expired ctx closes with an error status even when
// err is nil. Meant for defer:
//
//	ctx, span := tracer.Start(ctx, "op")
//	defer func() { observability.FinishSpan(ctx, span, err) }()
func FinishSpan(ctx context.Context, span trace.Span, err error) {
	if span == nil {
		return
	}

	defer span.End()

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return
	}

	if ctx != nil && ctx.Err() != nil {
		status := "cancelled"
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			status = "deadline exceeded"
		}

		span.SetStatus(codes.Error, status)
		span.SetAttributes(attribute.Bool("cancelled", true))

		return
	}

	span.SetStatus(codes.Ok, "")
}

// WithSpan runs fn inside a child span named name. The span ends on every
// path; a panic in fn is recorded and raised again.
func WithSpan(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) error, opts ...trace.SpanStartOption) (err error) {
	ctx, span := tracer.Start(ctx, name, opts...)

	defer func() {
		if r := recover(); r != nil {
			FinishSpan(ctx, span, fmt.Errorf("panic: %v", r))
			panic(r)
		}

		FinishSpan(ctx, span, err)
	}()

	return fn(ctx)
}
