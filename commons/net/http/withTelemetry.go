package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

// TelemetryMiddleware opens a server span per request and prepares the request
// context: request id, HTTP request context, tracer and enriched logger.
type TelemetryMiddleware struct {
	Propagator *observability.TracePropagator
	Logger     log.Logger
	Metrics    *opentelemetry.MetricsFactory
	// ExcludedPaths are served without a span, matched by prefix.
	ExcludedPaths []string
}

// NewTelemetryMiddleware creates a new instance of TelemetryMiddleware.
// metrics may be nil.
func NewTelemetryMiddleware(propagator *observability.TracePropagator, logger log.Logger, metrics *opentelemetry.MetricsFactory) *TelemetryMiddleware {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &TelemetryMiddleware{
		Propagator:    propagator,
		Logger:        logger,
		Metrics:       metrics,
		ExcludedPaths: []string{"/health", "/swagger"},
	}
}

func (tm *TelemetryMiddleware) excluded(path string) bool {
	for _, prefix := range tm.ExcludedPaths {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}

	return false
}

// WithTelemetry is a middleware that adds tracing to the context.
//
// Inbound traceparent/baggage headers make the server span a child of the caller;
// without them the span is a new root. The traceparent of the server span is
// echoed on the response. The span ends on every path with the status derived
// from the handler error or the response code.
func (tm *TelemetryMiddleware) WithTelemetry() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if tm.excluded(c.Path()) {
			return c.Next()
		}

		start := time.Now()
		method := c.Method()

		ctx, span := tm.Propagator.Extract(
			c.UserContext(),
			observability.NewFiberHeaderCarrier(c),
			method+" "+c.Path(),
			trace.SpanKindServer,
			attribute.String("http.request.method", method),
			attribute.String("url.path", c.Path()),
			attribute.String("client.address", c.IP()),
		)
		c.SetUserContext(ctx)

		reqID := requestid.Resolve(c, cn.HeaderID)

		ctx = observability.WithHTTPRequest(c.UserContext(), observability.HTTPRequestContext{
			RequestID:  reqID,
			Method:     method,
			Path:       c.Path(),
			ClientIP:   c.IP(),
			UserAgent:  c.Get(cn.HeaderUserAgent),
			ReceivedAt: start,
		})
		ctx = commons.ContextWithTracer(ctx, tm.Propagator.Tracer())
		ctx = commons.ContextWithLogger(ctx, tm.Logger.WithContext(ctx))
		c.SetUserContext(ctx)

		tm.Propagator.InjectInto(ctx, observability.NewFiberHeaderCarrier(c))

		finish := func(status int, err error) {
			route := method + " " + c.Path()
			if r := c.Route(); r != nil && r.Path != "" && r.Path != "/" {
				route = method + " " + r.Path
				span.SetName(route)
				span.SetAttributes(attribute.String("http.route", r.Path))
			}

			span.SetAttributes(attribute.Int("http.response.status_code", status))

			observability.FinishSpan(ctx, span, err)

			tm.recordMetrics(ctx, method, route, status, start)
		}

		defer func() {
			if r := recover(); r != nil {
				finish(http.StatusInternalServerError, fmt.Errorf("panic: %v", r))
				panic(r)
			}
		}()

		err := c.Next()

		status := responseStatus(c, err)
		finish(status, spanError(status, err))

		return err
	}
}

func (tm *TelemetryMiddleware) recordMetrics(ctx context.Context, method, route string, status int, start time.Time) {
	if tm.Metrics == nil {
		return
	}

	labels := map[string]string{
		"http.request.method":       method,
		"http.route":                route,
		"http.response.status_code": strconv.Itoa(status),
	}

	tm.Metrics.Counter("http.server.requests", opentelemetry.MetricOption{Description: "HTTP requests served"}).
		WithLabels(labels).
		Add(ctx, 1)
	tm.Metrics.Histogram("http.server.request.duration", opentelemetry.MetricOption{Description: "HTTP request duration", Unit: "ms"}).
		WithLabels(labels).
		RecordSince(ctx, start)
}

// responseStatus is the status the client will see. A returned error has not
// yet been through the app's error handler.
func responseStatus(c *fiber.Ctx, err error) int {
	if err == nil {
		return c.Response().StatusCode()
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	return http.StatusInternalServerError
}

// spanError keeps client errors out of the server span status.
func spanError(status int, err error) error {
	if status < http.StatusInternalServerError {
		return nil
	}

	if err != nil {
		return err
	}

	return fmt.Errorf("HTTP %d %s", status, http.StatusText(status))
}

// WithTelemetryInterceptor is the gRPC counterpart of WithTelemetry.
func (tm *TelemetryMiddleware) WithTelemetryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		ctx, span := tm.Propagator.ExtractGRPC(ctx, info.FullMethod)

		ctx, _ = requestid.EnsureContext(ctx)
		ctx = commons.ContextWithTracer(ctx, tm.Propagator.Tracer())
		ctx = commons.ContextWithLogger(ctx, tm.Logger.WithContext(ctx))

		defer func() { observability.FinishSpan(ctx, span, err) }()

		return handler(ctx, req)
	}
}
