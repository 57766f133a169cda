package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

const (
	remoteTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"
	remoteSpanID  = "00f067aa0ba902b7"
	traceparent   = "00-" + remoteTraceID + "-" + remoteSpanID + "-01"
)

func newTestPropagator(t *testing.T) (*observability.TracePropagator, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	propagator := observability.NewTracePropagator(
		observability.DefaultTracePropagationConfig(),
		&log.NoneLogger{},
		observability.WithTracerProvider(tp),
	)

	return propagator, recorder
}

func attr(span sdktrace.ReadOnlySpan, key string) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value, true
		}
	}

	return attribute.Value{}, false
}

type echo struct {
	TraceID   string `json:"trace_id"`
	RequestID string `json:"request_id"`
	Method    string `json:"method"`
	HasLogger bool   `json:"has_logger"`
}

func newTelemetryApp(t *testing.T) (*fiber.App, *tracetest.SpanRecorder) {
	t.Helper()

	propagator, recorder := newTestPropagator(t)
	tm := NewTelemetryMiddleware(propagator, &log.NoneLogger{}, nil)

	app := fiber.New()
	app.Use(tm.WithTelemetry())

	app.Get("/claims/:id", func(c *fiber.Ctx) error {
		ctx := c.UserContext()
		req, _ := observability.HTTPRequestFromContext(ctx)

		return c.JSON(echo{
			TraceID:   trace.SpanContextFromContext(ctx).TraceID().String(),
			RequestID: requestid.FromContext(ctx),
			Method:    req.Method,
			HasLogger: commons.NewLoggerFromContext(ctx) != nil,
		})
	})
	app.Get("/boom", func(c *fiber.Ctx) error {
		return c.SendStatus(http.StatusBadGateway)
	})
	app.Get("/missing", func(c *fiber.Ctx) error {
		return fiber.ErrNotFound
	})
	app.Get("/fail", func(c *fiber.Ctx) error {
		return errors.New("handler exploded")
	})
	app.Get("/health", Ping)

	return app, recorder
}

func TestWithTelemetryContinuesRemoteTrace(t *testing.T) {
	app, recorder := newTelemetryApp(t)

	req := httptest.NewRequest(http.MethodGet, "/claims/CLM-1", nil)
	req.Header.Set(cn.HeaderTraceparent, traceparent)
	req.Header.Set(cn.HeaderID, "req-123")

	resp, err := app.Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body echo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, remoteTraceID, body.TraceID)
	assert.Equal(t, "req-123", body.RequestID)
	assert.Equal(t, http.MethodGet, body.Method)
	assert.True(t, body.HasLogger)

	assert.Equal(t, "req-123", resp.Header.Get(cn.HeaderID))
	assert.Contains(t, resp.Header.Get(cn.HeaderTraceparent), remoteTraceID)

	ended := recorder.Ended()
	require.Len(t, ended, 1)

	span := ended[0]
	assert.Equal(t, "GET /claims/:id", span.Name())
	assert.Equal(t, trace.SpanKindServer, span.SpanKind())
	assert.Equal(t, remoteSpanID, span.Parent().SpanID().String())
	assert.Equal(t, codes.Ok, span.Status().Code)

	route, ok := attr(span, "http.route")
	require.True(t, ok)
	assert.Equal(t, "/claims/:id", route.AsString())

	status, ok := attr(span, "http.response.status_code")
	require.True(t, ok)
	assert.Equal(t, int64(http.StatusOK), status.AsInt64())

	reqID, ok := attr(span, requestid.Key)
	require.True(t, ok, "request id is mirrored onto the server span")
	assert.Equal(t, "req-123", reqID.AsString())
}

func TestWithTelemetryStartsRootWithoutHeaders(t *testing.T) {
	app, recorder := newTelemetryApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/claims/CLM-2", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Len(t, resp.Header.Get(cn.HeaderID), 36)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.False(t, ended[0].Parent().IsValid())
}

func TestWithTelemetryStatuses(t *testing.T) {
	tests := []struct {
		path       string
		wantStatus int
		wantCode   codes.Code
	}{
		{path: "/boom", wantStatus: http.StatusBadGateway, wantCode: codes.Error},
		{path: "/missing", wantStatus: http.StatusNotFound, wantCode: codes.Ok},
		{path: "/fail", wantStatus: http.StatusInternalServerError, wantCode: codes.Error},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			app, recorder := newTelemetryApp(t)

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, tt.path, nil))
			require.NoError(t, err)
			resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			ended := recorder.Ended()
			require.Len(t, ended, 1)
			assert.Equal(t, tt.wantCode, ended[0].Status().Code)

			status, ok := attr(ended[0], "http.response.status_code")
			require.True(t, ok)
			assert.Equal(t, int64(tt.wantStatus), status.AsInt64())
		})
	}
}

func TestWithTelemetryEndsSpanWhenHandlerPanics(t *testing.T) {
	propagator, recorder := newTestPropagator(t)
	tm := NewTelemetryMiddleware(propagator, &log.NoneLogger{}, nil)

	app := fiber.New()
	app.Use(fiberrecover.New())
	app.Use(tm.WithTelemetry())
	app.Get("/claims/:id", func(*fiber.Ctx) error { panic("claim store unavailable") })

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/claims/CLM-1", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)

	require.Len(t, recorder.Started(), 1)
	require.Len(t, recorder.Ended(), 1)

	span := recorder.Ended()[0]
	assert.Equal(t, "GET /claims/:id", span.Name())
	assert.Equal(t, codes.Error, span.Status().Code)
	assert.Contains(t, span.Status().Description, "panic: claim store unavailable")

	status, ok := attr(span, "http.response.status_code")
	require.True(t, ok)
	assert.EqualValues(t, http.StatusInternalServerError, status.AsInt64())
}

func TestWithTelemetrySkipsExcludedPaths(t *testing.T) {
	app, recorder := newTelemetryApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/health", nil))
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, recorder.Ended())
}

func TestWithTelemetryInterceptor(t *testing.T) {
	propagator, recorder := newTestPropagator(t)
	tm := NewTelemetryMiddleware(propagator, nil, nil)

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(cn.MetadataTraceparent, traceparent))

	var seen string

	_, err := tm.WithTelemetryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: "/claims.Claims/Submit"},
		func(ctx context.Context, _ any) (any, error) {
			seen = trace.SpanContextFromContext(ctx).TraceID().String()

			return nil, errors.New("rejected")
		})
	require.EqualError(t, err, "rejected")

	assert.Equal(t, remoteTraceID, seen)

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "/claims.Claims/Submit", ended[0].Name())
	assert.Equal(t, codes.Error, ended[0].Status().Code)
}
