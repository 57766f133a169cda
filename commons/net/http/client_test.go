package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons"
	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

func fastClientConfig() ClientConfig {
	cfg := DefaultClientConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.MaxRetryDelay = 2 * time.Millisecond

	return cfg
}

func TestTracedClientPropagatesContextAndRetries(t *testing.T) {
	var calls atomic.Int32

	var gotTraceparent, gotRequestID atomic.Value

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTraceparent.Store(r.Header.Get(cn.HeaderTraceparent))
		gotRequestID.Store(r.Header.Get(cn.HeaderID))

		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		_ = json.NewEncoder(w).Encode(map[string]string{"payment_id": "PAY-1"})
	}))
	defer server.Close()

	propagator, recorder := newTestPropagator(t)
	client := NewTracedClient(propagator, nil, nil, nil, fastClientConfig())

	ctx, parent := propagator.Tracer().Start(context.Background(), "claim.process")
	ctx = requestid.NewContext(ctx, "req-out-1")

	var out map[string]string
	require.NoError(t, client.PostJSON(ctx, server.URL+"/payments", map[string]int{"amount": 100}, &out))
	parent.End()

	assert.Equal(t, "PAY-1", out["payment_id"])
	assert.Equal(t, int32(3), calls.Load())
	assert.Contains(t, gotTraceparent.Load(), parent.SpanContext().TraceID().String())
	assert.Equal(t, "req-out-1", gotRequestID.Load())

	var clientSpan = recorder.Ended()[0]
	assert.Equal(t, trace.SpanKindClient, clientSpan.SpanKind())
	assert.Equal(t, parent.SpanContext().SpanID(), clientSpan.Parent().SpanID())

	resend, ok := attr(clientSpan, "http.request.resend_count")
	require.True(t, ok)
	assert.Equal(t, int64(2), resend.AsInt64())

	var retries int
	for _, ev := range clientSpan.Events() {
		if ev.Name == "http.retry" {
			retries++
		}
	}

	assert.Equal(t, 2, retries)
}

func TestTracedClientDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
		_ = json.NewEncoder(w).Encode(commons.Response{Code: cn.ErrPolicyInactive.Error(), Title: "Policy Inactive"})
	}))
	defer server.Close()

	propagator, recorder := newTestPropagator(t)
	client := NewTracedClient(propagator, nil, nil, nil, fastClientConfig())

	err := client.PostJSON(context.Background(), server.URL, struct{}{}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusUnprocessableEntity, se.StatusCode)
	assert.False(t, se.Retryable())

	business, ok := se.BusinessError()
	require.True(t, ok)
	assert.Equal(t, cn.ErrPolicyInactive.Error(), business.Code)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, codes.Unset, recorder.Ended()[0].Status().Code)
}

func TestTracedClientExhaustsRetries(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	propagator, recorder := newTestPropagator(t)
	client := NewTracedClient(propagator, nil, nil, nil, fastClientConfig())

	err := client.PostJSON(context.Background(), server.URL, struct{}{}, nil)

	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadGateway, se.StatusCode)

	span := recorder.Ended()[0]
	assert.Equal(t, codes.Error, span.Status().Code)
	require.NotEmpty(t, span.Events(), "error is recorded as a span event")
}

func TestTracedClientCircuitBreakerFailsFast(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	cfg := fastClientConfig()
	cfg.MaxRetries = 0
	cfg.Breaker = circuitbreaker.Config{MaxRequests: 1, Timeout: time.Minute, ConsecutiveFailures: 1}

	propagator, _ := newTestPropagator(t)
	client := NewTracedClient(propagator, nil, nil, nil, cfg)

	err := client.PostJSON(context.Background(), server.URL, struct{}{}, nil)
	require.Error(t, err)

	err = client.PostJSON(context.Background(), server.URL, struct{}{}, nil)
	assert.True(t, errors.Is(err, circuitbreaker.ErrServiceUnavailable))
	assert.Equal(t, int32(1), calls.Load())

	assert.Equal(t, circuitbreaker.StateOpen, client.Breakers().State(server.Listener.Addr().String()))
}
