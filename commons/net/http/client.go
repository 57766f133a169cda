package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
	"github.com/LerianStudio/claims-telemetry/commons/retry"
)

// maxErrorBody bounds how much of a failed response is kept in StatusError.
const maxErrorBody = 4 << 10

// ClientConfig holds configuration for creating HTTP clients
type ClientConfig struct {
	Timeout       time.Duration
	DialTimeout   time.Duration
	MaxRetries    int
	RetryDelay    time.Duration
	MaxRetryDelay time.Duration
	Breaker       circuitbreaker.Config
	// Transport replaces the pooled default transport, mostly for tests.
	Transport http.RoundTripper
}

// DefaultClientConfig suits calls between the demo services.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Timeout:       10 * time.Second,
		DialTimeout:   3 * time.Second,
		MaxRetries:    2,
		RetryDelay:    100 * time.Millisecond,
		MaxRetryDelay: time.Second,
		Breaker:       circuitbreaker.DefaultConfig(),
	}
}

// StatusError is returned for responses the client treats as failures.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d", e.StatusCode)
}

// Retryable reports whether another attempt could succeed.
func (e *StatusError) Retryable() bool {
	switch e.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	default:
		return e.StatusCode >= http.StatusInternalServerError
	}
}

// BusinessError decodes the body as commons.Response when it is one.
func (e *StatusError) BusinessError() (commons.Response, bool) {
	var response commons.Response
	if err := json.Unmarshal(e.Body, &response); err != nil || response.Code == "" {
		return commons.Response{}, false
	}

	response.Err = e

	return response, true
}

// TracedClient performs outbound HTTP calls inside client spans. Each call
// carries the W3C trace headers and the request id, is retried with backoff on
// transport errors and retryable statuses, and runs through a circuit breaker
// keyed by host. Errors are recorded on the span and returned unchanged.
type TracedClient struct {
	client     *http.Client
	propagator *observability.TracePropagator
	breakers   circuitbreaker.Manager
	metrics    *opentelemetry.MetricsFactory
	logger     log.Logger
	config     ClientConfig
}

// NewTracedClient creates a client. breakers, metrics and logger may be nil.
func NewTracedClient(
	propagator *observability.TracePropagator,
	breakers circuitbreaker.Manager,
	metrics *opentelemetry.MetricsFactory,
	logger log.Logger,
	config ClientConfig,
) *TracedClient {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	if breakers == nil {
		breakers = circuitbreaker.NewManager(logger)
	}

	transport := config.Transport
	if transport == nil {
		transport = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: config.DialTimeout, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}
	}

	return &TracedClient{
		client:     &http.Client{Transport: transport, Timeout: config.Timeout},
		propagator: propagator,
		breakers:   breakers,
		metrics:    metrics,
		logger:     logger,
		config:     config,
	}
}

// Breakers exposes the breaker manager, for health reporting.
func (c *TracedClient) Breakers() circuitbreaker.Manager {
	return c.breakers
}

// Do sends req. Responses below 500 other than 408 and 429 are returned to the
// caller as is; the caller owns the body. Retryable failures come back as
// *StatusError once retries are exhausted.
func (c *TracedClient) Do(ctx context.Context, req *http.Request) (resp *http.Response, err error) {
	start := time.Now()
	host := req.URL.Host

	ctx, span := c.propagator.Tracer().Start(ctx, "HTTP "+req.Method+" "+host,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", req.Method),
			attribute.String("server.address", req.URL.Hostname()),
			attribute.String("url.full", req.URL.Redacted()),
		),
	)

	attempts := 0
	status := 0

	defer func() {
		if attempts > 1 {
			span.SetAttributes(attribute.Int("http.request.resend_count", attempts-1))
		}

		if status > 0 {
			span.SetAttributes(attribute.Int("http.response.status_code", status))
		}

		if err != nil {
			observability.HandleSpanError(span, "HTTP call failed", err)
			c.logger.WithContext(ctx).Warnf("HTTP %s %s failed after %d attempt(s): %v", req.Method, req.URL.Redacted(), attempts, err)
		}

		span.End()
		c.recordMetrics(ctx, req.Method, host, status, start)
	}()

	body, err := requestBody(req)
	if err != nil {
		return nil, err
	}

	c.breakers.Register(host, c.config.Breaker)

	resp, err = retry.DoWithResult(ctx, func() (*http.Response, error) {
		attempts++

		out, execErr := c.breakers.Execute(host, func() (any, error) {
			return c.send(ctx, req, body)
		})
		if execErr != nil {
			var se *StatusError
			if errors.As(execErr, &se) {
				status = se.StatusCode
			}

			if errors.Is(execErr, circuitbreaker.ErrServiceUnavailable) {
				return nil, retry.MarkPermanent(execErr)
			}

			return nil, execErr
		}

		r, _ := out.(*http.Response)
		status = r.StatusCode

		return r, nil
	},
		retry.WithMaxRetries(c.config.MaxRetries),
		retry.WithDelay(c.config.RetryDelay),
		retry.WithMaxDelay(c.config.MaxRetryDelay),
		retry.WithOnRetry(func(n int, err error, next time.Duration) {
			span.AddEvent("http.retry", trace.WithAttributes(
				attribute.Int("http.retry.attempt", n),
				attribute.String("http.retry.error", err.Error()),
				attribute.Int64("http.retry.delay_ms", next.Milliseconds()),
			))
		}),
	)

	return resp, err
}

func (c *TracedClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
		attempt.ContentLength = int64(len(body))
	}

	c.propagator.InjectInto(ctx, observability.NewHTTPHeaderCarrier(attempt.Header))

	if id := requestid.FromContext(ctx); id != "" {
		attempt.Header.Set(cn.HeaderID, id)
	}

	resp, err := c.client.Do(attempt)
	if err != nil {
		return nil, err
	}

	se := &StatusError{StatusCode: resp.StatusCode}
	if !se.Retryable() {
		return resp, nil
	}

	se.Body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	_ = resp.Body.Close()

	return nil, se
}

func requestBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}

	defer req.Body.Close()

	body, err := io.ReadAll(req.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}

	return body, nil
}

func (c *TracedClient) recordMetrics(ctx context.Context, method, host string, status int, start time.Time) {
	if c.metrics == nil {
		return
	}

	c.metrics.Histogram("http.client.request.duration", opentelemetry.MetricOption{Description: "Outbound HTTP call duration", Unit: "ms"}).
		WithLabels(map[string]string{
			"http.request.method":       method,
			"server.address":            host,
			"http.response.status_code": strconv.Itoa(status),
		}).
		RecordSince(ctx, start)
}

// PostJSON posts in as JSON and decodes a 2xx body into out, which may be nil.
// Any status of 400 and above is returned as *StatusError.
func (c *TracedClient) PostJSON(ctx context.Context, url string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	req.Header.Set(cn.HeaderContentType, "application/json")

	resp, err := c.Do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

		return &StatusError{StatusCode: resp.StatusCode, Body: b}
	}

	if out == nil {
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return nil
}
