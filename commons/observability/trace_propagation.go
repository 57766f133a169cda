package observability

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/baggage"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
)

// TracePropagationConfig defines how trace context crosses service boundaries.
type TracePropagationConfig struct {
	EnableW3CTraceContext    bool `json:"enable_w3c_trace_context"`
	EnableBaggagePropagation bool `json:"enable_baggage_propagation"`

	// DefaultSpanKind applies to StartSpan: server, client, producer, consumer or internal.
	DefaultSpanKind string `json:"default_span_kind"`
	// BaseAttributes are added to every span started through the propagator.
	BaseAttributes map[string]string `json:"base_attributes"`

	// MaxBaggageItems bounds the members kept on extraction and injection. Zero means unbounded.
	MaxBaggageItems int `json:"max_baggage_items"`

	LogPropagationErrors bool   `json:"log_propagation_errors"`
	InstrumentationName  string `json:"instrumentation_name"`
}

// DefaultTracePropagationConfig returns a production-ready trace propagation configuration
func DefaultTracePropagationConfig() TracePropagationConfig {
	return TracePropagationConfig{
		EnableW3CTraceContext:    true,
		EnableBaggagePropagation: true,
		DefaultSpanKind:          "internal",
		BaseAttributes:           map[string]string{},
		MaxBaggageItems:          64,
		LogPropagationErrors:     true,
		InstrumentationName:      "claims-telemetry/observability",
	}
}

// TracePropagationMetrics is a point-in-time copy of the propagation counters.
type TracePropagationMetrics struct {
	TotalExtractions      int64 `json:"total_extractions"`
	RemoteParentSpans     int64 `json:"remote_parent_spans"`
	RootSpanFallbacks     int64 `json:"root_span_fallbacks"`
	FailedExtractions     int64 `json:"failed_extractions"`
	BaggageItemsExtracted int64 `json:"baggage_items_extracted"`
	TotalInjections       int64 `json:"total_injections"`
	SuccessfulInjections  int64 `json:"successful_injections"`
	SkippedInjections     int64 `json:"skipped_injections"`
	FailedInjections      int64 `json:"failed_injections"`
}

type propagationCounters struct {
	totalExtractions      atomic.Int64
	remoteParentSpans     atomic.Int64
	rootSpanFallbacks     atomic.Int64
	failedExtractions     atomic.Int64
	baggageItemsExtracted atomic.Int64
	totalInjections       atomic.Int64
	successfulInjections  atomic.Int64
	skippedInjections     atomic.Int64
	failedInjections      atomic.Int64
}

// TracePropagator maps between the active span and W3C trace-context headers.
// It is safe for concurrent use.
type TracePropagator struct {
	config     TracePropagationConfig
	logger     log.Logger
	tracer     trace.Tracer
	propagator propagation.TextMapPropagator
	metrics    *opentelemetry.MetricsFactory
	baseAttrs  []attribute.KeyValue
	counters   propagationCounters
}

// PropagatorOption customizes a TracePropagator.
type PropagatorOption func(*TracePropagator)

// WithTracerProvider starts spans from the given provider instead of the global one.
func WithTracerProvider(tp trace.TracerProvider) PropagatorOption {
	return func(p *TracePropagator) {
		p.tracer = tp.Tracer(p.config.InstrumentationName)
	}
}

// WithMetricsFactory records propagation counters through the given factory.
func WithMetricsFactory(factory *opentelemetry.MetricsFactory) PropagatorOption {
	return func(p *TracePropagator) {
		p.metrics = factory
	}
}

// NewTracePropagator creates a new trace propagation manager
func NewTracePropagator(config TracePropagationConfig, logger log.Logger, opts ...PropagatorOption) *TracePropagator {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	if config.InstrumentationName == "" {
		config.InstrumentationName = DefaultTracePropagationConfig().InstrumentationName
	}

	var propagators []propagation.TextMapPropagator

	if config.EnableW3CTraceContext {
		propagators = append(propagators, propagation.TraceContext{})
	}

	if config.EnableBaggagePropagation {
		propagators = append(propagators, propagation.Baggage{})
	}

	keys := make([]string, 0, len(config.BaseAttributes))
	for k := range config.BaseAttributes {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	baseAttrs := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		baseAttrs = append(baseAttrs, attribute.String(k, config.BaseAttributes[k]))
	}

	tp := &TracePropagator{
		config:     config,
		logger:     logger,
		tracer:     otel.Tracer(config.InstrumentationName),
		propagator: propagation.NewCompositeTextMapPropagator(propagators...),
		baseAttrs:  baseAttrs,
	}

	for _, opt := range opts {
		opt(tp)
	}

	return tp
}

// Tracer returns the tracer spans are started from.
func (tp *TracePropagator) Tracer() trace.Tracer {
	return tp.tracer
}

// Inject returns the propagation headers for the span active in ctx.
// The result is empty when no valid span is active; that is not an error.
func (tp *TracePropagator) Inject(ctx context.Context) MapCarrier {
	headers := MapCarrier{}
	tp.InjectInto(ctx, headers)

	return headers
}

// InjectInto writes the propagation headers for the span active in ctx into carrier
// and reports whether anything was written.
func (tp *TracePropagator) InjectInto(ctx context.Context, carrier propagation.TextMapCarrier) (injected bool) {
	tp.counters.totalInjections.Add(1)

	defer func() {
		if r := recover(); r != nil {
			tp.counters.failedInjections.Add(1)
			tp.recordPropagation(ctx, "trace.propagation.injections", "failed")
			tp.logPropagationError("injection", fmt.Errorf("panic during injection: %v", r))

			injected = false
		}
	}()

	if carrier == nil || !trace.SpanContextFromContext(ctx).IsValid() {
		tp.counters.skippedInjections.Add(1)
		tp.recordPropagation(ctx, "trace.propagation.injections", "skipped")

		return false
	}

	if tp.config.MaxBaggageItems > 0 {
		if b := baggage.FromContext(ctx); b.Len() > tp.config.MaxBaggageItems {
			ctx = baggage.ContextWithBaggage(ctx, tp.limitBaggage(b))
		}
	}

	tp.propagator.Inject(ctx, carrier)

	tp.counters.successfulInjections.Add(1)
	tp.recordPropagation(ctx, "trace.propagation.injections", "success")

	return true
}

// Extract starts a span for work described by the inbound carrier.
//
// With a well-formed traceparent the span is a child of the remote parent, even when
// ctx already holds an active local span. Without one, or when it cannot be parsed,
// the span is a new root. Baggage found in the carrier is reattached either way.
// Extract never panics; malformed context only costs the parent link.
func (tp *TracePropagator) Extract(
	ctx context.Context,
	carrier propagation.TextMapCarrier,
	spanName string,
	kind trace.SpanKind,
	attrs ...attribute.KeyValue,
) (context.Context, trace.Span) {
	tp.counters.totalExtractions.Add(1)

	parentCtx, remote := tp.extractRemote(ctx, carrier)

	opts := []trace.SpanStartOption{
		trace.WithSpanKind(kind),
		trace.WithAttributes(tp.baseAttrs...),
		trace.WithAttributes(attrs...),
	}

	result := "remote_parent"

	if remote {
		tp.counters.remoteParentSpans.Add(1)
	} else {
		tp.counters.rootSpanFallbacks.Add(1)
		opts = append(opts, trace.WithNewRoot())
		result = "root"
	}

	tp.recordPropagation(ctx, "trace.propagation.extractions", result)

	return tp.tracer.Start(parentCtx, spanName, opts...)
}

// ExtractContext returns ctx carrying the remote span context and baggage from carrier
// without starting a span. The boolean reports whether a remote parent was found.
func (tp *TracePropagator) ExtractContext(ctx context.Context, carrier propagation.TextMapCarrier) (context.Context, bool) {
	tp.counters.totalExtractions.Add(1)

	return tp.extractRemote(ctx, carrier)
}

func (tp *TracePropagator) extractRemote(ctx context.Context, carrier propagation.TextMapCarrier) (out context.Context, remote bool) {
	out = ctx

	defer func() {
		if r := recover(); r != nil {
			tp.counters.failedExtractions.Add(1)
			tp.logPropagationError("extraction", fmt.Errorf("panic during extraction: %v", r))

			out, remote = ctx, false
		}
	}()

	if carrier == nil {
		return ctx, false
	}

	// Parse against an empty context so an active local span can never be
	// mistaken for the inbound parent.
	extracted := tp.propagator.Extract(context.Background(), carrier)

	if b := baggage.FromContext(extracted); b.Len() > 0 {
		b = tp.limitBaggage(b)
		tp.counters.baggageItemsExtracted.Add(int64(b.Len()))
		out = baggage.ContextWithBaggage(out, b)
	}

	sc := trace.SpanContextFromContext(extracted)
	if !sc.IsValid() {
		if tp.config.EnableW3CTraceContext && carrier.Get(constant.HeaderTraceparent) != "" {
			tp.counters.failedExtractions.Add(1)
			tp.logPropagationError("extraction", fmt.Errorf("malformed traceparent %q, starting a new root span", carrier.Get(constant.HeaderTraceparent)))
		}

		return out, false
	}

	return trace.ContextWithRemoteSpanContext(out, sc), true
}

// StartSpan starts a span of the configured default kind as a child of the span in ctx.
func (tp *TracePropagator) StartSpan(ctx context.Context, spanName string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	all := []trace.SpanStartOption{
		trace.WithSpanKind(ParseSpanKind(tp.config.DefaultSpanKind)),
		trace.WithAttributes(tp.baseAttrs...),
	}

	return tp.tracer.Start(ctx, spanName, append(all, opts...)...)
}

// GetPropagationMetrics returns a snapshot of the propagation counters.
func (tp *TracePropagator) GetPropagationMetrics() TracePropagationMetrics {
	return TracePropagationMetrics{
		TotalExtractions:      tp.counters.totalExtractions.Load(),
		RemoteParentSpans:     tp.counters.remoteParentSpans.Load(),
		RootSpanFallbacks:     tp.counters.rootSpanFallbacks.Load(),
		FailedExtractions:     tp.counters.failedExtractions.Load(),
		BaggageItemsExtracted: tp.counters.baggageItemsExtracted.Load(),
		TotalInjections:       tp.counters.totalInjections.Load(),
		SuccessfulInjections:  tp.counters.successfulInjections.Load(),
		SkippedInjections:     tp.counters.skippedInjections.Load(),
		FailedInjections:      tp.counters.failedInjections.Load(),
	}
}

// limitBaggage keeps at most MaxBaggageItems members, chosen by key order.
func (tp *TracePropagator) limitBaggage(b baggage.Baggage) baggage.Baggage {
	limit := tp.config.MaxBaggageItems
	if limit <= 0 || b.Len() <= limit {
		return b
	}

	members := b.Members()
	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })

	limited, err := baggage.New(members[:limit]...)
	if err != nil {
		return b
	}

	return limited
}

func (tp *TracePropagator) recordPropagation(ctx context.Context, name, result string) {
	if tp.metrics == nil {
		return
	}

	tp.metrics.Counter(name, opentelemetry.MetricOption{
		Description: "Trace context propagation attempts by result",
		Unit:        "1",
	}).WithLabels(map[string]string{"result": result}).Add(ctx, 1)
}

func (tp *TracePropagator) logPropagationError(operation string, err error) {
	if !tp.config.LogPropagationErrors {
		return
	}

	tp.logger.Debugf("Trace context %s failed: %v", operation, err)
}

// ParseSpanKind maps a configuration string to a span kind, defaulting to internal.
func ParseSpanKind(kind string) trace.SpanKind {
	switch strings.ToLower(kind) {
	case "server":
		return trace.SpanKindServer
	case "client":
		return trace.SpanKindClient
	case "producer":
		return trace.SpanKindProducer
	case "consumer":
		return trace.SpanKindConsumer
	default:
		return trace.SpanKindInternal
	}
}
