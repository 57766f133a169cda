package enrichment

import (
	"context"
	"os"
	"sort"
	"strings"

	"go.opentelemetry.io/otel/baggage"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons/correlation"
)

// Trace property names.
const (
	PropertyTraceID      = "trace_id"
	PropertySpanID       = "span_id"
	PropertyParentSpanID = "parent_span_id"
	PropertySpanName     = "span_name"
	PropertySpanKind     = "span_kind"
	PropertySpanDuration = "span_duration_ms"
)

// CorrelationScopeEnricher emits the scalar values written to the correlation store.
type CorrelationScopeEnricher struct{}

func (CorrelationScopeEnricher) Name() string  { return "correlation" }
func (CorrelationScopeEnricher) Priority() int { return PriorityScope }

func (CorrelationScopeEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	props := correlation.ScopeProperties(ctx)
	if len(props) == 0 {
		return nil
	}

	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	for _, k := range keys {
		record.AddPropertyIfAbsent(factory.CreateProperty(k, props[k]))
	}

	return nil
}

// TraceEnricher emits the identity of the active span. For SDK spans it also
// emits name, kind, duration once ended, and the span attributes whose keys
// contain neither '.' nor ':' (namespaced keys are SDK or semantic-convention
// attributes and are left out).
type TraceEnricher struct{}

func (TraceEnricher) Name() string  { return "trace" }
func (TraceEnricher) Priority() int { return PriorityTrace }

func (TraceEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	span := trace.SpanFromContext(ctx)

	sc := span.SpanContext()
	if !sc.IsValid() {
		return nil
	}

	record.AddPropertyIfAbsent(factory.CreateProperty(PropertyTraceID, sc.TraceID().String()))
	record.AddPropertyIfAbsent(factory.CreateProperty(PropertySpanID, sc.SpanID().String()))

	ro, ok := span.(sdktrace.ReadOnlySpan)
	if !ok {
		return nil
	}

	if parent := ro.Parent(); parent.IsValid() {
		record.AddPropertyIfAbsent(factory.CreateProperty(PropertyParentSpanID, parent.SpanID().String()))
	}

	record.AddPropertyIfAbsent(factory.CreateProperty(PropertySpanName, ro.Name()))
	record.AddPropertyIfAbsent(factory.CreateProperty(PropertySpanKind, ro.SpanKind().String()))

	if end := ro.EndTime(); !end.IsZero() {
		record.AddPropertyIfAbsent(factory.CreateProperty(PropertySpanDuration, end.Sub(ro.StartTime())))
	}

	for _, attr := range ro.Attributes() {
		key := string(attr.Key)
		if strings.ContainsAny(key, ".:") {
			continue
		}

		record.AddPropertyIfAbsent(factory.CreateProperty(key, attr.Value.AsInterface()))
	}

	return nil
}

// BaggageEnricher emits each baggage member as "baggage.<key>".
type BaggageEnricher struct{}

func (BaggageEnricher) Name() string  { return "baggage" }
func (BaggageEnricher) Priority() int { return PriorityBaggage }

func (BaggageEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	members := baggage.FromContext(ctx).Members()
	if len(members) == 0 {
		return nil
	}

	sort.Slice(members, func(i, j int) bool { return members[i].Key() < members[j].Key() })

	for _, m := range members {
		record.AddPropertyIfAbsent(factory.CreateProperty("baggage."+m.Key(), m.Value()))
	}

	return nil
}

// ServiceInfo identifies the emitting process.
type ServiceInfo struct {
	Name        string
	DisplayName string
	Version     string
	Environment string
	Host        string
	// Features lists optional capabilities the host enabled, such as "jobs".
	Features []string
}

// ServiceEnricher emits the service identity on every record.
type ServiceEnricher struct {
	info ServiceInfo
}

// NewServiceEnricher fills Host from the OS and DisplayName from Name when unset.
func NewServiceEnricher(info ServiceInfo) ServiceEnricher {
	if info.Host == "" {
		info.Host, _ = os.Hostname()
	}

	if info.DisplayName == "" {
		info.DisplayName = info.Name
	}

	info.Features = append([]string(nil), info.Features...)

	return ServiceEnricher{info: info}
}

func (ServiceEnricher) Name() string  { return "service" }
func (ServiceEnricher) Priority() int { return PriorityService }

func (e ServiceEnricher) Enrich(_ context.Context, record *Record, factory PropertyFactory) error {
	add(record, factory, "service.name", e.info.Name)
	add(record, factory, "service.display_name", e.info.DisplayName)
	add(record, factory, "service.version", e.info.Version)
	add(record, factory, "deployment.environment", e.info.Environment)
	add(record, factory, "host.name", e.info.Host)

	if len(e.info.Features) > 0 {
		add(record, factory, "service.features", strings.Join(e.info.Features, ","))
	}

	return nil
}
