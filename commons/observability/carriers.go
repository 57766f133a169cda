package observability

import (
	"context"
	"maps"
	"net/http"
	"slices"

	"github.com/gofiber/fiber/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc/metadata"
)

// Carriers for the transports the services speak. Kafka and AMQP carriers
// live next to their clients.
var (
	_ propagation.TextMapCarrier = MapCarrier{}
	_ propagation.TextMapCarrier = HTTPHeaderCarrier{}
	_ propagation.TextMapCarrier = FiberHeaderCarrier{}
	_ propagation.TextMapCarrier = MetadataCarrier{}
)

// MapCarrier holds headers in a plain map, as stored in job envelopes.
type MapCarrier map[string]string

func (c MapCarrier) Get(key string) string { return c[key] }

func (c MapCarrier) Set(key, value string) { c[key] = value }

// Keys are sorted.
func (c MapCarrier) Keys() []string { return slices.Sorted(maps.Keys(c)) }

// HTTPHeaderCarrier wraps net/http headers of an outbound request.
type HTTPHeaderCarrier struct {
	headers http.Header
}

// NewHTTPHeaderCarrier wraps headers, which must not be nil when Set is used.
func NewHTTPHeaderCarrier(headers http.Header) HTTPHeaderCarrier {
	return HTTPHeaderCarrier{headers: headers}
}

func (c HTTPHeaderCarrier) Get(key string) string { return c.headers.Get(key) }

func (c HTTPHeaderCarrier) Set(key, value string) { c.headers.Set(key, value) }

func (c HTTPHeaderCarrier) Keys() []string { return slices.Collect(maps.Keys(c.headers)) }

// FiberHeaderCarrier reads the request headers of a Fiber context and writes
// its response headers, so one carrier serves extract and echo.
type FiberHeaderCarrier struct {
	ctx *fiber.Ctx
}

func NewFiberHeaderCarrier(c *fiber.Ctx) FiberHeaderCarrier {
	return FiberHeaderCarrier{ctx: c}
}

func (c FiberHeaderCarrier) Get(key string) string { return c.ctx.Get(key) }

func (c FiberHeaderCarrier) Set(key, value string) { c.ctx.Set(key, value) }

func (c FiberHeaderCarrier) Keys() []string {
	var keys []string

	c.ctx.Request().Header.VisitAll(func(key, _ []byte) {
		keys = append(keys, string(key))
	})

	return keys
}

// MetadataCarrier adapts gRPC metadata. Keys are lowercase, as gRPC requires.
type MetadataCarrier metadata.MD

func (c MetadataCarrier) Get(key string) string {
	if values := metadata.MD(c).Get(key); len(values) > 0 {
		return values[0]
	}

	return ""
}

func (c MetadataCarrier) Set(key, value string) { metadata.MD(c).Set(key, value) }

func (c MetadataCarrier) Keys() []string { return slices.Collect(maps.Keys(c)) }

// InjectGRPCContext returns ctx with the active trace context added to a copy
// of its outgoing gRPC metadata. Without an active span ctx is returned as is.
func (tp *TracePropagator) InjectGRPCContext(ctx context.Context) context.Context {
	md, ok := metadata.FromOutgoingContext(ctx)
	if ok {
		md = md.Copy()
	} else {
		md = metadata.MD{}
	}

	if !tp.InjectInto(ctx, MetadataCarrier(md)) {
		return ctx
	}

	return metadata.NewOutgoingContext(ctx, md)
}

// ExtractGRPC starts a server span for fullMethod from the incoming gRPC
// metadata in ctx.
func (tp *TracePropagator) ExtractGRPC(ctx context.Context, fullMethod string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	md, _ := metadata.FromIncomingContext(ctx)

	attrs = append(slices.Clip(attrs), attribute.String("rpc.system", "grpc"), attribute.String("rpc.method", fullMethod))

	return tp.Extract(ctx, MetadataCarrier(md), fullMethod, trace.SpanKindServer, attrs...)
}
