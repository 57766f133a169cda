// Package correlation holds the per-call-chain key/value store that carries
// business and tracing metadata from the point it is known to the point a log
// record is emitted.
//
// The store is a copy-on-write snapshot carried in context.Context. A write
// returns a derived context: goroutines started with that context see the
// value, concurrently running chains holding an older context never do. The
// context value is the only ambient state this package keeps.
package correlation

import (
	"context"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

type storeKey struct{}

type snapshot struct {
	values map[string]any
	scope  map[string]any
}

func fromContext(ctx context.Context) *snapshot {
	if ctx == nil {
		return nil
	}

	s, _ := ctx.Value(storeKey{}).(*snapshot)

	return s
}

func (s *snapshot) clone() *snapshot {
	out := &snapshot{
		values: make(map[string]any),
		scope:  make(map[string]any),
	}

	if s == nil {
		return out
	}

	for k, v := range s.values {
		out.values[k] = v
	}

	for k, v := range s.scope {
		out.scope[k] = v
	}

	return out
}

// Set stores value under key for the call chain rooted at the returned context.
// Scalar values are mirrored into the active span's attributes and into the
// logging scope.
func Set(ctx context.Context, key string, value any) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	next := fromContext(ctx).clone()
	next.values[key] = value

	if attr, ok := toAttribute(key, value); ok {
		next.scope[key] = value

		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attr)
		}
	} else {
		delete(next.scope, key)
	}

	return context.WithValue(ctx, storeKey{}, next)
}

// Get returns the value stored under key, or def when the key is absent or
// holds a value of another type. It never panics.
func Get[T any](ctx context.Context, key string, def T) T {
	v, ok := Lookup(ctx, key)
	if !ok {
		return def
	}

	typed, ok := v.(T)
	if !ok {
		return def
	}

	return typed
}

// Lookup returns the raw value stored under key.
func Lookup(ctx context.Context, key string) (any, bool) {
	s := fromContext(ctx)
	if s == nil {
		return nil, false
	}

	v, ok := s.values[key]

	return v, ok
}

// Remove drops key from the store. The boolean reports whether it was present.
func Remove(ctx context.Context, key string) (context.Context, bool) {
	s := fromContext(ctx)
	if s == nil {
		return ctx, false
	}

	if _, ok := s.values[key]; !ok {
		return ctx, false
	}

	next := s.clone()
	delete(next.values, key)
	delete(next.scope, key)

	return context.WithValue(ctx, storeKey{}, next), true
}

// Clear returns a context whose store is empty.
func Clear(ctx context.Context) context.Context {
	if fromContext(ctx) == nil {
		return ctx
	}

	return context.WithValue(ctx, storeKey{}, (*snapshot)(nil).clone())
}

// Keys returns the stored keys in lexical order.
func Keys(ctx context.Context) []string {
	s := fromContext(ctx)
	if s == nil {
		return nil
	}

	keys := make([]string, 0, len(s.values))
	for k := range s.values {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

// ScopeProperties returns a copy of the logging-scope properties.
func ScopeProperties(ctx context.Context) map[string]any {
	s := fromContext(ctx)
	if s == nil || len(s.scope) == 0 {
		return nil
	}

	out := make(map[string]any, len(s.scope))
	for k, v := range s.scope {
		out[k] = v
	}

	return out
}

// Scope sets key for the duration of a unit of work. The returned release
// function must be deferred; it returns the context the caller should keep
// using after the work is done, with the key removed.
func Scope(ctx context.Context, key string, value any) (context.Context, func() context.Context) {
	scoped := Set(ctx, key, value)

	return scoped, func() context.Context {
		released, _ := Remove(scoped, key)
		return released
	}
}

func toAttribute(key string, value any) (attribute.KeyValue, bool) {
	k := attribute.Key(key)

	switch v := value.(type) {
	case string:
		return k.String(v), true
	case bool:
		return k.Bool(v), true
	case int:
		return k.Int(v), true
	case int32:
		return k.Int64(int64(v)), true
	case int64:
		return k.Int64(v), true
	case uint32:
		return k.Int64(int64(v)), true
	case float32:
		return k.Float64(float64(v)), true
	case float64:
		return k.Float64(v), true
	case time.Duration:
		return k.Int64(v.Milliseconds()), true
	case time.Time:
		return k.String(v.UTC().Format(time.RFC3339Nano)), true
	}

	return attribute.KeyValue{}, false
}
