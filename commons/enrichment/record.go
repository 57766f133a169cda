// Package enrichment turns ambient call-chain context into flat log properties.
//
// Every log emission builds a Record, runs a Pipeline of Enrichers against the
// context.Context of the call chain, and hands the resulting properties to the
// sink. Properties are first-write-wins: once a name is set, later writers are
// ignored, so explicit business fields added before enrichment are never
// clobbered by generic ones.
package enrichment

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// Property is one named value attached to a Record.
type Property struct {
	Name  string
	Value any
}

// Record is an outgoing log event and the properties contributed to it.
// A Record belongs to a single emission and is not safe for concurrent use.
type Record struct {
	Level    log.Level
	Message  string
	Time     time.Time
	Category string

	properties []Property
	index      map[string]int
}

// NewRecord creates an empty record.
func NewRecord(level log.Level, message string, t time.Time) *Record {
	return &Record{
		Level:   level,
		Message: message,
		Time:    t,
		index:   make(map[string]int),
	}
}

// AddPropertyIfAbsent adds p unless a property with the same name exists.
// It reports whether p was added.
func (r *Record) AddPropertyIfAbsent(p Property) bool {
	if p.Name == "" {
		return false
	}

	if r.index == nil {
		r.index = make(map[string]int)
	}

	if _, exists := r.index[p.Name]; exists {
		return false
	}

	r.index[p.Name] = len(r.properties)
	r.properties = append(r.properties, p)

	return true
}

// Property returns the value stored under name.
func (r *Record) Property(name string) (any, bool) {
	i, ok := r.index[name]
	if !ok {
		return nil, false
	}

	return r.properties[i].Value, true
}

// Properties returns the properties in insertion order.
func (r *Record) Properties() []Property {
	out := make([]Property, len(r.properties))
	copy(out, r.properties)

	return out
}

// Len is the number of properties.
func (r *Record) Len() int {
	return len(r.properties)
}

// Fields converts the properties to zap fields, in insertion order.
func (r *Record) Fields() []zap.Field {
	fields := make([]zap.Field, 0, len(r.properties))

	for _, p := range r.properties {
		if f, ok := p.Value.(zap.Field); ok {
			f.Key = p.Name
			fields = append(fields, f)

			continue
		}

		fields = append(fields, zap.Any(p.Name, p.Value))
	}

	return fields
}

// PropertyFactory builds properties, normalizing values for the sink.
type PropertyFactory interface {
	CreateProperty(name string, value any) Property
}

// DefaultPropertyFactory renders times as RFC3339Nano in UTC, durations as
// float milliseconds and errors as their message. Other values pass through.
type DefaultPropertyFactory struct{}

// CreateProperty implements PropertyFactory.
func (DefaultPropertyFactory) CreateProperty(name string, value any) Property {
	switch v := value.(type) {
	case time.Time:
		return Property{Name: name, Value: v.UTC().Format(time.RFC3339Nano)}
	case time.Duration:
		return Property{Name: name, Value: Milliseconds(v)}
	case error:
		return Property{Name: name, Value: v.Error()}
	case fmt.Stringer:
		return Property{Name: name, Value: v.String()}
	default:
		return Property{Name: name, Value: value}
	}
}

// Milliseconds converts d to fractional milliseconds.
func Milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
