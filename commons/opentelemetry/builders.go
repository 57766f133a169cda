package opentelemetry

import (
	"context"
	"maps"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// labelSet is the attribute set a builder records with. Trace ids never go
// in here; they would explode the series count.
type labelSet []attribute.KeyValue

func (l labelSet) with(labels map[string]string) labelSet {
	out := make(labelSet, 0, len(l)+len(labels))
	out = append(out, l...)

	for _, key := range slices.Sorted(maps.Keys(labels)) {
		out = append(out, attribute.String(key, labels[key]))
	}

	return out
}

func (l labelSet) option() metric.MeasurementOption {
	return metric.WithAttributes(l...)
}

// CounterBuilder records increments on one counter.
type CounterBuilder struct {
	counter metric.Int64Counter
	labels  labelSet
}

// WithLabels returns a copy of the builder that also records labels.
func (c *CounterBuilder) WithLabels(labels map[string]string) *CounterBuilder {
	return &CounterBuilder{counter: c.counter, labels: c.labels.with(labels)}
}

// Add increments the counter by value.
func (c *CounterBuilder) Add(ctx context.Context, value int64) {
	if c.counter == nil {
		return
	}

	c.counter.Add(ctx, value, c.labels.option())
}

// GaugeBuilder records the current value of one gauge.
type GaugeBuilder struct {
	gauge  metric.Int64Gauge
	labels labelSet
}

// WithLabels returns a copy of the builder that also records labels.
func (g *GaugeBuilder) WithLabels(labels map[string]string) *GaugeBuilder {
	return &GaugeBuilder{gauge: g.gauge, labels: g.labels.with(labels)}
}

// Set records value as the gauge's current value.
func (g *GaugeBuilder) Set(ctx context.Context, value int64) {
	if g.gauge == nil {
		return
	}

	g.gauge.Record(ctx, value, g.labels.option())
}

// HistogramBuilder records samples on one histogram.
type HistogramBuilder struct {
	histogram metric.Int64Histogram
	labels    labelSet
}

// WithLabels returns a copy of the builder that also records labels.
func (h *HistogramBuilder) WithLabels(labels map[string]string) *HistogramBuilder {
	return &HistogramBuilder{histogram: h.histogram, labels: h.labels.with(labels)}
}

// Record adds one sample.
func (h *HistogramBuilder) Record(ctx context.Context, value int64) {
	if h.histogram == nil {
		return
	}

	h.histogram.Record(ctx, value, h.labels.option())
}

// RecordDuration records d in milliseconds, the unit of every latency histogram.
func (h *HistogramBuilder) RecordDuration(ctx context.Context, d time.Duration) {
	h.Record(ctx, d.Milliseconds())
}

// RecordSince records the milliseconds elapsed since start.
func (h *HistogramBuilder) RecordSince(ctx context.Context, start time.Time) {
	h.RecordDuration(ctx, time.Since(start))
}
