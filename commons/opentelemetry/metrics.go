package opentelemetry

import (
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// MetricsFactory lazily creates int64 instruments on one meter and caches them
// by kind and name, so call sites can ask for an instrument on every request.
// Instruments that fail to register come back as nil and their builders drop
// every measurement.
type MetricsFactory struct {
	meter       metric.Meter
	logger      log.Logger
	instruments sync.Map
}

// MetricOption describes an instrument the first time it is created.
type MetricOption struct {
	Description string
	Unit        string
	// Buckets are histogram boundaries. Unset picks a default from the name.
	Buckets []float64
}

var (
	// DefaultLatencyBuckets fit request and handler durations in milliseconds.
	DefaultLatencyBuckets = []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000}

	// DefaultQueueWaitBuckets fit time spent in a broker or job queue, in milliseconds.
	DefaultQueueWaitBuckets = []float64{10, 50, 100, 500, 1000, 5000, 15000, 60000, 300000}

	// DefaultAmountBuckets fit claim and payment amounts in minor currency units.
	DefaultAmountBuckets = []float64{1000, 5000, 10000, 50000, 100000, 500000, 1000000, 5000000}
)

// NewMetricsFactory creates a factory over meter.
func NewMetricsFactory(meter metric.Meter, logger log.Logger) *MetricsFactory {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &MetricsFactory{meter: meter, logger: logger}
}

// Counter returns a builder over the counter called name.
func (f *MetricsFactory) Counter(name string, opts ...MetricOption) *CounterBuilder {
	opt := firstOption(opts)

	counter := cached(f, "counter/"+name, func() (metric.Int64Counter, error) {
		return f.meter.Int64Counter(name, metric.WithDescription(opt.Description), metric.WithUnit(opt.Unit))
	})

	return &CounterBuilder{counter: counter}
}

// Gauge returns a builder over the gauge called name.
func (f *MetricsFactory) Gauge(name string, opts ...MetricOption) *GaugeBuilder {
	opt := firstOption(opts)

	gauge := cached(f, "gauge/"+name, func() (metric.Int64Gauge, error) {
		return f.meter.Int64Gauge(name, metric.WithDescription(opt.Description), metric.WithUnit(opt.Unit))
	})

	return &GaugeBuilder{gauge: gauge}
}

// Histogram returns a builder over the histogram called name.
func (f *MetricsFactory) Histogram(name string, opts ...MetricOption) *HistogramBuilder {
	opt := firstOption(opts)
	if opt.Buckets == nil {
		opt.Buckets = bucketsFor(name)
	}

	histogram := cached(f, "histogram/"+name, func() (metric.Int64Histogram, error) {
		return f.meter.Int64Histogram(name,
			metric.WithDescription(opt.Description),
			metric.WithUnit(opt.Unit),
			metric.WithExplicitBucketBoundaries(opt.Buckets...),
		)
	})

	return &HistogramBuilder{histogram: histogram}
}

func cached[T any](f *MetricsFactory, key string, create func() (T, error)) T {
	if existing, ok := f.instruments.Load(key); ok {
		return existing.(T)
	}

	created, err := create()
	if err != nil {
		f.logger.Errorf("Failed to create metric %s: %v", key, err)

		var none T

		return none
	}

	actual, _ := f.instruments.LoadOrStore(key, created)

	return actual.(T)
}

func firstOption(opts []MetricOption) MetricOption {
	if len(opts) == 0 {
		return MetricOption{}
	}

	return opts[0]
}

func bucketsFor(name string) []float64 {
	lower := strings.ToLower(name)

	switch {
	case strings.Contains(lower, "wait"), strings.Contains(lower, "lag"):
		return DefaultQueueWaitBuckets
	case strings.Contains(lower, "amount"):
		return DefaultAmountBuckets
	default:
		return DefaultLatencyBuckets
	}
}
