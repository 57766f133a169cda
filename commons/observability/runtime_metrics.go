package observability

import (
	"context"
	"errors"
	"fmt"
	"math"
	"runtime"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func safeUint64ToInt64(val uint64) int64 {
	if val > math.MaxInt64 {
		return math.MaxInt64
	}

	return int64(val)
}

// RuntimeMetrics reports the Go runtime of a service as observable gauges,
// collected on every export of the meter's reader.
type RuntimeMetrics struct {
	heapUsed   metric.Int64ObservableGauge
	heapObjs   metric.Int64ObservableGauge
	gcCount    metric.Int64ObservableCounter
	gcPause    metric.Float64ObservableGauge
	goroutines metric.Int64ObservableGauge
	buildInfo  metric.Int64ObservableGauge

	registration metric.Registration
}

// RegisterRuntimeMetrics creates the runtime instruments on meter and starts observing them.
func RegisterRuntimeMetrics(meter metric.Meter) (*RuntimeMetrics, error) {
	rm := &RuntimeMetrics{}

	var errs []error

	var err error

	rm.heapUsed, err = meter.Int64ObservableGauge("go.memory.heap.used_bytes",
		metric.WithDescription("Heap bytes in use"), metric.WithUnit("By"))
	errs = append(errs, err)

	rm.heapObjs, err = meter.Int64ObservableGauge("go.memory.heap.objects",
		metric.WithDescription("Allocated heap objects"))
	errs = append(errs, err)

	rm.gcCount, err = meter.Int64ObservableCounter("go.gc.count",
		metric.WithDescription("Completed GC cycles"))
	errs = append(errs, err)

	rm.gcPause, err = meter.Float64ObservableGauge("go.gc.pause_total_ms",
		metric.WithDescription("Cumulative GC stop-the-world pause"), metric.WithUnit("ms"))
	errs = append(errs, err)

	rm.goroutines, err = meter.Int64ObservableGauge("go.goroutines",
		metric.WithDescription("Live goroutines"))
	errs = append(errs, err)

	rm.buildInfo, err = meter.Int64ObservableGauge("go.build.info",
		metric.WithDescription("Go toolchain and platform, always 1"))
	errs = append(errs, err)

	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to create runtime metrics: %w", err)
	}

	build := metric.WithAttributes(
		attribute.String("version", runtime.Version()),
		attribute.String("arch", runtime.GOARCH),
		attribute.String("os", runtime.GOOS),
	)

	rm.registration, err = meter.RegisterCallback(func(_ context.Context, o metric.Observer) error {
		var ms runtime.MemStats
		runtime.ReadMemStats(&ms)

		o.ObserveInt64(rm.heapUsed, safeUint64ToInt64(ms.HeapInuse))
		o.ObserveInt64(rm.heapObjs, safeUint64ToInt64(ms.HeapObjects))
		o.ObserveInt64(rm.gcCount, int64(ms.NumGC))
		o.ObserveFloat64(rm.gcPause, float64(ms.PauseTotalNs)/1e6)
		o.ObserveInt64(rm.goroutines, int64(runtime.NumGoroutine()))
		o.ObserveInt64(rm.buildInfo, 1, build)

		return nil
	}, rm.heapUsed, rm.heapObjs, rm.gcCount, rm.gcPause, rm.goroutines, rm.buildInfo)
	if err != nil {
		return nil, fmt.Errorf("failed to register runtime metrics callback: %w", err)
	}

	return rm, nil
}

// Unregister stops observing the runtime.
func (rm *RuntimeMetrics) Unregister() error {
	if rm == nil || rm.registration == nil {
		return nil
	}

	return rm.registration.Unregister()
}
