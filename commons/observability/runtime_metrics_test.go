package observability

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRegisterRuntimeMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	rm, err := RegisterRuntimeMetrics(mp.Meter("runtime-test"))
	require.NoError(t, err)

	var rmData metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rmData))

	got := map[string]metricdata.Aggregation{}
	for _, sm := range rmData.ScopeMetrics {
		for _, m := range sm.Metrics {
			got[m.Name] = m.Data
		}
	}

	for _, name := range []string{"go.memory.heap.used_bytes", "go.memory.heap.objects", "go.gc.count", "go.gc.pause_total_ms", "go.goroutines", "go.build.info"} {
		assert.Contains(t, got, name)
	}

	goroutines, ok := got["go.goroutines"].(metricdata.Gauge[int64])
	require.True(t, ok)
	require.Len(t, goroutines.DataPoints, 1)
	assert.Positive(t, goroutines.DataPoints[0].Value)

	require.NoError(t, rm.Unregister())
	require.NoError(t, (*RuntimeMetrics)(nil).Unregister())
}

func TestSafeUint64ToInt64(t *testing.T) {
	assert.Equal(t, int64(42), safeUint64ToInt64(42))
	assert.Equal(t, int64(math.MaxInt64), safeUint64ToInt64(math.MaxUint64))
}
