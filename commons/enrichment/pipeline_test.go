package enrichment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

func newRecord() *Record {
	return NewRecord(log.InfoLevel, "processing claim", time.Now())
}

func TestRecordFirstWriteWins(t *testing.T) {
	record := newRecord()

	assert.True(t, record.AddPropertyIfAbsent(Property{Name: "claim.id", Value: "CLM-1"}))
	assert.False(t, record.AddPropertyIfAbsent(Property{Name: "claim.id", Value: "CLM-2"}))
	assert.False(t, record.AddPropertyIfAbsent(Property{Name: "", Value: "ignored"}))

	v, ok := record.Property("claim.id")
	require.True(t, ok)
	assert.Equal(t, "CLM-1", v)
	assert.Equal(t, 1, record.Len())

	_, ok = record.Property("missing")
	assert.False(t, ok)
}

func TestRecordZeroValueIsUsable(t *testing.T) {
	var record Record

	assert.True(t, record.AddPropertyIfAbsent(Property{Name: "a", Value: 1}))
	assert.Equal(t, []Property{{Name: "a", Value: 1}}, record.Properties())
}

func TestRecordFields(t *testing.T) {
	record := newRecord()
	record.AddPropertyIfAbsent(Property{Name: "amount", Value: int64(1500)})
	record.AddPropertyIfAbsent(Property{Name: "renamed", Value: zap.String("original", "v")})

	fields := record.Fields()
	require.Len(t, fields, 2)
	assert.Equal(t, "amount", fields[0].Key)
	assert.Equal(t, "renamed", fields[1].Key)
	assert.Equal(t, "v", fields[1].String)
}

func TestDefaultPropertyFactory(t *testing.T) {
	factory := DefaultPropertyFactory{}
	at := time.Date(2024, 3, 1, 12, 0, 0, 500, time.FixedZone("BRT", -3*3600))

	tests := []struct {
		name     string
		value    any
		expected any
	}{
		{name: "time", value: at, expected: "2024-03-01T15:00:00.0000005Z"},
		{name: "duration", value: 1500 * time.Microsecond, expected: 1.5},
		{name: "error", value: errors.New("boom"), expected: "boom"},
		{name: "stringer", value: log.WarnLevel, expected: "warn"},
		{name: "passthrough", value: 42, expected: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := factory.CreateProperty("k", tt.value)
			assert.Equal(t, "k", p.Name)
			assert.Equal(t, tt.expected, p.Value)
		})
	}
}

type staticEnricher struct {
	name     string
	priority int
	props    map[string]any
}

func (s staticEnricher) Name() string  { return s.name }
func (s staticEnricher) Priority() int { return s.priority }

func (s staticEnricher) Enrich(_ context.Context, record *Record, factory PropertyFactory) error {
	for k, v := range s.props {
		record.AddPropertyIfAbsent(factory.CreateProperty(k, v))
	}

	return nil
}

func TestPipelineFirstEnricherWins(t *testing.T) {
	pipeline := NewPipeline(nil,
		staticEnricher{name: "first", priority: PriorityDefault, props: map[string]any{"status": "approved"}},
		staticEnricher{name: "second", priority: PriorityDefault, props: map[string]any{"status": "rejected"}},
	)

	record := newRecord()
	pipeline.Enrich(context.Background(), record)

	v, _ := record.Property("status")
	assert.Equal(t, "approved", v)
	assert.Equal(t, 1, record.Len())
}

func TestPipelineOrderIsPriorityThenRegistration(t *testing.T) {
	pipeline := NewPipeline(nil,
		staticEnricher{name: "service", priority: PriorityService},
		staticEnricher{name: "custom-a", priority: PriorityDefault},
		NewEnricherFunc("plain", PriorityDefault, func(context.Context, *Record, PropertyFactory) error { return nil }),
		staticEnricher{name: "kafka", priority: PrioritySource},
		staticEnricher{name: "trace", priority: PriorityTrace},
		nil,
	)

	assert.Equal(t, []string{"kafka", "custom-a", "plain", "trace", "service"}, pipeline.Names())
}

type noPriority struct{}

func (noPriority) Name() string                                          { return "no-priority" }
func (noPriority) Enrich(context.Context, *Record, PropertyFactory) error { return nil }

func TestPipelineDefaultPriority(t *testing.T) {
	pipeline := NewPipeline(nil,
		staticEnricher{name: "low", priority: PriorityTrace},
		noPriority{},
	)

	assert.Equal(t, []string{"no-priority", "low"}, pipeline.Names())
}

func TestPipelineIsolatesFailures(t *testing.T) {
	pipeline := NewPipeline(nil,
		NewEnricherFunc("panicky", PrioritySource, func(context.Context, *Record, PropertyFactory) error {
			panic("nil policy")
		}),
		NewEnricherFunc("failing", PriorityDefault, func(context.Context, *Record, PropertyFactory) error {
			return errors.New("lookup failed")
		}),
		staticEnricher{name: "healthy", priority: PriorityService, props: map[string]any{"service.name": "claim"}},
	)

	record := newRecord()

	require.NotPanics(t, func() { pipeline.Enrich(context.Background(), record) })

	v, ok := record.Property("enricher_error.panicky")
	require.True(t, ok)
	assert.Equal(t, "panic: nil policy", v)

	v, ok = record.Property("enricher_error.failing")
	require.True(t, ok)
	assert.Equal(t, "*errors.errorString: lookup failed", v)

	v, ok = record.Property("service.name")
	require.True(t, ok)
	assert.Equal(t, "claim", v)
}

func TestPipelineNilSafety(t *testing.T) {
	var pipeline *Pipeline

	assert.NotPanics(t, func() {
		pipeline.Enrich(context.Background(), newRecord())
		NewPipeline(nil).Enrich(nil, newRecord()) //nolint:staticcheck
		NewPipeline(nil).Enrich(context.Background(), nil)
	})
	assert.Nil(t, pipeline.Names())
}

func TestPipelineConcurrentUse(t *testing.T) {
	pipeline := NewPipeline(nil, staticEnricher{name: "s", props: map[string]any{"a": 1}})

	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			record := newRecord()
			pipeline.Enrich(context.Background(), record)
			assert.Equal(t, 1, record.Len())
		}()
	}

	wg.Wait()
}
