package zap

import (
	"fmt"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	otellog "go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/LerianStudio/claims-telemetry/commons/enrichment"
	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// LoggerBuilder is the fluent configuration surface for the enriched logger.
// It only composes; Build assembles the same pipeline for the same toggles.
type LoggerBuilder struct {
	service enrichment.ServiceInfo

	kafka, rabbitmq, job, http, scope, trace, baggage, serviceInfo bool

	custom  []enrichment.Enricher
	clock   enrichment.Clock
	factory enrichment.PropertyFactory

	console         bool
	consoleEncoding string
	development     bool
	filePath        string

	otelBridge   bool
	otelName     string
	otelProvider otellog.LoggerProvider

	cores []zapcore.Core

	minLevel  log.Level
	overrides map[string]log.Level
}

// NewLoggerBuilder returns a builder with every enricher enabled, JSON console
// output and info as the minimum level.
func NewLoggerBuilder() *LoggerBuilder {
	return &LoggerBuilder{
		kafka:           true,
		rabbitmq:        true,
		job:             true,
		http:            true,
		scope:           true,
		trace:           true,
		baggage:         true,
		serviceInfo:     true,
		console:         true,
		consoleEncoding: "json",
		minLevel:        log.InfoLevel,
		overrides:       make(map[string]log.Level),
	}
}

// WithService sets the identity emitted by the service enricher.
func (b *LoggerBuilder) WithService(info enrichment.ServiceInfo) *LoggerBuilder {
	b.service = info
	return b
}

func (b *LoggerBuilder) EnableKafka(enabled bool) *LoggerBuilder    { b.kafka = enabled; return b }
func (b *LoggerBuilder) EnableRabbitMQ(enabled bool) *LoggerBuilder { b.rabbitmq = enabled; return b }

// EnableJob toggles background-job enrichment. Hosts that run a job worker turn it on
// explicitly; nothing is detected at runtime.
func (b *LoggerBuilder) EnableJob(enabled bool) *LoggerBuilder     { b.job = enabled; return b }
func (b *LoggerBuilder) EnableHTTP(enabled bool) *LoggerBuilder    { b.http = enabled; return b }
func (b *LoggerBuilder) EnableScope(enabled bool) *LoggerBuilder   { b.scope = enabled; return b }
func (b *LoggerBuilder) EnableTrace(enabled bool) *LoggerBuilder   { b.trace = enabled; return b }
func (b *LoggerBuilder) EnableBaggage(enabled bool) *LoggerBuilder { b.baggage = enabled; return b }
func (b *LoggerBuilder) EnableService(enabled bool) *LoggerBuilder { b.serviceInfo = enabled; return b }

// AddEnricher registers a custom enricher. Without a Priority method it runs
// between the source enrichers and the trace enricher.
func (b *LoggerBuilder) AddEnricher(e enrichment.Enricher) *LoggerBuilder {
	if e != nil {
		b.custom = append(b.custom, e)
	}

	return b
}

// WithClock sets the clock used for latency properties.
func (b *LoggerBuilder) WithClock(clock enrichment.Clock) *LoggerBuilder {
	b.clock = clock
	return b
}

// WithPropertyFactory replaces the default property factory.
func (b *LoggerBuilder) WithPropertyFactory(factory enrichment.PropertyFactory) *LoggerBuilder {
	b.factory = factory
	return b
}

// WithConsole toggles stdout output; encoding is "json" or "console".
func (b *LoggerBuilder) WithConsole(enabled bool, encoding string) *LoggerBuilder {
	b.console = enabled
	if encoding != "" {
		b.consoleEncoding = encoding
	}

	return b
}

// WithDevelopment switches to zap's development encoder settings.
func (b *LoggerBuilder) WithDevelopment(enabled bool) *LoggerBuilder {
	b.development = enabled
	return b
}

// WithFile appends JSON records to path.
func (b *LoggerBuilder) WithFile(path string) *LoggerBuilder {
	b.filePath = path
	return b
}

// WithOTelBridge tees records into the OpenTelemetry log bridge. A nil provider
// uses the global one.
func (b *LoggerBuilder) WithOTelBridge(name string, provider otellog.LoggerProvider) *LoggerBuilder {
	b.otelBridge = true
	b.otelName = name
	b.otelProvider = provider

	return b
}

// WithCore adds an extra sink.
func (b *LoggerBuilder) WithCore(core zapcore.Core) *LoggerBuilder {
	if core != nil {
		b.cores = append(b.cores, core)
	}

	return b
}

// MinimumLevel sets the level for categories without an override.
func (b *LoggerBuilder) MinimumLevel(level log.Level) *LoggerBuilder {
	b.minLevel = level
	return b
}

// OverrideLevel sets the minimum level for a category and its sub-categories.
func (b *LoggerBuilder) OverrideLevel(category string, level log.Level) *LoggerBuilder {
	b.overrides[category] = level
	return b
}

// OverrideLevels applies several overrides, as returned by log.ParseLevelOverrides.
func (b *LoggerBuilder) OverrideLevels(overrides map[string]log.Level) *LoggerBuilder {
	for category, level := range overrides {
		b.overrides[category] = level
	}

	return b
}

// BuildPipeline assembles the enrichment pipeline from the toggles.
// Order is fixed: broker, job and request sources, correlation scope, custom
// enrichers, trace, baggage, then service identity.
func (b *LoggerBuilder) BuildPipeline() *enrichment.Pipeline {
	var enrichers []enrichment.Enricher

	if b.kafka {
		enrichers = append(enrichers, enrichment.KafkaEnricher{Clock: b.clock})
	}

	if b.rabbitmq {
		enrichers = append(enrichers, enrichment.RabbitMQEnricher{Clock: b.clock})
	}

	if b.job {
		enrichers = append(enrichers, enrichment.JobEnricher{Clock: b.clock})
	}

	if b.http {
		enrichers = append(enrichers, enrichment.HTTPRequestEnricher{Clock: b.clock})
	}

	if b.scope {
		enrichers = append(enrichers, enrichment.CorrelationScopeEnricher{})
	}

	enrichers = append(enrichers, b.custom...)

	if b.trace {
		enrichers = append(enrichers, enrichment.TraceEnricher{})
	}

	if b.baggage {
		enrichers = append(enrichers, enrichment.BaggageEnricher{})
	}

	if b.serviceInfo {
		enrichers = append(enrichers, enrichment.NewServiceEnricher(b.service))
	}

	return enrichment.NewPipeline(b.factory, enrichers...)
}

func (b *LoggerBuilder) encoderConfig() zapcore.EncoderConfig {
	if b.development {
		cfg := zap.NewDevelopmentEncoderConfig()
		cfg.EncodeLevel = zapcore.CapitalColorLevelEncoder

		return cfg
	}

	cfg := zap.NewProductionEncoderConfig()
	cfg.TimeKey = "timestamp"
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder

	return cfg
}

// Build assembles the logger.
//
//nolint:ireturn
func (b *LoggerBuilder) Build() (log.Logger, error) {
	overrides := make(map[string]zapcore.Level, len(b.overrides))
	for category, level := range b.overrides {
		overrides[category] = toZapLevel(level)
	}

	base := toZapLevel(b.minLevel)
	filter := newLevelOverrideCore(zapcore.NewNopCore(), base, overrides)
	// Sinks accept everything the filter can let through.
	enabler := zap.NewAtomicLevelAt(filter.Level())

	var cores []zapcore.Core

	if b.console {
		var encoder zapcore.Encoder

		switch b.consoleEncoding {
		case "json":
			encoder = zapcore.NewJSONEncoder(b.encoderConfig())
		case "console":
			encoder = zapcore.NewConsoleEncoder(b.encoderConfig())
		default:
			return nil, fmt.Errorf("unknown console encoding %q", b.consoleEncoding)
		}

		sink, _, err := zap.Open("stdout")
		if err != nil {
			return nil, fmt.Errorf("failed to open stdout sink: %w", err)
		}

		cores = append(cores, zapcore.NewCore(encoder, sink, enabler))
	}

	if b.filePath != "" {
		sink, _, err := zap.Open(b.filePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %q: %w", b.filePath, err)
		}

		fileCfg := zap.NewProductionEncoderConfig()
		fileCfg.TimeKey = "timestamp"
		fileCfg.EncodeTime = zapcore.ISO8601TimeEncoder

		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(fileCfg), sink, enabler))
	}

	if b.otelBridge {
		var opts []otelzap.Option
		if b.otelProvider != nil {
			opts = append(opts, otelzap.WithLoggerProvider(b.otelProvider))
		}

		cores = append(cores, otelzap.NewCore(b.otelName, opts...))
	}

	cores = append(cores, b.cores...)

	filter.inner = zapcore.NewTee(cores...)

	logger := zap.New(filter, zap.AddCaller(), zap.AddCallerSkip(2))

	return NewZapWithTraceLogger(logger, b.BuildPipeline()), nil
}
