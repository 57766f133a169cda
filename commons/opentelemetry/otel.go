package opentelemetry

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// ServiceDisplayNameKey carries the human readable service name on the resource.
const ServiceDisplayNameKey = attribute.Key("service.display_name")

// TelemetryConfig is the configuration surface for the telemetry providers.
type TelemetryConfig struct {
	LibraryName               string
	ServiceName               string
	ServiceDisplayName        string
	ServiceVersion            string
	DeploymentEnv             string
	CollectorExporterEndpoint string
	EnableTelemetry           bool
	// SampleRatio is the parent-based trace id ratio. Values outside (0,1) sample everything.
	SampleRatio float64
	Logger      log.Logger
}

// Telemetry holds the providers built from a TelemetryConfig.
type Telemetry struct {
	TelemetryConfig
	TracerProvider *sdktrace.TracerProvider
	MetricProvider *sdkmetric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	MetricsFactory *MetricsFactory
	shutdown       func()
}

// displayName falls back to the service name; it is never derived from the version.
func (cfg *TelemetryConfig) displayName() string {
	if cfg.ServiceDisplayName != "" {
		return cfg.ServiceDisplayName
	}

	return cfg.ServiceName
}

// newResource creates a new resource with custom attributes.
func (cfg *TelemetryConfig) newResource() *sdkresource.Resource {
	// Only our own attributes, to avoid schema URL conflicts with the default resource.
	return sdkresource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.DeploymentEnv),
		semconv.TelemetrySDKName(constant.TelemetrySDKName),
		semconv.TelemetrySDKLanguageGo,
		ServiceDisplayNameKey.String(cfg.displayName()),
	)
}

func (cfg *TelemetryConfig) sampler() sdktrace.Sampler {
	if cfg.SampleRatio <= 0 || cfg.SampleRatio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}

	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))
}

func (cfg *TelemetryConfig) newLoggerExporter(ctx context.Context) (*otlploggrpc.Exporter, error) {
	return otlploggrpc.New(ctx, otlploggrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlploggrpc.WithInsecure())
}

func (cfg *TelemetryConfig) newMetricExporter(ctx context.Context) (*otlpmetricgrpc.Exporter, error) {
	return otlpmetricgrpc.New(ctx, otlpmetricgrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlpmetricgrpc.WithInsecure())
}

func (cfg *TelemetryConfig) newTracerExporter(ctx context.Context) (*otlptrace.Exporter, error) {
	return otlptracegrpc.New(ctx, otlptracegrpc.WithEndpoint(cfg.CollectorExporterEndpoint), otlptracegrpc.WithInsecure())
}

// InitializeTelemetryWithError initializes the telemetry providers and sets them globally.
// With telemetry disabled the providers are still built, in process and without exporters,
// so spans keep their identifiers for log correlation.
func InitializeTelemetryWithError(cfg *TelemetryConfig) (*Telemetry, error) {
	if cfg == nil {
		return nil, errors.New("telemetry config is nil")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	ctx := context.Background()
	r := cfg.newResource()

	var (
		tp       *sdktrace.TracerProvider
		mp       *sdkmetric.MeterProvider
		lp       *sdklog.LoggerProvider
		shutdown func()
	)

	if !cfg.EnableTelemetry {
		logger.Warn("Telemetry turned off ⚠️ ")

		tp = sdktrace.NewTracerProvider(sdktrace.WithResource(r), sdktrace.WithSampler(cfg.sampler()))
		mp = sdkmetric.NewMeterProvider(sdkmetric.WithResource(r))
		lp = sdklog.NewLoggerProvider(sdklog.WithResource(r))

		shutdown = func() {
			_ = tp.Shutdown(ctx)
			_ = mp.Shutdown(ctx)
			_ = lp.Shutdown(ctx)
		}
	} else {
		logger.Infof("Initializing telemetry...")

		tExp, err := cfg.newTracerExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't initialize tracer exporter: %w", err)
		}

		mExp, err := cfg.newMetricExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't initialize metric exporter: %w", err)
		}

		lExp, err := cfg.newLoggerExporter(ctx)
		if err != nil {
			return nil, fmt.Errorf("can't initialize logger exporter: %w", err)
		}

		tp = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(tExp),
			sdktrace.WithResource(r),
			sdktrace.WithSampler(cfg.sampler()),
		)
		mp = sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(r),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(mExp)),
		)
		lp = sdklog.NewLoggerProvider(
			sdklog.WithResource(r),
			sdklog.WithProcessor(sdklog.NewBatchProcessor(lExp)),
		)

		shutdown = func() {
			// Providers flush and shut down their own exporters.
			if err := tp.Shutdown(ctx); err != nil {
				logger.Errorf("can't shutdown tracer provider: %v", err)
			}

			if err := mp.Shutdown(ctx); err != nil {
				logger.Errorf("can't shutdown metric provider: %v", err)
			}

			if err := lp.Shutdown(ctx); err != nil {
				logger.Errorf("can't shutdown logger provider: %v", err)
			}
		}
	}

	otel.SetTracerProvider(tp)
	otel.SetMeterProvider(mp)
	global.SetLoggerProvider(lp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	if cfg.EnableTelemetry {
		logger.Infof("Telemetry initialized ✅ ")
	}

	return &Telemetry{
		TelemetryConfig: *cfg,
		TracerProvider:  tp,
		MetricProvider:  mp,
		LoggerProvider:  lp,
		MetricsFactory:  NewMetricsFactory(mp.Meter(cfg.LibraryName), logger),
		shutdown:        shutdown,
	}, nil
}

// InitializeTelemetry is InitializeTelemetryWithError for callers that treat failure as fatal.
func InitializeTelemetry(cfg *TelemetryConfig) *Telemetry {
	tl, err := InitializeTelemetryWithError(cfg)
	if err != nil {
		logger := cfg.Logger
		if logger == nil {
			logger = &log.NoneLogger{}
		}

		logger.Fatalf("%v", err)

		return nil
	}

	return tl
}

// ShutdownTelemetry flushes and shuts down the telemetry providers.
func (tl *Telemetry) ShutdownTelemetry() {
	if tl == nil || tl.shutdown == nil {
		return
	}

	tl.shutdown()
}
