package bootstrap

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"
	fiberrecover "github.com/gofiber/fiber/v2/middleware/recover"
	amqp "github.com/rabbitmq/amqp091-go"
	goredis "github.com/redis/go-redis/v9"

	"github.com/LerianStudio/claims-telemetry/commons"
	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
	"github.com/LerianStudio/claims-telemetry/commons/enrichment"
	"github.com/LerianStudio/claims-telemetry/commons/health"
	"github.com/LerianStudio/claims-telemetry/commons/kafka"
	clog "github.com/LerianStudio/claims-telemetry/commons/log"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
	"github.com/LerianStudio/claims-telemetry/commons/rabbitmq"
	"github.com/LerianStudio/claims-telemetry/commons/redis"
	"github.com/LerianStudio/claims-telemetry/commons/shutdown"
	czap "github.com/LerianStudio/claims-telemetry/commons/zap"
)

// Runtime holds the infrastructure shared by the handlers of one service.
type Runtime struct {
	Config     *Config
	Logger     clog.Logger
	Telemetry  *opentelemetry.Telemetry
	Propagator *observability.TracePropagator
	Metrics    *opentelemetry.MetricsFactory
	Breakers   circuitbreaker.Manager
	Health     *health.Service

	closers []shutdown.Closer
}

// NewRuntime builds the logger first, so the telemetry setup can log, then the
// telemetry providers the logger's OpenTelemetry bridge resolves to.
func NewRuntime(cfg *Config) (*Runtime, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}

	tl, err := opentelemetry.InitializeTelemetryWithError(&opentelemetry.TelemetryConfig{
		LibraryName:               cfg.OtelLibraryName,
		ServiceName:               cfg.ServiceName,
		ServiceDisplayName:        cfg.ServiceDisplayName,
		ServiceVersion:            cfg.ServiceVersion,
		DeploymentEnv:             cfg.EnvName,
		CollectorExporterEndpoint: cfg.OtelEndpoint,
		EnableTelemetry:           cfg.EnableTelemetry,
		SampleRatio:               cfg.SampleRatio,
		Logger:                    logger,
	})
	if err != nil {
		return nil, err
	}

	propagationCfg := observability.DefaultTracePropagationConfig()
	propagationCfg.InstrumentationName = cfg.OtelLibraryName
	propagationCfg.BaseAttributes = map[string]string{"service.name": cfg.ServiceName}

	propagator := observability.NewTracePropagator(propagationCfg, logger.Named("propagation"),
		observability.WithTracerProvider(tl.TracerProvider),
		observability.WithMetricsFactory(tl.MetricsFactory),
	)

	if _, err := observability.RegisterRuntimeMetrics(tl.MetricProvider.Meter(cfg.OtelLibraryName)); err != nil {
		logger.Warnf("Go runtime metrics disabled: %v", err)
	}

	breakers := circuitbreaker.NewManager(logger.Named("circuitbreaker"),
		circuitbreaker.WithTransitionHook(breakerMetrics(tl.MetricsFactory)))

	svc := health.NewService(health.Identity{
		Name:        cfg.ServiceName,
		DisplayName: cfg.ServiceDisplayName,
		Version:     cfg.ServiceVersion,
		Environment: cfg.EnvName,
		Hostname:    cfg.Hostname,
	})
	svc.RegisterChecker("circuit_breakers", health.NewCircuitBreakerChecker(breakers))

	return &Runtime{
		Config:     cfg,
		Logger:     logger,
		Telemetry:  tl,
		Propagator: propagator,
		Metrics:    tl.MetricsFactory,
		Breakers:   breakers,
		Health:     svc,
	}, nil
}

// breakerMetrics counts breaker transitions and tracks each breaker's state as
// a gauge (closed 0, half-open 1, open 2).
func breakerMetrics(metrics *opentelemetry.MetricsFactory) circuitbreaker.TransitionFunc {
	return func(service string, from, to circuitbreaker.State) {
		ctx := context.Background()

		metrics.Counter("circuit_breaker.transitions", opentelemetry.MetricOption{
			Description: "Circuit breaker state changes",
		}).WithLabels(map[string]string{
			"peer.service": service,
			"from":         string(from),
			"to":           string(to),
		}).Add(ctx, 1)

		metrics.Gauge("circuit_breaker.state", opentelemetry.MetricOption{
			Description: "Circuit breaker state: 0 closed, 1 half-open, 2 open",
		}).WithLabels(map[string]string{"peer.service": service}).Set(ctx, to.Level())
	}
}

// NewLogger configures the enriched logger from cfg: JSON at info in
// production, development console output at debug elsewhere, then the
// LOG_LEVEL, LOG_LEVEL_OVERRIDES and LOG_FILE refinements.
//
//nolint:ireturn
func NewLogger(cfg *Config) (clog.Logger, error) {
	builder := czap.NewLoggerBuilder().
		WithService(enrichment.ServiceInfo{
			Name:        cfg.ServiceName,
			DisplayName: cfg.ServiceDisplayName,
			Version:     cfg.ServiceVersion,
			Environment: cfg.EnvName,
			Host:        cfg.Hostname,
			Features:    cfg.Features(),
		}).
		EnableKafka(cfg.KafkaEnabled()).
		EnableRabbitMQ(cfg.RabbitMQEnabled()).
		EnableJob(cfg.JobsEnabled()).
		WithOTelBridge(cfg.OtelLibraryName, nil)

	if cfg.IsProduction() {
		builder.WithConsole(true, "json").MinimumLevel(clog.InfoLevel)
	} else {
		builder.WithConsole(true, "console").WithDevelopment(true).MinimumLevel(clog.DebugLevel)
	}

	if cfg.LogLevel != "" {
		lvl, err := clog.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}

		builder.MinimumLevel(lvl)
	}

	overrides, err := clog.ParseLevelOverrides(cfg.LogLevelOverrides)
	if err != nil {
		return nil, err
	}

	builder.OverrideLevels(overrides)

	if cfg.LogFile != "" {
		builder.WithFile(cfg.LogFile)
	}

	logger, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	return logger, nil
}

// AddCloser registers a resource released during shutdown, in registration order.
func (rt *Runtime) AddCloser(name string, closeFn func(ctx context.Context) error) {
	rt.closers = append(rt.closers, shutdown.Closer{Name: name, Close: closeFn})
}

// NewApp returns a fiber app with the error handler, panic recovery,
// telemetry and access log middleware, and the health endpoint.
func (rt *Runtime) NewApp() *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               rt.Config.ServiceDisplayName,
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			return libHTTP.WithError(c, err)
		},
	})

	telemetry := libHTTP.NewTelemetryMiddleware(rt.Propagator, rt.Logger, rt.Metrics)

	app.Use(fiberrecover.New())
	app.Use(telemetry.WithTelemetry())
	app.Use(libHTTP.WithHTTPLogging(libHTTP.WithRequestBody(!rt.Config.IsProduction())))

	app.Get("/health", rt.Health.Handler())

	return app
}

// HTTPClient returns a traced client sharing the runtime's breakers.
func (rt *Runtime) HTTPClient() *libHTTP.TracedClient {
	return libHTTP.NewTracedClient(rt.Propagator, rt.Breakers, rt.Metrics, rt.Logger.Named("http.client"), libHTTP.DefaultClientConfig())
}

// ConnectKafka dials the configured brokers and registers the producer for
// health checks and shutdown.
func (rt *Runtime) ConnectKafka() (*kafka.Producer, error) {
	producer, err := kafka.Connect(rt.Config.KafkaBrokers, kafka.DefaultConfig(rt.Config.ServiceName), rt.Propagator, rt.Logger.Named("kafka.producer"))
	if err != nil {
		return nil, err
	}

	rt.Health.RegisterChecker("kafka", health.NewKafkaChecker(producer.Client()))
	rt.AddCloser("kafka producer", func(context.Context) error { return producer.Close() })

	return producer, nil
}

// JoinKafkaGroup creates a consumer group for group on the configured brokers
// and registers it for shutdown.
//
//nolint:ireturn
func (rt *Runtime) JoinKafkaGroup(group string) (sarama.ConsumerGroup, error) {
	cfg := kafka.DefaultConfig(rt.Config.ServiceName)
	cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	cfg.Consumer.Return.Errors = true

	consumerGroup, err := sarama.NewConsumerGroup(rt.Config.KafkaBrokers, group, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka: join consumer group %s: %w", group, err)
	}

	rt.AddCloser("kafka consumer group", func(context.Context) error { return consumerGroup.Close() })

	return consumerGroup, nil
}

// ConnectRabbitMQ opens the broker connection and declares the exchange and
// queue used by the payment flow.
func (rt *Runtime) ConnectRabbitMQ(routingKey string) (*rabbitmq.RabbitMQConnection, *amqp.Channel, error) {
	conn := &rabbitmq.RabbitMQConnection{
		ConnectionStringSource: rt.Config.RabbitMQURI,
		HealthCheckURL:         rt.Config.RabbitMQManagementURL,
		User:                   rt.Config.RabbitMQUser,
		Pass:                   rt.Config.RabbitMQPass,
		Logger:                 rt.Logger.Named("rabbitmq"),
	}

	ch, err := conn.GetNewConnect()
	if err != nil {
		return nil, nil, err
	}

	if err := ch.ExchangeDeclare(rt.Config.RabbitMQExchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("rabbitmq: declare exchange: %w", err)
	}

	if _, err := ch.QueueDeclare(rt.Config.RabbitMQQueue, true, false, false, false, nil); err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("rabbitmq: declare queue: %w", err)
	}

	if err := ch.QueueBind(rt.Config.RabbitMQQueue, routingKey, rt.Config.RabbitMQExchange, false, nil); err != nil {
		_ = conn.Close()

		return nil, nil, fmt.Errorf("rabbitmq: bind queue: %w", err)
	}

	rt.Health.RegisterChecker("rabbitmq", health.NewRabbitMQChecker(conn.Connection()))

	if rt.Config.RabbitMQManagementURL != "" {
		rt.Health.RegisterChecker("rabbitmq_alarms", health.NewCustomChecker(conn.HealthCheck))
	}

	rt.AddCloser("rabbitmq", func(context.Context) error { return conn.Close() })

	return conn, ch, nil
}

// ConnectRedis connects to the configured Redis and registers it for health
// checks and shutdown.
//
//nolint:ireturn
func (rt *Runtime) ConnectRedis(ctx context.Context) (goredis.UniversalClient, error) {
	conn := &redis.RedisConnection{
		Address:  rt.Config.RedisAddress,
		DB:       rt.Config.RedisDB,
		Password: rt.Config.RedisPass,
		Logger:   rt.Logger.Named("redis"),
	}

	client, err := conn.GetClient(ctx)
	if err != nil {
		return nil, err
	}

	rt.Health.RegisterChecker("redis", health.NewRedisChecker(client))
	rt.AddCloser("redis", func(context.Context) error { return conn.Close() })

	return client, nil
}

// Serve starts app and blocks until a termination signal has shut everything down.
func (rt *Runtime) Serve(app *fiber.App) {
	shutdown.StartServerWithGracefulShutdown(app, rt.Telemetry, rt.Config.HTTPAddress, rt.Logger, rt.closers...)
}

// RunUntilSignal runs fn with a context cancelled on SIGINT or SIGTERM, then
// releases every registered resource.
func (rt *Runtime) RunUntilSignal(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ctx = commons.ContextWithLogger(ctx, rt.Logger)

	err := fn(ctx)

	rt.Shutdown()

	return err
}

// Shutdown releases every registered resource without serving.
func (rt *Runtime) Shutdown() {
	shutdown.NewGracefulShutdown(nil, rt.Telemetry, rt.Logger, rt.closers...).Shutdown()
}
