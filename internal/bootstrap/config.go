// Package bootstrap loads the configuration of a demo service and wires its
// logger, telemetry, HTTP server and broker connections.
package bootstrap

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	clog "github.com/LerianStudio/claims-telemetry/commons/log"
)

// ApplicationName is the instrumentation library name reported by every service.
const ApplicationName = "github.com/LerianStudio/claims-telemetry"

// Config is the top level configuration struct for the entire application.
type Config struct {
	ServiceName        string `envconfig:"SERVICE_NAME"`
	ServiceDisplayName string `envconfig:"SERVICE_DISPLAY_NAME"`
	ServiceVersion     string `envconfig:"SERVICE_VERSION" default:"1.0.0"`
	EnvName            string `envconfig:"ENV_NAME" default:"development"`
	HTTPAddress        string `envconfig:"HTTP_ADDRESS"`

	OtelLibraryName string  `envconfig:"OTEL_LIBRARY_NAME" default:"github.com/LerianStudio/claims-telemetry"`
	OtelEndpoint    string  `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	EnableTelemetry bool    `envconfig:"ENABLE_TELEMETRY" default:"false"`
	SampleRatio     float64 `envconfig:"OTEL_SAMPLE_RATIO" default:"1"`

	LogLevel          string `envconfig:"LOG_LEVEL"`
	LogLevelOverrides string `envconfig:"LOG_LEVEL_OVERRIDES"`
	LogFile           string `envconfig:"LOG_FILE"`

	KafkaBrokers       []string `envconfig:"KAFKA_BROKERS"`
	KafkaTopic         string   `envconfig:"KAFKA_TOPIC" default:"claims.processed"`
	KafkaConsumerGroup string   `envconfig:"KAFKA_CONSUMER_GROUP"`

	RabbitMQURI           string `envconfig:"RABBITMQ_URI"`
	RabbitMQExchange      string `envconfig:"RABBITMQ_EXCHANGE" default:"payments"`
	RabbitMQQueue         string `envconfig:"RABBITMQ_QUEUE" default:"claims.payments-completed"`
	RabbitMQManagementURL string `envconfig:"RABBITMQ_MANAGEMENT_URL"`
	RabbitMQUser          string `envconfig:"RABBITMQ_DEFAULT_USER"`
	RabbitMQPass          string `envconfig:"RABBITMQ_DEFAULT_PASS"`

	RedisAddress []string `envconfig:"REDIS_ADDRESS"`
	RedisDB      int      `envconfig:"REDIS_DB" default:"0"`
	RedisPass    string   `envconfig:"REDIS_PASSWORD"`
	JobQueue     string   `envconfig:"JOB_QUEUE" default:"claims"`

	FinanceURL string  `envconfig:"FINANCE_URL" default:"http://localhost:8081"`
	PolicyURL  string  `envconfig:"POLICY_URL" default:"http://localhost:8082"`
	FaultRate  float64 `envconfig:"FAULT_RATE" default:"0.1"`

	Hostname string `ignored:"true"`
}

// Defaults fills the settings that differ per service when the environment leaves them empty.
type Defaults struct {
	ServiceName        string
	ServiceDisplayName string
	HTTPAddress        string
}

// Load reads an optional .env file, then the environment, and validates the result.
// Variables already set in the environment win over the .env file.
func Load(defaults Defaults) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	cfg := &Config{}

	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	cfg.applyDefaults(defaults)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) applyDefaults(defaults Defaults) {
	if c.ServiceName == "" {
		c.ServiceName = defaults.ServiceName
	}

	// The display name has its own setting and never comes from the version.
	if c.ServiceDisplayName == "" {
		c.ServiceDisplayName = defaults.ServiceDisplayName
	}

	if c.ServiceDisplayName == "" {
		c.ServiceDisplayName = c.ServiceName
	}

	if c.HTTPAddress == "" {
		c.HTTPAddress = defaults.HTTPAddress
	}

	if c.KafkaConsumerGroup == "" {
		c.KafkaConsumerGroup = c.ServiceName
	}

	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
}

// Validate rejects settings the services cannot start with.
func (c *Config) Validate() error {
	var errs []error

	if c.ServiceName == "" {
		errs = append(errs, errors.New("SERVICE_NAME is required"))
	}

	if c.FaultRate < 0 || c.FaultRate > 1 {
		errs = append(errs, fmt.Errorf("FAULT_RATE must be between 0 and 1, got %v", c.FaultRate))
	}

	if _, err := clog.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL: %w", err))
	}

	if _, err := clog.ParseLevelOverrides(c.LogLevelOverrides); err != nil {
		errs = append(errs, fmt.Errorf("LOG_LEVEL_OVERRIDES: %w", err))
	}

	return errors.Join(errs...)
}

// IsProduction reports whether ENV_NAME names a production environment.
func (c *Config) IsProduction() bool {
	return c.EnvName == "production" || c.EnvName == "prod"
}

// KafkaEnabled reports whether brokers are configured.
func (c *Config) KafkaEnabled() bool { return len(c.KafkaBrokers) > 0 }

// RabbitMQEnabled reports whether a broker URI is configured.
func (c *Config) RabbitMQEnabled() bool { return c.RabbitMQURI != "" }

// JobsEnabled reports whether a Redis address is configured.
func (c *Config) JobsEnabled() bool { return len(c.RedisAddress) > 0 }

// Features lists the optional integrations this configuration turns on.
func (c *Config) Features() []string {
	var features []string

	if c.KafkaEnabled() {
		features = append(features, "kafka")
	}

	if c.RabbitMQEnabled() {
		features = append(features, "rabbitmq")
	}

	if c.JobsEnabled() {
		features = append(features, "jobs")
	}

	return features
}
