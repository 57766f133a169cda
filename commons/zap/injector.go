package zap

import (
	"fmt"
	"os"
	"strings"

	"github.com/LerianStudio/claims-telemetry/commons/enrichment"
	clog "github.com/LerianStudio/claims-telemetry/commons/log"
)

// InitializeLogger initializes our log layer and returns it.
// Production environments get JSON output at info level, everything else the
// colored console encoder at debug level. LOG_LEVEL and LOG_LEVEL_OVERRIDES
// refine that, and records are teed into the OpenTelemetry log bridge.
//
//nolint:ireturn
func InitializeLogger() (clog.Logger, error) {
	builder := NewLoggerBuilder().WithService(enrichment.ServiceInfo{
		Name:        os.Getenv("SERVICE_NAME"),
		DisplayName: os.Getenv("SERVICE_DISPLAY_NAME"),
		Version:     os.Getenv("SERVICE_VERSION"),
		Environment: os.Getenv("ENV_NAME"),
	})

	envName := strings.ToLower(os.Getenv("ENV_NAME"))
	if envName == "production" || envName == "prod" {
		builder.WithConsole(true, "json").MinimumLevel(clog.InfoLevel)
	} else {
		builder.WithConsole(true, "console").WithDevelopment(true).MinimumLevel(clog.DebugLevel)
	}

	if val, ok := os.LookupEnv("LOG_LEVEL"); ok {
		lvl, err := clog.ParseLevel(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: invalid LOG_LEVEL value %q: %v (using default level)\n", val, err)
		} else {
			builder.MinimumLevel(lvl)
		}
	}

	if val := os.Getenv("LOG_LEVEL_OVERRIDES"); val != "" {
		overrides, err := clog.ParseLevelOverrides(val)
		if err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: invalid LOG_LEVEL_OVERRIDES value %q: %v (ignored)\n", val, err)
		} else {
			builder.OverrideLevels(overrides)
		}
	}

	if path := os.Getenv("LOG_FILE"); path != "" {
		builder.WithFile(path)
	}

	builder.WithOTelBridge(os.Getenv("OTEL_LIBRARY_NAME"), nil)

	logger, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zap logger: %w", err)
	}

	return logger, nil
}
