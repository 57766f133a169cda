// Package shutdown stops a demo service in order: HTTP server first, then the
// broker and job closers, then telemetry, then the logger.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
)

// DefaultTimeout bounds the whole shutdown sequence.
const DefaultTimeout = 10 * time.Second

// Closer is a named resource released during shutdown.
type Closer struct {
	Name  string
	Close func(ctx context.Context) error
}

// GracefulShutdown handles the graceful shutdown of application components.
type GracefulShutdown struct {
	app       *fiber.App
	telemetry *opentelemetry.Telemetry
	logger    log.Logger
	closers   []Closer
	timeout   time.Duration
}

// NewGracefulShutdown creates a new instance of GracefulShutdown.
// Closers run in the order given, after the server stops.
func NewGracefulShutdown(
	app *fiber.App,
	telemetry *opentelemetry.Telemetry,
	logger log.Logger,
	closers ...Closer,
) *GracefulShutdown {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &GracefulShutdown{
		app:       app,
		telemetry: telemetry,
		logger:    logger,
		closers:   closers,
		timeout:   DefaultTimeout,
	}
}

// HandleShutdown blocks until SIGINT or SIGTERM, then runs the shutdown sequence.
func (gs *GracefulShutdown) HandleShutdown() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gs.Wait(ctx)
}

// Wait blocks until ctx is done, then runs the shutdown sequence.
func (gs *GracefulShutdown) Wait(ctx context.Context) {
	<-ctx.Done()
	gs.logger.Info("Gracefully shutting down...")

	gs.Shutdown()
}

// Shutdown performs the shutdown operations in order. Every step runs even when
// an earlier one fails.
func (gs *GracefulShutdown) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), gs.timeout)
	defer cancel()

	if gs.app != nil {
		gs.logger.Info("Shutting down HTTP server...")

		if err := gs.app.ShutdownWithContext(ctx); err != nil {
			gs.logger.Errorf("Error during server shutdown: %v", err)
		}
	}

	for _, c := range gs.closers {
		if c.Close == nil {
			continue
		}

		gs.logger.Infof("Closing %s...", c.Name)

		if err := c.Close(ctx); err != nil {
			gs.logger.Errorf("Error closing %s: %v", c.Name, err)
		}
	}

	if gs.telemetry != nil {
		gs.logger.Info("Shutting down telemetry...")
		gs.telemetry.ShutdownTelemetry()
	}

	gs.logger.Info("Graceful shutdown completed")

	// stdout sinks report EINVAL on sync; nothing is left to log it to.
	_ = gs.logger.Sync()
}

// StartServerWithGracefulShutdown starts the Fiber server in a goroutine and
// blocks until a termination signal completes the shutdown sequence.
func StartServerWithGracefulShutdown(
	app *fiber.App,
	telemetry *opentelemetry.Telemetry,
	serverAddress string,
	logger log.Logger,
	closers ...Closer,
) {
	gs := NewGracefulShutdown(app, telemetry, logger, closers...)

	defer func() {
		if r := recover(); r != nil {
			gs.logger.Errorf("Fatal error (panic): %v", r)
			gs.Shutdown()
			os.Exit(1)
		}
	}()

	go func() {
		gs.logger.Infof("Starting HTTP server on %s", serverAddress)

		if err := app.Listen(serverAddress); err != nil {
			gs.logger.Errorf("Server error: %v", err)
		}
	}()

	gs.HandleShutdown()
}
