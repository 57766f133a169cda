// Package rabbitmq manages the AMQP connection of a demo service and carries
// trace context through published and consumed messages.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// RabbitMQConnection is a hub which deal with rabbitmq connections.
type RabbitMQConnection struct {
	ConnectionStringSource string
	HealthCheckURL         string
	User                   string
	Pass                   string
	HeartBeat              time.Duration
	Logger                 log.Logger

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel
}

// Connect dials the broker and opens a channel, replacing any previous one.
func (rc *RabbitMQConnection) Connect() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.connect()
}

func (rc *RabbitMQConnection) connect() error {
	logger := rc.logger()
	logger.Info("Connecting to RabbitMQ...")

	conn, err := amqp.DialConfig(rc.ConnectionStringSource, amqp.Config{
		Heartbeat: rc.HeartBeat,
	})
	if err != nil {
		logger.Errorf("Failed to connect to RabbitMQ: %v", err)

		return fmt.Errorf("rabbitmq: dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()

		logger.Errorf("Failed to open RabbitMQ channel: %v", err)

		return fmt.Errorf("rabbitmq: open channel: %w", err)
	}

	rc.conn = conn
	rc.channel = ch

	logger.Info("Connected to RabbitMQ")

	return nil
}

// GetNewConnect returns the open channel, reconnecting when the connection or
// the channel was closed.
func (rc *RabbitMQConnection) GetNewConnect() (*amqp.Channel, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.conn == nil || rc.conn.IsClosed() || rc.channel == nil || rc.channel.IsClosed() {
		rc.logger().Warn("RabbitMQ connection or channel is closed. Reconnecting...")

		if err := rc.connect(); err != nil {
			return nil, err
		}
	}

	return rc.channel, nil
}

// Connection returns the current connection, nil before Connect.
func (rc *RabbitMQConnection) Connection() *amqp.Connection {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.conn
}

// Close closes the channel and the connection.
func (rc *RabbitMQConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	var errs []error

	if rc.channel != nil && !rc.channel.IsClosed() {
		errs = append(errs, rc.channel.Close())
	}

	if rc.conn != nil && !rc.conn.IsClosed() {
		errs = append(errs, rc.conn.Close())
	}

	rc.channel, rc.conn = nil, nil

	return errors.Join(errs...)
}

// HealthCheck asks the management API whether the broker raised any alarm.
func (rc *RabbitMQConnection) HealthCheck(ctx context.Context) error {
	url := rc.HealthCheckURL + "/api/health/checks/alarms"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("rabbitmq health: build request: %w", err)
	}

	req.SetBasicAuth(rc.User, rc.Pass)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("rabbitmq health: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("rabbitmq health: read body: %w", err)
	}

	var result map[string]any

	if err := json.Unmarshal(body, &result); err != nil {
		return fmt.Errorf("rabbitmq health: decode body: %w", err)
	}

	if status, ok := result["status"].(string); ok && status == "ok" {
		return nil
	}

	return fmt.Errorf("rabbitmq unhealthy: %v", result["status"])
}

//nolint:ireturn
func (rc *RabbitMQConnection) logger() log.Logger {
	if rc.Logger == nil {
		return &log.NoneLogger{}
	}

	return rc.Logger
}
