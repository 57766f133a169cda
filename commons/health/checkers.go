package health

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/IBM/sarama"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
)

// RedisChecker pings Redis and reports the connection pool.
type RedisChecker struct {
	client redis.UniversalClient
}

func NewRedisChecker(client redis.UniversalClient) *RedisChecker {
	return &RedisChecker{client: client}
}

func (c *RedisChecker) Check(ctx context.Context) error {
	if c.client == nil {
		return errors.New("redis client is nil")
	}

	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to ping redis: %w", err)
	}

	return nil
}

func (c *RedisChecker) Details(_ context.Context) map[string]any {
	if c.client == nil {
		return nil
	}

	stats := c.client.PoolStats()

	return map[string]any{
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"timeouts":    stats.Timeouts,
	}
}

// RabbitMQChecker is down once the AMQP connection has closed.
type RabbitMQChecker struct {
	conn *amqp.Connection
}

func NewRabbitMQChecker(conn *amqp.Connection) *RabbitMQChecker {
	return &RabbitMQChecker{conn: conn}
}

func (c *RabbitMQChecker) Check(_ context.Context) error {
	switch {
	case c.conn == nil:
		return errors.New("rabbitmq connection is nil")
	case c.conn.IsClosed():
		return errors.New("rabbitmq connection is closed")
	default:
		return nil
	}
}

// KafkaChecker reports whether the Kafka client still reaches a broker.
type KafkaChecker struct {
	client sarama.Client
}

func NewKafkaChecker(client sarama.Client) *KafkaChecker {
	return &KafkaChecker{client: client}
}

func (c *KafkaChecker) Check(_ context.Context) error {
	switch {
	case c.client == nil:
		return errors.New("kafka client is nil")
	case c.client.Closed():
		return errors.New("kafka client is closed")
	case len(c.client.Brokers()) == 0:
		return errors.New("kafka client has no brokers")
	default:
		return nil
	}
}

func (c *KafkaChecker) Details(_ context.Context) map[string]any {
	if c.client == nil || c.client.Closed() {
		return nil
	}

	return map[string]any{"brokers": len(c.client.Brokers())}
}

// CircuitBreakerChecker is down while any breaker of the manager is open and
// lists every breaker in its details.
type CircuitBreakerChecker struct {
	manager circuitbreaker.Manager
}

func NewCircuitBreakerChecker(manager circuitbreaker.Manager) *CircuitBreakerChecker {
	return &CircuitBreakerChecker{manager: manager}
}

func (c *CircuitBreakerChecker) Check(_ context.Context) error {
	if c.manager == nil {
		return nil
	}

	var open []string

	for _, status := range c.manager.Snapshot() {
		if status.State == circuitbreaker.StateOpen {
			open = append(open, status.Service)
		}
	}

	if len(open) > 0 {
		return fmt.Errorf("circuit breaker open for %s", strings.Join(open, ", "))
	}

	return nil
}

func (c *CircuitBreakerChecker) Details(_ context.Context) map[string]any {
	if c.manager == nil {
		return nil
	}

	details := make(map[string]any)
	for _, status := range c.manager.Snapshot() {
		details[status.Service] = status
	}

	return details
}

// CustomChecker adapts a function to Checker.
type CustomChecker struct {
	fn func(ctx context.Context) error
}

func NewCustomChecker(fn func(ctx context.Context) error) *CustomChecker {
	return &CustomChecker{fn: fn}
}

func (c *CustomChecker) Check(ctx context.Context) error {
	if c.fn == nil {
		return errors.New("custom check function is nil")
	}

	return c.fn(ctx)
}

// HTTPChecker calls a dependency's health endpoint and expects a 2xx.
type HTTPChecker struct {
	url    string
	client *http.Client
}

// NewHTTPChecker builds a checker for url. A nil client gets one bounded by
// the default check timeout.
func NewHTTPChecker(url string, client *http.Client) *HTTPChecker {
	if client == nil {
		client = &http.Client{Timeout: defaultCheckTimeout}
	}

	return &HTTPChecker{url: url, client: client}
}

func (c *HTTPChecker) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return fmt.Errorf("invalid health url: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}

	return nil
}
