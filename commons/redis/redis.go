// Package redis holds the Redis connection hub shared by the job queue and
// the health checks.
package redis

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/LerianStudio/claims-telemetry/commons/log"
)

// RedisConnection represents a Redis connection hub
type RedisConnection struct {
	Address    []string
	DB         int
	MasterName string
	Password   string
	Protocol   int
	UseTLS     bool
	CACert     string
	Logger     log.Logger

	mu     sync.Mutex
	client redis.UniversalClient
}

// Connect initializes a Redis connection. A single address yields a standalone
// client, several a cluster client, and a MasterName a sentinel-backed one.
func (rc *RedisConnection) Connect(ctx context.Context) error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	return rc.connect(ctx)
}

func (rc *RedisConnection) connect(ctx context.Context) error {
	logger := rc.logger()
	logger.Info("Connecting to Redis...")

	opts := &redis.UniversalOptions{
		Addrs:      rc.Address,
		MasterName: rc.MasterName,
		DB:         rc.DB,
		Protocol:   rc.Protocol,
		Password:   rc.Password,
	}

	if rc.UseTLS {
		tlsConfig, err := rc.BuildTLSConfig()
		if err != nil {
			return err
		}

		opts.TLSConfig = tlsConfig
	}

	rdb := redis.NewUniversalClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()

		logger.Errorf("Failed to ping Redis: %v", err)

		return fmt.Errorf("redis: ping: %w", err)
	}

	rc.client = rdb

	switch rdb.(type) {
	case *redis.ClusterClient:
		logger.Info("Connected to Redis in CLUSTER mode")
	default:
		logger.Info("Connected to Redis")
	}

	return nil
}

// GetClient returns the client, connecting on first use.
//
//nolint:ireturn
func (rc *RedisConnection) GetClient(ctx context.Context) (redis.UniversalClient, error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client == nil {
		if err := rc.connect(ctx); err != nil {
			return nil, err
		}
	}

	return rc.client, nil
}

// Close closes the Redis connection
func (rc *RedisConnection) Close() error {
	rc.mu.Lock()
	defer rc.mu.Unlock()

	if rc.client == nil {
		return nil
	}

	err := rc.client.Close()
	rc.client = nil

	return err
}

// BuildTLSConfig generates a *tls.Config configuration using ca cert on base64
func (rc *RedisConnection) BuildTLSConfig() (*tls.Config, error) {
	caCert, err := base64.StdEncoding.DecodeString(rc.CACert)
	if err != nil {
		return nil, fmt.Errorf("redis: decode CA cert: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, errors.New("adding CA cert failed")
	}

	return &tls.Config{
		RootCAs:    caCertPool,
		MinVersion: tls.VersionTLS12,
	}, nil
}

//nolint:ireturn
func (rc *RedisConnection) logger() log.Logger {
	if rc.Logger == nil {
		return &log.NoneLogger{}
	}

	return rc.Logger
}
