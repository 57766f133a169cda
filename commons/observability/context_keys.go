package observability

import (
	"context"
	"time"

	"github.com/LerianStudio/claims-telemetry/commons/correlation"
)

// Correlation store keys for the typed business contexts.
const (
	KafkaMessageKey    = "observability.kafka-message"
	RabbitMQMessageKey = "observability.rabbitmq-message"
	JobKey             = "observability.job"
	HTTPRequestKey     = "observability.http-request"
)

// KafkaMessageContext describes a record received from a partitioned log.
// It is stored by value so it cannot change once attached.
type KafkaMessageContext struct {
	Topic         string    `json:"topic"`
	Partition     int32     `json:"partition"`
	Offset        int64     `json:"offset"`
	Key           string    `json:"key,omitempty"`
	ConsumerGroup string    `json:"consumer_group,omitempty"`
	MessageID     string    `json:"message_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// RabbitMQMessageContext describes a delivery received from an exchange/queue broker.
type RabbitMQMessageContext struct {
	Exchange      string    `json:"exchange"`
	RoutingKey    string    `json:"routing_key"`
	Queue         string    `json:"queue"`
	ConsumerTag   string    `json:"consumer_tag,omitempty"`
	DeliveryTag   uint64    `json:"delivery_tag"`
	Redelivered   bool      `json:"redelivered"`
	MessageID     string    `json:"message_id,omitempty"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	ReceivedAt    time.Time `json:"received_at"`
}

// JobContext describes a background job execution.
type JobContext struct {
	JobID     string    `json:"job_id"`
	JobName   string    `json:"job_name"`
	Queue     string    `json:"queue"`
	Attempt   int       `json:"attempt"`
	CreatedAt time.Time `json:"created_at"`
	StartedAt time.Time `json:"started_at"`
}

// QueueWait is the time the job spent enqueued before execution began.
func (j JobContext) QueueWait() time.Duration {
	if j.CreatedAt.IsZero() || j.StartedAt.IsZero() {
		return 0
	}

	return j.StartedAt.Sub(j.CreatedAt)
}

// Elapsed is the execution time so far, measured against now.
func (j JobContext) Elapsed(now time.Time) time.Duration {
	if j.StartedAt.IsZero() {
		return 0
	}

	return now.Sub(j.StartedAt)
}

// HTTPRequestContext describes the inbound HTTP request being served.
type HTTPRequestContext struct {
	RequestID  string    `json:"request_id"`
	Method     string    `json:"method"`
	Path       string    `json:"path"`
	ClientIP   string    `json:"client_ip,omitempty"`
	UserAgent  string    `json:"user_agent,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
}

// WithKafkaMessage attaches a Kafka message context to the call chain.
func WithKafkaMessage(ctx context.Context, msg KafkaMessageContext) context.Context {
	return correlation.Set(ctx, KafkaMessageKey, msg)
}

// KafkaMessageFromContext returns the Kafka message being processed, if any.
func KafkaMessageFromContext(ctx context.Context) (KafkaMessageContext, bool) {
	v, ok := correlation.Lookup(ctx, KafkaMessageKey)
	if !ok {
		return KafkaMessageContext{}, false
	}

	msg, ok := v.(KafkaMessageContext)

	return msg, ok
}

// WithRabbitMQMessage attaches a RabbitMQ delivery context to the call chain.
func WithRabbitMQMessage(ctx context.Context, msg RabbitMQMessageContext) context.Context {
	return correlation.Set(ctx, RabbitMQMessageKey, msg)
}

// RabbitMQMessageFromContext returns the RabbitMQ delivery being processed, if any.
func RabbitMQMessageFromContext(ctx context.Context) (RabbitMQMessageContext, bool) {
	v, ok := correlation.Lookup(ctx, RabbitMQMessageKey)
	if !ok {
		return RabbitMQMessageContext{}, false
	}

	msg, ok := v.(RabbitMQMessageContext)

	return msg, ok
}

// WithJob attaches a job context to the call chain.
func WithJob(ctx context.Context, job JobContext) context.Context {
	return correlation.Set(ctx, JobKey, job)
}

// JobFromContext returns the job being executed, if any.
func JobFromContext(ctx context.Context) (JobContext, bool) {
	v, ok := correlation.Lookup(ctx, JobKey)
	if !ok {
		return JobContext{}, false
	}

	job, ok := v.(JobContext)

	return job, ok
}

// WithHTTPRequest attaches an HTTP request context to the call chain.
func WithHTTPRequest(ctx context.Context, req HTTPRequestContext) context.Context {
	return correlation.Set(ctx, HTTPRequestKey, req)
}

// HTTPRequestFromContext returns the HTTP request being served, if any.
func HTTPRequestFromContext(ctx context.Context) (HTTPRequestContext, bool) {
	v, ok := correlation.Lookup(ctx, HTTPRequestKey)
	if !ok {
		return HTTPRequestContext{}, false
	}

	req, ok := v.(HTTPRequestContext)

	return req, ok
}
