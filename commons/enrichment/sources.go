package enrichment

import (
	"context"
	"time"

	"github.com/LerianStudio/claims-telemetry/commons/observability"
)

// Clock returns the current time. Latencies are recomputed from it on every emission.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now()
	}

	return c()
}

// add is a small helper for enrichers that skip empty optional values.
func add(record *Record, factory PropertyFactory, name string, value any) {
	if s, ok := value.(string); ok && s == "" {
		return
	}

	record.AddPropertyIfAbsent(factory.CreateProperty(name, value))
}

func addLatency(record *Record, factory PropertyFactory, name string, from, now time.Time) {
	if from.IsZero() {
		return
	}

	record.AddPropertyIfAbsent(factory.CreateProperty(name, now.Sub(from)))
}

// KafkaEnricher emits the Kafka message being processed and the processing latency so far.
type KafkaEnricher struct {
	Clock Clock
}

func (KafkaEnricher) Name() string  { return "kafka" }
func (KafkaEnricher) Priority() int { return PrioritySource }

func (e KafkaEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	msg, ok := observability.KafkaMessageFromContext(ctx)
	if !ok {
		return nil
	}

	add(record, factory, "messaging.system", "kafka")
	add(record, factory, "messaging.destination.name", msg.Topic)
	add(record, factory, "messaging.kafka.destination.partition", msg.Partition)
	add(record, factory, "messaging.kafka.message.offset", msg.Offset)
	add(record, factory, "messaging.kafka.message.key", msg.Key)
	add(record, factory, "messaging.kafka.consumer.group", msg.ConsumerGroup)
	add(record, factory, "messaging.message.id", msg.MessageID)
	add(record, factory, "messaging.message.correlation_id", msg.CorrelationID)

	if !msg.ReceivedAt.IsZero() {
		add(record, factory, "messaging.received_at", msg.ReceivedAt)
	}

	addLatency(record, factory, "messaging.processing_latency_ms", msg.ReceivedAt, e.Clock.now())

	return nil
}

// RabbitMQEnricher emits the RabbitMQ delivery being processed and the processing latency so far.
type RabbitMQEnricher struct {
	Clock Clock
}

func (RabbitMQEnricher) Name() string  { return "rabbitmq" }
func (RabbitMQEnricher) Priority() int { return PrioritySource }

func (e RabbitMQEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	msg, ok := observability.RabbitMQMessageFromContext(ctx)
	if !ok {
		return nil
	}

	add(record, factory, "messaging.system", "rabbitmq")
	add(record, factory, "messaging.destination.name", msg.Exchange)
	add(record, factory, "messaging.rabbitmq.destination.routing_key", msg.RoutingKey)
	add(record, factory, "messaging.rabbitmq.queue", msg.Queue)
	add(record, factory, "messaging.rabbitmq.consumer_tag", msg.ConsumerTag)
	add(record, factory, "messaging.rabbitmq.delivery_tag", msg.DeliveryTag)
	add(record, factory, "messaging.rabbitmq.redelivered", msg.Redelivered)
	add(record, factory, "messaging.message.id", msg.MessageID)
	add(record, factory, "messaging.message.correlation_id", msg.CorrelationID)

	if !msg.ReceivedAt.IsZero() {
		add(record, factory, "messaging.received_at", msg.ReceivedAt)
	}

	addLatency(record, factory, "messaging.processing_latency_ms", msg.ReceivedAt, e.Clock.now())

	return nil
}

// JobEnricher emits the background job being executed, its queue wait and execution time so far.
type JobEnricher struct {
	Clock Clock
}

func (JobEnricher) Name() string  { return "job" }
func (JobEnricher) Priority() int { return PrioritySource }

func (e JobEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	job, ok := observability.JobFromContext(ctx)
	if !ok {
		return nil
	}

	add(record, factory, "job.id", job.JobID)
	add(record, factory, "job.name", job.JobName)
	add(record, factory, "job.queue", job.Queue)
	add(record, factory, "job.attempt", job.Attempt)

	if !job.CreatedAt.IsZero() {
		add(record, factory, "job.created_at", job.CreatedAt)
	}

	if !job.StartedAt.IsZero() {
		add(record, factory, "job.started_at", job.StartedAt)
		add(record, factory, "job.queue_wait_ms", job.QueueWait())
	}

	addLatency(record, factory, "job.execution_ms", job.StartedAt, e.Clock.now())

	return nil
}

// HTTPRequestEnricher emits the inbound HTTP request being served and the time spent on it so far.
type HTTPRequestEnricher struct {
	Clock Clock
}

func (HTTPRequestEnricher) Name() string  { return "http" }
func (HTTPRequestEnricher) Priority() int { return PrioritySource }

func (e HTTPRequestEnricher) Enrich(ctx context.Context, record *Record, factory PropertyFactory) error {
	req, ok := observability.HTTPRequestFromContext(ctx)
	if !ok {
		return nil
	}

	add(record, factory, "http.request_id", req.RequestID)
	add(record, factory, "http.request.method", req.Method)
	add(record, factory, "url.path", req.Path)
	add(record, factory, "client.address", req.ClientIP)
	add(record, factory, "user_agent.original", req.UserAgent)
	addLatency(record, factory, "http.elapsed_ms", req.ReceivedAt, e.Clock.now())

	return nil
}
