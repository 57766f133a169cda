package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

// DefaultConfig returns the sarama configuration used by the demo producers.
func DefaultConfig(clientID string) *sarama.Config {
	cfg := sarama.NewConfig()
	cfg.ClientID = clientID
	cfg.Version = sarama.V2_5_0_0
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5
	cfg.Producer.Retry.Backoff = 250 * time.Millisecond
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	cfg.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRange()}
	cfg.Consumer.Return.Errors = true

	return cfg
}

// Producer publishes records with the active trace context in their headers.
type Producer struct {
	client     sarama.Client
	producer   sarama.SyncProducer
	propagator *observability.TracePropagator
	logger     log.Logger
}

// NewProducer wraps a sync producer. A nil logger disables logging.
func NewProducer(producer sarama.SyncProducer, propagator *observability.TracePropagator, logger log.Logger) *Producer {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &Producer{producer: producer, propagator: propagator, logger: logger}
}

// Connect dials brokers and returns a Producer that owns its client.
func Connect(brokers []string, cfg *sarama.Config, propagator *observability.TracePropagator, logger log.Logger) (*Producer, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka producer: at least one broker is required")
	}

	client, err := sarama.NewClient(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: create client: %w", err)
	}

	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		_ = client.Close()

		return nil, fmt.Errorf("kafka producer: create sync producer: %w", err)
	}

	p := NewProducer(producer, propagator, logger)
	p.client = client

	return p, nil
}

// Client returns the client created by Connect, nil otherwise.
//
//nolint:ireturn
func (p *Producer) Client() sarama.Client {
	return p.client
}

// Publish sends value to topic inside a producer span. The record carries a new
// message id, the request id of the call chain as correlation id, and the
// traceparent/tracestate/baggage of the producer span.
func (p *Producer) Publish(ctx context.Context, topic, key string, value []byte) (partition int32, offset int64, err error) {
	if topic == "" {
		return 0, 0, errors.New("kafka producer: topic is required")
	}

	messageID := uuid.New().String()

	ctx, span := p.propagator.StartSpan(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.operation.type", "publish"),
			attribute.String("messaging.destination.name", topic),
			attribute.String("messaging.message.id", messageID),
		),
	)

	defer func() { observability.FinishSpan(ctx, span, err) }()

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Value: sarama.ByteEncoder(value),
	}

	if key != "" {
		msg.Key = sarama.StringEncoder(key)
		span.SetAttributes(attribute.String("messaging.kafka.message.key", key))
	}

	carrier := NewProducerMessageCarrier(msg)
	carrier.Set(constant.HeaderMessageID, messageID)

	if id := requestid.FromContext(ctx); id != "" {
		carrier.Set(constant.HeaderCorrelationID, id)
	}

	p.propagator.InjectInto(ctx, carrier)

	partition, offset, err = p.producer.SendMessage(msg)
	if err != nil {
		err = fmt.Errorf("kafka producer: send to %s: %w", topic, err)

		p.logger.WithContext(ctx).Errorf("Failed to publish message %s: %v", messageID, err)

		return 0, 0, err
	}

	span.SetAttributes(
		attribute.Int64("messaging.kafka.destination.partition", int64(partition)),
		attribute.Int64("messaging.kafka.message.offset", offset),
	)

	p.logger.WithContext(ctx).Debugf("Published message %s to %s[%d]@%d", messageID, topic, partition, offset)

	return partition, offset, nil
}

// Close releases the producer and, when Connect created it, the client.
func (p *Producer) Close() error {
	err := p.producer.Close()

	if p.client != nil && !p.client.Closed() {
		err = errors.Join(err, p.client.Close())
	}

	return err
}
