package kafka

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons"
	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
	"github.com/LerianStudio/claims-telemetry/commons/retry"
)

const (
	consumeRetryDelay    = time.Second
	consumeMaxRetryDelay = 30 * time.Second
)

// Handler processes one record. The ctx carries the consumer span, the
// KafkaMessageContext and a logger bound to both.
type Handler func(ctx context.Context, msg *sarama.ConsumerMessage) error

// ConsumerHandler is a sarama.ConsumerGroupHandler that runs every record of a
// claim inside its own consumer span.
type ConsumerHandler struct {
	GroupID    string
	Propagator *observability.TracePropagator
	Logger     log.Logger
	Metrics    *opentelemetry.MetricsFactory
	Handler    Handler
	// Now stamps the receipt time. Defaults to time.Now.
	Now func() time.Time
}

var _ sarama.ConsumerGroupHandler = (*ConsumerHandler)(nil)

// Setup implements sarama.ConsumerGroupHandler.
func (h *ConsumerHandler) Setup(session sarama.ConsumerGroupSession) error {
	h.logger().Infof("Kafka consumer group %s joined as %s", h.GroupID, session.MemberID())
	return nil
}

// Cleanup implements sarama.ConsumerGroupHandler.
func (h *ConsumerHandler) Cleanup(sarama.ConsumerGroupSession) error {
	h.logger().Infof("Kafka consumer group %s session ended", h.GroupID)
	return nil
}

// ConsumeClaim handles records until the claim or the session ends. The offset
// is marked whatever the handler returns; failed records are logged, not redelivered.
func (h *ConsumerHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}

			_ = h.Process(session.Context(), msg)

			session.MarkMessage(msg, "")
		case <-session.Context().Done():
			return nil
		}
	}
}

// Process runs the handler for msg inside a consumer span and returns its error.
// The span is closed on every path, including a handler panic.
func (h *ConsumerHandler) Process(ctx context.Context, msg *sarama.ConsumerMessage) (err error) {
	receivedAt := h.now()

	carrier := NewConsumerMessageCarrier(msg)

	ctx, span := h.Propagator.Extract(ctx, carrier, msg.Topic+" process", trace.SpanKindConsumer,
		attribute.String("messaging.system", "kafka"),
		attribute.String("messaging.operation.type", "process"),
		attribute.String("messaging.destination.name", msg.Topic),
		attribute.Int64("messaging.kafka.destination.partition", int64(msg.Partition)),
		attribute.Int64("messaging.kafka.message.offset", msg.Offset),
		attribute.String("messaging.kafka.consumer.group", h.GroupID),
	)

	ctx = observability.WithKafkaMessage(ctx, observability.KafkaMessageContext{
		Topic:         msg.Topic,
		Partition:     msg.Partition,
		Offset:        msg.Offset,
		Key:           string(msg.Key),
		ConsumerGroup: h.GroupID,
		MessageID:     carrier.Get(constant.HeaderMessageID),
		CorrelationID: carrier.Get(constant.HeaderCorrelationID),
		ReceivedAt:    receivedAt,
	})

	ctx = requestid.Adopt(ctx, carrier.Get(constant.HeaderCorrelationID))

	logger := h.logger().WithContext(ctx).Named("kafka.consumer")
	ctx = commons.ContextWithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("kafka handler panic: %v", r)
		}

		if err != nil {
			logger.Errorf("Failed to process message: %v", err)
		}

		observability.FinishSpan(ctx, span, err)
		h.recordDuration(ctx, msg.Topic, receivedAt, err)
	}()

	if h.Handler == nil {
		return errors.New("kafka consumer: handler is required")
	}

	return h.Handler(ctx, msg)
}

func (h *ConsumerHandler) recordDuration(ctx context.Context, topic string, start time.Time, err error) {
	if h.Metrics == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	h.Metrics.Histogram("messaging.process.duration", opentelemetry.MetricOption{
		Description: "Time spent processing a received message",
		Unit:        "ms",
	}).WithLabels(map[string]string{
		"messaging.system":           "kafka",
		"messaging.destination.name": topic,
		"outcome":                    outcome,
	}).Record(ctx, h.now().Sub(start).Milliseconds())
}

func (h *ConsumerHandler) now() time.Time {
	if h.Now == nil {
		return time.Now()
	}

	return h.Now()
}

//nolint:ireturn
func (h *ConsumerHandler) logger() log.Logger {
	if h.Logger == nil {
		return &log.NoneLogger{}
	}

	return h.Logger
}

// Consume joins group for topics and serves handler until ctx is cancelled or
// the group is closed. Transient group errors are retried with a growing delay
// that resets after a clean session.
func Consume(ctx context.Context, group sarama.ConsumerGroup, topics []string, handler *ConsumerHandler) error {
	if len(topics) == 0 {
		return errors.New("kafka consumer: at least one topic is required")
	}

	go func() {
		for err := range group.Errors() {
			handler.logger().Errorf("Kafka consumer group error: %v", err)
		}
	}()

	wait := retry.NewBackOff(ctx,
		retry.WithMaxRetries(math.MaxInt32),
		retry.WithDelay(consumeRetryDelay),
		retry.WithMaxDelay(consumeMaxRetryDelay),
	)

	for {
		if err := group.Consume(ctx, topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return nil
			}

			delay := wait.NextBackOff()
			if delay < 0 {
				return nil
			}

			handler.logger().Errorf("Kafka consume failed, rejoining in %s: %v", delay, err)

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(delay):
			}

			continue
		}

		wait.Reset()

		if ctx.Err() != nil {
			return nil
		}
	}
}
