package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

// Channel is the part of *amqp.Channel used to publish.
type Channel interface {
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
}

// Publisher publishes messages with the active trace context in their headers.
type Publisher struct {
	channel    Channel
	propagator *observability.TracePropagator
	appID      string
}

// NewPublisher wraps channel. appID is stamped on every message.
func NewPublisher(channel Channel, propagator *observability.TracePropagator, appID string) *Publisher {
	return &Publisher{channel: channel, propagator: propagator, appID: appID}
}

// Publish sends body to exchange with routingKey inside a producer span.
// The message gets a new message id and the request id of the call chain as
// correlation id.
func (p *Publisher) Publish(ctx context.Context, exchange, routingKey string, body []byte) (err error) {
	messageID := uuid.New().String()

	ctx, span := p.propagator.StartSpan(ctx, exchange+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "rabbitmq"),
			attribute.String("messaging.operation.type", "publish"),
			attribute.String("messaging.destination.name", exchange),
			attribute.String("messaging.rabbitmq.destination.routing_key", routingKey),
			attribute.String("messaging.message.id", messageID),
		),
	)

	defer func() { observability.FinishSpan(ctx, span, err) }()

	headers := amqp.Table{}
	p.propagator.InjectInto(ctx, TableCarrier(headers))

	msg := amqp.Publishing{
		Headers:       headers,
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     messageID,
		CorrelationId: requestid.FromContext(ctx),
		Timestamp:     time.Now().UTC(),
		AppId:         p.appID,
		Body:          body,
	}

	if err := p.channel.PublishWithContext(ctx, exchange, routingKey, false, false, msg); err != nil {
		return fmt.Errorf("rabbitmq: publish to %s/%s: %w", exchange, routingKey, err)
	}

	return nil
}

// Handler processes one delivery. The ctx carries the consumer span, the
// RabbitMQMessageContext and a logger bound to both.
type Handler func(ctx context.Context, delivery amqp.Delivery) error

// Consumer runs a Handler for every delivery of a queue.
type Consumer struct {
	Queue      string
	Propagator *observability.TracePropagator
	Logger     log.Logger
	Handler    Handler
	// Requeue controls whether failed deliveries go back to the queue.
	Requeue bool
	// Now stamps the receipt time. Defaults to time.Now.
	Now func() time.Time
}

// Consume handles deliveries until the channel closes or ctx is cancelled.
func (c *Consumer) Consume(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return nil
			}

			_ = c.Process(ctx, d)
		}
	}
}

// Process runs the handler for d inside a consumer span, then acks it on
// success or nacks it on failure. The span is closed on every path.
func (c *Consumer) Process(ctx context.Context, d amqp.Delivery) (err error) {
	receivedAt := time.Now()
	if c.Now != nil {
		receivedAt = c.Now()
	}

	ctx, span := c.Propagator.Extract(ctx, TableCarrier(d.Headers), c.Queue+" process", trace.SpanKindConsumer,
		attribute.String("messaging.system", "rabbitmq"),
		attribute.String("messaging.operation.type", "process"),
		attribute.String("messaging.destination.name", d.Exchange),
		attribute.String("messaging.rabbitmq.destination.routing_key", d.RoutingKey),
		attribute.String("messaging.rabbitmq.queue", c.Queue),
		attribute.String("messaging.message.id", d.MessageId),
		attribute.Bool("messaging.rabbitmq.redelivered", d.Redelivered),
	)

	ctx = observability.WithRabbitMQMessage(ctx, observability.RabbitMQMessageContext{
		Exchange:      d.Exchange,
		RoutingKey:    d.RoutingKey,
		Queue:         c.Queue,
		ConsumerTag:   d.ConsumerTag,
		DeliveryTag:   d.DeliveryTag,
		Redelivered:   d.Redelivered,
		MessageID:     d.MessageId,
		CorrelationID: d.CorrelationId,
		ReceivedAt:    receivedAt,
	})

	ctx = requestid.Adopt(ctx, d.CorrelationId)

	var logger log.Logger = &log.NoneLogger{}
	if c.Logger != nil {
		logger = c.Logger.WithContext(ctx).Named("rabbitmq.consumer")
	}

	ctx = commons.ContextWithLogger(ctx, logger)

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("rabbitmq handler panic: %v", r)
		}

		settle(logger, d, err, c.Requeue)
		observability.FinishSpan(ctx, span, err)
	}()

	if c.Handler == nil {
		return errors.New("rabbitmq consumer: handler is required")
	}

	return c.Handler(ctx, d)
}

func settle(logger log.Logger, d amqp.Delivery, err error, requeue bool) {
	if err == nil {
		if ackErr := d.Ack(false); ackErr != nil {
			logger.Errorf("Failed to ack delivery %d: %v", d.DeliveryTag, ackErr)
		}

		return
	}

	logger.Errorf("Failed to process delivery %d: %v", d.DeliveryTag, err)

	if nackErr := d.Nack(false, requeue); nackErr != nil {
		logger.Errorf("Failed to nack delivery %d: %v", d.DeliveryTag, nackErr)
	}
}
