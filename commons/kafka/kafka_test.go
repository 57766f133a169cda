package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

func newTestPropagator(t *testing.T) (*observability.TracePropagator, *tracetest.SpanRecorder) {
	t.Helper()

	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))

	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return observability.NewTracePropagator(
		observability.DefaultTracePropagationConfig(),
		&log.NoneLogger{},
		observability.WithTracerProvider(tp),
	), recorder
}

func spanNamed(t *testing.T, recorder *tracetest.SpanRecorder, name string) sdktrace.ReadOnlySpan {
	t.Helper()

	for _, s := range recorder.Ended() {
		if s.Name() == name {
			return s
		}
	}

	require.Failf(t, "span not found", "no ended span named %q", name)

	return nil
}

func attr(span sdktrace.ReadOnlySpan, key string) attribute.Value {
	for _, kv := range span.Attributes() {
		if string(kv.Key) == key {
			return kv.Value
		}
	}

	return attribute.Value{}
}

func toConsumerHeaders(headers []sarama.RecordHeader) []*sarama.RecordHeader {
	out := make([]*sarama.RecordHeader, 0, len(headers))
	for i := range headers {
		out = append(out, &headers[i])
	}

	return out
}

func TestPublishThenProcessContinuesTrace(t *testing.T) {
	propagator, recorder := newTestPropagator(t)

	var sent *sarama.ProducerMessage

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})

	producer := NewProducer(mock, propagator, nil)
	t.Cleanup(func() { _ = producer.Close() })

	ctx := requestid.NewContext(context.Background(), "req-42")
	ctx, parent := propagator.Tracer().Start(ctx, "POST /claims")

	_, _, err := producer.Publish(ctx, constant.TopicClaimsProcessed, "CLM-1", []byte(`{"claim_id":"CLM-1"}`))
	require.NoError(t, err)
	parent.End()

	require.NotNil(t, sent)

	carrier := NewProducerMessageCarrier(sent)
	assert.NotEmpty(t, carrier.Get(constant.HeaderTraceparent))
	assert.NotEmpty(t, carrier.Get(constant.HeaderMessageID))
	assert.Equal(t, "req-42", carrier.Get(constant.HeaderCorrelationID))

	publish := spanNamed(t, recorder, constant.TopicClaimsProcessed+" publish")
	assert.Equal(t, trace.SpanKindProducer, publish.SpanKind())
	assert.Equal(t, parent.SpanContext().TraceID(), publish.SpanContext().TraceID())

	received := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	var (
		seen      observability.KafkaMessageContext
		requestID string
	)

	handler := &ConsumerHandler{
		GroupID:    "policy-service",
		Propagator: propagator,
		Now:        func() time.Time { return received },
		Handler: func(ctx context.Context, msg *sarama.ConsumerMessage) error {
			seen, _ = observability.KafkaMessageFromContext(ctx)
			requestID = requestid.FromContext(ctx)
			return nil
		},
	}

	err = handler.Process(context.Background(), &sarama.ConsumerMessage{
		Topic:     sent.Topic,
		Partition: 2,
		Offset:    17,
		Key:       []byte("CLM-1"),
		Headers:   toConsumerHeaders(sent.Headers),
	})
	require.NoError(t, err)

	process := spanNamed(t, recorder, constant.TopicClaimsProcessed+" process")
	assert.Equal(t, trace.SpanKindConsumer, process.SpanKind())
	assert.Equal(t, publish.SpanContext().TraceID(), process.SpanContext().TraceID())
	assert.Equal(t, publish.SpanContext().SpanID(), process.Parent().SpanID())
	assert.Equal(t, codes.Ok, process.Status().Code)
	assert.Equal(t, "policy-service", attr(process, "messaging.kafka.consumer.group").AsString())

	assert.Equal(t, observability.KafkaMessageContext{
		Topic:         constant.TopicClaimsProcessed,
		Partition:     2,
		Offset:        17,
		Key:           "CLM-1",
		ConsumerGroup: "policy-service",
		MessageID:     carrier.Get(constant.HeaderMessageID),
		CorrelationID: "req-42",
		ReceivedAt:    received,
	}, seen)
	assert.Equal(t, "req-42", requestID)
}

func TestPublishFailureMarksSpan(t *testing.T) {
	propagator, recorder := newTestPropagator(t)

	mock := mocks.NewSyncProducer(t, nil)
	mock.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	producer := NewProducer(mock, propagator, nil)
	t.Cleanup(func() { _ = producer.Close() })

	_, _, err := producer.Publish(context.Background(), "claims.submitted", "", nil)
	require.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	span := spanNamed(t, recorder, "claims.submitted publish")
	assert.Equal(t, codes.Error, span.Status().Code)
}

func TestPublishRequiresTopic(t *testing.T) {
	propagator, _ := newTestPropagator(t)

	producer := NewProducer(mocks.NewSyncProducer(t, nil), propagator, nil)

	_, _, err := producer.Publish(context.Background(), "", "", nil)
	assert.Error(t, err)
}

func TestProcessWithoutHeadersStartsRoot(t *testing.T) {
	propagator, recorder := newTestPropagator(t)

	handler := &ConsumerHandler{
		Propagator: propagator,
		Handler:    func(context.Context, *sarama.ConsumerMessage) error { return nil },
	}

	require.NoError(t, handler.Process(context.Background(), &sarama.ConsumerMessage{Topic: "claims.processed"}))

	span := spanNamed(t, recorder, "claims.processed process")
	assert.False(t, span.Parent().IsValid())
}

func TestProcessClosesSpanOnFailure(t *testing.T) {
	tests := []struct {
		name    string
		handler Handler
		wantErr string
	}{
		{
			name:    "error",
			handler: func(context.Context, *sarama.ConsumerMessage) error { return errors.New("policy lookup failed") },
			wantErr: "policy lookup failed",
		},
		{
			name:    "panic",
			handler: func(context.Context, *sarama.ConsumerMessage) error { panic("boom") },
			wantErr: "kafka handler panic: boom",
		},
		{
			name:    "missing handler",
			wantErr: "handler is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			propagator, recorder := newTestPropagator(t)

			handler := &ConsumerHandler{Propagator: propagator, Handler: tt.handler}

			err := handler.Process(context.Background(), &sarama.ConsumerMessage{Topic: "claims.processed"})
			require.ErrorContains(t, err, tt.wantErr)

			span := spanNamed(t, recorder, "claims.processed process")
			assert.Equal(t, codes.Error, span.Status().Code)
		})
	}
}

type fakeSession struct {
	ctx    context.Context
	marked []int64
}

func (s *fakeSession) Claims() map[string][]int32 { return nil }
func (s *fakeSession) MemberID() string { return "member-1" }
func (s *fakeSession) GenerationID() int32 { return 1 }
func (s *fakeSession) MarkOffset(string, int32, int64, string) {}
func (s *fakeSession) Commit() {}
func (s *fakeSession) ResetOffset(string, int32, int64, string) {}
func (s *fakeSession) Context() context.Context { return s.ctx }
func (s *fakeSession) MarkMessage(msg *sarama.ConsumerMessage, _ string) {
	s.marked = append(s.marked, msg.Offset)
}

type fakeClaim struct {
	messages chan *sarama.ConsumerMessage
}

func (c *fakeClaim) Topic() string { return "claims.processed" }
func (c *fakeClaim) Partition() int32 { return 0 }
func (c *fakeClaim) InitialOffset() int64 { return 0 }
func (c *fakeClaim) HighWaterMarkOffset() int64 { return 0 }
func (c *fakeClaim) Messages() <-chan *sarama.ConsumerMessage { return c.messages }

func TestConsumeClaimMarksEveryMessage(t *testing.T) {
	propagator, recorder := newTestPropagator(t)

	claim := &fakeClaim{messages: make(chan *sarama.ConsumerMessage, 2)}
	claim.messages <- &sarama.ConsumerMessage{Topic: "claims.processed", Offset: 1}
	claim.messages <- &sarama.ConsumerMessage{Topic: "claims.processed", Offset: 2}
	close(claim.messages)

	session := &fakeSession{ctx: context.Background()}

	handler := &ConsumerHandler{
		Propagator: propagator,
		Handler: func(_ context.Context, msg *sarama.ConsumerMessage) error {
			if msg.Offset == 2 {
				return errors.New("rejected")
			}

			return nil
		},
	}

	require.NoError(t, handler.Setup(session))
	require.NoError(t, handler.ConsumeClaim(session, claim))
	require.NoError(t, handler.Cleanup(session))

	assert.Equal(t, []int64{1, 2}, session.marked)
	assert.Len(t, recorder.Ended(), 2)
}

func TestCarrierKeysAndOverwrite(t *testing.T) {
	msg := &sarama.ProducerMessage{}
	carrier := NewProducerMessageCarrier(msg)

	carrier.Set("b", "1")
	carrier.Set("a", "2")
	carrier.Set("b", "3")

	assert.Equal(t, []string{"a", "b"}, carrier.Keys())
	assert.Equal(t, "3", carrier.Get("b"))
	assert.Len(t, msg.Headers, 2)

	consumer := NewConsumerMessageCarrier(&sarama.ConsumerMessage{Headers: []*sarama.RecordHeader{nil, {Key: []byte("x"), Value: []byte("y")}}})
	assert.Equal(t, "y", consumer.Get("x"))
	assert.Equal(t, []string{"x"}, consumer.Keys())
}
