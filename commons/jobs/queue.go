// Package jobs is a Redis list backed background job queue. Every job carries
// the trace context of the call chain that enqueued it, so its execution joins
// the same trace.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/requestid"
)

const keyPrefix = "jobs:"

// Envelope is the JSON document stored in the Redis list.
type Envelope struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Queue         string            `json:"queue"`
	Attempt       int               `json:"attempt"`
	CreatedAt     time.Time         `json:"created_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	Payload       json.RawMessage   `json:"payload"`
}

// Decode unmarshals the payload into v.
func (e Envelope) Decode(v any) error {
	if err := json.Unmarshal(e.Payload, v); err != nil {
		return fmt.Errorf("%w: job %s: %w", constant.ErrJobPayloadInvalid, e.ID, err)
	}

	return nil
}

// Queue pushes jobs onto one Redis list.
type Queue struct {
	client     redis.UniversalClient
	name       string
	propagator *observability.TracePropagator
	now        func() time.Time
}

// NewQueue creates a queue stored under the key "jobs:<name>".
func NewQueue(client redis.UniversalClient, name string, propagator *observability.TracePropagator) *Queue {
	return &Queue{client: client, name: name, propagator: propagator, now: time.Now}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

func (q *Queue) key() string { return keyPrefix + q.name }

// Enqueue pushes a job named name with payload marshalled as JSON, inside a
// producer span whose context travels in the envelope headers.
func (q *Queue) Enqueue(ctx context.Context, name string, payload any) (id string, err error) {
	if name == "" {
		return "", errors.New("jobs: job name is required")
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("jobs: marshal payload: %w", err)
	}

	id = uuid.New().String()

	ctx, span := q.propagator.StartSpan(ctx, name+" enqueue",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("job.id", id),
			attribute.String("job.name", name),
			attribute.String("job.queue", q.name),
		),
	)

	defer func() { observability.FinishSpan(ctx, span, err) }()

	env := Envelope{
		ID:            id,
		Name:          name,
		Queue:         q.name,
		Attempt:       1,
		CreatedAt:     q.now().UTC(),
		CorrelationID: requestid.FromContext(ctx),
		Headers:       q.propagator.Inject(ctx),
		Payload:       body,
	}

	if err = q.push(ctx, env); err != nil {
		return "", err
	}

	return id, nil
}

func (q *Queue) push(ctx context.Context, env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("jobs: marshal envelope: %w", err)
	}

	if err := q.client.LPush(ctx, q.key(), raw).Err(); err != nil {
		return fmt.Errorf("jobs: push to %s: %w", q.key(), err)
	}

	return nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key()).Result()
}

// pop waits up to timeout for the oldest job. It returns redis.Nil when none arrived.
func (q *Queue) pop(ctx context.Context, timeout time.Duration) (Envelope, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key()).Result()
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope

	if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %w", constant.ErrJobPayloadInvalid, err)
	}

	return env, nil
}
