package jobs

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
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
	defaultPollTimeout = time.Second
	defaultMaxAttempts = 3
	errorDelay         = time.Second
	maxErrorDelay      = 30 * time.Second
	requeueTimeout     = 5 * time.Second
)

// Handler executes one job. The ctx carries the job span, the JobContext and a
// logger bound to both.
type Handler func(ctx context.Context, job Envelope) error

// Worker pops jobs from a Queue and dispatches them by name.
type Worker struct {
	queue       *Queue
	propagator  *observability.TracePropagator
	logger      log.Logger
	metrics     *opentelemetry.MetricsFactory
	pollTimeout time.Duration
	maxAttempts int
	now         func() time.Time

	mu       sync.RWMutex
	handlers map[string]Handler
}

// WorkerOption customizes a Worker.
type WorkerOption func(*Worker)

// WithMetrics records queue wait and execution histograms.
func WithMetrics(factory *opentelemetry.MetricsFactory) WorkerOption {
	return func(w *Worker) { w.metrics = factory }
}

// WithMaxAttempts bounds how many times a failing job runs. Values below 1 are ignored.
func WithMaxAttempts(n int) WorkerOption {
	return func(w *Worker) {
		if n > 0 {
			w.maxAttempts = n
		}
	}
}

// WithPollTimeout sets how long a pop blocks before checking for cancellation.
func WithPollTimeout(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.pollTimeout = d
		}
	}
}

// WithClock replaces time.Now for job timestamps.
func WithClock(now func() time.Time) WorkerOption {
	return func(w *Worker) {
		if now != nil {
			w.now = now
		}
	}
}

// NewWorker creates a worker for queue.
func NewWorker(queue *Queue, propagator *observability.TracePropagator, logger log.Logger, opts ...WorkerOption) *Worker {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	w := &Worker{
		queue:       queue,
		propagator:  propagator,
		logger:      logger,
		pollTimeout: defaultPollTimeout,
		maxAttempts: defaultMaxAttempts,
		now:         time.Now,
		handlers:    make(map[string]Handler),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w
}

// Register binds handler to jobs named name, replacing any previous handler.
func (w *Worker) Register(name string, handler Handler) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.handlers[name] = handler
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Infof("Job worker listening on queue %s", w.queue.Name())

	wait := retry.NewBackOff(ctx,
		retry.WithMaxRetries(math.MaxInt32),
		retry.WithDelay(errorDelay),
		retry.WithMaxDelay(maxErrorDelay),
	)

	for {
		if ctx.Err() != nil {
			w.logger.Infof("Job worker on queue %s stopped", w.queue.Name())
			return nil
		}

		_, err := w.RunOnce(ctx)
		if err == nil {
			wait.Reset()
			continue
		}

		if ctx.Err() != nil {
			continue
		}

		delay := wait.NextBackOff()
		w.logger.Errorf("Job worker on queue %s, polling again in %s: %v", w.queue.Name(), delay, err)

		select {
		case <-ctx.Done():
		case <-time.After(delay):
		}
	}
}

// RunOnce waits up to the poll timeout for one job and executes it. It reports
// whether a job was popped. Handler failures are not returned; they are
// recorded on the job span and retried up to the attempt limit.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	env, err := w.queue.pop(ctx, w.pollTimeout)

	switch {
	case errors.Is(err, redis.Nil):
		return false, nil
	case errors.Is(err, constant.ErrJobPayloadInvalid):
		w.logger.Errorf("Dropping undecodable job on queue %s: %v", w.queue.Name(), err)
		return true, nil
	case err != nil:
		return false, err
	}

	if execErr := w.execute(ctx, env); execErr != nil {
		w.retry(ctx, env, execErr)
	}

	return true, nil
}

func (w *Worker) execute(ctx context.Context, env Envelope) (err error) {
	started := w.now()

	ctx, span := w.propagator.Extract(ctx, observability.MapCarrier(env.Headers), env.Name+" process", trace.SpanKindConsumer,
		attribute.String("job.id", env.ID),
		attribute.String("job.name", env.Name),
		attribute.String("job.queue", env.Queue),
		attribute.Int("job.attempt", env.Attempt),
	)

	ctx = requestid.Adopt(ctx, env.CorrelationID)

	job := observability.JobContext{
		JobID:     env.ID,
		JobName:   env.Name,
		Queue:     env.Queue,
		Attempt:   env.Attempt,
		CreatedAt: env.CreatedAt,
		StartedAt: started,
	}

	ctx = observability.WithJob(ctx, job)

	logger := w.logger.WithContext(ctx).Named("jobs.worker")
	ctx = commons.ContextWithLogger(ctx, logger)

	w.recordQueueWait(ctx, env, job.QueueWait())

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job handler panic: %v", r)
		}

		if err != nil {
			logger.Errorf("Job %s failed on attempt %d: %v", env.ID, env.Attempt, err)
		} else {
			logger.Infof("Job %s completed", env.ID)
		}

		observability.FinishSpan(ctx, span, err)
		w.recordExecution(ctx, env, job.Elapsed(w.now()), err)
	}()

	w.mu.RLock()
	handler, ok := w.handlers[env.Name]
	w.mu.RUnlock()

	if !ok {
		return fmt.Errorf("jobs: no handler registered for %q", env.Name)
	}

	return handler(ctx, env)
}

// retry puts a failed job back with the next attempt number and its original
// trace headers, unless it ran out of attempts or its payload is invalid. A job
// interrupted by the worker stopping goes back with the same attempt number.
func (w *Worker) retry(ctx context.Context, env Envelope, cause error) {
	if errors.Is(cause, constant.ErrJobPayloadInvalid) {
		w.logger.Warnf("Job %s (%s) abandoned: %v", env.ID, env.Name, cause)
		return
	}

	interrupted := ctx.Err() != nil

	if !interrupted {
		if env.Attempt >= w.maxAttempts {
			w.logger.Warnf("Job %s (%s) abandoned after %d attempts", env.ID, env.Name, env.Attempt)
			return
		}

		env.Attempt++
	}

	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	if err := w.queue.push(pushCtx, env); err != nil {
		w.logger.Errorf("Failed to requeue job %s: %v", env.ID, err)
		return
	}

	if interrupted {
		w.logger.Infof("Job %s returned to queue %s on attempt %d", env.ID, w.queue.Name(), env.Attempt)
	}
}

func (w *Worker) recordQueueWait(ctx context.Context, env Envelope, wait time.Duration) {
	if w.metrics == nil {
		return
	}

	w.metrics.Histogram("job.queue_wait", opentelemetry.MetricOption{
		Description: "Time a job spent queued before execution",
		Unit:        "ms",
		Buckets:     opentelemetry.DefaultQueueWaitBuckets,
	}).WithLabels(map[string]string{"job.name": env.Name, "job.queue": env.Queue}).Record(ctx, wait.Milliseconds())
}

func (w *Worker) recordExecution(ctx context.Context, env Envelope, elapsed time.Duration, err error) {
	if w.metrics == nil {
		return
	}

	outcome := "success"
	if err != nil {
		outcome = "error"
	}

	w.metrics.Histogram("job.execution.duration", opentelemetry.MetricOption{
		Description: "Time spent executing a job",
		Unit:        "ms",
		Buckets:     opentelemetry.DefaultLatencyBuckets,
	}).WithLabels(map[string]string{
		"job.name":  env.Name,
		"job.queue": env.Queue,
		"outcome":   outcome,
	}).Record(ctx, elapsed.Milliseconds())
}
