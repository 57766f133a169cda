// Package retry runs operations with exponential backoff on top of
// github.com/cenkalti/backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// policy is the retry schedule an Option edits.
type policy struct {
	retries   uint64
	initial   time.Duration
	ceiling   time.Duration
	budget    time.Duration
	growth    float64
	jitter    float64
	shouldTry func(error) bool
	observe   func(attempt int, err error, next time.Duration)
}

// Option edits the retry schedule.
type Option func(*policy)

func defaults() *policy {
	return &policy{
		retries:   3,
		initial:   100 * time.Millisecond,
		ceiling:   5 * time.Second,
		growth:    2,
		jitter:    0.2,
		shouldTry: retryable,
	}
}

func build(opts []Option) *policy {
	p := defaults()
	for _, opt := range opts {
		opt(p)
	}

	return p
}

// WithMaxRetries bounds the attempts after the first one. Negative means none.
func WithMaxRetries(n int) Option {
	return func(p *policy) { p.retries = uint64(max(n, 0)) }
}

// WithDelay sets the first delay.
func WithDelay(d time.Duration) Option {
	return func(p *policy) { p.initial = d }
}

// WithMaxDelay caps every delay.
func WithMaxDelay(d time.Duration) Option {
	return func(p *policy) { p.ceiling = d }
}

// WithMaxElapsed gives up once d has passed since the first attempt. Zero
// means no limit.
func WithMaxElapsed(d time.Duration) Option {
	return func(p *policy) { p.budget = d }
}

// WithExponentialBackoff sets the first delay and the factor applied after
// each attempt.
func WithExponentialBackoff(initial time.Duration, multiplier float64) Option {
	return func(p *policy) {
		p.initial = initial
		p.growth = multiplier
	}
}

// WithJitter randomizes each delay by up to factor of its value, 0 to 1.
func WithJitter(factor float64) Option {
	return func(p *policy) { p.jitter = factor }
}

// WithRetryIf replaces the predicate deciding which errors are retried.
func WithRetryIf(fn func(error) bool) Option {
	return func(p *policy) { p.shouldTry = fn }
}

// WithOnRetry calls fn before each wait with the failed attempt number, its
// error and the delay ahead.
func WithOnRetry(fn func(attempt int, err error, next time.Duration)) Option {
	return func(p *policy) { p.observe = fn }
}

// NewBackOff returns the schedule described by opts, bound to ctx, for loops
// that wait on their own.
//
//nolint:ireturn
func NewBackOff(ctx context.Context, opts ...Option) backoff.BackOff {
	return build(opts).schedule(ctx)
}

//nolint:ireturn
func (p *policy) schedule(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(p.initial),
		backoff.WithMultiplier(p.growth),
		backoff.WithRandomizationFactor(p.jitter),
		backoff.WithMaxElapsedTime(p.budget),
	)

	if p.ceiling > 0 {
		exp.MaxInterval = p.ceiling
	}

	return backoff.WithContext(backoff.WithMaxRetries(exp, p.retries), ctx)
}

// Do calls op until it succeeds, returns an error that is not retried, the
// schedule runs out or ctx ends. Errors after several attempts say how many
// were made.
func Do(ctx context.Context, op func() error, opts ...Option) error {
	p := build(opts)
	attempts := 0

	err := backoff.RetryNotify(func() error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return backoff.Permanent(ctxErr)
		}

		attempts++

		err := op()
		if err != nil && !p.shouldTry(err) {
			return backoff.Permanent(err)
		}

		return err
	}, p.schedule(ctx), func(err error, next time.Duration) {
		if p.observe != nil {
			p.observe(attempts, err, next)
		}
	})

	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil && !errors.Is(err, ctx.Err()):
		return fmt.Errorf("operation interrupted after %d attempts: %w", attempts, errors.Join(ctx.Err(), err))
	case attempts > 1:
		return fmt.Errorf("operation failed after %d attempts: %w", attempts, err)
	default:
		return err
	}
}

// DoWithResult is Do for operations that produce a value. The value of the
// last attempt is returned with its error.
func DoWithResult[T any](ctx context.Context, op func() (T, error), opts ...Option) (T, error) {
	var result T

	err := Do(ctx, func() error {
		var opErr error
		result, opErr = op()

		return opErr
	}, opts...)

	return result, err
}

type permanentError struct {
	err error
}

func (e permanentError) Error() string { return e.err.Error() }

func (e permanentError) Unwrap() error { return e.err }

// MarkPermanent stops Do from retrying err. Nil stays nil.
func MarkPermanent(err error) error {
	if err == nil {
		return nil
	}

	return permanentError{err: err}
}

// IsPermanent reports whether err, or an error it wraps, was marked permanent.
func IsPermanent(err error) bool {
	var p permanentError
	return errors.As(err, &p)
}

// retryable is the default predicate: permanent errors are final, errors with
// a Retryable method decide for themselves, everything else is retried.
func retryable(err error) bool {
	if IsPermanent(err) {
		return false
	}

	var verdict interface{ Retryable() bool }
	if errors.As(err, &verdict) {
		return verdict.Retryable()
	}

	return true
}
