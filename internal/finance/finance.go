// Package finance implements the finance service: it settles claim payments,
// fails a configurable share of them to exercise client retries, and
// announces completed payments on the payments exchange.
package finance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/internal/events"
)

// PaymentStatusCompleted is the status of a settled payment.
const PaymentStatusCompleted = "COMPLETED"

// MaxPaymentAmount is the largest single payment finance settles.
const MaxPaymentAmount int64 = 2_000_000

// ErrFaultInjected is returned for a payment failed on purpose. It is not a
// business error, so the API answers 500 and callers retry.
var ErrFaultInjected = errors.New("injected payment fault")

// PaymentRequest asks finance to pay a claim.
type PaymentRequest struct {
	ClaimID      string `json:"claim_id" validate:"required"`
	PolicyNumber string `json:"policy_number" validate:"required,policynumber"`
	Amount       int64  `json:"amount" validate:"gt=0"`
	Currency     string `json:"currency" validate:"required,currency"`
}

// Payment is a settled payment.
type Payment struct {
	PaymentID   string    `json:"payment_id"`
	ClaimID     string    `json:"claim_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	Status      string    `json:"status"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Publisher sends a message to an exchange. *rabbitmq.Publisher implements it.
type Publisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body []byte) error
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher announces completed payments on exchange.
func WithPublisher(publisher Publisher, exchange string) Option {
	return func(s *Service) {
		s.publisher = publisher
		s.exchange = exchange
	}
}

// WithFaultRate fails the given share of payments, between 0 and 1.
func WithFaultRate(rate float64) Option {
	return func(s *Service) { s.faultRate = rate }
}

// WithLatency delays every payment by a random duration up to limit.
func WithLatency(limit time.Duration) Option {
	return func(s *Service) { s.maxLatency = limit }
}

// WithRand replaces the random source used for faults and latency.
func WithRand(fn func() float64) Option {
	return func(s *Service) { s.rand = fn }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service settles payments.
type Service struct {
	logger     log.Logger
	publisher  Publisher
	exchange   string
	faultRate  float64
	maxLatency time.Duration
	rand       func() float64
	now        func() time.Time
}

// NewService creates a service. logger may be nil.
func NewService(logger log.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	s := &Service{
		logger: logger,
		rand:   rand.Float64,
		now:    time.Now,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Pay settles req. A completed payment is announced on the payments exchange;
// a failed announcement is logged and does not fail the payment.
func (s *Service) Pay(ctx context.Context, req PaymentRequest) (payment Payment, err error) {
	ctx = correlation.Set(ctx, "claim_id", req.ClaimID)

	ctx, span := commons.NewTracerFromContext(ctx).Start(ctx, "finance.pay")
	defer func() { observability.FinishSpan(ctx, span, err) }()

	span.SetAttributes(
		attribute.Int64("payment.amount", req.Amount),
		attribute.String("payment.currency", req.Currency),
	)

	logger := s.logger.WithContext(ctx)

	if err := s.simulateLatency(ctx); err != nil {
		return Payment{}, err
	}

	if s.faultRate > 0 && s.rand() < s.faultRate {
		logger.Warnf("Injected failure for payment of claim %s", req.ClaimID)
		return Payment{}, ErrFaultInjected
	}

	if req.Amount > MaxPaymentAmount {
		logger.Warnf("Payment of %d for claim %s is over the limit %d", req.Amount, req.ClaimID, MaxPaymentAmount)
		return Payment{}, fmt.Errorf("amount %d: %w", req.Amount, cn.ErrPaymentRejected)
	}

	payment = Payment{
		PaymentID:   "PAY-" + uuid.NewString(),
		ClaimID:     req.ClaimID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Status:      PaymentStatusCompleted,
		ProcessedAt: s.now().UTC(),
	}

	ctx = correlation.Set(ctx, "payment_id", payment.PaymentID)
	logger = s.logger.WithContext(ctx)

	logger.Infof("Payment %s of %d %s completed for claim %s", payment.PaymentID, payment.Amount, payment.Currency, payment.ClaimID)

	s.announce(ctx, logger, payment)

	return payment, nil
}

func (s *Service) announce(ctx context.Context, logger log.Logger, payment Payment) {
	if s.publisher == nil {
		return
	}

	body, err := json.Marshal(events.PaymentCompleted{
		PaymentID:   payment.PaymentID,
		ClaimID:     payment.ClaimID,
		Amount:      payment.Amount,
		Currency:    payment.Currency,
		CompletedAt: payment.ProcessedAt,
	})
	if err != nil {
		logger.Errorf("Failed to encode payment event: %v", err)
		return
	}

	if err := s.publisher.Publish(ctx, s.exchange, cn.RoutingKeyPaymentCompleted, body); err != nil {
		logger.Errorf("Failed to publish %s for payment %s: %v", cn.RoutingKeyPaymentCompleted, payment.PaymentID, err)
	}
}

func (s *Service) simulateLatency(ctx context.Context) error {
	if s.maxLatency <= 0 {
		return nil
	}

	timer := time.NewTimer(time.Duration(s.rand() * float64(s.maxLatency)))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
