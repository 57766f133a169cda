package claim

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/LerianStudio/claims-telemetry/commons/correlation"
	"github.com/LerianStudio/claims-telemetry/commons/jobs"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/internal/events"
)

// Listener handles the background side of the claim flow run by the worker:
// claim.audit jobs and payment.completed deliveries.
type Listener struct {
	logger log.Logger

	mu      sync.Mutex
	audits  []events.ClaimAudit
	payouts []events.PaymentCompleted
}

// NewListener creates a listener. logger may be nil.
func NewListener(logger log.Logger) *Listener {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	return &Listener{logger: logger}
}

// HandleAudit is the jobs.Handler of claim.audit.
func (l *Listener) HandleAudit(ctx context.Context, job jobs.Envelope) error {
	var audit events.ClaimAudit
	if err := job.Decode(&audit); err != nil {
		return err
	}

	ctx = correlation.Set(ctx, "claim_id", audit.ClaimID)
	ctx = correlation.Set(ctx, "policy_number", audit.PolicyNumber)

	l.mu.Lock()
	l.audits = append(l.audits, audit)
	l.mu.Unlock()

	l.logger.WithContext(ctx).Infof("Audited claim %s with status %s on attempt %d", audit.ClaimID, audit.Status, job.Attempt)

	return nil
}

// HandlePaymentCompleted is the rabbitmq.Handler of payment.completed.
func (l *Listener) HandlePaymentCompleted(ctx context.Context, d amqp.Delivery) error {
	var payment events.PaymentCompleted
	if err := events.Decode(d.Body, &payment); err != nil {
		return err
	}

	ctx = correlation.Set(ctx, "claim_id", payment.ClaimID)
	ctx = correlation.Set(ctx, "payment_id", payment.PaymentID)

	l.mu.Lock()
	l.payouts = append(l.payouts, payment)
	l.mu.Unlock()

	l.logger.WithContext(ctx).Infof("Payment %s of %d %s confirmed for claim %s", payment.PaymentID, payment.Amount, payment.Currency, payment.ClaimID)

	return nil
}

// Audits returns the audits handled so far.
func (l *Listener) Audits() []events.ClaimAudit {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]events.ClaimAudit(nil), l.audits...)
}

// Payouts returns the payment confirmations handled so far.
func (l *Listener) Payouts() []events.PaymentCompleted {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]events.PaymentCompleted(nil), l.payouts...)
}
