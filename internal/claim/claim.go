// Package claim implements the claim service, the entry point of the demo
// flow: it validates a claim with the policy service, pays it through the
// finance service, announces the outcome on Kafka and schedules an audit job.
package claim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/LerianStudio/claims-telemetry/commons"
	"github.com/LerianStudio/claims-telemetry/commons/circuitbreaker"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
	"github.com/LerianStudio/claims-telemetry/commons/opentelemetry"
	"github.com/LerianStudio/claims-telemetry/internal/events"
)

// Request is the body of POST /claims.
type Request struct {
	PolicyNumber  string    `json:"policy_number" validate:"required,policynumber"`
	Amount        int64     `json:"amount" validate:"gt=0"`
	Currency      string    `json:"currency" validate:"required,currency"`
	DateOfLoss    time.Time `json:"date_of_loss"`
	Description   string    `json:"description" validate:"max=500"`
	ClaimantEmail string    `json:"claimant_email,omitempty" validate:"omitempty,email"`
}

// Claim is a submitted claim and its outcome.
type Claim struct {
	ID           string    `json:"claim_id"`
	PolicyNumber string    `json:"policy_number"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	DateOfLoss   time.Time `json:"date_of_loss,omitempty"`
	Description  string    `json:"description,omitempty"`
	Status       string    `json:"status"`
	PaymentID    string    `json:"payment_id,omitempty"`
	SubmittedAt  time.Time `json:"submitted_at"`
	ProcessedAt  time.Time `json:"processed_at,omitempty"`
}

type policyValidation struct {
	PolicyNumber string    `json:"policy_number"`
	ClaimAmount  int64     `json:"claim_amount"`
	Currency     string    `json:"currency,omitempty"`
	DateOfLoss   time.Time `json:"date_of_loss,omitempty"`
}

type policyCoverage struct {
	Holder    string `json:"holder"`
	Remaining int64  `json:"remaining"`
	Valid     bool   `json:"valid"`
}

type paymentOrder struct {
	ClaimID      string `json:"claim_id"`
	PolicyNumber string `json:"policy_number"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

type paymentReceipt struct {
	PaymentID string `json:"payment_id"`
	Status    string `json:"status"`
}

// Downstream posts JSON to another service. *libHTTP.TracedClient implements it.
type Downstream interface {
	PostJSON(ctx context.Context, url string, in, out any) error
}

// EventPublisher sends a record to a topic. *kafka.Producer implements it.
type EventPublisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) (int32, int64, error)
}

// JobEnqueuer schedules a background job. *jobs.Queue implements it.
type JobEnqueuer interface {
	Enqueue(ctx context.Context, name string, payload any) (string, error)
}

// Config locates the downstream services and the outcome topic.
type Config struct {
	PolicyURL  string
	FinanceURL string
	Topic      string
}

// Service processes claims. Events and jobs are optional.
type Service struct {
	config     Config
	downstream Downstream
	events     EventPublisher
	jobs       JobEnqueuer
	store      *Store
	logger     log.Logger
	now        func() time.Time
}

// NewService creates a service. publisher, jobs and logger may be nil.
func NewService(config Config, downstream Downstream, publisher EventPublisher, jobs JobEnqueuer, store *Store, logger log.Logger) *Service {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	if store == nil {
		store = NewStore()
	}

	if config.Topic == "" {
		config.Topic = cn.TopicClaimsProcessed
	}

	return &Service{
		config:     config,
		downstream: downstream,
		events:     publisher,
		jobs:       jobs,
		store:      store,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit runs a claim through policy validation and payment. Every claim that
// reaches a decision is stored, announced on Kafka and audited; a claim
// rejected by the policy or finance service is returned with that service's
// business error. Announcement and audit failures are logged only.
func (s *Service) Submit(ctx context.Context, req Request) (claim Claim, err error) {
	claim = Claim{
		ID:           "CLM-" + uuid.NewString(),
		PolicyNumber: req.PolicyNumber,
		Amount:       req.Amount,
		Currency:     req.Currency,
		DateOfLoss:   req.DateOfLoss,
		Description:  req.Description,
		Status:       cn.ClaimStatusSubmitted,
		SubmittedAt:  s.now().UTC(),
	}

	ctx = correlation.Set(ctx, "claim_id", claim.ID)
	ctx = correlation.Set(ctx, "policy_number", claim.PolicyNumber)

	ctx, span := commons.NewTracerFromContext(ctx).Start(ctx, "claim.process")
	defer func() {
		span.SetAttributes(attribute.String("claim.status", claim.Status))
		observability.FinishSpan(ctx, span, err)
	}()

	if attrErr := opentelemetry.SetPayloadAttribute(span, "app.request.payload", req, nil); attrErr != nil {
		s.logger.WithContext(ctx).Warnf("Claim payload not recorded on span: %v", attrErr)
	}

	logger := s.logger.WithContext(ctx)
	logger.Infof("Processing claim %s of %d %s", claim.ID, claim.Amount, claim.Currency)

	var coverage policyCoverage

	err = s.downstream.PostJSON(ctx, s.config.PolicyURL+"/policies/validate", policyValidation{
		PolicyNumber: req.PolicyNumber,
		ClaimAmount:  req.Amount,
		Currency:     req.Currency,
		DateOfLoss:   req.DateOfLoss,
	}, &coverage)
	if err != nil {
		err = downstreamError("policy", err)
		return s.settle(ctx, claim, err)
	}

	claim.Status = cn.ClaimStatusValidated
	logger.Infof("Claim %s covered by policy %s held by %s", claim.ID, claim.PolicyNumber, coverage.Holder)

	var receipt paymentReceipt

	err = s.downstream.PostJSON(ctx, s.config.FinanceURL+"/payments", paymentOrder{
		ClaimID:      claim.ID,
		PolicyNumber: claim.PolicyNumber,
		Amount:       claim.Amount,
		Currency:     claim.Currency,
	}, &receipt)
	if err != nil {
		err = downstreamError("finance", err)
		return s.settle(ctx, claim, err)
	}

	claim.Status = cn.ClaimStatusPaid
	claim.PaymentID = receipt.PaymentID

	return s.settle(ctx, claim, nil)
}

// settle records the decision on claim. Unavailable services leave no
// decision, so nothing is stored or announced.
func (s *Service) settle(ctx context.Context, claim Claim, cause error) (Claim, error) {
	logger := s.logger.WithContext(ctx)

	if cause != nil {
		if errors.Is(cause, cn.ErrDownstreamUnavailable) {
			logger.Errorf("Claim %s could not be processed: %v", claim.ID, cause)
			return claim, cause
		}

		claim.Status = cn.ClaimStatusRejected
		logger.Warnf("Claim %s rejected: %v", claim.ID, cause)
	} else {
		logger.Infof("Claim %s paid with payment %s", claim.ID, claim.PaymentID)
	}

	claim.ProcessedAt = s.now().UTC()
	s.store.Save(claim)

	s.announce(ctx, logger, claim)
	s.scheduleAudit(ctx, logger, claim)

	return claim, cause
}

func (s *Service) announce(ctx context.Context, logger log.Logger, claim Claim) {
	if s.events == nil {
		return
	}

	body, err := json.Marshal(events.ClaimProcessed{
		ClaimID:      claim.ID,
		PolicyNumber: claim.PolicyNumber,
		Amount:       claim.Amount,
		Currency:     claim.Currency,
		Status:       claim.Status,
		PaymentID:    claim.PaymentID,
		ProcessedAt:  claim.ProcessedAt,
	})
	if err != nil {
		logger.Errorf("Failed to encode claim event: %v", err)
		return
	}

	if _, _, err := s.events.Publish(ctx, s.config.Topic, claim.ID, body); err != nil {
		logger.Errorf("Failed to publish claim %s to %s: %v", claim.ID, s.config.Topic, err)
	}
}

func (s *Service) scheduleAudit(ctx context.Context, logger log.Logger, claim Claim) {
	if s.jobs == nil {
		return
	}

	id, err := s.jobs.Enqueue(ctx, cn.JobNameClaimAudit, events.ClaimAudit{
		ClaimID:      claim.ID,
		PolicyNumber: claim.PolicyNumber,
		Status:       claim.Status,
		Amount:       claim.Amount,
		SubmittedAt:  claim.SubmittedAt,
	})
	if err != nil {
		logger.Errorf("Failed to schedule audit of claim %s: %v", claim.ID, err)
		return
	}

	logger.Debugf("Audit job %s scheduled for claim %s", id, claim.ID)
}

// Get returns a stored claim.
func (s *Service) Get(ctx context.Context, id string) (Claim, error) {
	_, span := commons.NewTracerFromContext(ctx).Start(ctx, "claim.get")
	defer span.End()

	claim, err := s.store.Find(id)
	if err != nil {
		observability.HandleSpanError(span, "Claim not found", err)
	}

	return claim, err
}

// downstreamError keeps business errors answered by service and turns
// everything else into ErrDownstreamUnavailable.
func downstreamError(service string, err error) error {
	var se *libHTTP.StatusError
	if errors.As(err, &se) && !se.Retryable() {
		if response, ok := se.BusinessError(); ok {
			return response
		}
	}

	if errors.Is(err, circuitbreaker.ErrServiceUnavailable) {
		return fmt.Errorf("%s service circuit open: %w: %w", service, cn.ErrDownstreamUnavailable, err)
	}

	return fmt.Errorf("%s service: %w: %w", service, cn.ErrDownstreamUnavailable, err)
}
