// Package policy implements the policy service: a fixed book of policies,
// claim validation against coverage and the claims.processed consumer that
// tracks how much coverage each policy has paid out.
package policy

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
	"github.com/LerianStudio/claims-telemetry/commons/log"
	"github.com/LerianStudio/claims-telemetry/commons/observability"
)

const (
	defaultCacheTTL     = 5 * time.Minute
	defaultCacheCleanup = 10 * time.Minute
)

// Policy is an insurance policy claims are validated against.
type Policy struct {
	Number        string    `json:"policy_number"`
	Holder        string    `json:"holder"`
	Coverage      int64     `json:"coverage"`
	Currency      string    `json:"currency"`
	EffectiveFrom time.Time `json:"effective_from"`
	EffectiveTo   time.Time `json:"effective_to"`
	Active        bool      `json:"active"`
}

// InForce reports whether the policy covers a loss on day.
func (p Policy) InForce(day time.Time) bool {
	if !p.Active {
		return false
	}

	return !day.Before(p.EffectiveFrom) && day.Before(p.EffectiveTo)
}

// ValidationRequest asks whether a claim is covered.
type ValidationRequest struct {
	PolicyNumber string    `json:"policy_number" validate:"required,policynumber"`
	ClaimAmount  int64     `json:"claim_amount" validate:"gt=0"`
	Currency     string    `json:"currency" validate:"omitempty,currency"`
	DateOfLoss   time.Time `json:"date_of_loss"`
}

// ValidationResult is returned for a covered claim.
type ValidationResult struct {
	PolicyNumber string `json:"policy_number"`
	Holder       string `json:"holder"`
	Coverage     int64  `json:"coverage"`
	Remaining    int64  `json:"remaining"`
	Valid        bool   `json:"valid"`
}

// Service validates claims against the policy book. Lookups are memoized in
// a go-cache keyed by policy number.
type Service struct {
	policies map[string]Policy
	cache    *gocache.Cache
	logger   log.Logger
	now      func() time.Time

	mu   sync.Mutex
	paid map[string]int64
}

// NewService creates a service over policies. logger may be nil.
func NewService(policies []Policy, logger log.Logger) *Service {
	if logger == nil {
		logger = &log.NoneLogger{}
	}

	book := make(map[string]Policy, len(policies))
	for _, p := range policies {
		book[p.Number] = p
	}

	return &Service{
		policies: book,
		cache:    gocache.New(defaultCacheTTL, defaultCacheCleanup),
		logger:   logger,
		now:      time.Now,
		paid:     make(map[string]int64),
	}
}

// DefaultPolicies is the book served by the demo.
func DefaultPolicies() []Policy {
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	return []Policy{
		{Number: "POL-001", Holder: "Ana Souza", Coverage: 5_000_000, Currency: "USD", EffectiveFrom: from, EffectiveTo: to, Active: true},
		{Number: "POL-002", Holder: "Bruno Lima", Coverage: 1_000_000, Currency: "USD", EffectiveFrom: from, EffectiveTo: to, Active: true},
		{Number: "POL-003", Holder: "Carla Dias", Coverage: 2_500_000, Currency: "EUR", EffectiveFrom: from, EffectiveTo: to, Active: true},
		{Number: "POL-404", Holder: "Diego Reis", Coverage: 750_000, Currency: "USD", EffectiveFrom: from, EffectiveTo: from.AddDate(1, 0, 0), Active: false},
	}
}

// Lookup returns the policy with number.
func (s *Service) Lookup(ctx context.Context, number string) (found Policy, err error) {
	err = observability.WithSpan(ctx, commons.NewTracerFromContext(ctx), "policy.lookup", func(ctx context.Context) error {
		span := trace.SpanFromContext(ctx)

		if cached, ok := s.cache.Get(number); ok {
			span.SetAttributes(attribute.Bool("cache.hit", true))
			found = cached.(Policy)

			return nil
		}

		span.SetAttributes(attribute.Bool("cache.hit", false))

		p, ok := s.policies[number]
		if !ok {
			return fmt.Errorf("policy %s: %w", number, cn.ErrPolicyNotFound)
		}

		s.cache.SetDefault(number, p)
		found = p

		return nil
	}, trace.WithAttributes(attribute.String("policy.number", number)))

	return found, err
}

// Validate checks that req is covered by an active policy with enough
// remaining coverage. A zero DateOfLoss means today.
func (s *Service) Validate(ctx context.Context, req ValidationRequest) (result ValidationResult, err error) {
	ctx = correlation.Set(ctx, "policy_number", req.PolicyNumber)

	ctx, span := commons.NewTracerFromContext(ctx).Start(ctx, "policy.validate")
	defer func() { observability.FinishSpan(ctx, span, err) }()

	logger := s.logger.WithContext(ctx)

	p, err := s.Lookup(ctx, req.PolicyNumber)
	if err != nil {
		logger.Warnf("Policy %s not found", req.PolicyNumber)
		return ValidationResult{}, err
	}

	day := req.DateOfLoss
	if day.IsZero() {
		day = s.now()
	}

	if !p.InForce(day) {
		logger.Warnf("Policy %s is not in force on %s", p.Number, day.Format(time.DateOnly))
		return ValidationResult{}, fmt.Errorf("policy %s: %w", p.Number, cn.ErrPolicyInactive)
	}

	remaining := p.Coverage - s.paidOut(p.Number)
	if req.ClaimAmount > remaining {
		logger.Warnf("Claim of %d exceeds remaining coverage %d on policy %s", req.ClaimAmount, remaining, p.Number)
		return ValidationResult{}, fmt.Errorf("policy %s: %w", p.Number, cn.ErrClaimAmountExceedsCoverage)
	}

	logger.Infof("Claim of %d covered by policy %s", req.ClaimAmount, p.Number)

	return ValidationResult{
		PolicyNumber: p.Number,
		Holder:       p.Holder,
		Coverage:     p.Coverage,
		Remaining:    remaining,
		Valid:        true,
	}, nil
}

// RecordPayout reduces the remaining coverage of number by amount.
func (s *Service) RecordPayout(number string, amount int64) error {
	if _, ok := s.policies[number]; !ok {
		return fmt.Errorf("policy %s: %w", number, cn.ErrPolicyNotFound)
	}

	if amount <= 0 {
		return errors.New("payout amount must be positive")
	}

	s.mu.Lock()
	s.paid[number] += amount
	s.mu.Unlock()

	return nil
}

func (s *Service) paidOut(number string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.paid[number]
}
