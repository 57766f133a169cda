package policy

import (
	"context"

	"github.com/IBM/sarama"
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/commons/validation"
	"github.com/LerianStudio/claims-telemetry/internal/events"
)

const entityType = "Policy"

// Handler serves the policy HTTP API.
type Handler struct {
	Service *Service
}

// RegisterRoutes mounts the policy endpoints on router.
func RegisterRoutes(router fiber.Router, h *Handler) {
	router.Post("/policies/validate", h.Validate)
	router.Get("/policies/:number", h.Get)
}

// Validate checks a claim against its policy.
//
// POST /policies/validate
func (h *Handler) Validate(c *fiber.Ctx) error {
	var req ValidationRequest
	if err := c.BodyParser(&req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	if err := validation.ValidateStruct(req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	result, err := h.Service.Validate(c.UserContext(), req)
	if err != nil {
		return libHTTP.WithError(c, commons.ValidateBusinessError(err, entityType))
	}

	return libHTTP.OK(c, result)
}

// Get returns one policy.
//
// GET /policies/:number
func (h *Handler) Get(c *fiber.Ctx) error {
	p, err := h.Service.Lookup(c.UserContext(), c.Params("number"))
	if err != nil {
		return libHTTP.WithError(c, commons.ValidateBusinessError(err, entityType))
	}

	return libHTTP.OK(c, p)
}

// HandleClaimProcessed consumes claims.processed records and books the payout
// of every paid claim against its policy.
func (s *Service) HandleClaimProcessed(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var evt events.ClaimProcessed
	if err := events.Decode(msg.Value, &evt); err != nil {
		return err
	}

	ctx = correlation.Set(ctx, "claim_id", evt.ClaimID)
	ctx = correlation.Set(ctx, "policy_number", evt.PolicyNumber)

	logger := s.logger.WithContext(ctx)

	if evt.Status != cn.ClaimStatusPaid {
		logger.Debugf("Claim %s is %s, no payout to record", evt.ClaimID, evt.Status)
		return nil
	}

	if err := s.RecordPayout(evt.PolicyNumber, evt.Amount); err != nil {
		logger.Errorf("Failed to record payout for claim %s: %v", evt.ClaimID, err)
		return err
	}

	logger.Infof("Recorded payout of %d %s on policy %s", evt.Amount, evt.Currency, evt.PolicyNumber)

	return nil
}
