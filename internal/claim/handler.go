package claim

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/commons/validation"
)

const entityType = "Claim"

// Handler serves the claim HTTP API.
type Handler struct {
	Service *Service
}

// RegisterRoutes mounts the claim endpoints on router.
func RegisterRoutes(router fiber.Router, h *Handler) {
	router.Post("/claims", h.Submit)
	router.Get("/claims/:id", h.Get)
}

// Submit processes a new claim.
//
// POST /claims
func (h *Handler) Submit(c *fiber.Ctx) error {
	var req Request
	if err := c.BodyParser(&req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	if err := validation.ValidateStruct(req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	claim, err := h.Service.Submit(c.UserContext(), req)
	if err != nil {
		return libHTTP.WithError(c, commons.ValidateBusinessError(err, entityType))
	}

	return libHTTP.Created(c, claim)
}

// Get returns a processed claim.
//
// GET /claims/:id
func (h *Handler) Get(c *fiber.Ctx) error {
	claim, err := h.Service.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return libHTTP.WithError(c, commons.ValidateBusinessError(err, entityType))
	}

	return libHTTP.OK(c, claim)
}
