package finance

import (
	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons"
	libHTTP "github.com/LerianStudio/claims-telemetry/commons/net/http"
	"github.com/LerianStudio/claims-telemetry/commons/validation"
)

const entityType = "Payment"

// Handler serves the finance HTTP API.
type Handler struct {
	Service *Service
}

// RegisterRoutes mounts the finance endpoints on router.
func RegisterRoutes(router fiber.Router, h *Handler) {
	router.Post("/payments", h.Pay)
}

// Pay settles a claim payment.
//
// POST /payments
func (h *Handler) Pay(c *fiber.Ctx) error {
	var req PaymentRequest
	if err := c.BodyParser(&req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	if err := validation.ValidateStruct(req); err != nil {
		return libHTTP.WithValidationError(c, entityType, err)
	}

	payment, err := h.Service.Pay(c.UserContext(), req)
	if err != nil {
		return libHTTP.WithError(c, commons.ValidateBusinessError(err, entityType))
	}

	return libHTTP.Created(c, payment)
}
