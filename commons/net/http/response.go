// Package http holds the fiber middleware, response helpers and outbound
// client shared by the claim, finance and policy services.
//
// Middleware order for a service:
//
//	app.Use(tm.WithTelemetry())   // server span, request id, enriched logger
//	app.Use(http.WithHTTPLogging()) // access log through the enriched logger
//
// Error responses use commons.Response:
//
//	{"entityType": "Claim", "code": "0002", "title": "Policy Not Found", "message": "..."}
package http

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/LerianStudio/claims-telemetry/commons"
	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/validation"
)

// BadRequest sends an HTTP 400 Bad Request response with a custom body.
func BadRequest(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusBadRequest).JSON(s)
}

// Created sends an HTTP 201 Created response with a custom body.
func Created(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusCreated).JSON(s)
}

// OK sends an HTTP 200 OK response with a custom body.
func OK(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusOK).JSON(s)
}

// NoContent sends an HTTP 204 No Content response without anybody.
func NoContent(c *fiber.Ctx) error {
	return c.SendStatus(http.StatusNoContent)
}

// Accepted sends an HTTP 202 Accepted response with a custom body.
func Accepted(c *fiber.Ctx, s any) error {
	return c.Status(http.StatusAccepted).JSON(s)
}

// NotFound sends an HTTP 404 Not Found response with a custom code, title and message.
func NotFound(c *fiber.Ctx, code, title, message string) error {
	return c.Status(http.StatusNotFound).JSON(commons.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// UnprocessableEntity sends an HTTP 422 Unprocessable Entity response with a custom code, title and message.
func UnprocessableEntity(c *fiber.Ctx, code, title, message string) error {
	return c.Status(http.StatusUnprocessableEntity).JSON(commons.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// InternalServerError sends an HTTP 500 Internal Server Response response
func InternalServerError(c *fiber.Ctx, code, title, message string) error {
	return c.Status(http.StatusInternalServerError).JSON(commons.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// ServiceUnavailable sends an HTTP 503 Service Unavailable response.
func ServiceUnavailable(c *fiber.Ctx, code, title, message string) error {
	return c.Status(http.StatusServiceUnavailable).JSON(commons.Response{
		Code:    code,
		Title:   title,
		Message: message,
	})
}

// JSONResponseError sends a business error with the status matching its code.
func JSONResponseError(c *fiber.Ctx, err commons.Response) error {
	return c.Status(StatusForCode(err.Code)).JSON(err)
}

// JSONResponse sends a custom status code and body as a JSON response.
func JSONResponse(c *fiber.Ctx, status int, s any) error {
	return c.Status(status).JSON(s)
}

var codeStatus = map[string]int{
	constant.ErrClaimNotFound.Error():              http.StatusNotFound,
	constant.ErrPolicyNotFound.Error():             http.StatusNotFound,
	constant.ErrPolicyInactive.Error():             http.StatusUnprocessableEntity,
	constant.ErrClaimAmountExceedsCoverage.Error(): http.StatusUnprocessableEntity,
	constant.ErrInvalidClaimStatus.Error():         http.StatusUnprocessableEntity,
	constant.ErrPaymentRejected.Error():            http.StatusUnprocessableEntity,
	constant.ErrDownstreamUnavailable.Error():      http.StatusServiceUnavailable,
	constant.ErrBadRequest.Error():                 http.StatusBadRequest,
	constant.ErrJobPayloadInvalid.Error():          http.StatusBadRequest,
}

// StatusForCode maps a business error code to its HTTP status. Unknown codes are 500.
func StatusForCode(code string) int {
	if status, ok := codeStatus[code]; ok {
		return status
	}

	return http.StatusInternalServerError
}

// WithError writes err as a JSON error response. Business errors keep their
// code; anything else becomes an opaque 500.
func WithError(c *fiber.Ctx, err error) error {
	var response commons.Response
	if errors.As(err, &response) {
		return JSONResponseError(c, response)
	}

	var fe *fiber.Error
	if errors.As(err, &fe) {
		return JSONResponse(c, fe.Code, commons.Response{Title: http.StatusText(fe.Code), Message: fe.Message})
	}

	return InternalServerError(c, "", "Internal Server Error", "The server encountered an unexpected error.")
}

// Ping returns HTTP Status 200 with response "healthy".
func Ping(c *fiber.Ctx) error {
	return c.SendString("healthy")
}

// ValidationResponse is the body of a request rejected by field validation.
type ValidationResponse struct {
	commons.Response
	Fields map[string]string `json:"fields,omitempty"`
}

// WithValidationError answers 400 with the failing fields of err, which is
// normally the result of validation.ValidateStruct.
func WithValidationError(c *fiber.Ctx, entityType string, err error) error {
	body := ValidationResponse{
		Response: commons.Response{
			EntityType: entityType,
			Code:       constant.ErrBadRequest.Error(),
			Title:      "Bad Request",
			Message:    err.Error(),
		},
	}

	var verrs validation.ValidationErrors
	if errors.As(err, &verrs) {
		body.Message = "The request body is invalid. Please review the fields and try again."
		body.Fields = verrs.Fields()
	}

	return BadRequest(c, body)
}
