// Package requestid carries the X-Request-Id of a call chain across HTTP,
// broker messages and jobs.
package requestid

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/correlation"
)

// Key is the correlation key holding the request id. Being a scalar it is also
// mirrored onto the active span and into every enriched log record.
const Key = "request_id"

const localsKey = "requestID"

// Generate returns a fresh request id.
func Generate() string {
	return uuid.NewString()
}

// NewContext stores requestID in the correlation store and as the header id.
func NewContext(ctx context.Context, requestID string) context.Context {
	ctx = correlation.Set(ctx, Key, requestID)

	return commons.ContextWithHeaderID(ctx, requestID)
}

// Adopt is NewContext for ids read off a message; an empty id leaves ctx as is.
func Adopt(ctx context.Context, requestID string) context.Context {
	if requestID == "" {
		return ctx
	}

	return NewContext(ctx, requestID)
}

// FromContext returns the request id of the call chain, or "".
func FromContext(ctx context.Context) string {
	return correlation.Get(ctx, Key, "")
}

// EnsureContext returns ctx with a request id, generating one if it has none.
func EnsureContext(ctx context.Context) (context.Context, string) {
	if id := FromContext(ctx); id != "" {
		return ctx, id
	}

	id := Generate()

	return NewContext(ctx, id), id
}

// Resolve settles the request id of a Fiber request once: the inbound header,
// then X-Correlation-Id, then a generated one. The id is echoed on the
// response and stored in the request's user context. Later calls return the
// settled id.
func Resolve(c *fiber.Ctx, headerName string) string {
	if id, ok := c.Locals(localsKey).(string); ok && id != "" {
		return id
	}

	id := c.Get(headerName)
	if id == "" {
		id = c.Get(cn.HeaderCorrelationID)
	}

	if id == "" {
		id = Generate()
	}

	c.Request().Header.Set(headerName, id)
	c.Locals(localsKey, id)
	c.Set(headerName, id)
	c.SetUserContext(NewContext(c.UserContext(), id))

	return id
}
