package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LerianStudio/claims-telemetry/commons"
	cn "github.com/LerianStudio/claims-telemetry/commons/constants"
	"github.com/LerianStudio/claims-telemetry/commons/validation"
)

func TestWithError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "business error keeps its code",
			err:        commons.ValidateBusinessError(fmt.Errorf("lookup: %w", cn.ErrPolicyNotFound), "Policy"),
			wantStatus: http.StatusNotFound,
			wantCode:   cn.ErrPolicyNotFound.Error(),
		},
		{
			name:       "downstream unavailable",
			err:        commons.ValidateBusinessError(cn.ErrDownstreamUnavailable, "Claim"),
			wantStatus: http.StatusServiceUnavailable,
			wantCode:   cn.ErrDownstreamUnavailable.Error(),
		},
		{
			name:       "fiber error",
			err:        fiber.NewError(http.StatusMethodNotAllowed, "nope"),
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "unknown error is opaque",
			err:        errors.New("database password leaked in message"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error { return WithError(c, tt.err) })

			resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)

			var body commons.Response
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
			assert.Equal(t, tt.wantCode, body.Code)
			assert.NotContains(t, body.Message, "password")
		})
	}
}

func TestStatusForCode(t *testing.T) {
	assert.Equal(t, http.StatusUnprocessableEntity, StatusForCode(cn.ErrPaymentRejected.Error()))
	assert.Equal(t, http.StatusBadRequest, StatusForCode(cn.ErrBadRequest.Error()))
	assert.Equal(t, http.StatusInternalServerError, StatusForCode("9999"))
}

func TestWithValidationError(t *testing.T) {
	type form struct {
		PolicyNumber string `json:"policy_number" validate:"required"`
	}

	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		return WithValidationError(c, "Claim", validation.ValidateStruct(form{}))
	})
	app.Post("/raw", func(c *fiber.Ctx) error {
		return WithValidationError(c, "Claim", errors.New("unexpected end of JSON input"))
	})

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body ValidationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, cn.ErrBadRequest.Error(), body.Code)
	assert.Equal(t, "Claim", body.EntityType)
	assert.Equal(t, map[string]string{"policy_number": "is required"}, body.Fields)

	resp, err = app.Test(httptest.NewRequest(http.MethodPost, "/raw", nil))
	require.NoError(t, err)
	defer resp.Body.Close()

	var raw ValidationResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&raw))
	assert.Equal(t, "unexpected end of JSON input", raw.Message)
	assert.Empty(t, raw.Fields)
}
