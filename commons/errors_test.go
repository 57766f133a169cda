package commons

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
)

func TestValidateBusinessError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		entity string
		code   string
		title  string
	}{
		{name: "claim not found", err: constant.ErrClaimNotFound, entity: "claim", code: "0001", title: "Claim Not Found"},
		{name: "policy inactive", err: constant.ErrPolicyInactive, entity: "policy", code: "0003", title: "Policy Inactive"},
		{name: "wrapped payment rejection", err: fmt.Errorf("settle CLM-1: %w", constant.ErrPaymentRejected), entity: "payment", code: "0006", title: "Payment Rejected"},
		{name: "job payload", err: fmt.Errorf("%w: bad json", constant.ErrJobPayloadInvalid), entity: "job", code: "0009", title: "Invalid Job Payload"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp Response
			require.ErrorAs(t, ValidateBusinessError(tt.err, tt.entity), &resp)

			assert.Equal(t, tt.entity, resp.EntityType)
			assert.Equal(t, tt.code, resp.Code)
			assert.Equal(t, tt.title, resp.Title)
			assert.Equal(t, resp.Message, resp.Error())
			assert.ErrorIs(t, resp, tt.err)
		})
	}
}

func TestValidateBusinessErrorFirstSentinelWins(t *testing.T) {
	err := errors.Join(constant.ErrDownstreamUnavailable, constant.ErrPolicyNotFound)

	var resp Response
	require.ErrorAs(t, ValidateBusinessError(err, "claim"), &resp)
	assert.Equal(t, constant.ErrPolicyNotFound.Error(), resp.Code)
}

func TestValidateBusinessErrorPassThrough(t *testing.T) {
	assert.NoError(t, ValidateBusinessError(nil, "claim"))

	plain := errors.New("disk full")
	assert.Same(t, plain, ValidateBusinessError(plain, "claim"))

	downstream := Response{EntityType: "policy", Code: constant.ErrPolicyNotFound.Error(), Title: "Policy Not Found"}
	wrapped := fmt.Errorf("lookup: %w", downstream)

	var resp Response
	require.ErrorAs(t, ValidateBusinessError(wrapped, "claim"), &resp)
	assert.Equal(t, "policy", resp.EntityType)
	assert.Equal(t, wrapped, ValidateBusinessError(wrapped, "claim"))
}
