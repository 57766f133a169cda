package commons

import (
	"errors"

	constant "github.com/LerianStudio/claims-telemetry/commons/constants"
)

// Response is the business error body returned by HTTP handlers.
type Response struct {
	EntityType string `json:"entityType,omitempty"`
	Title      string `json:"title,omitempty"`
	Message    string `json:"message,omitempty"`
	Code       string `json:"code,omitempty"`
	Err        error  `json:"-"`
}

func (e Response) Error() string {
	return e.Message
}

func (e Response) Unwrap() error {
	return e.Err
}

type businessError struct {
	sentinel error
	title    string
	message  string
}

// businessErrors is searched in order; the first sentinel err wraps decides.
var businessErrors = []businessError{
	{constant.ErrClaimNotFound, "Claim Not Found",
		"The provided claim ID does not exist in our records. Please verify the claim ID and try again."},
	{constant.ErrPolicyNotFound, "Policy Not Found",
		"The policy referenced by the claim does not exist. Please verify the policy number and try again."},
	{constant.ErrPolicyInactive, "Policy Inactive",
		"The policy was not in force on the date of loss, so the claim cannot be accepted."},
	{constant.ErrClaimAmountExceedsCoverage, "Claim Amount Exceeds Coverage",
		"The claimed amount is greater than the coverage available on the policy."},
	{constant.ErrInvalidClaimStatus, "Invalid Claim Status",
		"The claim cannot move to the requested status from its current status."},
	{constant.ErrPaymentRejected, "Payment Rejected",
		"The finance service rejected the payment for this claim."},
	{constant.ErrDownstreamUnavailable, "Downstream Service Unavailable",
		"A service required to complete the request is unavailable. Please try again later."},
	{constant.ErrBadRequest, "Bad Request",
		"The request body is invalid. Please review the fields and try again."},
	{constant.ErrJobPayloadInvalid, "Invalid Job Payload",
		"The background job payload could not be decoded."},
}

// ValidateBusinessError turns an error wrapping a domain sentinel into the
// Response for entityType. Other errors come back unchanged.
func ValidateBusinessError(err error, entityType string) error {
	if err == nil {
		return nil
	}

	var already Response
	if errors.As(err, &already) {
		return err
	}

	for _, be := range businessErrors {
		if errors.Is(err, be.sentinel) {
			return Response{
				EntityType: entityType,
				Title:      be.title,
				Message:    be.message,
				Code:       be.sentinel.Error(),
				Err:        err,
			}
		}
	}

	return err
}
