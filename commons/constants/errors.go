// Package constant defines common constants used across the application.
// It includes error codes, header names and other shared constant definitions.
package constant

import "errors"

var (
	// ErrClaimNotFound indicates the claim does not exist.
	ErrClaimNotFound = errors.New("0001")
	// ErrPolicyNotFound indicates the policy referenced by a claim does not exist.
	ErrPolicyNotFound = errors.New("0002")
	// ErrPolicyInactive indicates the policy is not in force on the date of loss.
	ErrPolicyInactive = errors.New("0003")
	// ErrClaimAmountExceedsCoverage indicates the claimed amount exceeds the policy coverage.
	ErrClaimAmountExceedsCoverage = errors.New("0004")
	// ErrInvalidClaimStatus indicates a claim status transition is not allowed.
	ErrInvalidClaimStatus = errors.New("0005")
	// ErrPaymentRejected indicates the finance service refused the payment.
	ErrPaymentRejected = errors.New("0006")
	// ErrDownstreamUnavailable indicates a downstream service could not be reached.
	ErrDownstreamUnavailable = errors.New("0007")
	// ErrBadRequest indicates the request payload failed validation.
	ErrBadRequest = errors.New("0008")
	// ErrJobPayloadInvalid indicates a background job payload could not be decoded.
	ErrJobPayloadInvalid = errors.New("0009")
)
