package constant

// Claim lifecycle statuses.
const (
	ClaimStatusSubmitted = "SUBMITTED"
	ClaimStatusValidated = "VALIDATED"
	ClaimStatusApproved  = "APPROVED"
	ClaimStatusRejected  = "REJECTED"
	ClaimStatusPaid      = "PAID"
)

// Messaging destinations used by the claim flow.
const (
	TopicClaimsSubmitted       = "claims.submitted"
	TopicClaimsProcessed       = "claims.processed"
	ExchangePayments           = "payments"
	RoutingKeyPaymentCompleted = "payment.completed"
	QueuePaymentsCompleted     = "claims.payments-completed"
	JobQueueClaims             = "claims"
	JobNameClaimAudit          = "claim.audit"
)
