// Package events holds the payloads exchanged by the claim, finance and policy
// services over Kafka, RabbitMQ and the job queue.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// ClaimProcessed is published on the claims.processed topic once a claim is settled.
type ClaimProcessed struct {
	ClaimID      string    `json:"claim_id"`
	PolicyNumber string    `json:"policy_number"`
	Amount       int64     `json:"amount"`
	Currency     string    `json:"currency"`
	Status       string    `json:"status"`
	PaymentID    string    `json:"payment_id,omitempty"`
	ProcessedAt  time.Time `json:"processed_at"`
}

// PaymentCompleted is published by finance on the payments exchange.
type PaymentCompleted struct {
	PaymentID   string    `json:"payment_id"`
	ClaimID     string    `json:"claim_id"`
	Amount      int64     `json:"amount"`
	Currency    string    `json:"currency"`
	CompletedAt time.Time `json:"completed_at"`
}

// ClaimAudit is the payload of the claim.audit job.
type ClaimAudit struct {
	ClaimID      string    `json:"claim_id"`
	PolicyNumber string    `json:"policy_number"`
	Status       string    `json:"status"`
	Amount       int64     `json:"amount"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Decode unmarshals body into v.
func Decode(body []byte, v any) error {
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("failed to decode %T: %w", v, err)
	}

	return nil
}
