/**
 * @description
 * This file defines the payment event ledger model. Payment events are immutable,
 * append-only facts: one 'initiated' event per charge attempt, followed by at most
 * one 'success' or 'failure' event sharing the same provider correlation id.
 * The ledger is the source of truth for what happened to a charge.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
)

// PaymentEventType enumerates the kinds of facts the ledger records.
type PaymentEventType string

const (
	PaymentEventInitiated PaymentEventType = "initiated"
	PaymentEventSuccess   PaymentEventType = "success"
	PaymentEventFailure   PaymentEventType = "failure"
)

// PaymentEvent is a single immutable row in the payment ledger.
// ExternalEventID carries the provider-assigned correlation id (the
// CheckoutRequestID for 'initiated' rows, suffixed variants for outcomes).
type PaymentEvent struct {
	ID              uuid.UUID              `json:"id"`
	UserID          string                 `json:"user_id"`
	ExternalEventID string                 `json:"external_event_id"`
	Type            PaymentEventType       `json:"type"`
	Payload         map[string]interface{} `json:"payload"`
	CreatedAt       time.Time              `json:"created_at"`
}

// SuccessEventID builds the idempotency key under which a confirmed charge is
// recorded. A second callback for the same correlation id resolves to the same
// key, which is how redelivered webhooks are detected.
func SuccessEventID(correlationID string) string {
	return correlationID + "_success"
}

// FailureEventID builds the idempotency key for a denied charge.
func FailureEventID(correlationID string) string {
	return correlationID + "_failed"
}

// PaymentOutcomeEvent is the message published to the billing events exchange
// once a charge reaches a terminal state. Downstream services (notifications,
// analytics) consume it; nothing in this service depends on it being delivered.
type PaymentOutcomeEvent struct {
	EventID           string    `json:"event_id"`
	EventType         string    `json:"event_type"`
	UserID            string    `json:"user_id"`
	PlanID            string    `json:"plan_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Amount            int64     `json:"amount"`
	ReceiptNumber     string    `json:"receipt_number,omitempty"`
	Reason            string    `json:"reason,omitempty"`
	OccurredAt        time.Time `json:"occurred_at"`
}

// ChargeStatus is the DTO returned to a client polling for the outcome of a
// previously initiated charge.
type ChargeStatus struct {
	Status        string `json:"status"` // 'completed', 'failed' or 'pending'
	Message       string `json:"message"`
	ReceiptNumber string `json:"receiptNumber,omitempty"`
}

const (
	ChargeStatusCompleted = "completed"
	ChargeStatusFailed    = "failed"
	ChargeStatusPending   = "pending"
)
