package domain

import (
	"time"

	"github.com/google/uuid"
)

// WebhookOutcome is the processing result of an inbound processor event.
type WebhookOutcome string

const (
	WebhookOutcomeUnprocessed      WebhookOutcome = "unprocessed"
	WebhookOutcomeApplied          WebhookOutcome = "applied"
	WebhookOutcomeIgnoredDuplicate WebhookOutcome = "ignored_duplicate"
	WebhookOutcomeRejected         WebhookOutcome = "rejected"
)

// Rejection reasons for webhook events.
const (
	WebhookReasonUnknownTransfer  = "unknown_transfer"
	WebhookReasonNonTerminalEvent = "non_terminal_event"
	WebhookReasonAlreadyResolved  = "already_resolved"
)

// WebhookEvent is a raw inbound processor notification, unique per
// (ProcessorKind, EventID).
type WebhookEvent struct {
	ID            uuid.UUID      `json:"id"`
	ProcessorKind ProcessorKind  `json:"processor_kind"`
	EventID       string         `json:"event_id"`
	EventType     string         `json:"event_type"`
	Signature     string         `json:"-"`
	Payload       []byte         `json:"-"`
	Outcome       WebhookOutcome `json:"outcome"`
	Reason        *string        `json:"reason,omitempty"`
	PayoutID      *uuid.UUID     `json:"payout_id,omitempty"`
	DeliveryCount int            `json:"delivery_count"`
	ReceivedAt    time.Time      `json:"received_at"`
	ProcessedAt   *time.Time     `json:"processed_at,omitempty"`
}
