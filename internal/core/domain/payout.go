package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// PayoutState represents the lifecycle state of a payout request.
type PayoutState string

const (
	PayoutStateCreated   PayoutState = "CREATED"
	PayoutStateReserved  PayoutState = "RESERVED"
	PayoutStateSubmitted PayoutState = "SUBMITTED"
	PayoutStateSucceeded PayoutState = "SUCCEEDED"
	PayoutStateFailed    PayoutState = "FAILED"
	PayoutStateCancelled PayoutState = "CANCELLED"
)

// payoutTransitions is the complete set of legal state changes.
var payoutTransitions = map[PayoutState][]PayoutState{
	PayoutStateCreated:   {PayoutStateReserved, PayoutStateFailed, PayoutStateCancelled},
	PayoutStateReserved:  {PayoutStateSubmitted, PayoutStateFailed, PayoutStateCancelled},
	PayoutStateSubmitted: {PayoutStateSucceeded, PayoutStateFailed},
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s PayoutState) CanTransitionTo(next PayoutState) bool {
	for _, allowed := range payoutTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal returns true if no further transition is possible from s.
func (s PayoutState) IsTerminal() bool {
	return len(payoutTransitions[s]) == 0
}

// Valid reports whether s is a known state.
func (s PayoutState) Valid() bool {
	switch s {
	case PayoutStateCreated, PayoutStateReserved, PayoutStateSubmitted,
		PayoutStateSucceeded, PayoutStateFailed, PayoutStateCancelled:
		return true
	}
	return false
}

// Failure reasons recorded on payouts.
const (
	FailureInsufficientBalance = "insufficient_balance"
	FailureAccountInvalid      = "account_invalid"
	FailureAmountRejected      = "amount_rejected"
	FailureProcessorTimeout    = "processor_timeout"
	FailureProcessorReported   = "processor_reported_failure"
)

// PayoutSource records what created a payout request.
type PayoutSource string

const (
	PayoutSourceAPI       PayoutSource = "api"
	PayoutSourceScheduler PayoutSource = "scheduler"
)

// PayoutRequest is one payout attempt. Amount and PayoutAccountID are
// immutable once created.
type PayoutRequest struct {
	ID              uuid.UUID     `json:"id"`
	Reference       string        `json:"reference"` // PO-<ULID>
	VendorID        uuid.UUID     `json:"vendor_id"`
	PayoutAccountID uuid.UUID     `json:"payout_account_id"`
	ProcessorKind   ProcessorKind `json:"processor_kind"`
	Amount          int64         `json:"amount"`
	FeeAmount       int64         `json:"fee_amount"`
	NetAmount       int64         `json:"net_amount"`
	Currency        string        `json:"currency"`
	State           PayoutState   `json:"state"`
	TransferID      *string       `json:"transfer_id,omitempty"`
	IdempotencyKey  string        `json:"idempotency_key"`
	ReservationID   *uuid.UUID    `json:"-"`
	FailureReason   *string       `json:"failure_reason,omitempty"`
	SubmitAttempts  int           `json:"submit_attempts"`
	Source          PayoutSource  `json:"source"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
	SubmittedAt     *time.Time    `json:"submitted_at,omitempty"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty"`
}

// IsTerminal returns true if the payout is in a final state.
func (p *PayoutRequest) IsTerminal() bool {
	return p.State.IsTerminal()
}

// HasTransferID returns true once the processor has assigned a transfer id.
func (p *PayoutRequest) HasTransferID() bool {
	return p.TransferID != nil && *p.TransferID != ""
}

// IsCancellable returns true if the payout has not yet been handed to a processor.
func (p *PayoutRequest) IsCancellable() bool {
	return p.State.CanTransitionTo(PayoutStateCancelled)
}

// PayoutTransition is one entry of a payout's state history.
type PayoutTransition struct {
	ID        uuid.UUID   `json:"id"`
	PayoutID  uuid.UUID   `json:"payout_id"`
	FromState PayoutState `json:"from_state,omitempty"` // empty for the initial state
	ToState   PayoutState `json:"to_state"`
	Actor     string      `json:"actor"`
	Reason    *string     `json:"reason,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// NewPayoutReference returns a new human-facing payout reference number.
func NewPayoutReference() string {
	return "PO-" + ulid.Make().String()
}
