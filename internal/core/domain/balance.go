package domain

import (
	"time"

	"github.com/google/uuid"
)

// VendorBalance is a vendor's funds in the settlement currency's minor unit.
// Invariant: Available >= 0, Pending >= 0, Reserved >= 0.
type VendorBalance struct {
	VendorID     uuid.UUID `json:"vendor_id"`
	Currency     string    `json:"currency"`
	Available    int64     `json:"available"`
	Pending      int64     `json:"pending"`
	Reserved     int64     `json:"reserved"`
	TotalEarned  int64     `json:"total_earned"`
	TotalPaidOut int64     `json:"total_paid_out"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ReservationState is the lifecycle of a hold on available funds.
type ReservationState string

const (
	ReservationActive   ReservationState = "ACTIVE"
	ReservationReleased ReservationState = "RELEASED"
	ReservationSettled  ReservationState = "SETTLED"
)

// Reservation locks Amount of a vendor's available balance for one payout.
// Only ACTIVE reservations count towards VendorBalance.Reserved.
type Reservation struct {
	ID        uuid.UUID        `json:"id"`
	VendorID  uuid.UUID        `json:"vendor_id"`
	PayoutID  uuid.UUID        `json:"payout_id"`
	Amount    int64            `json:"amount"`
	State     ReservationState `json:"state"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// IsActive returns true while the reservation still holds funds.
func (r *Reservation) IsActive() bool {
	return r.State == ReservationActive
}

// CreditState tracks whether a sale credit sits in pending or available.
type CreditState string

const (
	CreditPending CreditState = "PENDING"
	CreditSettled CreditState = "SETTLED"
)

// BalanceCredit is the idempotency record of a sale credited to a vendor,
// keyed by the sales collaborator's globally unique source reference.
type BalanceCredit struct {
	SourceRef string      `json:"source_ref"`
	VendorID  uuid.UUID   `json:"vendor_id"`
	Gross     int64       `json:"gross"`
	Fee       int64       `json:"fee"`
	Net       int64       `json:"net"`
	State     CreditState `json:"state"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// SaleEvent is a sale notification emitted by the sales collaborator.
type SaleEvent struct {
	SourceRef   string    `json:"source_ref"`
	VendorID    uuid.UUID `json:"vendor_id"`
	GrossAmount int64     `json:"gross_amount"`
	Currency    string    `json:"currency"`
	Settled     bool      `json:"settled"`
	OccurredAt  time.Time `json:"occurred_at"`
}
