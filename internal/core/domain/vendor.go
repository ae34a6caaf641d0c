package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ProcessorKind identifies the payment processor that owns a payout account.
type ProcessorKind string

const (
	ProcessorStripe ProcessorKind = "stripe"        // card/bank via Stripe-style API
	ProcessorPayPal ProcessorKind = "paypal"        // wallet via PayPal-style API
	ProcessorBank   ProcessorKind = "bank_transfer" // direct bank transfer
)

// AllProcessorKinds lists the closed set of supported processors.
var AllProcessorKinds = []ProcessorKind{ProcessorStripe, ProcessorPayPal, ProcessorBank}

// Valid reports whether k is one of the supported processor kinds.
func (k ProcessorKind) Valid() bool {
	for _, known := range AllProcessorKinds {
		if k == known {
			return true
		}
	}
	return false
}

// VerificationStatus of a payout account, managed by the vendor profile collaborator.
type VerificationStatus string

const (
	VerificationUnverified VerificationStatus = "unverified"
	VerificationVerified   VerificationStatus = "verified"
	VerificationFailed     VerificationStatus = "failed"
)

// PayoutAccount is a vendor's destination for funds.
type PayoutAccount struct {
	ID                 uuid.UUID          `json:"id"`
	VendorID           uuid.UUID          `json:"vendor_id"`
	ProcessorKind      ProcessorKind      `json:"processor_kind"`
	AccountToken       string             `json:"-"` // Opaque processor-side token, never expose
	DisplayName        string             `json:"display_name,omitempty"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	VerificationReason *string            `json:"verification_reason,omitempty"` // Why the last check failed
	VerifiedAt         *time.Time         `json:"verified_at,omitempty"`
	IsPrimary          bool               `json:"is_primary"`
	CreatedAt          time.Time          `json:"created_at"`
}

// IsVerified returns true if the processor has verified the account.
func (a *PayoutAccount) IsVerified() bool {
	return a.VerificationStatus == VerificationVerified
}

// ApplyVerification records the outcome of a processor account check made at at.
func (a *PayoutAccount) ApplyVerification(v AccountVerification, at time.Time) {
	a.VerificationStatus = v.Status
	if v.Status == VerificationVerified {
		a.VerificationReason = nil
		a.VerifiedAt = &at
		return
	}
	reason := v.Reason
	a.VerificationReason = &reason
	a.VerifiedAt = nil
}

// AccountVerification is a processor's verdict on a payout account token.
type AccountVerification struct {
	Status VerificationStatus // VerificationVerified or VerificationFailed
	Reason string             // set when Status is VerificationFailed
}

// VerificationPassed is the verdict for an account the processor can pay.
func VerificationPassed() AccountVerification {
	return AccountVerification{Status: VerificationVerified}
}

// VerificationFailedWith is the verdict for an account the processor cannot pay.
func VerificationFailedWith(reason string) AccountVerification {
	return AccountVerification{Status: VerificationFailed, Reason: reason}
}

// VendorProfile is the part of the vendor profile the payout core reads.
type VendorProfile struct {
	VendorID       uuid.UUID        `json:"vendor_id"`
	Currency       string           `json:"currency"`
	CommissionRate *decimal.Decimal `json:"commission_rate,omitempty"` // nil = platform default
}

// EffectiveCommissionRate returns the vendor's rate or def when none is set.
func (p *VendorProfile) EffectiveCommissionRate(def decimal.Decimal) decimal.Decimal {
	if p == nil || p.CommissionRate == nil {
		return def
	}
	return *p.CommissionRate
}
