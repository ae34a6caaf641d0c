package domain

import (
	"github.com/google/uuid"
)

// BuildIdempotencyKey scopes a client-supplied key to its vendor.
// Format: "vendor_id:client_key".
func BuildIdempotencyKey(vendorID uuid.UUID, clientKey string) string {
	return vendorID.String() + ":" + clientKey
}

// BuildAutoPayoutKey is the deterministic key of a scheduler-created payout.
// Format: "auto:vendor_id:period".
func BuildAutoPayoutKey(vendorID uuid.UUID, period string) string {
	return "auto:" + vendorID.String() + ":" + period
}
