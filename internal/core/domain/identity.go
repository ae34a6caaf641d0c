package domain

import (
	"github.com/google/uuid"
)

// Role of an authenticated caller, as asserted by the identity service.
type Role string

const (
	RoleVendor Role = "vendor"
	RoleAdmin  Role = "admin"
)

// Identity is the authenticated caller of an inbound request.
type Identity struct {
	Subject  string
	Role     Role
	VendorID uuid.UUID // zero for admins
}

// IsAdmin returns true for platform administrators.
func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}

// CanAccessVendor reports whether the caller may act on vendorID's resources.
func (i Identity) CanAccessVendor(vendorID uuid.UUID) bool {
	return i.IsAdmin() || (i.Role == RoleVendor && i.VendorID == vendorID)
}

// Actor renders the identity for transition history, e.g. "vendor:<sub>".
func (i Identity) Actor() string {
	return string(i.Role) + ":" + i.Subject
}

// Actors for transitions not caused by an inbound request.
const (
	ActorScheduler = "system:scheduler"
	ActorWebhook   = "system:webhook"
)
