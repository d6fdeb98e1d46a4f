package models

import (
	"time"

	"github.com/google/uuid"
)

// OrgStatus is the lifecycle state of an organization.
type OrgStatus string

const (
	OrgStatusActive    OrgStatus = "active"
	OrgStatusSuspended OrgStatus = "suspended"
	OrgStatusArchived  OrgStatus = "archived"
)

// Organization represents a tenant. All protected data in the system belongs
// to exactly one organization.
type Organization struct {
	OrgID      uuid.UUID // UUIDv7
	Slug       string    // unique, used as an out-of-band hint (subdomain/header)
	Name       string
	Status     OrgStatus
	Require2FA bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// IsActive reports whether the organization may serve requests.
func (o *Organization) IsActive() bool {
	return o.Status == OrgStatusActive
}

// MembershipRole is a user's role within one organization.
type MembershipRole string

const (
	RoleAdmin    MembershipRole = "admin"
	RoleEditor   MembershipRole = "editor"
	RoleReviewer MembershipRole = "reviewer"
)

// MembershipStatus is the lifecycle state of a membership.
type MembershipStatus string

const (
	MembershipActive  MembershipStatus = "active"
	MembershipInvited MembershipStatus = "invited"
	MembershipRemoved MembershipStatus = "removed"
)

// Membership links a user to an organization with a role. A user may hold
// many memberships; at most one is the active context for a given session.
type Membership struct {
	UserID    uuid.UUID
	OrgID     uuid.UUID
	Role      MembershipRole
	Status    MembershipStatus
	CreatedAt time.Time
}

// IsActive reports whether the membership grants access.
func (m *Membership) IsActive() bool {
	return m.Status == MembershipActive
}
