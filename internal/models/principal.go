package models

import (
	"github.com/google/uuid"
)

// Principal is an authenticated caller as established by the auth middleware.
// It carries identity only; tenant context is resolved per request.
type Principal struct {
	// UserID is the authenticated user.
	UserID uuid.UUID

	// SessionOrgID is the session-level active organization, if the user
	// has selected one. Zero when unset.
	SessionOrgID uuid.UUID

	// TwoFactorEnrolled reports whether the user has an enrolled second
	// factor.
	TwoFactorEnrolled bool
}
