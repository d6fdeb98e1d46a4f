package models

import (
	"time"

	"github.com/google/uuid"
)

// WorkspaceBindingCode is a short-lived, single-use numeric code that links
// an external channel identity to one organization. Codes are created from an
// authenticated web session and consumed exactly once by a channel message.
type WorkspaceBindingCode struct {
	Code      string    // 6-digit zero-padded
	UserID    uuid.UUID // owner; redemption by anyone else fails
	OrgID     uuid.UUID
	Channel   string // optional; empty means any channel may redeem
	CreatedAt time.Time
	ExpiresAt time.Time

	UsedAt           *time.Time
	UsedByChannel    string
	UsedByIdentifier string
}

// IsUsed reports whether the code has been consumed.
func (c *WorkspaceBindingCode) IsUsed() bool {
	return c.UsedAt != nil
}

// IsExpired reports whether the code is past its expiry at t.
func (c *WorkspaceBindingCode) IsExpired(t time.Time) bool {
	return t.After(c.ExpiresAt)
}
