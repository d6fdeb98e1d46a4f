package models

import (
	"time"

	"github.com/google/uuid"
)

// ConversationSession binds one channel thread to an organization. Pointers
// cache the last referenced entities for the thread and must be cleared
// whenever the bound organization changes, so a stale pointer from the old
// tenant can never leak into the new tenant's context.
type ConversationSession struct {
	UserID    uuid.UUID
	Channel   string
	ThreadID  string
	OrgID     uuid.UUID
	Pointers  map[string]string // entity kind -> last referenced id
	UpdatedAt time.Time
}

// ChannelIdentity pre-registers an inbound identifier (phone number or email
// address) against one organization. Identifier-scoped registrations win over
// every other workspace resolution rule.
type ChannelIdentity struct {
	Channel    string
	Identifier string
	UserID     uuid.UUID
	OrgID      uuid.UUID
	CreatedAt  time.Time
}

// ChannelDefault is a user's default organization for one channel type.
// Defaults are distinct per channel.
type ChannelDefault struct {
	UserID    uuid.UUID
	Channel   string
	OrgID     uuid.UUID
	UpdatedAt time.Time
}
