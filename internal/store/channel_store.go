package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Sentinel errors for channel store operations
var (
	ErrChannelIdentityNotFound = errors.New("channel identity not found")
	ErrChannelDefaultNotFound  = errors.New("channel default not found")
	ErrConversationNotFound    = errors.New("conversation session not found")
)

// ChannelStore persists the channel-side tenancy state: identifier
// registrations, per-channel default orgs and conversation sessions.
type ChannelStore interface {
	// PutIdentity registers an inbound identifier against one org.
	PutIdentity(ctx context.Context, identity *models.ChannelIdentity) error

	// GetIdentity looks up a registration by (channel, identifier).
	// Returns ErrChannelIdentityNotFound if none exists.
	GetIdentity(ctx context.Context, channel, identifier string) (*models.ChannelIdentity, error)

	// SetChannelDefault sets a user's default org for one channel type.
	SetChannelDefault(ctx context.Context, def *models.ChannelDefault) error

	// GetChannelDefault retrieves a user's default org for a channel.
	// Returns ErrChannelDefaultNotFound if none is configured.
	GetChannelDefault(ctx context.Context, userID uuid.UUID, channel string) (*models.ChannelDefault, error)

	// GetConversation retrieves the session for a channel thread.
	// Returns ErrConversationNotFound if the thread has no session.
	GetConversation(ctx context.Context, userID uuid.UUID, channel, threadID string) (*models.ConversationSession, error)

	// BindConversation upserts the thread's org binding and clears every
	// cached pointer. Clearing must happen in the same operation as the
	// rebind so a stale pointer from the previous org can never be read
	// against the new one.
	BindConversation(ctx context.Context, userID uuid.UUID, channel, threadID string, orgID uuid.UUID) error

	// SetPointer caches a last-referenced entity on the thread session.
	// Returns ErrConversationNotFound if the thread has no session.
	SetPointer(ctx context.Context, userID uuid.UUID, channel, threadID, kind, value string) error

	// DeleteStaleConversations removes sessions not touched since cutoff.
	// Run by the scheduler. Returns the number of sessions removed.
	DeleteStaleConversations(ctx context.Context, cutoff time.Time) (int, error)
}
