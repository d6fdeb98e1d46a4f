package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

type identityKey struct {
	channel    string
	identifier string
}

type channelDefaultKey struct {
	userID  uuid.UUID
	channel string
}

type conversationKey struct {
	userID   uuid.UUID
	channel  string
	threadID string
}

// ChannelStore implements store.ChannelStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type ChannelStore struct {
	mu sync.Mutex

	identities    map[identityKey]*models.ChannelIdentity
	defaults      map[channelDefaultKey]*models.ChannelDefault
	conversations map[conversationKey]*models.ConversationSession
}

// NewChannelStore creates a new in-memory channel store.
func NewChannelStore() *ChannelStore {
	return &ChannelStore{
		identities:    make(map[identityKey]*models.ChannelIdentity),
		defaults:      make(map[channelDefaultKey]*models.ChannelDefault),
		conversations: make(map[conversationKey]*models.ConversationSession),
	}
}

// PutIdentity registers an inbound identifier against one org.
func (s *ChannelStore) PutIdentity(ctx context.Context, identity *models.ChannelIdentity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *identity
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.identities[identityKey{identity.Channel, identity.Identifier}] = &clone

	return nil
}

// GetIdentity looks up a registration by (channel, identifier).
func (s *ChannelStore) GetIdentity(ctx context.Context, channel, identifier string) (*models.ChannelIdentity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	identity, exists := s.identities[identityKey{channel, identifier}]
	if !exists {
		return nil, store.ErrChannelIdentityNotFound
	}

	clone := *identity
	return &clone, nil
}

// SetChannelDefault sets a user's default org for one channel type.
func (s *ChannelStore) SetChannelDefault(ctx context.Context, def *models.ChannelDefault) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *def
	clone.UpdatedAt = time.Now()
	s.defaults[channelDefaultKey{def.UserID, def.Channel}] = &clone

	return nil
}

// GetChannelDefault retrieves a user's default org for a channel.
func (s *ChannelStore) GetChannelDefault(ctx context.Context, userID uuid.UUID, channel string) (*models.ChannelDefault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	def, exists := s.defaults[channelDefaultKey{userID, channel}]
	if !exists {
		return nil, store.ErrChannelDefaultNotFound
	}

	clone := *def
	return &clone, nil
}

// GetConversation retrieves the session for a channel thread.
func (s *ChannelStore) GetConversation(ctx context.Context, userID uuid.UUID, channel, threadID string) (*models.ConversationSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.conversations[conversationKey{userID, channel, threadID}]
	if !exists {
		return nil, store.ErrConversationNotFound
	}

	clone := *session
	clone.Pointers = cloneStringMap(session.Pointers)
	return &clone, nil
}

// BindConversation upserts the thread's org binding and clears every cached
// pointer in the same locked operation.
func (s *ChannelStore) BindConversation(ctx context.Context, userID uuid.UUID, channel, threadID string, orgID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations[conversationKey{userID, channel, threadID}] = &models.ConversationSession{
		UserID:    userID,
		Channel:   channel,
		ThreadID:  threadID,
		OrgID:     orgID,
		Pointers:  nil,
		UpdatedAt: time.Now(),
	}

	return nil
}

// SetPointer caches a last-referenced entity on the thread session.
func (s *ChannelStore) SetPointer(ctx context.Context, userID uuid.UUID, channel, threadID, kind, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, exists := s.conversations[conversationKey{userID, channel, threadID}]
	if !exists {
		return store.ErrConversationNotFound
	}

	if session.Pointers == nil {
		session.Pointers = make(map[string]string)
	}
	session.Pointers[kind] = value
	session.UpdatedAt = time.Now()

	return nil
}

// DeleteStaleConversations removes sessions not touched since cutoff.
func (s *ChannelStore) DeleteStaleConversations(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for key, session := range s.conversations {
		if session.UpdatedAt.Before(cutoff) {
			delete(s.conversations, key)
			count++
		}
	}

	return count, nil
}
