package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// ChannelStore implements store.ChannelStore using PostgreSQL.
type ChannelStore struct {
	pool *pgxpool.Pool
}

// NewChannelStore creates a new PostgreSQL-backed channel store.
func NewChannelStore(pool *pgxpool.Pool) *ChannelStore {
	return &ChannelStore{
		pool: pool,
	}
}

// PutIdentity creates or replaces a verified channel identity.
func (s *ChannelStore) PutIdentity(ctx context.Context, identity *models.ChannelIdentity) error {
	query := `
		INSERT INTO channel_identities (channel, identifier, user_id, org_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (channel, identifier) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			org_id = EXCLUDED.org_id
	`

	createdAt := identity.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		identity.Channel,
		identity.Identifier,
		identity.UserID,
		identity.OrgID,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to put channel identity: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("channel", identity.Channel).
		Str("user_id", identity.UserID.String()).
		Msg("Stored channel identity")

	return nil
}

// GetIdentity retrieves a verified identity by (channel, identifier).
func (s *ChannelStore) GetIdentity(ctx context.Context, channel, identifier string) (*models.ChannelIdentity, error) {
	query := `
		SELECT channel, identifier, user_id, org_id, created_at
		FROM channel_identities
		WHERE channel = $1 AND identifier = $2
	`

	var identity models.ChannelIdentity
	err := s.pool.QueryRow(ctx, query, channel, identifier).Scan(
		&identity.Channel,
		&identity.Identifier,
		&identity.UserID,
		&identity.OrgID,
		&identity.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrChannelIdentityNotFound
		}
		return nil, fmt.Errorf("failed to get channel identity: %w", mapPostgresError(err))
	}

	return &identity, nil
}

// SetChannelDefault creates or replaces a user's default workspace for a
// channel.
func (s *ChannelStore) SetChannelDefault(ctx context.Context, def *models.ChannelDefault) error {
	query := `
		INSERT INTO channel_defaults (user_id, channel, org_id, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, channel) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, def.UserID, def.Channel, def.OrgID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to set channel default: %w", mapPostgresError(err))
	}

	return nil
}

// GetChannelDefault retrieves a user's default workspace for a channel.
func (s *ChannelStore) GetChannelDefault(ctx context.Context, userID uuid.UUID, channel string) (*models.ChannelDefault, error) {
	query := `
		SELECT user_id, channel, org_id, updated_at
		FROM channel_defaults
		WHERE user_id = $1 AND channel = $2
	`

	var def models.ChannelDefault
	err := s.pool.QueryRow(ctx, query, userID, channel).Scan(
		&def.UserID,
		&def.Channel,
		&def.OrgID,
		&def.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrChannelDefaultNotFound
		}
		return nil, fmt.Errorf("failed to get channel default: %w", mapPostgresError(err))
	}

	return &def, nil
}

// GetConversation retrieves the session bound to (user, channel, thread).
func (s *ChannelStore) GetConversation(ctx context.Context, userID uuid.UUID, channel, threadID string) (*models.ConversationSession, error) {
	query := `
		SELECT user_id, channel, thread_id, org_id, pointers, updated_at
		FROM conversation_sessions
		WHERE user_id = $1 AND channel = $2 AND thread_id = $3
	`

	var session models.ConversationSession
	err := s.pool.QueryRow(ctx, query, userID, channel, threadID).Scan(
		&session.UserID,
		&session.Channel,
		&session.ThreadID,
		&session.OrgID,
		&session.Pointers,
		&session.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrConversationNotFound
		}
		return nil, fmt.Errorf("failed to get conversation session: %w", mapPostgresError(err))
	}

	return &session, nil
}

// BindConversation binds a thread to a workspace. Rebinding to a different
// workspace clears the accumulated entity pointers in the same statement so
// stale references can never survive a workspace switch.
func (s *ChannelStore) BindConversation(ctx context.Context, userID uuid.UUID, channel, threadID string, orgID uuid.UUID) error {
	query := `
		INSERT INTO conversation_sessions (user_id, channel, thread_id, org_id, pointers, updated_at)
		VALUES ($1, $2, $3, $4, '{}', $5)
		ON CONFLICT (user_id, channel, thread_id) DO UPDATE SET
			org_id = EXCLUDED.org_id,
			pointers = '{}',
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query, userID, channel, threadID, orgID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to bind conversation: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", userID.String()).
		Str("channel", channel).
		Str("org_id", orgID.String()).
		Msg("Bound conversation to workspace")

	return nil
}

// SetPointer records an entity pointer on an existing session.
func (s *ChannelStore) SetPointer(ctx context.Context, userID uuid.UUID, channel, threadID, kind, value string) error {
	query := `
		UPDATE conversation_sessions SET
			pointers = jsonb_set(pointers, ARRAY[$4], to_jsonb($5::text)),
			updated_at = now()
		WHERE user_id = $1 AND channel = $2 AND thread_id = $3
	`

	result, err := s.pool.Exec(ctx, query, userID, channel, threadID, kind, value)
	if err != nil {
		return fmt.Errorf("failed to set conversation pointer: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrConversationNotFound
	}

	return nil
}

// DeleteStaleConversations removes sessions not touched since cutoff.
func (s *ChannelStore) DeleteStaleConversations(ctx context.Context, cutoff time.Time) (int, error) {
	query := `
		DELETE FROM conversation_sessions
		WHERE updated_at < $1
	`

	result, err := s.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete stale conversation sessions: %w", mapPostgresError(err))
	}

	return int(result.RowsAffected()), nil
}
