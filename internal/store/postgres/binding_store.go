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

// BindingCodeStore implements store.BindingCodeStore using PostgreSQL.
type BindingCodeStore struct {
	pool *pgxpool.Pool
}

// NewBindingCodeStore creates a new PostgreSQL-backed binding code store.
func NewBindingCodeStore(pool *pgxpool.Pool) *BindingCodeStore {
	return &BindingCodeStore{
		pool: pool,
	}
}

// Create persists a new binding code. Returns ErrBindingCodeExists when a
// live code with the same value already exists; expired or used rows with
// the same value are replaced.
func (s *BindingCodeStore) Create(ctx context.Context, code *models.WorkspaceBindingCode) error {
	query := `
		INSERT INTO binding_codes (
			code, user_id, org_id, channel, created_at, expires_at,
			used_at, used_by_channel, used_by_identifier
		) VALUES (
			$1, $2, $3, $4, $5, $6, NULL, '', ''
		)
		ON CONFLICT (code) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			org_id = EXCLUDED.org_id,
			channel = EXCLUDED.channel,
			created_at = EXCLUDED.created_at,
			expires_at = EXCLUDED.expires_at,
			used_at = NULL,
			used_by_channel = '',
			used_by_identifier = ''
		WHERE binding_codes.used_at IS NOT NULL OR binding_codes.expires_at <= now()
	`

	result, err := s.pool.Exec(ctx, query,
		code.Code,
		code.UserID,
		code.OrgID,
		code.Channel,
		code.CreatedAt,
		code.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create binding code: %w", mapPostgresError(err))
	}

	// The conditional upsert skips the write when the existing row is still
	// live, which surfaces as zero rows affected.
	if result.RowsAffected() == 0 {
		return store.ErrBindingCodeExists
	}

	log.Debug().
		Str("user_id", code.UserID.String()).
		Str("org_id", code.OrgID.String()).
		Msg("Created binding code")

	return nil
}

// Get retrieves a binding code by value.
func (s *BindingCodeStore) Get(ctx context.Context, code string) (*models.WorkspaceBindingCode, error) {
	query := `
		SELECT code, user_id, org_id, channel, created_at, expires_at,
			used_at, used_by_channel, used_by_identifier
		FROM binding_codes
		WHERE code = $1
	`

	var bc models.WorkspaceBindingCode
	err := s.pool.QueryRow(ctx, query, code).Scan(
		&bc.Code,
		&bc.UserID,
		&bc.OrgID,
		&bc.Channel,
		&bc.CreatedAt,
		&bc.ExpiresAt,
		&bc.UsedAt,
		&bc.UsedByChannel,
		&bc.UsedByIdentifier,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrBindingCodeNotFound
		}
		return nil, fmt.Errorf("failed to get binding code: %w", mapPostgresError(err))
	}

	return &bc, nil
}

// ActiveCodeExists reports whether an unused, unexpired code with this value
// exists.
func (s *BindingCodeStore) ActiveCodeExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM binding_codes
			WHERE code = $1 AND used_at IS NULL AND expires_at > now()
		)
	`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check binding code: %w", mapPostgresError(err))
	}

	return exists, nil
}

// Consume marks an unused, unexpired code as used in a single conditional
// UPDATE and returns the consumed row. Missing, already used and expired
// codes are indistinguishable to the caller: all return
// ErrBindingCodeNotFound.
func (s *BindingCodeStore) Consume(ctx context.Context, code, usedByChannel, usedByIdentifier string, now time.Time) (*models.WorkspaceBindingCode, error) {
	query := `
		UPDATE binding_codes SET
			used_at = $2,
			used_by_channel = $3,
			used_by_identifier = $4
		WHERE code = $1 AND used_at IS NULL AND expires_at > $2
		RETURNING code, user_id, org_id, channel, created_at, expires_at,
			used_at, used_by_channel, used_by_identifier
	`

	var bc models.WorkspaceBindingCode
	err := s.pool.QueryRow(ctx, query, code, now, usedByChannel, usedByIdentifier).Scan(
		&bc.Code,
		&bc.UserID,
		&bc.OrgID,
		&bc.Channel,
		&bc.CreatedAt,
		&bc.ExpiresAt,
		&bc.UsedAt,
		&bc.UsedByChannel,
		&bc.UsedByIdentifier,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrBindingCodeNotFound
		}
		return nil, fmt.Errorf("failed to consume binding code: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("user_id", bc.UserID.String()).
		Str("channel", usedByChannel).
		Msg("Consumed binding code")

	return &bc, nil
}

// ListActiveByUser returns the user's unused, unexpired codes.
func (s *BindingCodeStore) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.WorkspaceBindingCode, error) {
	query := `
		SELECT code, user_id, org_id, channel, created_at, expires_at,
			used_at, used_by_channel, used_by_identifier
		FROM binding_codes
		WHERE user_id = $1 AND used_at IS NULL AND expires_at > now()
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list binding codes: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var codes []*models.WorkspaceBindingCode
	for rows.Next() {
		var bc models.WorkspaceBindingCode
		err := rows.Scan(
			&bc.Code,
			&bc.UserID,
			&bc.OrgID,
			&bc.Channel,
			&bc.CreatedAt,
			&bc.ExpiresAt,
			&bc.UsedAt,
			&bc.UsedByChannel,
			&bc.UsedByIdentifier,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan binding code: %w", err)
		}
		codes = append(codes, &bc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating binding codes: %w", err)
	}

	return codes, nil
}

// DeleteExpired removes codes whose expiry has passed. Returns the number of
// rows deleted.
func (s *BindingCodeStore) DeleteExpired(ctx context.Context) (int, error) {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM binding_codes WHERE expires_at <= now()
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired binding codes: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Deleted expired binding codes")
	}

	return count, nil
}
