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

// DirectoryStore implements store.DirectoryStore using PostgreSQL.
type DirectoryStore struct {
	pool *pgxpool.Pool
}

// NewDirectoryStore creates a new PostgreSQL-backed directory store.
// It shares the connection pool with other stores.
func NewDirectoryStore(pool *pgxpool.Pool) *DirectoryStore {
	return &DirectoryStore{
		pool: pool,
	}
}

// CreateOrganization creates a new organization in the database.
func (s *DirectoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	query := `
		INSERT INTO organizations (
			org_id, slug, name, status, require_2fa, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
	`

	_, err := s.pool.Exec(ctx, query,
		org.OrgID,
		org.Slug,
		org.Name,
		org.Status,
		org.Require2FA,
		org.CreatedAt,
		org.UpdatedAt,
	)

	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrOrganizationAlreadyExists
		}
		return fmt.Errorf("failed to create organization: %w", mapPostgresError(err))
	}

	log.Debug().
		Str("org_id", org.OrgID.String()).
		Str("slug", org.Slug).
		Msg("Created organization")

	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *DirectoryStore) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	return s.getOrganization(ctx, `WHERE org_id = $1`, orgID)
}

// GetOrganizationBySlug retrieves an organization by slug.
func (s *DirectoryStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	return s.getOrganization(ctx, `WHERE slug = $1`, slug)
}

func (s *DirectoryStore) getOrganization(ctx context.Context, where string, arg any) (*models.Organization, error) {
	query := `
		SELECT org_id, slug, name, status, require_2fa, created_at, updated_at
		FROM organizations
	` + where

	var org models.Organization
	err := s.pool.QueryRow(ctx, query, arg).Scan(
		&org.OrgID,
		&org.Slug,
		&org.Name,
		&org.Status,
		&org.Require2FA,
		&org.CreatedAt,
		&org.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrganizationNotFound
		}
		return nil, fmt.Errorf("failed to get organization: %w", mapPostgresError(err))
	}

	return &org, nil
}

// PutMembership creates or replaces a (user, org) membership.
func (s *DirectoryStore) PutMembership(ctx context.Context, m *models.Membership) error {
	query := `
		INSERT INTO memberships (user_id, org_id, role, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, org_id) DO UPDATE SET
			role = EXCLUDED.role,
			status = EXCLUDED.status
	`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query, m.UserID, m.OrgID, m.Role, m.Status, createdAt)
	if err != nil {
		return fmt.Errorf("failed to put membership: %w", mapPostgresError(err))
	}

	return nil
}

// GetMembership retrieves the membership of a user in an organization.
func (s *DirectoryStore) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	query := `
		SELECT user_id, org_id, role, status, created_at
		FROM memberships
		WHERE user_id = $1 AND org_id = $2
	`

	var m models.Membership
	err := s.pool.QueryRow(ctx, query, userID, orgID).Scan(
		&m.UserID,
		&m.OrgID,
		&m.Role,
		&m.Status,
		&m.CreatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", mapPostgresError(err))
	}

	return &m, nil
}

// ListMemberships returns all memberships of a user.
func (s *DirectoryStore) ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	query := `
		SELECT user_id, org_id, role, status, created_at
		FROM memberships
		WHERE user_id = $1
		ORDER BY created_at
	`

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var memberships []*models.Membership
	for rows.Next() {
		var m models.Membership
		err := rows.Scan(&m.UserID, &m.OrgID, &m.Role, &m.Status, &m.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		memberships = append(memberships, &m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return memberships, nil
}

// PutSecurityPolicy creates or replaces an organization's security policy.
func (s *DirectoryStore) PutSecurityPolicy(ctx context.Context, policy *models.SecurityPolicy) error {
	query := `
		INSERT INTO security_policies (
			org_id, allowed_channels,
			window_start_hour, window_end_hour, window_days, window_timezone,
			rate_per_minute, rate_per_day,
			allow_browser_automation, allow_shell_automation,
			retention_days, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)
		ON CONFLICT (org_id) DO UPDATE SET
			allowed_channels = EXCLUDED.allowed_channels,
			window_start_hour = EXCLUDED.window_start_hour,
			window_end_hour = EXCLUDED.window_end_hour,
			window_days = EXCLUDED.window_days,
			window_timezone = EXCLUDED.window_timezone,
			rate_per_minute = EXCLUDED.rate_per_minute,
			rate_per_day = EXCLUDED.rate_per_day,
			allow_browser_automation = EXCLUDED.allow_browser_automation,
			allow_shell_automation = EXCLUDED.allow_shell_automation,
			retention_days = EXCLUDED.retention_days,
			updated_at = EXCLUDED.updated_at
	`

	var (
		startHour, endHour *int
		days               []int16
		timezone           *string
	)
	if w := policy.AllowedHours; w != nil {
		startHour = &w.StartHour
		endHour = &w.EndHour
		timezone = &w.Timezone
		for _, d := range w.Days {
			days = append(days, int16(d))
		}
	}

	createdAt := policy.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err := s.pool.Exec(ctx, query,
		policy.OrgID,
		policy.AllowedChannels,
		startHour,
		endHour,
		days,
		timezone,
		policy.RatePerMinute,
		policy.RatePerDay,
		policy.AllowBrowserAutomation,
		policy.AllowShellAutomation,
		policy.RetentionDays,
		createdAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put security policy: %w", mapPostgresError(err))
	}

	return nil
}

// GetSecurityPolicy retrieves an organization's security policy.
func (s *DirectoryStore) GetSecurityPolicy(ctx context.Context, orgID uuid.UUID) (*models.SecurityPolicy, error) {
	query := `
		SELECT
			org_id, allowed_channels,
			window_start_hour, window_end_hour, window_days, window_timezone,
			rate_per_minute, rate_per_day,
			allow_browser_automation, allow_shell_automation,
			retention_days, created_at, updated_at
		FROM security_policies
		WHERE org_id = $1
	`

	var (
		policy             models.SecurityPolicy
		startHour, endHour *int
		days               []int16
		timezone           *string
	)
	err := s.pool.QueryRow(ctx, query, orgID).Scan(
		&policy.OrgID,
		&policy.AllowedChannels,
		&startHour,
		&endHour,
		&days,
		&timezone,
		&policy.RatePerMinute,
		&policy.RatePerDay,
		&policy.AllowBrowserAutomation,
		&policy.AllowShellAutomation,
		&policy.RetentionDays,
		&policy.CreatedAt,
		&policy.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrSecurityPolicyNotFound
		}
		return nil, fmt.Errorf("failed to get security policy: %w", mapPostgresError(err))
	}

	if startHour != nil && endHour != nil && timezone != nil {
		window := &models.HourWindow{
			StartHour: *startHour,
			EndHour:   *endHour,
			Timezone:  *timezone,
		}
		for _, d := range days {
			window.Days = append(window.Days, time.Weekday(d))
		}
		policy.AllowedHours = window
	}

	return &policy, nil
}
