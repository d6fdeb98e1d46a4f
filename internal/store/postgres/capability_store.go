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

// CapabilityStore implements store.CapabilityStore using PostgreSQL.
type CapabilityStore struct {
	pool *pgxpool.Pool
}

// NewCapabilityStore creates a new PostgreSQL-backed capability store.
func NewCapabilityStore(pool *pgxpool.Pool) *CapabilityStore {
	return &CapabilityStore{
		pool: pool,
	}
}

// PutCapability creates or replaces a global capability definition.
func (s *CapabilityStore) PutCapability(ctx context.Context, cap *models.Capability) error {
	query := `
		INSERT INTO capabilities (
			capability_id, category, risk_level,
			requires_approval, requires_2fa, requires_admin, is_active
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		)
		ON CONFLICT (capability_id) DO UPDATE SET
			category = EXCLUDED.category,
			risk_level = EXCLUDED.risk_level,
			requires_approval = EXCLUDED.requires_approval,
			requires_2fa = EXCLUDED.requires_2fa,
			requires_admin = EXCLUDED.requires_admin,
			is_active = EXCLUDED.is_active
	`

	_, err := s.pool.Exec(ctx, query,
		cap.ID,
		cap.Category,
		cap.RiskLevel,
		cap.RequiresApproval,
		cap.Requires2FA,
		cap.RequiresAdmin,
		cap.IsActive,
	)
	if err != nil {
		return fmt.Errorf("failed to put capability: %w", mapPostgresError(err))
	}

	return nil
}

// GetCapability retrieves a capability definition by ID.
func (s *CapabilityStore) GetCapability(ctx context.Context, id string) (*models.Capability, error) {
	query := `
		SELECT capability_id, category, risk_level,
			requires_approval, requires_2fa, requires_admin, is_active
		FROM capabilities
		WHERE capability_id = $1
	`

	var cap models.Capability
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&cap.ID,
		&cap.Category,
		&cap.RiskLevel,
		&cap.RequiresApproval,
		&cap.Requires2FA,
		&cap.RequiresAdmin,
		&cap.IsActive,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrCapabilityNotFound
		}
		return nil, fmt.Errorf("failed to get capability: %w", mapPostgresError(err))
	}

	return &cap, nil
}

// ListCapabilities returns every capability definition.
func (s *CapabilityStore) ListCapabilities(ctx context.Context) ([]*models.Capability, error) {
	query := `
		SELECT capability_id, category, risk_level,
			requires_approval, requires_2fa, requires_admin, is_active
		FROM capabilities
		ORDER BY capability_id
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list capabilities: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var capabilities []*models.Capability
	for rows.Next() {
		var cap models.Capability
		err := rows.Scan(
			&cap.ID,
			&cap.Category,
			&cap.RiskLevel,
			&cap.RequiresApproval,
			&cap.Requires2FA,
			&cap.RequiresAdmin,
			&cap.IsActive,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan capability: %w", err)
		}
		capabilities = append(capabilities, &cap)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating capabilities: %w", err)
	}

	return capabilities, nil
}

// PutOrgCapability creates or replaces a per-org enablement row.
func (s *CapabilityStore) PutOrgCapability(ctx context.Context, oc *models.OrgCapability) error {
	query := `
		INSERT INTO org_capabilities (
			org_id, capability_id, enabled, approval_policy,
			daily_limit, monthly_limit,
			current_daily_usage, current_monthly_usage, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9
		)
		ON CONFLICT (org_id, capability_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			approval_policy = EXCLUDED.approval_policy,
			daily_limit = EXCLUDED.daily_limit,
			monthly_limit = EXCLUDED.monthly_limit,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		oc.OrgID,
		oc.CapabilityID,
		oc.Enabled,
		oc.ApprovalPolicy,
		oc.DailyLimit,
		oc.MonthlyLimit,
		oc.CurrentDailyUsage,
		oc.CurrentMonthlyUsage,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to put org capability: %w", mapPostgresError(err))
	}

	return nil
}

// GetOrgCapability retrieves the enablement row for (org, capability).
func (s *CapabilityStore) GetOrgCapability(ctx context.Context, orgID uuid.UUID, capabilityID string) (*models.OrgCapability, error) {
	query := `
		SELECT org_id, capability_id, enabled, approval_policy,
			daily_limit, monthly_limit,
			current_daily_usage, current_monthly_usage, updated_at
		FROM org_capabilities
		WHERE org_id = $1 AND capability_id = $2
	`

	var oc models.OrgCapability
	err := s.pool.QueryRow(ctx, query, orgID, capabilityID).Scan(
		&oc.OrgID,
		&oc.CapabilityID,
		&oc.Enabled,
		&oc.ApprovalPolicy,
		&oc.DailyLimit,
		&oc.MonthlyLimit,
		&oc.CurrentDailyUsage,
		&oc.CurrentMonthlyUsage,
		&oc.UpdatedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrOrgCapabilityNotFound
		}
		return nil, fmt.Errorf("failed to get org capability: %w", mapPostgresError(err))
	}

	return &oc, nil
}

// IncrementUsage atomically bumps both usage counters in a single UPDATE, so
// concurrent invocations serialize at the row and can never both observe a
// stale under-limit value.
func (s *CapabilityStore) IncrementUsage(ctx context.Context, orgID uuid.UUID, capabilityID string) error {
	query := `
		UPDATE org_capabilities SET
			current_daily_usage = current_daily_usage + 1,
			current_monthly_usage = current_monthly_usage + 1,
			updated_at = now()
		WHERE org_id = $1 AND capability_id = $2
	`

	result, err := s.pool.Exec(ctx, query, orgID, capabilityID)
	if err != nil {
		return fmt.Errorf("failed to increment usage: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		return store.ErrOrgCapabilityNotFound
	}

	return nil
}

// ResetDailyUsage zeroes every daily counter.
func (s *CapabilityStore) ResetDailyUsage(ctx context.Context) (int, error) {
	query := `
		UPDATE org_capabilities SET
			current_daily_usage = 0,
			updated_at = now()
		WHERE current_daily_usage <> 0
	`

	result, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset daily usage: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Reset daily capability usage")
	}

	return count, nil
}

// ResetMonthlyUsage zeroes every monthly counter.
func (s *CapabilityStore) ResetMonthlyUsage(ctx context.Context) (int, error) {
	query := `
		UPDATE org_capabilities SET
			current_monthly_usage = 0,
			updated_at = now()
		WHERE current_monthly_usage <> 0
	`

	result, err := s.pool.Exec(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("failed to reset monthly usage: %w", mapPostgresError(err))
	}

	count := int(result.RowsAffected())
	if count > 0 {
		log.Info().Int("count", count).Msg("Reset monthly capability usage")
	}

	return count, nil
}
