package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// ApprovalStore implements store.ApprovalStore using PostgreSQL.
type ApprovalStore struct {
	pool *pgxpool.Pool
}

// NewApprovalStore creates a new PostgreSQL-backed approval store.
func NewApprovalStore(pool *pgxpool.Pool) *ApprovalStore {
	return &ApprovalStore{
		pool: pool,
	}
}

// Create persists a new approval request along with its initial audit entries.
func (s *ApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	query := `
		INSERT INTO approval_requests (
			request_id, org_id, requested_by, capability_id,
			task_kind, task_summary, task_target, task_parameters,
			summary, risk_level, risk_factors,
			status, created_at, expires_at,
			approved_by, approved_at, rejection_reason
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
		)
	`

	params := req.Task.Parameters
	if params == nil {
		params = map[string]string{}
	}

	_, err = tx.Exec(ctx, query,
		req.RequestID,
		req.OrgID,
		req.RequestedBy,
		req.CapabilityID,
		req.Task.Kind,
		req.Task.Summary,
		req.Task.Target,
		params,
		req.Summary,
		req.Risk.Level,
		req.Risk.Factors,
		req.Status,
		req.CreatedAt,
		req.ExpiresAt,
		req.ApprovedBy,
		req.ApprovedAt,
		req.RejectionReason,
	)
	if err != nil {
		return fmt.Errorf("failed to create approval request: %w", mapPostgresError(err))
	}

	for _, entry := range req.Audit {
		if err := insertAuditEntry(ctx, tx, req.RequestID, entry); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit approval request: %w", err)
	}

	log.Debug().
		Str("request_id", req.RequestID.String()).
		Str("capability_id", req.CapabilityID).
		Msg("Created approval request")

	return nil
}

// Get retrieves an approval request with its full audit trail.
func (s *ApprovalStore) Get(ctx context.Context, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	query := `
		SELECT request_id, org_id, requested_by, capability_id,
			task_kind, task_summary, task_target, task_parameters,
			summary, risk_level, risk_factors,
			status, created_at, expires_at,
			approved_by, approved_at, rejection_reason
		FROM approval_requests
		WHERE request_id = $1
	`

	req, err := scanApprovalRequest(s.pool.QueryRow(ctx, query, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrApprovalNotFound
		}
		return nil, fmt.Errorf("failed to get approval request: %w", mapPostgresError(err))
	}

	audit, err := s.loadAudit(ctx, requestID)
	if err != nil {
		return nil, err
	}
	req.Audit = audit

	return req, nil
}

// Resolve transitions a pending request to approved or rejected. The status
// check and the write happen in one conditional UPDATE inside a transaction
// that also records the audit entry, so a request can only ever be resolved
// once.
func (s *ApprovalStore) Resolve(ctx context.Context, requestID uuid.UUID, status models.ApprovalStatus, actorID uuid.UUID, reason string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	var (
		query  string
		result pgconn.CommandTag
	)

	switch status {
	case models.ApprovalApproved:
		query = `
			UPDATE approval_requests SET
				status = $2,
				approved_by = $3,
				approved_at = now()
			WHERE request_id = $1 AND status = 'pending'
		`
		result, err = tx.Exec(ctx, query, requestID, status, actorID)
	case models.ApprovalRejected:
		query = `
			UPDATE approval_requests SET
				status = $2,
				rejection_reason = $3
			WHERE request_id = $1 AND status = 'pending'
		`
		result, err = tx.Exec(ctx, query, requestID, status, reason)
	default:
		return fmt.Errorf("cannot resolve approval request to status %q", status)
	}

	if err != nil {
		return fmt.Errorf("failed to resolve approval request: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		// Distinguish missing from already-resolved.
		var exists bool
		err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM approval_requests WHERE request_id = $1)`, requestID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check approval request: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrApprovalNotFound
		}
		return store.ErrApprovalNotPending
	}

	entry := models.AuditEntry{
		Action: models.AuditApproved,
		Actor:  actorID,
		At:     time.Now(),
		Note:   reason,
	}
	if status == models.ApprovalRejected {
		entry.Action = models.AuditRejected
	}
	if err := insertAuditEntry(ctx, tx, requestID, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit approval resolution: %w", err)
	}

	log.Debug().
		Str("request_id", requestID.String()).
		Str("status", string(status)).
		Msg("Resolved approval request")

	return nil
}

// MarkExpired transitions a pending request to expired.
func (s *ApprovalStore) MarkExpired(ctx context.Context, requestID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	result, err := tx.Exec(ctx, `
		UPDATE approval_requests SET status = 'expired'
		WHERE request_id = $1 AND status = 'pending'
	`, requestID)
	if err != nil {
		return fmt.Errorf("failed to mark approval request expired: %w", mapPostgresError(err))
	}

	if result.RowsAffected() == 0 {
		var exists bool
		err = tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM approval_requests WHERE request_id = $1)`, requestID).Scan(&exists)
		if err != nil {
			return fmt.Errorf("failed to check approval request: %w", mapPostgresError(err))
		}
		if !exists {
			return store.ErrApprovalNotFound
		}
		return store.ErrApprovalNotPending
	}

	entry := models.AuditEntry{
		Action: models.AuditExpired,
		At:     time.Now(),
	}
	if err := insertAuditEntry(ctx, tx, requestID, entry); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit approval expiry: %w", err)
	}

	return nil
}

// ListPending returns pending requests for an organization, newest first.
func (s *ApprovalStore) ListPending(ctx context.Context, orgID uuid.UUID, opts store.ListPendingOptions) ([]*models.ApprovalRequest, error) {
	query := `
		SELECT request_id, org_id, requested_by, capability_id,
			task_kind, task_summary, task_target, task_parameters,
			summary, risk_level, risk_factors,
			status, created_at, expires_at,
			approved_by, approved_at, rejection_reason
		FROM approval_requests
		WHERE org_id = $1 AND status = 'pending'
	`

	args := []any{orgID}
	if opts.ForUser != uuid.Nil {
		query += ` AND requested_by = $2`
		args = append(args, opts.ForUser)
	}
	query += ` ORDER BY created_at DESC`
	if opts.Limit > 0 {
		query += fmt.Sprintf(` LIMIT %d`, opts.Limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending approvals: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var requests []*models.ApprovalRequest
	for rows.Next() {
		req, err := scanApprovalRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval request: %w", err)
		}
		requests = append(requests, req)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating approval requests: %w", err)
	}

	return requests, nil
}

// ExpireOverdue marks every pending request past its deadline as expired and
// records an audit entry for each. Returns the number of requests expired.
func (s *ApprovalStore) ExpireOverdue(ctx context.Context) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback is safe to call after commit

	rows, err := tx.Query(ctx, `
		UPDATE approval_requests SET status = 'expired'
		WHERE status = 'pending' AND expires_at <= now()
		RETURNING request_id
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to expire overdue approvals: %w", mapPostgresError(err))
	}

	var expired []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return 0, fmt.Errorf("failed to scan expired request id: %w", err)
		}
		expired = append(expired, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, fmt.Errorf("error iterating expired requests: %w", err)
	}

	now := time.Now()
	for _, id := range expired {
		entry := models.AuditEntry{Action: models.AuditExpired, At: now}
		if err := insertAuditEntry(ctx, tx, id, entry); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit approval expiry sweep: %w", err)
	}

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Expired overdue approval requests")
	}

	return len(expired), nil
}

func (s *ApprovalStore) loadAudit(ctx context.Context, requestID uuid.UUID) ([]models.AuditEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT action, actor, at, note
		FROM approval_audit_entries
		WHERE request_id = $1
		ORDER BY id
	`, requestID)
	if err != nil {
		return nil, fmt.Errorf("failed to load audit entries: %w", mapPostgresError(err))
	}
	defer rows.Close()

	var audit []models.AuditEntry
	for rows.Next() {
		var (
			entry models.AuditEntry
			actor *uuid.UUID
		)
		if err := rows.Scan(&entry.Action, &actor, &entry.At, &entry.Note); err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		if actor != nil {
			entry.Actor = *actor
		}
		audit = append(audit, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return audit, nil
}

func insertAuditEntry(ctx context.Context, tx pgx.Tx, requestID uuid.UUID, entry models.AuditEntry) error {
	var actor *uuid.UUID
	if entry.Actor != uuid.Nil {
		actor = &entry.Actor
	}

	_, err := tx.Exec(ctx, `
		INSERT INTO approval_audit_entries (request_id, action, actor, at, note)
		VALUES ($1, $2, $3, $4, $5)
	`, requestID, entry.Action, actor, entry.At, entry.Note)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", mapPostgresError(err))
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanApprovalRequest(row rowScanner) (*models.ApprovalRequest, error) {
	var req models.ApprovalRequest
	err := row.Scan(
		&req.RequestID,
		&req.OrgID,
		&req.RequestedBy,
		&req.CapabilityID,
		&req.Task.Kind,
		&req.Task.Summary,
		&req.Task.Target,
		&req.Task.Parameters,
		&req.Summary,
		&req.Risk.Level,
		&req.Risk.Factors,
		&req.Status,
		&req.CreatedAt,
		&req.ExpiresAt,
		&req.ApprovedBy,
		&req.ApprovedAt,
		&req.RejectionReason,
	)
	if err != nil {
		return nil, err
	}
	return &req, nil
}
