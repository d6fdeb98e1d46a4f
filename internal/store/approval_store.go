package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Sentinel errors for approval store operations
var (
	ErrApprovalNotFound   = errors.New("approval request not found")
	ErrApprovalNotPending = errors.New("approval request not pending")
)

// ListPendingOptions filters a pending-approvals listing.
type ListPendingOptions struct {
	Limit   int       // 0 means no limit
	ForUser uuid.UUID // zero means any requester
}

// ApprovalStore persists approval requests and their audit trails.
//
// Resolve and MarkExpired are conditional on the request still being pending
// and must apply the status change and the audit entry atomically, so two
// concurrent responses to the same request can never both succeed.
type ApprovalStore interface {
	// Create persists a new pending request with its initial audit entry.
	Create(ctx context.Context, req *models.ApprovalRequest) error

	// Get retrieves a request by ID, including its audit trail.
	// Returns ErrApprovalNotFound if it doesn't exist.
	Get(ctx context.Context, requestID uuid.UUID) (*models.ApprovalRequest, error)

	// Resolve transitions a pending request to approved or rejected,
	// recording the actor, optional reason and an audit entry.
	// Returns ErrApprovalNotPending if the request already reached a
	// terminal state, ErrApprovalNotFound if it doesn't exist.
	Resolve(ctx context.Context, requestID uuid.UUID, status models.ApprovalStatus, actorID uuid.UUID, reason string) error

	// MarkExpired transitions a pending request to expired.
	// Returns ErrApprovalNotPending if the request is already terminal.
	MarkExpired(ctx context.Context, requestID uuid.UUID) error

	// ListPending returns outstanding requests for an org, newest first.
	ListPending(ctx context.Context, orgID uuid.UUID, opts ListPendingOptions) ([]*models.ApprovalRequest, error)

	// ExpireOverdue marks every pending request past its deadline as
	// expired. Idempotent; run by the scheduler. Returns the number of
	// requests expired.
	ExpireOverdue(ctx context.Context) (int, error)
}
