package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// ApprovalStore implements store.ApprovalStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type ApprovalStore struct {
	mu sync.Mutex

	requests map[uuid.UUID]*models.ApprovalRequest
}

// NewApprovalStore creates a new in-memory approval store.
func NewApprovalStore() *ApprovalStore {
	return &ApprovalStore{
		requests: make(map[uuid.UUID]*models.ApprovalRequest),
	}
}

func cloneRequest(req *models.ApprovalRequest) *models.ApprovalRequest {
	clone := *req
	clone.Audit = append([]models.AuditEntry(nil), req.Audit...)
	clone.Task.Parameters = cloneStringMap(req.Task.Parameters)
	clone.Risk.Factors = append([]string(nil), req.Risk.Factors...)
	if req.ApprovedBy != nil {
		id := *req.ApprovedBy
		clone.ApprovedBy = &id
	}
	if req.ApprovedAt != nil {
		at := *req.ApprovedAt
		clone.ApprovedAt = &at
	}
	return &clone
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Create persists a new pending request.
func (s *ApprovalStore) Create(ctx context.Context, req *models.ApprovalRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.requests[req.RequestID] = cloneRequest(req)

	return nil
}

// Get retrieves a request by ID.
func (s *ApprovalStore) Get(ctx context.Context, requestID uuid.UUID) (*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[requestID]
	if !exists {
		return nil, store.ErrApprovalNotFound
	}

	return cloneRequest(req), nil
}

// Resolve transitions a pending request to approved or rejected. The status
// check and the write happen under the same lock, so concurrent responses
// cannot both apply.
func (s *ApprovalStore) Resolve(ctx context.Context, requestID uuid.UUID, status models.ApprovalStatus, actorID uuid.UUID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[requestID]
	if !exists {
		return store.ErrApprovalNotFound
	}
	if req.Status != models.ApprovalPending {
		return store.ErrApprovalNotPending
	}

	now := time.Now()
	req.Status = status
	switch status {
	case models.ApprovalApproved:
		req.ApprovedBy = &actorID
		req.ApprovedAt = &now
		req.Audit = append(req.Audit, models.AuditEntry{
			Action: models.AuditApproved, Actor: actorID, At: now, Note: reason,
		})
	case models.ApprovalRejected:
		req.RejectionReason = reason
		req.Audit = append(req.Audit, models.AuditEntry{
			Action: models.AuditRejected, Actor: actorID, At: now, Note: reason,
		})
	}

	return nil
}

// MarkExpired transitions a pending request to expired.
func (s *ApprovalStore) MarkExpired(ctx context.Context, requestID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, exists := s.requests[requestID]
	if !exists {
		return store.ErrApprovalNotFound
	}
	if req.Status != models.ApprovalPending {
		return store.ErrApprovalNotPending
	}

	req.Status = models.ApprovalExpired
	req.Audit = append(req.Audit, models.AuditEntry{
		Action: models.AuditExpired, At: time.Now(),
	})

	return nil
}

// ListPending returns outstanding requests for an org, newest first.
func (s *ApprovalStore) ListPending(ctx context.Context, orgID uuid.UUID, opts store.ListPendingOptions) ([]*models.ApprovalRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var result []*models.ApprovalRequest
	for _, req := range s.requests {
		if req.OrgID != orgID || req.Status != models.ApprovalPending {
			continue
		}
		if opts.ForUser != uuid.Nil && req.RequestedBy != opts.ForUser {
			continue
		}
		result = append(result, cloneRequest(req))
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})

	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}

	return result, nil
}

// ExpireOverdue marks every pending request past its deadline as expired.
func (s *ApprovalStore) ExpireOverdue(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for _, req := range s.requests {
		if req.Status == models.ApprovalPending && now.After(req.ExpiresAt) {
			req.Status = models.ApprovalExpired
			req.Audit = append(req.Audit, models.AuditEntry{
				Action: models.AuditExpired, At: now,
			})
			count++
		}
	}

	return count, nil
}
