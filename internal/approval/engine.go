package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/notify"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/telemetry"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

// RequestTTL is how long a request stays actionable after creation.
const RequestTTL = 24 * time.Hour

// Terminal outcomes of response processing
var (
	// ErrAlreadyProcessed is returned when a response arrives for a
	// request that already reached a terminal state. Double-processing is
	// denied idempotently, never retried.
	ErrAlreadyProcessed = errors.New("approval request already processed")

	// ErrExpired is returned when a response arrives after the request's
	// deadline. The request is flipped to expired as a side effect.
	ErrExpired = errors.New("approval request expired")
)

// Action is a reviewer's response to a pending request.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Engine owns the approval request lifecycle: creation with risk assessment,
// response processing, expiry.
type Engine struct {
	approvals    store.ApprovalStore
	capabilities store.CapabilityStore
	notifier     notify.Notifier
	now          func() time.Time
}

// NewEngine creates an engine. notifier may be nil to disable notifications;
// now may be nil, defaulting to time.Now.
func NewEngine(approvals store.ApprovalStore, capabilities store.CapabilityStore, notifier notify.Notifier, now func() time.Time) *Engine {
	if now == nil {
		now = time.Now
	}
	return &Engine{
		approvals:    approvals,
		capabilities: capabilities,
		notifier:     notifier,
		now:          now,
	}
}

// CreateRequest opens a pending approval request for a proposed task. The
// risk tier is inherited from the capability and augmented with contextual
// factors from the task itself. The request expires RequestTTL after
// creation. Callers only reach this after policy evaluation determined
// approval is required; nothing here auto-approves.
func (e *Engine) CreateRequest(ctx context.Context, tc *tenancy.Context, capabilityID string, task models.TaskSpec) (*models.ApprovalRequest, error) {
	cap, err := e.capabilities.GetCapability(ctx, capabilityID)
	if err != nil {
		return nil, fmt.Errorf("failed to load capability: %w", err)
	}

	now := e.now()
	req := &models.ApprovalRequest{
		RequestID:    uuid.Must(uuid.NewV7()),
		OrgID:        tc.OrgID,
		RequestedBy:  tc.UserID,
		CapabilityID: capabilityID,
		Task:         task,
		Summary:      task.Summary,
		Risk:         assessRisk(cap, task),
		Status:       models.ApprovalPending,
		CreatedAt:    now,
		ExpiresAt:    now.Add(RequestTTL),
		Audit: []models.AuditEntry{
			{Action: models.AuditCreated, Actor: tc.UserID, At: now},
		},
	}

	if err := e.approvals.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to create approval request: %w", err)
	}

	log.Info().
		Str("request_id", req.RequestID.String()).
		Str("org_id", req.OrgID.String()).
		Str("capability_id", capabilityID).
		Str("risk_level", string(req.Risk.Level)).
		Msg("Created approval request")

	notify.Dispatch(context.WithoutCancel(ctx), e.notifier, req)

	return req, nil
}

// assessRisk builds the structured assessment: the capability's tier plus
// factors contributed by the task's nature.
func assessRisk(cap *models.Capability, task models.TaskSpec) models.RiskAssessment {
	assessment := models.RiskAssessment{Level: cap.RiskLevel}

	switch task.Kind {
	case models.TaskBrowser:
		assessment.Factors = append(assessment.Factors, "browser automation involved")
	case models.TaskShell:
		assessment.Factors = append(assessment.Factors, "shell automation involved")
	case models.TaskPayment:
		assessment.Factors = append(assessment.Factors, "financial transaction")
	}

	if cap.RiskLevel == models.RiskHigh || cap.RiskLevel == models.RiskCritical {
		assessment.Factors = append(assessment.Factors, fmt.Sprintf("%s risk capability", cap.RiskLevel))
	}

	return assessment
}

// ProcessResponse applies a reviewer's decision to a pending request. The
// reviewer acts within their resolved tenant; a request belonging to another
// org is reported as not found, identically to one that never existed.
//
// A request that already reached a terminal state returns
// ErrAlreadyProcessed. A request past its deadline is flipped to expired and
// returns ErrExpired. Otherwise the request transitions to approved or
// rejected, recording the actor, optional reason and an audit entry; the
// transition is atomic, so a concurrent duplicate response gets
// ErrAlreadyProcessed.
func (e *Engine) ProcessResponse(ctx context.Context, tc *tenancy.Context, requestID uuid.UUID, action Action, reason string) (*models.ApprovalRequest, error) {
	req, err := e.approvals.Get(ctx, requestID)
	if err != nil {
		if errors.Is(err, store.ErrApprovalNotFound) {
			return nil, apperr.NotFound("approval request not found")
		}
		return nil, fmt.Errorf("failed to load approval request: %w", err)
	}

	if req.OrgID != tc.OrgID {
		return nil, apperr.NotFound("approval request not found")
	}

	if req.IsTerminal() {
		return nil, ErrAlreadyProcessed
	}

	if req.IsExpired(e.now()) {
		err := e.approvals.MarkExpired(ctx, requestID)
		if err != nil && !errors.Is(err, store.ErrApprovalNotPending) {
			return nil, fmt.Errorf("failed to expire approval request: %w", err)
		}
		return nil, ErrExpired
	}

	var status models.ApprovalStatus
	switch action {
	case ActionApprove:
		status = models.ApprovalApproved
	case ActionReject:
		status = models.ApprovalRejected
	default:
		return nil, fmt.Errorf("unknown approval action %q", action)
	}

	err = e.approvals.Resolve(ctx, requestID, status, tc.UserID, reason)
	if err != nil {
		if errors.Is(err, store.ErrApprovalNotPending) {
			return nil, ErrAlreadyProcessed
		}
		return nil, fmt.Errorf("failed to resolve approval request: %w", err)
	}

	log.Info().
		Str("request_id", requestID.String()).
		Str("status", string(status)).
		Str("actor", tc.UserID.String()).
		Msg("Processed approval response")

	return e.approvals.Get(ctx, requestID)
}

// PendingApprovals lists an org's outstanding requests, newest first, with
// risk levels surfaced for triage.
func (e *Engine) PendingApprovals(ctx context.Context, tc *tenancy.Context, opts store.ListPendingOptions) ([]*models.ApprovalRequest, error) {
	return e.approvals.ListPending(ctx, tc.OrgID, opts)
}

// ExpireOverdue sweeps pending requests past their deadline. Run by the
// scheduler.
func (e *Engine) ExpireOverdue(ctx context.Context) (int, error) {
	count, err := e.approvals.ExpireOverdue(ctx)
	if err != nil {
		return 0, err
	}
	if count > 0 {
		telemetry.GetMetrics().ApprovalsExpiredTotal.Add(ctx, int64(count))
	}
	return count, nil
}
