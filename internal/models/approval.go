package models

import (
	"time"

	"github.com/google/uuid"
)

// ApprovalStatus is the state of an approval request. Approved, rejected and
// expired are terminal; a request is immutable once terminal.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
	ApprovalExpired  ApprovalStatus = "expired"
)

// TaskKind tags the type of action an agent proposes to perform.
type TaskKind string

const (
	TaskTicket  TaskKind = "ticket"
	TaskMessage TaskKind = "message"
	TaskPayment TaskKind = "payment"
	TaskBrowser TaskKind = "browser"
	TaskShell   TaskKind = "shell"
	TaskGeneric TaskKind = "generic"
)

// TaskSpec is a structured description of a proposed action.
type TaskSpec struct {
	Kind       TaskKind
	Summary    string
	Target     string // entity the action operates on, if any
	Parameters map[string]string
}

// RiskAssessment captures the risk tier of a proposed action plus the
// contextual factors that contributed to it.
type RiskAssessment struct {
	Level   RiskLevel
	Factors []string
}

// AuditAction is a recorded event in an approval request's audit trail.
type AuditAction string

const (
	AuditCreated  AuditAction = "created"
	AuditApproved AuditAction = "approved"
	AuditRejected AuditAction = "rejected"
	AuditExpired  AuditAction = "expired"
)

// AuditEntry is one event in the append-only audit trail.
type AuditEntry struct {
	Action AuditAction
	Actor  uuid.UUID // zero for time-triggered events
	At     time.Time
	Note   string
}

// ApprovalRequest tracks a time-boxed human sign-off for a capability
// invocation. Requests expire 24 hours after creation.
type ApprovalRequest struct {
	RequestID       uuid.UUID // UUIDv7, opaque token
	OrgID           uuid.UUID
	RequestedBy     uuid.UUID
	CapabilityID    string
	Task            TaskSpec
	Summary         string
	Risk            RiskAssessment
	Status          ApprovalStatus
	CreatedAt       time.Time
	ExpiresAt       time.Time
	ApprovedBy      *uuid.UUID
	ApprovedAt      *time.Time
	RejectionReason string
	Audit           []AuditEntry
}

// IsExpired reports whether the request's deadline has passed at t.
func (r *ApprovalRequest) IsExpired(t time.Time) bool {
	return t.After(r.ExpiresAt)
}

// IsTerminal reports whether the request has reached a final state.
func (r *ApprovalRequest) IsTerminal() bool {
	return r.Status != ApprovalPending
}
