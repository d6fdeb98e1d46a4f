package models

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel classifies how dangerous a capability is. It drives default
// approval, 2FA and admin requirements.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Capability is a global definition of a gated action. Identifiers are
// dotted namespaced strings (e.g. "kiisha.ticket.create") treated as opaque
// keys. Definitions are seeded once and immutable at runtime except by
// administrative action.
type Capability struct {
	ID               string
	Category         string
	RiskLevel        RiskLevel
	RequiresApproval bool
	Requires2FA      bool
	RequiresAdmin    bool
	IsActive         bool
}

// ApprovalPolicy is an org-level override of a capability's approval default.
type ApprovalPolicy string

const (
	ApprovalInherit ApprovalPolicy = "inherit"
	ApprovalAlways  ApprovalPolicy = "always"
	ApprovalNever   ApprovalPolicy = "never"
)

// OrgCapability is the per-(org, capability) enablement row. Usage counters
// are mutated only by successful invocations and reset by the scheduler.
type OrgCapability struct {
	OrgID               uuid.UUID
	CapabilityID        string
	Enabled             bool
	ApprovalPolicy      ApprovalPolicy
	DailyLimit          *int // nil means unlimited
	MonthlyLimit        *int
	CurrentDailyUsage   int
	CurrentMonthlyUsage int
	UpdatedAt           time.Time
}
