package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

// Decision is the outcome of a capability check. A denied decision carries a
// short reason that is safe to render; an allowed decision may still require
// approval, a second factor or the admin role before invocation.
type Decision struct {
	Allowed          bool
	RequiresApproval bool
	Requires2FA      bool
	RequiresAdmin    bool
	Reason           string

	// Remaining quota after this check. Nil when no limit is configured.
	// Checks never consume quota; only IncrementUsage does.
	DailyRemaining   *int
	MonthlyRemaining *int
}

// Evaluator runs the capability policy pipeline.
type Evaluator struct {
	capabilities store.CapabilityStore
	directory    store.DirectoryStore
	now          func() time.Time
}

// NewEvaluator creates an evaluator. now may be nil, defaulting to time.Now.
func NewEvaluator(capabilities store.CapabilityStore, directory store.DirectoryStore, now func() time.Time) *Evaluator {
	if now == nil {
		now = time.Now
	}
	return &Evaluator{
		capabilities: capabilities,
		directory:    directory,
		now:          now,
	}
}

func deny(reason string) *Decision {
	return &Decision{Allowed: false, Reason: reason}
}

// Check evaluates whether the resolved tenant may invoke a capability. The
// pipeline short-circuits on the first failing stage: capability exists and
// is active, org has enabled it, usage is under its limits, the current time
// falls inside the org's allowed window, approval policy resolves, and
// admin-gated capabilities see an admin role. Reasons on denial name the
// policy outcome but never another tenant.
//
// Checking is a preview: no usage is consumed here.
func (e *Evaluator) Check(ctx context.Context, tc *tenancy.Context, capabilityID string) (*Decision, error) {
	cap, err := e.capabilities.GetCapability(ctx, capabilityID)
	if err != nil {
		if errors.Is(err, store.ErrCapabilityNotFound) {
			return deny("capability not available"), nil
		}
		return nil, fmt.Errorf("failed to load capability: %w", err)
	}
	if !cap.IsActive {
		return deny("capability not available"), nil
	}

	oc, err := e.capabilities.GetOrgCapability(ctx, tc.OrgID, capabilityID)
	if err != nil {
		if errors.Is(err, store.ErrOrgCapabilityNotFound) {
			return deny("capability not enabled for this workspace"), nil
		}
		return nil, fmt.Errorf("failed to load org capability: %w", err)
	}
	if !oc.Enabled {
		return deny("capability not enabled for this workspace"), nil
	}

	if oc.DailyLimit != nil && oc.CurrentDailyUsage >= *oc.DailyLimit {
		d := deny("daily usage limit reached")
		setRemaining(d, oc)
		return d, nil
	}
	if oc.MonthlyLimit != nil && oc.CurrentMonthlyUsage >= *oc.MonthlyLimit {
		d := deny("monthly usage limit reached")
		setRemaining(d, oc)
		return d, nil
	}

	ok, err := e.insideAllowedHours(ctx, tc.OrgID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return deny("outside allowed hours"), nil
	}

	decision := &Decision{
		Allowed:     true,
		Requires2FA: cap.Requires2FA,
	}

	switch oc.ApprovalPolicy {
	case models.ApprovalAlways:
		decision.RequiresApproval = true
	case models.ApprovalNever:
		decision.RequiresApproval = false
	default:
		decision.RequiresApproval = cap.RequiresApproval
	}

	// Admin gating is evaluated after approval resolution and overrides
	// it: an approval can never substitute for the admin role.
	if cap.RequiresAdmin {
		decision.RequiresAdmin = true
		if tc.Role != models.RoleAdmin {
			decision.Allowed = false
			decision.Reason = "administrator role required"
			return decision, nil
		}
	}

	setRemaining(decision, oc)

	return decision, nil
}

// setRemaining fills in the remaining quota for each configured limit,
// clamped at zero so an exhausted counter never reads as negative.
func setRemaining(d *Decision, oc *models.OrgCapability) {
	if oc.DailyLimit != nil {
		remaining := max(*oc.DailyLimit-oc.CurrentDailyUsage, 0)
		d.DailyRemaining = &remaining
	}
	if oc.MonthlyLimit != nil {
		remaining := max(*oc.MonthlyLimit-oc.CurrentMonthlyUsage, 0)
		d.MonthlyRemaining = &remaining
	}
}

// IncrementUsage charges one invocation against the org's counters. Called
// only at actual invocation time, after a successful Check.
func (e *Evaluator) IncrementUsage(ctx context.Context, tc *tenancy.Context, capabilityID string) error {
	if err := e.capabilities.IncrementUsage(ctx, tc.OrgID, capabilityID); err != nil {
		return fmt.Errorf("failed to increment capability usage: %w", err)
	}

	log.Debug().
		Str("org_id", tc.OrgID.String()).
		Str("capability_id", capabilityID).
		Msg("Charged capability usage")

	return nil
}

// ProvisionDefaults enables the low-risk capability set and writes the
// default security policy for a newly created org.
func (e *Evaluator) ProvisionDefaults(ctx context.Context, orgID uuid.UUID) error {
	return EnableDefaults(ctx, e.capabilities, e.directory, orgID)
}

// insideAllowedHours applies the org's hour window, if one is configured.
// No security policy or no window means no time restriction.
func (e *Evaluator) insideAllowedHours(ctx context.Context, orgID uuid.UUID) (bool, error) {
	policy, err := e.directory.GetSecurityPolicy(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrSecurityPolicyNotFound) {
			return true, nil
		}
		return false, fmt.Errorf("failed to load security policy: %w", err)
	}
	if policy.AllowedHours == nil {
		return true, nil
	}

	ok, err := policy.AllowedHours.Contains(e.now())
	if err != nil {
		return false, fmt.Errorf("failed to evaluate hour window: %w", err)
	}

	return ok, nil
}
