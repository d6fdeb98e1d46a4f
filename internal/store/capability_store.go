package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Sentinel errors for capability store operations
var (
	ErrCapabilityNotFound    = errors.New("capability not found")
	ErrOrgCapabilityNotFound = errors.New("org capability not found")
)

// CapabilityStore holds the global capability registry and the per-org
// enablement rows with their usage counters.
type CapabilityStore interface {
	// PutCapability creates or replaces a global capability definition.
	// Used by registry seeding and administrative updates.
	PutCapability(ctx context.Context, cap *models.Capability) error

	// GetCapability retrieves a capability definition by ID.
	// Returns ErrCapabilityNotFound if it doesn't exist.
	GetCapability(ctx context.Context, id string) (*models.Capability, error)

	// ListCapabilities returns every capability definition.
	ListCapabilities(ctx context.Context) ([]*models.Capability, error)

	// PutOrgCapability creates or replaces a per-org enablement row.
	PutOrgCapability(ctx context.Context, oc *models.OrgCapability) error

	// GetOrgCapability retrieves the enablement row for (org, capability).
	// Returns ErrOrgCapabilityNotFound if the org never enabled it.
	GetOrgCapability(ctx context.Context, orgID uuid.UUID, capabilityID string) (*models.OrgCapability, error)

	// IncrementUsage atomically bumps both usage counters for
	// (org, capability). It must be a single conditional operation, never a
	// read-modify-write, so concurrent invocations cannot both observe a
	// stale under-limit value.
	// Returns ErrOrgCapabilityNotFound if the row doesn't exist.
	IncrementUsage(ctx context.Context, orgID uuid.UUID, capabilityID string) error

	// ResetDailyUsage zeroes every daily counter. Idempotent; run by the
	// scheduler. Returns the number of rows touched.
	ResetDailyUsage(ctx context.Context) (int, error)

	// ResetMonthlyUsage zeroes every monthly counter. Idempotent.
	ResetMonthlyUsage(ctx context.Context) (int, error)
}
