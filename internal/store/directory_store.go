package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Sentinel errors for tenant directory operations
var (
	ErrOrganizationNotFound      = errors.New("organization not found")
	ErrOrganizationAlreadyExists = errors.New("organization already exists")
	ErrMembershipNotFound        = errors.New("membership not found")
	ErrSecurityPolicyNotFound    = errors.New("security policy not found")
)

// DirectoryStore is the engine's view of the tenant directory: organizations,
// memberships and per-org security policy. The engine reads on every request;
// writes happen only during provisioning and administrative actions.
type DirectoryStore interface {
	// CreateOrganization creates a new organization.
	// Returns ErrOrganizationAlreadyExists on an ID or slug collision.
	CreateOrganization(ctx context.Context, org *models.Organization) error

	// GetOrganization retrieves an organization by ID.
	// Returns ErrOrganizationNotFound if it doesn't exist.
	GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error)

	// GetOrganizationBySlug retrieves an organization by its slug.
	// Returns ErrOrganizationNotFound if it doesn't exist.
	GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error)

	// PutMembership creates or replaces a (user, org) membership.
	PutMembership(ctx context.Context, m *models.Membership) error

	// GetMembership retrieves the membership of a user in an organization.
	// Returns ErrMembershipNotFound if it doesn't exist, regardless of status.
	GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error)

	// ListMemberships returns all memberships of a user, any status.
	ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error)

	// PutSecurityPolicy creates or replaces an organization's security policy.
	PutSecurityPolicy(ctx context.Context, policy *models.SecurityPolicy) error

	// GetSecurityPolicy retrieves an organization's security policy.
	// Returns ErrSecurityPolicyNotFound if none has been provisioned.
	GetSecurityPolicy(ctx context.Context, orgID uuid.UUID) (*models.SecurityPolicy, error)
}
