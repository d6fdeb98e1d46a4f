package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

type membershipKey struct {
	userID uuid.UUID
	orgID  uuid.UUID
}

// DirectoryStore implements store.DirectoryStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type DirectoryStore struct {
	mu sync.RWMutex

	organizations map[uuid.UUID]*models.Organization
	bySlug        map[string]uuid.UUID
	memberships   map[membershipKey]*models.Membership
	policies      map[uuid.UUID]*models.SecurityPolicy
}

// NewDirectoryStore creates a new in-memory directory store.
func NewDirectoryStore() *DirectoryStore {
	return &DirectoryStore{
		organizations: make(map[uuid.UUID]*models.Organization),
		bySlug:        make(map[string]uuid.UUID),
		memberships:   make(map[membershipKey]*models.Membership),
		policies:      make(map[uuid.UUID]*models.SecurityPolicy),
	}
}

// CreateOrganization creates a new organization in memory.
func (s *DirectoryStore) CreateOrganization(ctx context.Context, org *models.Organization) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.organizations[org.OrgID]; exists {
		return store.ErrOrganizationAlreadyExists
	}
	if _, exists := s.bySlug[org.Slug]; exists {
		return store.ErrOrganizationAlreadyExists
	}

	clone := *org
	s.organizations[org.OrgID] = &clone
	s.bySlug[org.Slug] = org.OrgID

	return nil
}

// GetOrganization retrieves an organization by ID.
func (s *DirectoryStore) GetOrganization(ctx context.Context, orgID uuid.UUID) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	org, exists := s.organizations[orgID]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *org
	return &clone, nil
}

// GetOrganizationBySlug retrieves an organization by slug.
func (s *DirectoryStore) GetOrganizationBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	orgID, exists := s.bySlug[slug]
	if !exists {
		return nil, store.ErrOrganizationNotFound
	}

	clone := *s.organizations[orgID]
	return &clone, nil
}

// PutMembership creates or replaces a membership.
func (s *DirectoryStore) PutMembership(ctx context.Context, m *models.Membership) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *m
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now()
	}
	s.memberships[membershipKey{m.UserID, m.OrgID}] = &clone

	return nil
}

// GetMembership retrieves the membership of a user in an organization.
func (s *DirectoryStore) GetMembership(ctx context.Context, userID, orgID uuid.UUID) (*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, exists := s.memberships[membershipKey{userID, orgID}]
	if !exists {
		return nil, store.ErrMembershipNotFound
	}

	clone := *m
	return &clone, nil
}

// ListMemberships returns all memberships of a user.
func (s *DirectoryStore) ListMemberships(ctx context.Context, userID uuid.UUID) ([]*models.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Membership
	for key, m := range s.memberships {
		if key.userID == userID {
			clone := *m
			result = append(result, &clone)
		}
	}

	return result, nil
}

// PutSecurityPolicy creates or replaces an organization's security policy.
func (s *DirectoryStore) PutSecurityPolicy(ctx context.Context, policy *models.SecurityPolicy) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *policy
	clone.UpdatedAt = time.Now()
	s.policies[policy.OrgID] = &clone

	return nil
}

// GetSecurityPolicy retrieves an organization's security policy.
func (s *DirectoryStore) GetSecurityPolicy(ctx context.Context, orgID uuid.UUID) (*models.SecurityPolicy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	policy, exists := s.policies[orgID]
	if !exists {
		return nil, store.ErrSecurityPolicyNotFound
	}

	clone := *policy
	return &clone, nil
}
