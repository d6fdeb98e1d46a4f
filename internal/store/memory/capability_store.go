package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

type orgCapabilityKey struct {
	orgID        uuid.UUID
	capabilityID string
}

// CapabilityStore implements store.CapabilityStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type CapabilityStore struct {
	mu sync.RWMutex

	capabilities    map[string]*models.Capability
	orgCapabilities map[orgCapabilityKey]*models.OrgCapability
}

// NewCapabilityStore creates a new in-memory capability store.
func NewCapabilityStore() *CapabilityStore {
	return &CapabilityStore{
		capabilities:    make(map[string]*models.Capability),
		orgCapabilities: make(map[orgCapabilityKey]*models.OrgCapability),
	}
}

// PutCapability creates or replaces a global capability definition.
func (s *CapabilityStore) PutCapability(ctx context.Context, cap *models.Capability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *cap
	s.capabilities[cap.ID] = &clone

	return nil
}

// GetCapability retrieves a capability definition by ID.
func (s *CapabilityStore) GetCapability(ctx context.Context, id string) (*models.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cap, exists := s.capabilities[id]
	if !exists {
		return nil, store.ErrCapabilityNotFound
	}

	clone := *cap
	return &clone, nil
}

// ListCapabilities returns every capability definition.
func (s *CapabilityStore) ListCapabilities(ctx context.Context) ([]*models.Capability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*models.Capability, 0, len(s.capabilities))
	for _, cap := range s.capabilities {
		clone := *cap
		result = append(result, &clone)
	}

	return result, nil
}

// PutOrgCapability creates or replaces a per-org enablement row.
func (s *CapabilityStore) PutOrgCapability(ctx context.Context, oc *models.OrgCapability) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *oc
	clone.UpdatedAt = time.Now()
	if oc.DailyLimit != nil {
		limit := *oc.DailyLimit
		clone.DailyLimit = &limit
	}
	if oc.MonthlyLimit != nil {
		limit := *oc.MonthlyLimit
		clone.MonthlyLimit = &limit
	}
	s.orgCapabilities[orgCapabilityKey{oc.OrgID, oc.CapabilityID}] = &clone

	return nil
}

// GetOrgCapability retrieves the enablement row for (org, capability).
func (s *CapabilityStore) GetOrgCapability(ctx context.Context, orgID uuid.UUID, capabilityID string) (*models.OrgCapability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	oc, exists := s.orgCapabilities[orgCapabilityKey{orgID, capabilityID}]
	if !exists {
		return nil, store.ErrOrgCapabilityNotFound
	}

	clone := *oc
	if oc.DailyLimit != nil {
		limit := *oc.DailyLimit
		clone.DailyLimit = &limit
	}
	if oc.MonthlyLimit != nil {
		limit := *oc.MonthlyLimit
		clone.MonthlyLimit = &limit
	}
	return &clone, nil
}

// IncrementUsage atomically bumps both usage counters. The bump happens under
// the store lock against the live row, so concurrent callers serialize.
func (s *CapabilityStore) IncrementUsage(ctx context.Context, orgID uuid.UUID, capabilityID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	oc, exists := s.orgCapabilities[orgCapabilityKey{orgID, capabilityID}]
	if !exists {
		return store.ErrOrgCapabilityNotFound
	}

	oc.CurrentDailyUsage++
	oc.CurrentMonthlyUsage++
	oc.UpdatedAt = time.Now()

	return nil
}

// ResetDailyUsage zeroes every daily counter.
func (s *CapabilityStore) ResetDailyUsage(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, oc := range s.orgCapabilities {
		if oc.CurrentDailyUsage != 0 {
			oc.CurrentDailyUsage = 0
			count++
		}
	}

	return count, nil
}

// ResetMonthlyUsage zeroes every monthly counter.
func (s *CapabilityStore) ResetMonthlyUsage(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, oc := range s.orgCapabilities {
		if oc.CurrentMonthlyUsage != 0 {
			oc.CurrentMonthlyUsage = 0
			count++
		}
	}

	return count, nil
}
