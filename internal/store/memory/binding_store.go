package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// BindingCodeStore implements store.BindingCodeStore using in-memory storage.
// This implementation is for testing only - data is lost on restart.
type BindingCodeStore struct {
	mu sync.Mutex

	codes map[string]*models.WorkspaceBindingCode
}

// NewBindingCodeStore creates a new in-memory binding code store.
func NewBindingCodeStore() *BindingCodeStore {
	return &BindingCodeStore{
		codes: make(map[string]*models.WorkspaceBindingCode),
	}
}

func cloneCode(c *models.WorkspaceBindingCode) *models.WorkspaceBindingCode {
	clone := *c
	if c.UsedAt != nil {
		at := *c.UsedAt
		clone.UsedAt = &at
	}
	return &clone
}

// Create persists a new code.
func (s *BindingCodeStore) Create(ctx context.Context, code *models.WorkspaceBindingCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, exists := s.codes[code.Code]; exists {
		if !existing.IsUsed() && !existing.IsExpired(time.Now()) {
			return store.ErrBindingCodeExists
		}
	}

	s.codes[code.Code] = cloneCode(code)

	return nil
}

// Get retrieves a code by value regardless of state.
func (s *BindingCodeStore) Get(ctx context.Context, code string) (*models.WorkspaceBindingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.codes[code]
	if !exists {
		return nil, store.ErrBindingCodeNotFound
	}

	return cloneCode(c), nil
}

// ActiveCodeExists reports whether an unused, unexpired code with this value
// exists.
func (s *BindingCodeStore) ActiveCodeExists(ctx context.Context, code string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.codes[code]
	if !exists {
		return false, nil
	}

	return !c.IsUsed() && !c.IsExpired(time.Now()), nil
}

// Consume marks the code used if and only if it is currently unused and
// unexpired. The check and the write happen under the same lock, so two
// near-simultaneous redemptions cannot both succeed.
func (s *BindingCodeStore) Consume(ctx context.Context, code, usedByChannel, usedByIdentifier string, now time.Time) (*models.WorkspaceBindingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, exists := s.codes[code]
	if !exists {
		return nil, store.ErrBindingCodeNotFound
	}
	if c.IsUsed() || c.IsExpired(now) {
		return nil, store.ErrBindingCodeNotFound
	}

	usedAt := now
	c.UsedAt = &usedAt
	c.UsedByChannel = usedByChannel
	c.UsedByIdentifier = usedByIdentifier

	return cloneCode(c), nil
}

// ListActiveByUser returns a user's unused, unexpired codes.
func (s *BindingCodeStore) ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.WorkspaceBindingCode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	var result []*models.WorkspaceBindingCode
	for _, c := range s.codes {
		if c.UserID == userID && !c.IsUsed() && !c.IsExpired(now) {
			result = append(result, cloneCode(c))
		}
	}

	return result, nil
}

// DeleteExpired removes expired codes.
func (s *BindingCodeStore) DeleteExpired(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	count := 0
	for code, c := range s.codes {
		if c.IsExpired(now) {
			delete(s.codes, code)
			count++
		}
	}

	return count, nil
}
