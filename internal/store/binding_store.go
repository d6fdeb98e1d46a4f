package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// Sentinel errors for binding code store operations
var (
	ErrBindingCodeNotFound = errors.New("binding code not found")
	ErrBindingCodeExists   = errors.New("binding code already exists")
)

// BindingCodeStore persists workspace binding codes.
//
// Consume must be a single conditional update ("mark used where currently
// unused and unexpired") so two near-simultaneous redemption attempts can
// never both succeed.
type BindingCodeStore interface {
	// Create persists a new code. Returns ErrBindingCodeExists if an
	// unused, unexpired code with the same value already exists.
	Create(ctx context.Context, code *models.WorkspaceBindingCode) error

	// Get retrieves a code by value regardless of state.
	// Returns ErrBindingCodeNotFound if it doesn't exist.
	Get(ctx context.Context, code string) (*models.WorkspaceBindingCode, error)

	// ActiveCodeExists reports whether an unused, unexpired code with this
	// value exists. Used by the generation retry loop.
	ActiveCodeExists(ctx context.Context, code string) (bool, error)

	// Consume atomically marks the code used, recording the redeeming
	// channel and identifier, if and only if it is currently unused and
	// unexpired. Returns the consumed code on success and
	// ErrBindingCodeNotFound when no active code matched; missing, used
	// and expired codes are indistinguishable here.
	Consume(ctx context.Context, code, usedByChannel, usedByIdentifier string, now time.Time) (*models.WorkspaceBindingCode, error)

	// ListActiveByUser returns a user's unused, unexpired codes.
	ListActiveByUser(ctx context.Context, userID uuid.UUID) ([]*models.WorkspaceBindingCode, error)

	// DeleteExpired removes expired codes (cleanup job).
	DeleteExpired(ctx context.Context) (int, error)
}
