package store

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
)

// ErrResourceNotFound is returned when a resource doesn't exist. Callers in
// the access verifier deliberately collapse "not found" and "wrong tenant"
// into the same outward response.
var ErrResourceNotFound = errors.New("resource not found")

// ResourceStore resolves which organization owns a protected resource.
// Ownership is direct for projects, assets, views and datarooms, and
// transitive through the parent project for documents.
type ResourceStore interface {
	// OwningOrganization returns the org that owns (typ, id).
	// Returns ErrResourceNotFound if the resource doesn't exist.
	OwningOrganization(ctx context.Context, typ models.ResourceType, id uuid.UUID) (uuid.UUID, error)
}
