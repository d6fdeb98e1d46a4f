package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

// Verifier answers whether the resolved tenant owns a given resource.
type Verifier struct {
	resources store.ResourceStore
}

// NewVerifier creates a verifier backed by the given resource store.
func NewVerifier(resources store.ResourceStore) *Verifier {
	return &Verifier{
		resources: resources,
	}
}

// VerifyAccess reports whether the context's organization owns the resource.
// An absent resource and a resource owned by another tenant both return
// false with no error; the two cases are indistinguishable to the caller.
func (v *Verifier) VerifyAccess(ctx context.Context, tc *tenancy.Context, typ models.ResourceType, id uuid.UUID) (bool, error) {
	if !typ.Valid() {
		return false, fmt.Errorf("unknown resource type %q", typ)
	}

	ownerID, err := v.resources.OwningOrganization(ctx, typ, id)
	if err != nil {
		if errors.Is(err, store.ErrResourceNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to resolve resource owner: %w", err)
	}

	if ownerID != tc.OrgID {
		log.Debug().
			Str("resource_type", string(typ)).
			Str("resource_id", id.String()).
			Str("org_id", tc.OrgID.String()).
			Msg("Cross-tenant resource access denied")
		return false, nil
	}

	return true, nil
}

// AssertAccess is VerifyAccess with a hard failure mode: any false outcome
// becomes the same not-found error a genuinely absent resource would
// produce.
func (v *Verifier) AssertAccess(ctx context.Context, tc *tenancy.Context, typ models.ResourceType, id uuid.UUID) error {
	ok, err := v.VerifyAccess(ctx, tc, typ, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.NotFound(fmt.Sprintf("%s %s not accessible to org %s", typ, id, tc.OrgID))
	}
	return nil
}
