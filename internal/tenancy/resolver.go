package tenancy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// Hint is an explicit organization selection supplied out of band, typically
// from a header or subdomain. Both fields zero means no hint.
type Hint struct {
	OrgID uuid.UUID
	Slug  string
}

func (h Hint) empty() bool {
	return h.OrgID == uuid.Nil && h.Slug == ""
}

// Context is a fully resolved tenant binding. Every authorized operation
// downstream carries exactly one of these.
type Context struct {
	OrgID  uuid.UUID
	UserID uuid.UUID
	Role   models.MembershipRole

	// Lobby marks the synthesized fallback binding for users with no
	// memberships. Lobby contexts carry the reviewer role and are never
	// persisted.
	Lobby bool
}

// Resolver binds an authenticated principal to a single organization.
type Resolver struct {
	directory  store.DirectoryStore
	lobbyOrgID uuid.UUID
}

// NewResolver creates a resolver. lobbyOrgID may be zero, in which case
// memberless users are rejected instead of falling back.
func NewResolver(directory store.DirectoryStore, lobbyOrgID uuid.UUID) *Resolver {
	return &Resolver{
		directory:  directory,
		lobbyOrgID: lobbyOrgID,
	}
}

// Resolve deterministically binds the principal to one organization.
//
// Resolution order, first match wins: explicit hint backed by an active
// membership, then the session's active organization, then the sole active
// membership. Memberless principals fall back to the lobby organization when
// one is configured. Two or more active memberships with nothing selected is
// a caller-correctable error, never a silent pick.
//
// After a candidate is chosen, three hard checks run in order: membership
// active, organization not suspended or archived, second factor enrolled when
// the organization requires one. Every hard-check failure carries the same
// public message; the precise cause lives only in the error's internal
// reason.
func (r *Resolver) Resolve(ctx context.Context, principal *models.Principal, hint Hint) (*Context, error) {
	if principal == nil {
		return nil, apperr.Forbidden("no principal")
	}

	if !hint.empty() {
		tc, ok, err := r.resolveHint(ctx, principal, hint)
		if err != nil {
			return nil, err
		}
		if ok {
			return tc, nil
		}
	}

	if principal.SessionOrgID != uuid.Nil {
		return r.bind(ctx, principal, principal.SessionOrgID)
	}

	memberships, err := r.directory.ListMemberships(ctx, principal.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	var active []*models.Membership
	for _, m := range memberships {
		if m.IsActive() {
			active = append(active, m)
		}
	}

	switch len(active) {
	case 0:
		return r.lobby(ctx, principal)
	case 1:
		return r.bind(ctx, principal, active[0].OrgID)
	default:
		return nil, apperr.BadRequest("organization selection required")
	}
}

// resolveHint maps the hint to an organization and reports whether it selects
// a candidate. A hint that names an unknown organization or one the principal
// holds no active membership in falls through to the next resolution step
// rather than failing, so probing hints learns nothing.
func (r *Resolver) resolveHint(ctx context.Context, principal *models.Principal, hint Hint) (*Context, bool, error) {
	orgID := hint.OrgID
	if orgID == uuid.Nil {
		org, err := r.directory.GetOrganizationBySlug(ctx, hint.Slug)
		if err != nil {
			if errors.Is(err, store.ErrOrganizationNotFound) {
				return nil, false, nil
			}
			return nil, false, fmt.Errorf("failed to look up organization by slug: %w", err)
		}
		orgID = org.OrgID
	}

	membership, err := r.directory.GetMembership(ctx, principal.UserID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("failed to look up membership: %w", err)
	}
	if !membership.IsActive() {
		return nil, false, nil
	}

	tc, err := r.bind(ctx, principal, orgID)
	if err != nil {
		return nil, false, err
	}

	return tc, true, nil
}

// bind runs the hard checks against the candidate organization.
func (r *Resolver) bind(ctx context.Context, principal *models.Principal, orgID uuid.UUID) (*Context, error) {
	membership, err := r.directory.GetMembership(ctx, principal.UserID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, apperr.Forbidden("no membership in candidate organization")
		}
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}
	if !membership.IsActive() {
		return nil, apperr.Forbidden(fmt.Sprintf("membership status %s", membership.Status))
	}

	if err := r.checkOrg(ctx, principal, orgID); err != nil {
		return nil, err
	}

	return &Context{
		OrgID:  orgID,
		UserID: principal.UserID,
		Role:   membership.Role,
	}, nil
}

// lobby synthesizes the fallback binding for a memberless principal. The
// reviewer role is fixed and the membership check is skipped; the
// organization status and second-factor checks still apply.
func (r *Resolver) lobby(ctx context.Context, principal *models.Principal) (*Context, error) {
	if r.lobbyOrgID == uuid.Nil {
		return nil, apperr.Forbidden("no memberships")
	}

	if err := r.checkOrg(ctx, principal, r.lobbyOrgID); err != nil {
		return nil, err
	}

	return &Context{
		OrgID:  r.lobbyOrgID,
		UserID: principal.UserID,
		Role:   models.RoleReviewer,
		Lobby:  true,
	}, nil
}

func (r *Resolver) checkOrg(ctx context.Context, principal *models.Principal, orgID uuid.UUID) error {
	org, err := r.directory.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return apperr.Forbidden("candidate organization does not exist")
		}
		return fmt.Errorf("failed to look up organization: %w", err)
	}

	if !org.IsActive() {
		return apperr.Forbidden(fmt.Sprintf("organization status %s", org.Status))
	}

	if org.Require2FA && !principal.TwoFactorEnrolled {
		return apperr.Forbidden("second factor required")
	}

	return nil
}
