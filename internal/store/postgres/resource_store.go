package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// ResourceStore implements store.ResourceStore using PostgreSQL.
type ResourceStore struct {
	pool *pgxpool.Pool
}

// NewResourceStore creates a new PostgreSQL-backed resource store.
func NewResourceStore(pool *pgxpool.Pool) *ResourceStore {
	return &ResourceStore{
		pool: pool,
	}
}

// OwningOrganization resolves the organization that owns a resource.
// Documents resolve ownership through their parent project.
func (s *ResourceStore) OwningOrganization(ctx context.Context, typ models.ResourceType, id uuid.UUID) (uuid.UUID, error) {
	var query string
	switch typ {
	case models.ResourceProject:
		query = `SELECT org_id FROM projects WHERE project_id = $1`
	case models.ResourceDocument:
		query = `
			SELECT p.org_id
			FROM documents d
			JOIN projects p ON p.project_id = d.project_id
			WHERE d.document_id = $1
		`
	case models.ResourceAsset:
		query = `SELECT org_id FROM assets WHERE asset_id = $1`
	case models.ResourceView:
		query = `SELECT org_id FROM views WHERE view_id = $1`
	case models.ResourceDataroom:
		query = `SELECT org_id FROM datarooms WHERE dataroom_id = $1`
	default:
		return uuid.Nil, fmt.Errorf("unknown resource type %q", typ)
	}

	var orgID uuid.UUID
	err := s.pool.QueryRow(ctx, query, id).Scan(&orgID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, store.ErrResourceNotFound
		}
		return uuid.Nil, fmt.Errorf("failed to resolve resource owner: %w", mapPostgresError(err))
	}

	return orgID, nil
}
