package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

// ResourceStore implements store.ResourceStore using in-memory storage.
// Documents resolve their owner transitively through the parent project,
// mirroring the relational layout of the postgres store.
type ResourceStore struct {
	mu sync.RWMutex

	projects  map[uuid.UUID]uuid.UUID // project -> org
	documents map[uuid.UUID]uuid.UUID // document -> project
	assets    map[uuid.UUID]uuid.UUID // asset -> org
	views     map[uuid.UUID]uuid.UUID // view -> org
	datarooms map[uuid.UUID]uuid.UUID // dataroom -> org
}

// NewResourceStore creates a new in-memory resource store.
func NewResourceStore() *ResourceStore {
	return &ResourceStore{
		projects:  make(map[uuid.UUID]uuid.UUID),
		documents: make(map[uuid.UUID]uuid.UUID),
		assets:    make(map[uuid.UUID]uuid.UUID),
		views:     make(map[uuid.UUID]uuid.UUID),
		datarooms: make(map[uuid.UUID]uuid.UUID),
	}
}

// AddProject registers a project owned by an org.
func (s *ResourceStore) AddProject(projectID, orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.projects[projectID] = orgID
}

// AddDocument registers a document under a parent project.
func (s *ResourceStore) AddDocument(documentID, projectID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.documents[documentID] = projectID
}

// AddAsset registers an asset owned by an org.
func (s *ResourceStore) AddAsset(assetID, orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assets[assetID] = orgID
}

// AddView registers a view owned by an org.
func (s *ResourceStore) AddView(viewID, orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views[viewID] = orgID
}

// AddDataroom registers a dataroom owned by an org.
func (s *ResourceStore) AddDataroom(dataroomID, orgID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datarooms[dataroomID] = orgID
}

// OwningOrganization returns the org that owns (typ, id).
func (s *ResourceStore) OwningOrganization(ctx context.Context, typ models.ResourceType, id uuid.UUID) (uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch typ {
	case models.ResourceProject:
		return s.lookup(s.projects, id)
	case models.ResourceDocument:
		projectID, exists := s.documents[id]
		if !exists {
			return uuid.Nil, store.ErrResourceNotFound
		}
		return s.lookup(s.projects, projectID)
	case models.ResourceAsset:
		return s.lookup(s.assets, id)
	case models.ResourceView:
		return s.lookup(s.views, id)
	case models.ResourceDataroom:
		return s.lookup(s.datarooms, id)
	default:
		return uuid.Nil, store.ErrResourceNotFound
	}
}

func (s *ResourceStore) lookup(m map[uuid.UUID]uuid.UUID, id uuid.UUID) (uuid.UUID, error) {
	orgID, exists := m[id]
	if !exists {
		return uuid.Nil, store.ErrResourceNotFound
	}
	return orgID, nil
}
