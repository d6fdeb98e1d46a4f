package models

// ResourceType is the closed set of protected resource types. Adding a type
// here requires extending the resource store's ownership resolution, which
// keeps the dispatch compile-time checked.
type ResourceType string

const (
	ResourceProject  ResourceType = "project"
	ResourceDocument ResourceType = "document"
	ResourceAsset    ResourceType = "asset"
	ResourceView     ResourceType = "view"
	ResourceDataroom ResourceType = "dataroom"
)

// ResourceTypes lists every supported type.
var ResourceTypes = []ResourceType{
	ResourceProject,
	ResourceDocument,
	ResourceAsset,
	ResourceView,
	ResourceDataroom,
}

// Valid reports whether t is a supported resource type.
func (t ResourceType) Valid() bool {
	switch t {
	case ResourceProject, ResourceDocument, ResourceAsset, ResourceView, ResourceDataroom:
		return true
	}
	return false
}
