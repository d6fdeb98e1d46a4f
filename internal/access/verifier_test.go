package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store/memory"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

func TestVerifyAccess(t *testing.T) {
	ctx := context.Background()
	resources := memory.NewResourceStore()
	verifier := NewVerifier(resources)

	orgA := uuid.Must(uuid.NewV7())
	orgB := uuid.Must(uuid.NewV7())
	tcA := &tenancy.Context{OrgID: orgA, UserID: uuid.Must(uuid.NewV7())}

	projectA := uuid.Must(uuid.NewV7())
	projectB := uuid.Must(uuid.NewV7())
	documentA := uuid.Must(uuid.NewV7())
	resources.AddProject(projectA, orgA)
	resources.AddProject(projectB, orgB)
	resources.AddDocument(documentA, projectA)

	t.Run("own resource allowed", func(t *testing.T) {
		ok, err := verifier.VerifyAccess(ctx, tcA, models.ResourceProject, projectA)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("document resolves through parent project", func(t *testing.T) {
		ok, err := verifier.VerifyAccess(ctx, tcA, models.ResourceDocument, documentA)
		require.NoError(t, err)
		require.True(t, ok)
	})

	t.Run("foreign resource denied without error", func(t *testing.T) {
		ok, err := verifier.VerifyAccess(ctx, tcA, models.ResourceProject, projectB)
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("absent resource denied without error", func(t *testing.T) {
		ok, err := verifier.VerifyAccess(ctx, tcA, models.ResourceProject, uuid.Must(uuid.NewV7()))
		require.NoError(t, err)
		require.False(t, ok)
	})

	t.Run("unknown resource type is an error", func(t *testing.T) {
		_, err := verifier.VerifyAccess(ctx, tcA, models.ResourceType("invoice"), projectA)
		require.Error(t, err)
	})
}

func TestAssertAccess_Conflation(t *testing.T) {
	ctx := context.Background()
	resources := memory.NewResourceStore()
	verifier := NewVerifier(resources)

	orgA := uuid.Must(uuid.NewV7())
	orgB := uuid.Must(uuid.NewV7())
	tcA := &tenancy.Context{OrgID: orgA, UserID: uuid.Must(uuid.NewV7())}

	foreign := uuid.Must(uuid.NewV7())
	resources.AddAsset(foreign, orgB)

	foreignErr := verifier.AssertAccess(ctx, tcA, models.ResourceAsset, foreign)
	require.Error(t, foreignErr)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(foreignErr))

	absentErr := verifier.AssertAccess(ctx, tcA, models.ResourceAsset, uuid.Must(uuid.NewV7()))
	require.Error(t, absentErr)
	require.Equal(t, apperr.KindNotFound, apperr.KindOf(absentErr))

	// Probing a foreign ID and probing a nonexistent ID must be
	// indistinguishable from the caller's side.
	require.Equal(t, foreignErr.Error(), absentErr.Error())

	ownAsset := uuid.Must(uuid.NewV7())
	resources.AddAsset(ownAsset, orgA)
	require.NoError(t, verifier.AssertAccess(ctx, tcA, models.ResourceAsset, ownAsset))
}
