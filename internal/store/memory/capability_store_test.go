package memory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

func TestCapabilityStore_Definitions(t *testing.T) {
	s := NewCapabilityStore()
	ctx := context.Background()

	require.NoError(t, s.PutCapability(ctx, &models.Capability{
		ID:        "tickets.create",
		Category:  "tickets",
		RiskLevel: models.RiskLow,
		IsActive:  true,
	}))

	cap, err := s.GetCapability(ctx, "tickets.create")
	require.NoError(t, err)
	require.Equal(t, models.RiskLow, cap.RiskLevel)

	_, err = s.GetCapability(ctx, "nope")
	require.ErrorIs(t, err, store.ErrCapabilityNotFound)

	list, err := s.ListCapabilities(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestCapabilityStore_Usage(t *testing.T) {
	s := NewCapabilityStore()
	ctx := context.Background()
	orgID := uuid.Must(uuid.NewV7())

	limit := 100
	require.NoError(t, s.PutOrgCapability(ctx, &models.OrgCapability{
		OrgID:        orgID,
		CapabilityID: "tickets.create",
		Enabled:      true,
		DailyLimit:   &limit,
	}))

	t.Run("increment against unknown row fails", func(t *testing.T) {
		err := s.IncrementUsage(ctx, orgID, "nope")
		require.ErrorIs(t, err, store.ErrOrgCapabilityNotFound)
	})

	t.Run("concurrent increments all land", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				require.NoError(t, s.IncrementUsage(ctx, orgID, "tickets.create"))
			}()
		}
		wg.Wait()

		oc, err := s.GetOrgCapability(ctx, orgID, "tickets.create")
		require.NoError(t, err)
		require.Equal(t, 20, oc.CurrentDailyUsage)
		require.Equal(t, 20, oc.CurrentMonthlyUsage)
	})

	t.Run("daily reset leaves monthly intact", func(t *testing.T) {
		count, err := s.ResetDailyUsage(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		oc, err := s.GetOrgCapability(ctx, orgID, "tickets.create")
		require.NoError(t, err)
		require.Equal(t, 0, oc.CurrentDailyUsage)
		require.Equal(t, 20, oc.CurrentMonthlyUsage)
	})

	t.Run("monthly reset", func(t *testing.T) {
		count, err := s.ResetMonthlyUsage(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		oc, err := s.GetOrgCapability(ctx, orgID, "tickets.create")
		require.NoError(t, err)
		require.Equal(t, 0, oc.CurrentMonthlyUsage)
	})

	t.Run("reads are isolated from the stored row", func(t *testing.T) {
		oc, err := s.GetOrgCapability(ctx, orgID, "tickets.create")
		require.NoError(t, err)
		*oc.DailyLimit = 1

		fresh, err := s.GetOrgCapability(ctx, orgID, "tickets.create")
		require.NoError(t, err)
		require.Equal(t, 100, *fresh.DailyLimit)
	})
}
