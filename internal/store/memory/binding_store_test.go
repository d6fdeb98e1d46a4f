package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

func newCode(userID uuid.UUID, value string, ttl time.Duration) *models.WorkspaceBindingCode {
	now := time.Now()
	return &models.WorkspaceBindingCode{
		Code:      value,
		UserID:    userID,
		OrgID:     uuid.Must(uuid.NewV7()),
		CreatedAt: now,
		ExpiresAt: now.Add(ttl),
	}
}

func TestBindingCodeStore_Create(t *testing.T) {
	s := NewBindingCodeStore()
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV7())

	require.NoError(t, s.Create(ctx, newCode(userID, "123456", time.Hour)))

	t.Run("duplicate active code rejected", func(t *testing.T) {
		err := s.Create(ctx, newCode(userID, "123456", time.Hour))
		require.ErrorIs(t, err, store.ErrBindingCodeExists)
	})

	t.Run("dead code slot is reusable", func(t *testing.T) {
		expired := newCode(userID, "654321", -time.Minute)
		require.NoError(t, s.Create(ctx, expired))
		require.NoError(t, s.Create(ctx, newCode(userID, "654321", time.Hour)))
	})
}

func TestBindingCodeStore_Consume(t *testing.T) {
	s := NewBindingCodeStore()
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV7())

	require.NoError(t, s.Create(ctx, newCode(userID, "123456", time.Hour)))

	consumed, err := s.Consume(ctx, "123456", "slack", "U123", time.Now())
	require.NoError(t, err)
	require.True(t, consumed.IsUsed())
	require.Equal(t, "slack", consumed.UsedByChannel)
	require.Equal(t, "U123", consumed.UsedByIdentifier)

	t.Run("second consume fails", func(t *testing.T) {
		_, err := s.Consume(ctx, "123456", "slack", "U123", time.Now())
		require.ErrorIs(t, err, store.ErrBindingCodeNotFound)
	})

	t.Run("expired code fails", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newCode(userID, "222222", time.Minute)))
		_, err := s.Consume(ctx, "222222", "slack", "U123", time.Now().Add(2*time.Minute))
		require.ErrorIs(t, err, store.ErrBindingCodeNotFound)
	})

	t.Run("unknown code fails", func(t *testing.T) {
		_, err := s.Consume(ctx, "999999", "slack", "U123", time.Now())
		require.ErrorIs(t, err, store.ErrBindingCodeNotFound)
	})

	t.Run("concurrent redemptions get exactly one winner", func(t *testing.T) {
		require.NoError(t, s.Create(ctx, newCode(userID, "777777", time.Hour)))

		var wg sync.WaitGroup
		var mu sync.Mutex
		wins := 0
		for i := 0; i < 10; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := s.Consume(ctx, "777777", "slack", "U123", time.Now()); err == nil {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		require.Equal(t, 1, wins)
	})
}

func TestBindingCodeStore_ListAndCleanup(t *testing.T) {
	s := NewBindingCodeStore()
	ctx := context.Background()
	userID := uuid.Must(uuid.NewV7())
	otherID := uuid.Must(uuid.NewV7())

	require.NoError(t, s.Create(ctx, newCode(userID, "111111", time.Hour)))
	require.NoError(t, s.Create(ctx, newCode(userID, "222222", -time.Minute)))
	require.NoError(t, s.Create(ctx, newCode(otherID, "333333", time.Hour)))

	active, err := s.ListActiveByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, "111111", active[0].Code)

	count, err := s.DeleteExpired(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, count)

	_, err = s.Get(ctx, "222222")
	require.ErrorIs(t, err, store.ErrBindingCodeNotFound)
}
