//go:build integration

package postgres

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
)

func setupPostgresContainer(t *testing.T, ctx context.Context) (*pgxpool.Pool, func()) {
	// Start postgres container
	req := testcontainers.ContainerRequest{
		Image:        "postgres:18-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)

	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgres://test:test@%s:%s/testdb?sslmode=disable", host, port.Port())

	pool, err := NewPool(ctx, &PoolConfig{ConnString: connString})
	require.NoError(t, err)

	err = RunMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = container.Terminate(ctx)
	}

	return pool, cleanup
}

func createTestOrg(t *testing.T, ctx context.Context, directory *DirectoryStore) *models.Organization {
	org := &models.Organization{
		OrgID:     uuid.New(),
		Slug:      fmt.Sprintf("org-%s", uuid.NewString()[:8]),
		Name:      "Test Org",
		Status:    models.OrgStatusActive,
		CreatedAt: time.Now(),
		UpdatedAt: time.Now(),
	}
	require.NoError(t, directory.CreateOrganization(ctx, org))
	return org
}

func TestIntegration_ConcurrentUsageIncrement(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	directory := NewDirectoryStore(pool)
	capabilities := NewCapabilityStore(pool)

	org := createTestOrg(t, ctx, directory)

	err := capabilities.PutCapability(ctx, &models.Capability{
		ID:        "tickets.create",
		Category:  "tickets",
		RiskLevel: models.RiskLow,
		IsActive:  true,
	})
	require.NoError(t, err)

	err = capabilities.PutOrgCapability(ctx, &models.OrgCapability{
		OrgID:        org.OrgID,
		CapabilityID: "tickets.create",
		Enabled:      true,
	})
	require.NoError(t, err)

	// Hammer the counter from many goroutines. Every increment must land.
	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			require.NoError(t, capabilities.IncrementUsage(ctx, org.OrgID, "tickets.create"))
		}()
	}
	wg.Wait()

	oc, err := capabilities.GetOrgCapability(ctx, org.OrgID, "tickets.create")
	require.NoError(t, err)
	require.Equal(t, workers, oc.CurrentDailyUsage)
	require.Equal(t, workers, oc.CurrentMonthlyUsage)

	t.Run("daily reset", func(t *testing.T) {
		count, err := capabilities.ResetDailyUsage(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, count)

		oc, err := capabilities.GetOrgCapability(ctx, org.OrgID, "tickets.create")
		require.NoError(t, err)
		require.Equal(t, 0, oc.CurrentDailyUsage)
		require.Equal(t, workers, oc.CurrentMonthlyUsage)
	})
}

func TestIntegration_BindingCodeSingleRedemption(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	directory := NewDirectoryStore(pool)
	bindings := NewBindingCodeStore(pool)

	org := createTestOrg(t, ctx, directory)
	userID := uuid.New()

	code := &models.WorkspaceBindingCode{
		Code:      "123456",
		UserID:    userID,
		OrgID:     org.OrgID,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(15 * time.Minute),
	}
	require.NoError(t, bindings.Create(ctx, code))

	t.Run("duplicate active code rejected", func(t *testing.T) {
		err := bindings.Create(ctx, &models.WorkspaceBindingCode{
			Code:      "123456",
			UserID:    userID,
			OrgID:     org.OrgID,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(15 * time.Minute),
		})
		require.ErrorIs(t, err, store.ErrBindingCodeExists)
	})

	t.Run("only one concurrent redemption wins", func(t *testing.T) {
		const attempts = 10
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
		)
		for i := 0; i < attempts; i++ {
			wg.Add(1)
			go func(n int) {
				defer wg.Done()
				_, err := bindings.Consume(ctx, "123456", "slack", fmt.Sprintf("U%04d", n), time.Now())
				if err == nil {
					mu.Lock()
					succeeded++
					mu.Unlock()
				} else {
					require.ErrorIs(t, err, store.ErrBindingCodeNotFound)
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, 1, succeeded)
	})

	t.Run("consumed code unreadable as active", func(t *testing.T) {
		exists, err := bindings.ActiveCodeExists(ctx, "123456")
		require.NoError(t, err)
		require.False(t, exists)
	})
}

func TestIntegration_ApprovalSingleResolution(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	directory := NewDirectoryStore(pool)
	capabilities := NewCapabilityStore(pool)
	approvals := NewApprovalStore(pool)

	org := createTestOrg(t, ctx, directory)

	err := capabilities.PutCapability(ctx, &models.Capability{
		ID:        "payments.send",
		Category:  "payments",
		RiskLevel: models.RiskCritical,
		IsActive:  true,
	})
	require.NoError(t, err)

	requester := uuid.New()
	admin1 := uuid.New()
	admin2 := uuid.New()

	req := &models.ApprovalRequest{
		RequestID:    uuid.New(),
		OrgID:        org.OrgID,
		RequestedBy:  requester,
		CapabilityID: "payments.send",
		Task: models.TaskSpec{
			Kind:    models.TaskPayment,
			Summary: "pay invoice 42",
		},
		Summary:   "pay invoice 42",
		Risk:      models.RiskAssessment{Level: models.RiskCritical, Factors: []string{"financial transaction"}},
		Status:    models.ApprovalPending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(24 * time.Hour),
		Audit: []models.AuditEntry{
			{Action: models.AuditCreated, Actor: requester, At: time.Now()},
		},
	}
	require.NoError(t, approvals.Create(ctx, req))

	t.Run("concurrent approve and reject, one wins", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 2)

		wg.Add(2)
		go func() {
			defer wg.Done()
			errs[0] = approvals.Resolve(ctx, req.RequestID, models.ApprovalApproved, admin1, "")
		}()
		go func() {
			defer wg.Done()
			errs[1] = approvals.Resolve(ctx, req.RequestID, models.ApprovalRejected, admin2, "too risky")
		}()
		wg.Wait()

		var won, lost int
		for _, err := range errs {
			if err == nil {
				won++
			} else {
				require.ErrorIs(t, err, store.ErrApprovalNotPending)
				lost++
			}
		}
		require.Equal(t, 1, won)
		require.Equal(t, 1, lost)
	})

	t.Run("audit trail records exactly one resolution", func(t *testing.T) {
		got, err := approvals.Get(ctx, req.RequestID)
		require.NoError(t, err)
		require.True(t, got.IsTerminal())
		require.Len(t, got.Audit, 2)
		require.Equal(t, models.AuditCreated, got.Audit[0].Action)
	})

	t.Run("expiry sweep ignores terminal requests", func(t *testing.T) {
		count, err := approvals.ExpireOverdue(ctx)
		require.NoError(t, err)
		require.Equal(t, 0, count)
	})
}

func TestIntegration_ConversationRebindClearsPointers(t *testing.T) {
	ctx := context.Background()
	pool, cleanup := setupPostgresContainer(t, ctx)
	defer cleanup()

	directory := NewDirectoryStore(pool)
	channels := NewChannelStore(pool)

	orgA := createTestOrg(t, ctx, directory)
	orgB := createTestOrg(t, ctx, directory)
	userID := uuid.New()

	require.NoError(t, channels.BindConversation(ctx, userID, "slack", "T100", orgA.OrgID))
	require.NoError(t, channels.SetPointer(ctx, userID, "slack", "T100", "ticket", "TCK-9"))

	session, err := channels.GetConversation(ctx, userID, "slack", "T100")
	require.NoError(t, err)
	require.Equal(t, orgA.OrgID, session.OrgID)
	require.Equal(t, "TCK-9", session.Pointers["ticket"])

	require.NoError(t, channels.BindConversation(ctx, userID, "slack", "T100", orgB.OrgID))

	session, err = channels.GetConversation(ctx, userID, "slack", "T100")
	require.NoError(t, err)
	require.Equal(t, orgB.OrgID, session.OrgID)
	require.Empty(t, session.Pointers)
}
