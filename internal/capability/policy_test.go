package capability

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store/memory"
	"github.com/kiisha-io/kiisha/internal/tenancy"
)

type evalFixture struct {
	capabilities *memory.CapabilityStore
	directory    *memory.DirectoryStore
	orgID        uuid.UUID
	editor       *tenancy.Context
	admin        *tenancy.Context
}

func newEvalFixture(t *testing.T) *evalFixture {
	t.Helper()

	orgID := uuid.Must(uuid.NewV7())
	return &evalFixture{
		capabilities: memory.NewCapabilityStore(),
		directory:    memory.NewDirectoryStore(),
		orgID:        orgID,
		editor:       &tenancy.Context{OrgID: orgID, UserID: uuid.Must(uuid.NewV7()), Role: models.RoleEditor},
		admin:        &tenancy.Context{OrgID: orgID, UserID: uuid.Must(uuid.NewV7()), Role: models.RoleAdmin},
	}
}

func (f *evalFixture) addCapability(t *testing.T, cap *models.Capability) {
	t.Helper()
	cap.IsActive = true
	require.NoError(t, f.capabilities.PutCapability(context.Background(), cap))
}

func (f *evalFixture) enable(t *testing.T, oc *models.OrgCapability) {
	t.Helper()
	oc.OrgID = f.orgID
	oc.Enabled = true
	if oc.ApprovalPolicy == "" {
		oc.ApprovalPolicy = models.ApprovalInherit
	}
	require.NoError(t, f.capabilities.PutOrgCapability(context.Background(), oc))
}

func intPtr(n int) *int { return &n }

func TestCheck_Pipeline(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)
	eval := NewEvaluator(f.capabilities, f.directory, nil)

	f.addCapability(t, &models.Capability{ID: "tickets.create", Category: "tickets", RiskLevel: models.RiskLow})

	t.Run("unknown capability denied", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "no.such.capability")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "capability not available", d.Reason)
	})

	t.Run("inactive capability denied with same reason", func(t *testing.T) {
		require.NoError(t, f.capabilities.PutCapability(ctx, &models.Capability{
			ID: "legacy.op", Category: "legacy", RiskLevel: models.RiskLow, IsActive: false,
		}))
		d, err := eval.Check(ctx, f.editor, "legacy.op")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "capability not available", d.Reason)
	})

	t.Run("not enabled for org denied", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "capability not enabled for this workspace", d.Reason)
	})

	t.Run("enabled capability allowed", func(t *testing.T) {
		f.enable(t, &models.OrgCapability{CapabilityID: "tickets.create"})
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.False(t, d.RequiresApproval)
		require.Nil(t, d.DailyRemaining)
		require.Nil(t, d.MonthlyRemaining)
	})

	t.Run("explicitly disabled row denied", func(t *testing.T) {
		require.NoError(t, f.capabilities.PutOrgCapability(ctx, &models.OrgCapability{
			OrgID: f.orgID, CapabilityID: "tickets.create", Enabled: false, ApprovalPolicy: models.ApprovalInherit,
		}))
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.False(t, d.Allowed)
	})
}

func TestCheck_UsageLimits(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)
	eval := NewEvaluator(f.capabilities, f.directory, nil)

	f.addCapability(t, &models.Capability{ID: "messages.send", Category: "messaging", RiskLevel: models.RiskMedium})
	f.enable(t, &models.OrgCapability{CapabilityID: "messages.send", DailyLimit: intPtr(2), MonthlyLimit: intPtr(10)})

	t.Run("remaining quota surfaced", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "messages.send")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2, *d.DailyRemaining)
		require.Equal(t, 10, *d.MonthlyRemaining)
	})

	t.Run("check does not consume quota", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			d, err := eval.Check(ctx, f.editor, "messages.send")
			require.NoError(t, err)
			require.True(t, d.Allowed)
			require.Equal(t, 2, *d.DailyRemaining)
		}
	})

	t.Run("daily limit reached", func(t *testing.T) {
		require.NoError(t, eval.IncrementUsage(ctx, f.editor, "messages.send"))
		require.NoError(t, eval.IncrementUsage(ctx, f.editor, "messages.send"))

		d, err := eval.Check(ctx, f.editor, "messages.send")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "daily usage limit reached", d.Reason)
		require.NotNil(t, d.DailyRemaining)
		require.Equal(t, 0, *d.DailyRemaining)
		require.Equal(t, 8, *d.MonthlyRemaining)
	})

	t.Run("daily reset restores access", func(t *testing.T) {
		_, err := f.capabilities.ResetDailyUsage(ctx)
		require.NoError(t, err)

		d, err := eval.Check(ctx, f.editor, "messages.send")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2, *d.DailyRemaining)
		require.Equal(t, 8, *d.MonthlyRemaining)
	})

	t.Run("monthly limit reached", func(t *testing.T) {
		for i := 0; i < 8; i++ {
			require.NoError(t, f.capabilities.IncrementUsage(ctx, f.orgID, "messages.send"))
		}
		_, err := f.capabilities.ResetDailyUsage(ctx)
		require.NoError(t, err)

		d, err := eval.Check(ctx, f.editor, "messages.send")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "monthly usage limit reached", d.Reason)
		require.NotNil(t, d.MonthlyRemaining)
		require.Equal(t, 0, *d.MonthlyRemaining)
		require.Equal(t, 2, *d.DailyRemaining)
	})
}

func TestCheck_HourWindow(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)

	f.addCapability(t, &models.Capability{ID: "tickets.create", Category: "tickets", RiskLevel: models.RiskLow})
	f.enable(t, &models.OrgCapability{CapabilityID: "tickets.create"})

	policy := models.DefaultSecurityPolicy(f.orgID)
	policy.AllowedHours = &models.HourWindow{
		StartHour: 9,
		EndHour:   17,
		Days:      []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday},
		Timezone:  "UTC",
	}
	require.NoError(t, f.directory.PutSecurityPolicy(ctx, policy))

	// 2026-01-05 is a Monday.
	inside := time.Date(2026, 1, 5, 10, 0, 0, 0, time.UTC)
	afterHours := time.Date(2026, 1, 5, 20, 0, 0, 0, time.UTC)
	weekend := time.Date(2026, 1, 4, 10, 0, 0, 0, time.UTC)

	t.Run("inside window allowed", func(t *testing.T) {
		eval := NewEvaluator(f.capabilities, f.directory, func() time.Time { return inside })
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	})

	t.Run("after hours denied", func(t *testing.T) {
		eval := NewEvaluator(f.capabilities, f.directory, func() time.Time { return afterHours })
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "outside allowed hours", d.Reason)
	})

	t.Run("weekend denied", func(t *testing.T) {
		eval := NewEvaluator(f.capabilities, f.directory, func() time.Time { return weekend })
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.False(t, d.Allowed)
	})

	t.Run("no security policy means no restriction", func(t *testing.T) {
		other := newEvalFixture(t)
		other.addCapability(t, &models.Capability{ID: "tickets.create", Category: "tickets", RiskLevel: models.RiskLow})
		other.enable(t, &models.OrgCapability{CapabilityID: "tickets.create"})

		eval := NewEvaluator(other.capabilities, other.directory, func() time.Time { return weekend })
		d, err := eval.Check(ctx, other.editor, "tickets.create")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	})
}

func TestCheck_ApprovalPolicy(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)
	eval := NewEvaluator(f.capabilities, f.directory, nil)

	f.addCapability(t, &models.Capability{
		ID: "documents.share", Category: "documents", RiskLevel: models.RiskHigh, RequiresApproval: true,
	})

	t.Run("inherit defers to capability default", func(t *testing.T) {
		f.enable(t, &models.OrgCapability{CapabilityID: "documents.share", ApprovalPolicy: models.ApprovalInherit})
		d, err := eval.Check(ctx, f.editor, "documents.share")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.True(t, d.RequiresApproval)
	})

	t.Run("never overrides capability default", func(t *testing.T) {
		f.enable(t, &models.OrgCapability{CapabilityID: "documents.share", ApprovalPolicy: models.ApprovalNever})
		d, err := eval.Check(ctx, f.editor, "documents.share")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.False(t, d.RequiresApproval)
	})

	t.Run("always forces approval", func(t *testing.T) {
		f.addCapability(t, &models.Capability{ID: "tickets.read", Category: "tickets", RiskLevel: models.RiskLow})
		f.enable(t, &models.OrgCapability{CapabilityID: "tickets.read", ApprovalPolicy: models.ApprovalAlways})
		d, err := eval.Check(ctx, f.editor, "tickets.read")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.True(t, d.RequiresApproval)
	})
}

func TestCheck_AdminGating(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)
	eval := NewEvaluator(f.capabilities, f.directory, nil)

	f.addCapability(t, &models.Capability{
		ID: "payments.send", Category: "payments", RiskLevel: models.RiskCritical,
		RequiresApproval: true, Requires2FA: true, RequiresAdmin: true,
	})
	// Approval policy "never" must not bypass the admin gate.
	f.enable(t, &models.OrgCapability{CapabilityID: "payments.send", ApprovalPolicy: models.ApprovalNever})

	t.Run("non-admin denied regardless of approval policy", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "payments.send")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.True(t, d.RequiresAdmin)
		require.Equal(t, "administrator role required", d.Reason)
	})

	t.Run("admin allowed with flags surfaced", func(t *testing.T) {
		d, err := eval.Check(ctx, f.admin, "payments.send")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.True(t, d.RequiresAdmin)
		require.True(t, d.Requires2FA)
		require.False(t, d.RequiresApproval)
	})
}

func TestSeedRegistryAndEnableDefaults(t *testing.T) {
	ctx := context.Background()
	f := newEvalFixture(t)

	require.NoError(t, SeedRegistry(ctx, f.capabilities))

	defs, err := f.capabilities.ListCapabilities(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, defs)

	require.NoError(t, EnableDefaults(ctx, f.capabilities, f.directory, f.orgID))

	eval := NewEvaluator(f.capabilities, f.directory, nil)

	t.Run("low risk enabled by default", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "tickets.create")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	})

	t.Run("high risk stays disabled", func(t *testing.T) {
		d, err := eval.Check(ctx, f.editor, "documents.share")
		require.NoError(t, err)
		require.False(t, d.Allowed)
		require.Equal(t, "capability not enabled for this workspace", d.Reason)
	})

	t.Run("default security policy written", func(t *testing.T) {
		policy, err := f.directory.GetSecurityPolicy(ctx, f.orgID)
		require.NoError(t, err)
		require.Equal(t, f.orgID, policy.OrgID)
	})

	t.Run("seeding is idempotent", func(t *testing.T) {
		require.NoError(t, SeedRegistry(ctx, f.capabilities))
		again, err := f.capabilities.ListCapabilities(ctx)
		require.NoError(t, err)
		require.Len(t, again, len(defs))
	})
}
