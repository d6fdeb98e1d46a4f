package channel

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store/memory"
)

type channelFixture struct {
	channels  *memory.ChannelStore
	bindings  *memory.BindingCodeStore
	directory *memory.DirectoryStore
	userID    uuid.UUID
	clock     time.Time
}

func newChannelFixture(t *testing.T) *channelFixture {
	t.Helper()

	return &channelFixture{
		channels:  memory.NewChannelStore(),
		bindings:  memory.NewBindingCodeStore(),
		directory: memory.NewDirectoryStore(),
		userID:    uuid.Must(uuid.NewV7()),
		clock:     time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

func (f *channelFixture) resolver() *Resolver {
	return NewResolver(f.channels, f.bindings, f.directory, func() time.Time { return f.clock })
}

func (f *channelFixture) addOrgWithMembership(t *testing.T, slug string) uuid.UUID {
	t.Helper()

	orgID := uuid.Must(uuid.NewV7())
	require.NoError(t, f.directory.CreateOrganization(context.Background(), &models.Organization{
		OrgID: orgID, Slug: slug, Name: slug, Status: models.OrgStatusActive,
		CreatedAt: time.Now(), UpdatedAt: time.Now(),
	}))
	require.NoError(t, f.directory.PutMembership(context.Background(), &models.Membership{
		UserID: f.userID, OrgID: orgID, Role: models.RoleEditor,
		Status: models.MembershipActive, CreatedAt: time.Now(),
	}))
	return orgID
}

func TestResolveIncomingMessage_Cascade(t *testing.T) {
	ctx := context.Background()

	t.Run("identity registration wins", func(t *testing.T) {
		f := newChannelFixture(t)
		orgA := f.addOrgWithMembership(t, "acme")
		orgB := f.addOrgWithMembership(t, "beta")

		require.NoError(t, f.channels.PutIdentity(ctx, &models.ChannelIdentity{
			Channel: "whatsapp", Identifier: "+15550001", UserID: f.userID, OrgID: orgA,
		}))
		require.NoError(t, f.channels.SetChannelDefault(ctx, &models.ChannelDefault{
			UserID: f.userID, Channel: "whatsapp", OrgID: orgB,
		}))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "whatsapp", "+15550001", "T1")
		require.NoError(t, err)
		require.Equal(t, orgA, res.OrgID)
		require.Equal(t, RuleIdentity, res.Rule)
	})

	t.Run("channel default beats thread binding", func(t *testing.T) {
		f := newChannelFixture(t)
		orgA := f.addOrgWithMembership(t, "acme")
		orgB := f.addOrgWithMembership(t, "beta")

		require.NoError(t, f.channels.SetChannelDefault(ctx, &models.ChannelDefault{
			UserID: f.userID, Channel: "slack", OrgID: orgA,
		}))
		require.NoError(t, f.channels.BindConversation(ctx, f.userID, "slack", "T1", orgB))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.Equal(t, orgA, res.OrgID)
		require.Equal(t, RuleChannelDefault, res.Rule)
	})

	t.Run("thread binding", func(t *testing.T) {
		f := newChannelFixture(t)
		f.addOrgWithMembership(t, "acme")
		orgB := f.addOrgWithMembership(t, "beta")

		require.NoError(t, f.channels.BindConversation(ctx, f.userID, "slack", "T1", orgB))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.Equal(t, orgB, res.OrgID)
		require.Equal(t, RuleThreadBinding, res.Rule)
	})

	t.Run("sole active membership", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.Equal(t, org, res.OrgID)
		require.Equal(t, RuleSoleMembership, res.Rule)
	})

	t.Run("two memberships is ambiguous", func(t *testing.T) {
		f := newChannelFixture(t)
		orgA := f.addOrgWithMembership(t, "acme")
		orgB := f.addOrgWithMembership(t, "beta")

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.True(t, res.Ambiguous)
		require.ElementsMatch(t, []uuid.UUID{orgA, orgB}, res.Candidates)
	})

	t.Run("identity for suspended org falls through", func(t *testing.T) {
		f := newChannelFixture(t)
		active := f.addOrgWithMembership(t, "acme")

		suspended := uuid.Must(uuid.NewV7())
		require.NoError(t, f.directory.CreateOrganization(ctx, &models.Organization{
			OrgID: suspended, Slug: "frozen", Name: "frozen", Status: models.OrgStatusSuspended,
		}))
		require.NoError(t, f.directory.PutMembership(ctx, &models.Membership{
			UserID: f.userID, OrgID: suspended, Role: models.RoleEditor,
			Status: models.MembershipActive,
		}))
		require.NoError(t, f.channels.PutIdentity(ctx, &models.ChannelIdentity{
			Channel: "whatsapp", Identifier: "+15550001", UserID: f.userID, OrgID: suspended,
		}))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "whatsapp", "+15550001", "T1")
		require.NoError(t, err)
		require.Equal(t, active, res.OrgID)
		require.Equal(t, RuleSoleMembership, res.Rule)
	})

	t.Run("identity without membership falls through", func(t *testing.T) {
		f := newChannelFixture(t)
		active := f.addOrgWithMembership(t, "acme")

		other := uuid.Must(uuid.NewV7())
		require.NoError(t, f.directory.CreateOrganization(ctx, &models.Organization{
			OrgID: other, Slug: "other", Name: "other", Status: models.OrgStatusActive,
		}))
		require.NoError(t, f.channels.PutIdentity(ctx, &models.ChannelIdentity{
			Channel: "whatsapp", Identifier: "+15550001", UserID: f.userID, OrgID: other,
		}))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "whatsapp", "+15550001", "T1")
		require.NoError(t, err)
		require.Equal(t, active, res.OrgID)
		require.Equal(t, RuleSoleMembership, res.Rule)
	})

	t.Run("default with removed membership falls through", func(t *testing.T) {
		f := newChannelFixture(t)
		active := f.addOrgWithMembership(t, "acme")
		former := f.addOrgWithMembership(t, "beta")

		require.NoError(t, f.directory.PutMembership(ctx, &models.Membership{
			UserID: f.userID, OrgID: former, Role: models.RoleEditor,
			Status: models.MembershipRemoved,
		}))
		require.NoError(t, f.channels.SetChannelDefault(ctx, &models.ChannelDefault{
			UserID: f.userID, Channel: "slack", OrgID: former,
		}))

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.Equal(t, active, res.OrgID)
		require.Equal(t, RuleSoleMembership, res.Rule)
	})

	t.Run("no memberships is ambiguous with no candidates", func(t *testing.T) {
		f := newChannelFixture(t)

		res, err := f.resolver().ResolveIncomingMessage(ctx, f.userID, "slack", "U1", "T1")
		require.NoError(t, err)
		require.True(t, res.Ambiguous)
		require.Empty(t, res.Candidates)
	})
}

func TestGenerateBindingCode(t *testing.T) {
	ctx := context.Background()
	f := newChannelFixture(t)
	org := f.addOrgWithMembership(t, "acme")
	resolver := f.resolver()

	t.Run("code shape and default ttl", func(t *testing.T) {
		code, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", 0)
		require.NoError(t, err)
		require.Regexp(t, regexp.MustCompile(`^\d{6}$`), code.Code)
		require.Equal(t, f.clock.Add(DefaultCodeTTL), code.ExpiresAt)
	})

	t.Run("ttl clamped to bounds", func(t *testing.T) {
		short, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", time.Minute)
		require.NoError(t, err)
		require.Equal(t, f.clock.Add(MinCodeTTL), short.ExpiresAt)

		long, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", 4*time.Hour)
		require.NoError(t, err)
		require.Equal(t, f.clock.Add(MaxCodeTTL), long.ExpiresAt)
	})

	t.Run("no membership denied", func(t *testing.T) {
		_, err := resolver.GenerateBindingCode(ctx, f.userID, uuid.Must(uuid.NewV7()), "", 0)
		require.Error(t, err)
		require.Equal(t, apperr.KindForbidden, apperr.KindOf(err))
	})

	t.Run("listed as active", func(t *testing.T) {
		codes, err := resolver.ListActiveCodes(ctx, f.userID)
		require.NoError(t, err)
		require.Len(t, codes, 3)
	})
}

func TestUseBindingCode(t *testing.T) {
	ctx := context.Background()

	newBound := func(t *testing.T) (*channelFixture, *Resolver, uuid.UUID, *models.WorkspaceBindingCode) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		resolver := f.resolver()
		code, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", 0)
		require.NoError(t, err)
		return f, resolver, org, code
	}

	t.Run("successful redemption binds thread", func(t *testing.T) {
		f, resolver, org, code := newBound(t)

		res, err := resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T1", code.Code)
		require.NoError(t, err)
		require.Equal(t, org, res.OrgID)

		session, err := f.channels.GetConversation(ctx, f.userID, "slack", "T1")
		require.NoError(t, err)
		require.Equal(t, org, session.OrgID)
	})

	t.Run("second redemption fails uniformly", func(t *testing.T) {
		f, resolver, _, code := newBound(t)

		_, err := resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T1", code.Code)
		require.NoError(t, err)

		_, err = resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T2", code.Code)
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("unknown code", func(t *testing.T) {
		f, resolver, _, _ := newBound(t)
		_, err := resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T1", "000000")
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("expired code", func(t *testing.T) {
		f, _, _, code := newBound(t)
		f.clock = f.clock.Add(DefaultCodeTTL + time.Minute)

		_, err := f.resolver().UseBindingCode(ctx, f.userID, "slack", "U1", "T1", code.Code)
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("wrong user", func(t *testing.T) {
		_, resolver, _, code := newBound(t)
		_, err := resolver.UseBindingCode(ctx, uuid.Must(uuid.NewV7()), "slack", "U9", "T1", code.Code)
		require.ErrorIs(t, err, ErrInvalidCode)
	})

	t.Run("channel-scoped code on wrong channel", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		resolver := f.resolver()

		code, err := resolver.GenerateBindingCode(ctx, f.userID, org, "whatsapp", 0)
		require.NoError(t, err)

		_, err = resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T1", code.Code)
		require.ErrorIs(t, err, ErrInvalidCode)

		// Still redeemable on the right channel.
		res, err := resolver.UseBindingCode(ctx, f.userID, "whatsapp", "+15550001", "T1", code.Code)
		require.NoError(t, err)
		require.Equal(t, org, res.OrgID)
	})

	t.Run("rebinding clears stale pointers", func(t *testing.T) {
		f := newChannelFixture(t)
		orgA := f.addOrgWithMembership(t, "acme")
		orgB := f.addOrgWithMembership(t, "beta")
		resolver := f.resolver()

		require.NoError(t, f.channels.BindConversation(ctx, f.userID, "slack", "T1", orgA))
		require.NoError(t, f.channels.SetPointer(ctx, f.userID, "slack", "T1", "ticket", "TCK-1"))

		code, err := resolver.GenerateBindingCode(ctx, f.userID, orgB, "", 0)
		require.NoError(t, err)

		_, err = resolver.UseBindingCode(ctx, f.userID, "slack", "U1", "T1", code.Code)
		require.NoError(t, err)

		session, err := f.channels.GetConversation(ctx, f.userID, "slack", "T1")
		require.NoError(t, err)
		require.Equal(t, orgB, session.OrgID)
		require.Empty(t, session.Pointers)
	})
}

func TestHandleWorkspaceCommand(t *testing.T) {
	ctx := context.Background()

	t.Run("bind code grammar", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		f.addOrgWithMembership(t, "beta")
		resolver := f.resolver()

		code, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", 0)
		require.NoError(t, err)

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "BIND CODE "+code.Code)
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseBound, result.Reply)
	})

	t.Run("bare code form", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		f.addOrgWithMembership(t, "beta")
		resolver := f.resolver()

		code, err := resolver.GenerateBindingCode(ctx, f.userID, org, "", 0)
		require.NoError(t, err)

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "code "+code.Code)
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseBound, result.Reply)
	})

	t.Run("invalid code gets the canned response", func(t *testing.T) {
		f := newChannelFixture(t)
		resolver := f.resolver()

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "bind code 999999")
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseInvalidCode, result.Reply)
	})

	t.Run("workspace status when ambiguous leaks nothing", func(t *testing.T) {
		f := newChannelFixture(t)
		f.addOrgWithMembership(t, "secret-alpha")
		f.addOrgWithMembership(t, "secret-beta")
		resolver := f.resolver()

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "/workspace")
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseAmbiguous, result.Reply)
		require.NotContains(t, result.Reply, "secret")
		require.NotContains(t, result.Reply, "2")
	})

	t.Run("workspace status when bound", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		require.NoError(t, f.channels.BindConversation(ctx, f.userID, "slack", "T1", org))
		resolver := f.resolver()

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "/workspace")
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseWorkspaceSet, result.Reply)
		require.NotContains(t, result.Reply, "acme")
	})

	t.Run("switch workspace always forces rebind", func(t *testing.T) {
		f := newChannelFixture(t)
		org := f.addOrgWithMembership(t, "acme")
		require.NoError(t, f.channels.BindConversation(ctx, f.userID, "slack", "T1", org))
		resolver := f.resolver()

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "switch workspace")
		require.NoError(t, err)
		require.True(t, result.Handled)
		require.Equal(t, ResponseAmbiguous, result.Reply)
	})

	t.Run("ordinary text passes through", func(t *testing.T) {
		f := newChannelFixture(t)
		resolver := f.resolver()

		result, err := resolver.HandleWorkspaceCommand(ctx, f.userID, "slack", "U1", "T1", "please create a ticket")
		require.NoError(t, err)
		require.False(t, result.Handled)
	})
}
