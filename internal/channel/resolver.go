package channel

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/kiisha-io/kiisha/internal/apperr"
	"github.com/kiisha-io/kiisha/internal/models"
	"github.com/kiisha-io/kiisha/internal/store"
	"github.com/kiisha-io/kiisha/internal/telemetry"
)

// Binding code TTL bounds. Requested TTLs are clamped into this range.
const (
	MinCodeTTL     = 5 * time.Minute
	DefaultCodeTTL = 15 * time.Minute
	MaxCodeTTL     = 60 * time.Minute

	// codeAttempts bounds the uniqueness retry loop for code generation.
	codeAttempts = 10
)

// ErrInvalidCode is the uniform failure for every binding-code redemption
// problem: unknown, used, expired, wrong user, wrong channel. One error for
// all cases, so a probing sender learns nothing.
var ErrInvalidCode = errors.New("invalid or expired code")

// Rule names which cascade step resolved the workspace.
type Rule string

const (
	RuleIdentity       Rule = "identity"
	RuleChannelDefault Rule = "channel_default"
	RuleThreadBinding  Rule = "thread_binding"
	RuleSoleMembership Rule = "sole_membership"
	RuleAmbiguous      Rule = "ambiguous"
)

// Resolution is the outcome of resolving an inbound message's workspace.
// When Ambiguous is set, Candidates carries the possible orgs for internal
// routing only; it must never be rendered to the channel.
type Resolution struct {
	OrgID      uuid.UUID
	Ambiguous  bool
	Candidates []uuid.UUID
	Rule       Rule
}

// Resolver maps inbound channel messages to workspaces and manages binding
// codes.
type Resolver struct {
	channels  store.ChannelStore
	bindings  store.BindingCodeStore
	directory store.DirectoryStore
	now       func() time.Time
}

// NewResolver creates a channel workspace resolver. now may be nil,
// defaulting to time.Now.
func NewResolver(channels store.ChannelStore, bindings store.BindingCodeStore, directory store.DirectoryStore, now func() time.Time) *Resolver {
	if now == nil {
		now = time.Now
	}
	return &Resolver{
		channels:  channels,
		bindings:  bindings,
		directory: directory,
		now:       now,
	}
}

// ResolveIncomingMessage decides which workspace an inbound message belongs
// to. The cascade, first match wins: identifier registration, user's channel
// default, existing thread binding, sole active membership. Anything else is
// ambiguous.
//
// A registration or default pointing at a suspended org, or one the sender no
// longer has an active membership in, is skipped and the cascade continues.
func (r *Resolver) ResolveIncomingMessage(ctx context.Context, userID uuid.UUID, channel, identifier, threadID string) (*Resolution, error) {
	identity, err := r.channels.GetIdentity(ctx, channel, identifier)
	if err == nil {
		ok, err := r.activeIn(ctx, userID, identity.OrgID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Resolution{OrgID: identity.OrgID, Rule: RuleIdentity}, nil
		}
	} else if !errors.Is(err, store.ErrChannelIdentityNotFound) {
		return nil, fmt.Errorf("failed to look up channel identity: %w", err)
	}

	def, err := r.channels.GetChannelDefault(ctx, userID, channel)
	if err == nil {
		ok, err := r.activeIn(ctx, userID, def.OrgID)
		if err != nil {
			return nil, err
		}
		if ok {
			return &Resolution{OrgID: def.OrgID, Rule: RuleChannelDefault}, nil
		}
	} else if !errors.Is(err, store.ErrChannelDefaultNotFound) {
		return nil, fmt.Errorf("failed to look up channel default: %w", err)
	}

	session, err := r.channels.GetConversation(ctx, userID, channel, threadID)
	if err == nil {
		return &Resolution{OrgID: session.OrgID, Rule: RuleThreadBinding}, nil
	}
	if !errors.Is(err, store.ErrConversationNotFound) {
		return nil, fmt.Errorf("failed to look up conversation session: %w", err)
	}

	memberships, err := r.directory.ListMemberships(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}

	var candidates []uuid.UUID
	for _, m := range memberships {
		if m.IsActive() {
			candidates = append(candidates, m.OrgID)
		}
	}

	if len(candidates) == 1 {
		return &Resolution{OrgID: candidates[0], Rule: RuleSoleMembership}, nil
	}

	return &Resolution{
		Ambiguous:  true,
		Candidates: candidates,
		Rule:       RuleAmbiguous,
	}, nil
}

// activeIn reports whether the user currently holds an active membership in
// an active org. Lookup misses count as inactive, not as errors.
func (r *Resolver) activeIn(ctx context.Context, userID, orgID uuid.UUID) (bool, error) {
	org, err := r.directory.GetOrganization(ctx, orgID)
	if err != nil {
		if errors.Is(err, store.ErrOrganizationNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up organization: %w", err)
	}
	if !org.IsActive() {
		return false, nil
	}

	membership, err := r.directory.GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to look up membership: %w", err)
	}

	return membership.IsActive(), nil
}

// GenerateBindingCode mints a single-use 6-digit code binding the user to
// one org, optionally scoped to one channel. The TTL is clamped to
// [MinCodeTTL, MaxCodeTTL], defaulting to DefaultCodeTTL when zero. The
// caller must already hold an authenticated web session with an active
// membership in the org.
func (r *Resolver) GenerateBindingCode(ctx context.Context, userID, orgID uuid.UUID, channel string, ttl time.Duration) (*models.WorkspaceBindingCode, error) {
	membership, err := r.directory.GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return nil, apperr.Forbidden("no membership in requested organization")
		}
		return nil, fmt.Errorf("failed to look up membership: %w", err)
	}
	if !membership.IsActive() {
		return nil, apperr.Forbidden(fmt.Sprintf("membership status %s", membership.Status))
	}

	switch {
	case ttl == 0:
		ttl = DefaultCodeTTL
	case ttl < MinCodeTTL:
		ttl = MinCodeTTL
	case ttl > MaxCodeTTL:
		ttl = MaxCodeTTL
	}

	now := r.now()
	for attempt := 0; attempt < codeAttempts; attempt++ {
		value, err := randomCode()
		if err != nil {
			return nil, fmt.Errorf("failed to generate code: %w", err)
		}

		code := &models.WorkspaceBindingCode{
			Code:      value,
			UserID:    userID,
			OrgID:     orgID,
			Channel:   channel,
			CreatedAt: now,
			ExpiresAt: now.Add(ttl),
		}

		err = r.bindings.Create(ctx, code)
		if err == nil {
			log.Debug().
				Str("user_id", userID.String()).
				Str("org_id", orgID.String()).
				Int("attempt", attempt+1).
				Msg("Issued binding code")
			return code, nil
		}
		if !errors.Is(err, store.ErrBindingCodeExists) {
			return nil, fmt.Errorf("failed to store binding code: %w", err)
		}
	}

	return nil, apperr.Internal(fmt.Sprintf("binding code keyspace exhausted after %d attempts", codeAttempts))
}

// randomCode returns a zero-padded 6-digit numeric string drawn from
// crypto/rand.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

// UseBindingCode redeems a code from a channel message and rebinds the
// thread's conversation session to the code's org.
//
// Validation order: code exists, unused, unexpired, belongs to the sender,
// and matches the channel when the code is channel-scoped. Every failure
// returns ErrInvalidCode with no further detail. Marking the code used is a
// single conditional update, so a duplicate redemption attempt also gets
// ErrInvalidCode. Rebinding clears the session's cached pointers.
func (r *Resolver) UseBindingCode(ctx context.Context, userID uuid.UUID, channel, identifier, threadID, code string) (*Resolution, error) {
	existing, err := r.bindings.Get(ctx, code)
	if err != nil {
		if errors.Is(err, store.ErrBindingCodeNotFound) {
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to look up binding code: %w", err)
	}

	now := r.now()
	switch {
	case existing.IsUsed(), existing.IsExpired(now):
		return nil, ErrInvalidCode
	case existing.UserID != userID:
		log.Warn().
			Str("channel", channel).
			Str("user_id", userID.String()).
			Msg("Binding code redemption by wrong user")
		return nil, ErrInvalidCode
	case existing.Channel != "" && existing.Channel != channel:
		return nil, ErrInvalidCode
	}

	consumed, err := r.bindings.Consume(ctx, code, channel, identifier, now)
	if err != nil {
		if errors.Is(err, store.ErrBindingCodeNotFound) {
			// Lost the race to a concurrent redemption.
			return nil, ErrInvalidCode
		}
		return nil, fmt.Errorf("failed to consume binding code: %w", err)
	}

	if err := r.channels.BindConversation(ctx, userID, channel, threadID, consumed.OrgID); err != nil {
		return nil, fmt.Errorf("failed to bind conversation: %w", err)
	}

	telemetry.GetMetrics().BindingCodesConsumedTotal.Add(ctx, 1)

	log.Info().
		Str("user_id", userID.String()).
		Str("channel", channel).
		Str("org_id", consumed.OrgID.String()).
		Msg("Bound conversation via binding code")

	return &Resolution{OrgID: consumed.OrgID, Rule: RuleThreadBinding}, nil
}

// SetChannelDefault records the user's default workspace for a channel type,
// after verifying an active membership.
func (r *Resolver) SetChannelDefault(ctx context.Context, userID, orgID uuid.UUID, channel string) error {
	membership, err := r.directory.GetMembership(ctx, userID, orgID)
	if err != nil {
		if errors.Is(err, store.ErrMembershipNotFound) {
			return apperr.Forbidden("no membership in requested organization")
		}
		return fmt.Errorf("failed to look up membership: %w", err)
	}
	if !membership.IsActive() {
		return apperr.Forbidden(fmt.Sprintf("membership status %s", membership.Status))
	}

	return r.channels.SetChannelDefault(ctx, &models.ChannelDefault{
		UserID:  userID,
		Channel: channel,
		OrgID:   orgID,
	})
}

// ListActiveCodes returns the user's outstanding binding codes.
func (r *Resolver) ListActiveCodes(ctx context.Context, userID uuid.UUID) ([]*models.WorkspaceBindingCode, error) {
	return r.bindings.ListActiveByUser(ctx, userID)
}

// CleanupExpiredCodes removes expired codes. Run by the scheduler.
func (r *Resolver) CleanupExpiredCodes(ctx context.Context) (int, error) {
	return r.bindings.DeleteExpired(ctx)
}

// CleanupStaleConversations removes thread sessions idle for longer than
// maxAge. Run by the scheduler.
func (r *Resolver) CleanupStaleConversations(ctx context.Context, maxAge time.Duration) (int, error) {
	return r.channels.DeleteStaleConversations(ctx, r.now().Add(-maxAge))
}
