package app

import (
	"context"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// SubscriptionUpdater changes the seats of an organization's subscription.
// The same call is used to grow seats and to give them back.
type SubscriptionUpdater interface {
	UpdateSeats(ctx context.Context, orgID shared.ID, delta organization.SeatDelta) (organization.SeatTotals, error)
}

// InviteTokenIssuer issues and verifies time-boxed invite tokens.
type InviteTokenIssuer interface {
	Issue(m *organization.Membership) (organization.InviteToken, error)
	Verify(token string) (organization.InviteClaims, error)
}

// InviteMailer dispatches invitation and seat notice emails.
type InviteMailer interface {
	SendInviteEmails(ctx context.Context, batch organization.InviteEmailBatch) error
	SendSeatNotice(ctx context.Context, notice organization.SeatNotice) error
}

// EventLogger records membership events.
type EventLogger interface {
	LogMembershipEvents(ctx context.Context, events []organization.MembershipEvent) error
}

// KeySyncPusher tells a user's devices to resynchronize organization keys.
type KeySyncPusher interface {
	PushSyncOrgKeys(ctx context.Context, userID shared.ID) error
}

// TwoFactorInvalidator drops cached two-step login status.
type TwoFactorInvalidator interface {
	Invalidate(ctx context.Context, userIDs ...shared.ID) error
}

// Feature is a named feature flag.
type Feature string

// FeaturePushSyncOrgKeysOnRevokeRestore enables key sync pushes after revoke and restore.
const FeaturePushSyncOrgKeysOnRevokeRestore Feature = "push-sync-org-keys-on-revoke-restore"

// FeatureFlags reports whether a feature is enabled.
type FeatureFlags interface {
	IsEnabled(flag Feature) bool
}

// StaticFeatureFlags is a fixed set of enabled features.
type StaticFeatureFlags map[Feature]bool

// IsEnabled implements FeatureFlags.
func (f StaticFeatureFlags) IsEnabled(flag Feature) bool {
	return f[flag]
}
