package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/access"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var keySyncOn = app.StaticFeatureFlags{app.FeaturePushSyncOrgKeysOnRevokeRestore: true}

// ============================================================================
// Revoke
// ============================================================================

func TestRevoke(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, _ := f.addMember(memberSpec{status: organization.StatusConfirmed})

	got, err := f.members.Revoke(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.NoError(t, err)

	assert.Equal(t, organization.StatusRevoked, got.Status())
	assert.Equal(t, organization.StatusRevoked, f.status(m.ID()))
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, organization.EventRevoked, events[0].Type)
	assert.Equal(t, m.ID(), events[0].MembershipID)
	assert.Equal(t, ownerID, events[0].ActingUserID)
	assert.Empty(t, f.pusher.pushed, "key sync push is off by default")
}

func TestRevoke_PushesKeySyncWhenEnabled(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10), features: keySyncOn})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, userID := f.addMember(memberSpec{status: organization.StatusConfirmed})
	f.pusher.err = errBoom

	_, err := f.members.Revoke(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.NoError(t, err, "push failures are not fatal")
	assert.Equal(t, []shared.ID{*userID}, f.pusher.pushed)
	assert.Equal(t, organization.StatusRevoked, f.status(m.ID()))
}

func TestRevoke_Guards(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(f *fixture) (target shared.ID, actor app.Actor)
		check   func(error) bool
		message string
	}{
		{
			name: "actor without manage users",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				m, _ := f.addMember(memberSpec{status: organization.StatusConfirmed})
				return m.ID(), app.UserActor(shared.NewID(), access.Privileges{Role: organization.RoleUser})
			},
			check:   shared.IsPermissionDenied,
			message: access.MsgCannotManageUsers,
		},
		{
			name: "self",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				m, userID := f.addMember(memberSpec{role: organization.RoleAdmin, status: organization.StatusConfirmed})
				return m.ID(), app.UserActor(*userID, access.PrivilegesOf(m))
			},
			check:   shared.IsStateConflict,
			message: app.MsgCannotRevokeSelf,
		},
		{
			name: "admin revoking owner",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				m, _ := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
				return m.ID(), adminActor()
			},
			check:   shared.IsPermissionDenied,
			message: app.MsgOwnerRevokeOwnerOnly,
		},
		{
			name: "already revoked",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				m, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true})
				return m.ID(), adminActor()
			},
			check:   shared.IsStateConflict,
			message: app.MsgAlreadyRevoked,
		},
		{
			name: "last confirmed owner",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				var owner shared.ID
				for id, st := range f.memberships.states {
					if st.Role == organization.RoleOwner {
						owner = id
					}
				}
				return owner, app.SystemActor(organization.SystemUserSCIM)
			},
			check:   shared.IsStateConflict,
			message: organization.MsgOwnerRequired,
		},
		{
			name: "membership of another organization",
			setup: func(f *fixture) (shared.ID, app.Actor) {
				other, _ := organization.NewInvitedMembership(shared.NewID(), "x@example.com", organization.RoleUser, organization.Permissions{}, "", false)
				f.memberships.put(other)
				return other.ID(), adminActor()
			},
			check:   shared.IsNotFound,
			message: organization.MsgMembershipMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{seats: intPtr(10), features: keySyncOn})
			f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
			target, actor := tt.setup(f)
			before := f.status(target)

			_, err := f.members.Revoke(context.Background(), f.orgID, target, actor)
			require.Error(t, err)
			assert.True(t, tt.check(err), "unexpected error kind: %v", err)
			assert.Equal(t, tt.message, shared.Message(err))

			assert.Equal(t, before, f.status(target))
			assert.Zero(t, f.memberships.setStatusCalls)
			assert.Empty(t, f.events.batches)
			assert.Empty(t, f.pusher.pushed)
		})
	}
}

func TestRevokeMany(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	owner, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	a, _ := f.addMember(memberSpec{status: organization.StatusConfirmed})
	b, _ := f.addMember(memberSpec{status: organization.StatusInvited})
	missingID := shared.NewID()

	results, err := f.members.RevokeMany(context.Background(), f.orgID, []shared.ID{a.ID(), owner.ID(), missingID, b.ID()}, ownerActor(ownerID))
	require.NoError(t, err)
	require.Len(t, results, 4)

	assert.True(t, results[0].Succeeded())
	assert.Equal(t, organization.StatusRevoked, results[0].Status)
	assert.Equal(t, app.MsgCannotRevokeSelf, results[1].Message())
	assert.True(t, shared.IsNotFound(results[2].Err))
	assert.Equal(t, organization.MsgMembershipMissing, results[2].Message())
	assert.True(t, results[3].Succeeded())

	assert.Equal(t, organization.StatusConfirmed, f.status(owner.ID()))
	assert.Len(t, f.events.all(), 2)
}

// ============================================================================
// Restore
// ============================================================================

func TestRestore_NeverConfirmedReturnsToInvited(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10), features: keySyncOn})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, _ := f.addMember(memberSpec{status: organization.StatusRevoked})
	f.policies.enable(f.orgID, organization.PolicyTwoFactorRequired)

	got, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.NoError(t, err)

	assert.Equal(t, organization.StatusInvited, got.Status())
	assert.Equal(t, organization.StatusInvited, f.status(m.ID()))
	assert.Zero(t, f.policies.calls, "invited destination skips the policy gate")
	assert.Empty(t, f.pusher.pushed, "no user to push to")
	events := f.events.all()
	require.Len(t, events, 1)
	assert.Equal(t, organization.EventRestored, events[0].Type)
}

func TestRestore_ConfirmedBeforeReturnsToConfirmed(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10), features: keySyncOn})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, userID := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true})

	got, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.NoError(t, err)

	assert.Equal(t, organization.StatusConfirmed, got.Status())
	assert.Equal(t, organization.StatusConfirmed, f.status(m.ID()))
	assert.Equal(t, []shared.ID{*userID}, f.pusher.pushed)
}

func TestRestore_SelfActionGuard(t *testing.T) {
	roles := []organization.Role{organization.RoleOwner, organization.RoleAdmin, organization.RoleCustom, organization.RoleUser}
	for _, role := range roles {
		for _, twoFactorPolicy := range []bool{false, true} {
			f := newFixture(t, fixtureOptions{seats: intPtr(10)})
			f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
			m, userID := f.addMember(memberSpec{role: role, status: organization.StatusRevoked, confirmedBefore: true})
			if twoFactorPolicy {
				f.policies.enable(f.orgID, organization.PolicyTwoFactorRequired)
			}
			actor := app.UserActor(*userID, access.Privileges{Role: role, Permissions: organization.PermissionsOf(organization.CapManageUsers)})

			_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), actor)
			require.Error(t, err)
			assert.True(t, shared.IsStateConflict(err), "role %s: %v", role, err)
			assert.Equal(t, app.MsgCannotRestoreSelf, shared.Message(err))
			assert.Equal(t, organization.StatusRevoked, f.status(m.ID()))
		}
	}
}

func TestRestore_OwnerGuard(t *testing.T) {
	actors := map[string]app.Actor{
		"admin": adminActor(),
		"custom": app.UserActor(shared.NewID(), access.Privileges{
			Role:        organization.RoleCustom,
			Permissions: organization.PermissionsOf(organization.CapManageUsers),
		}),
	}
	for name, actor := range actors {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, fixtureOptions{seats: intPtr(10)})
			f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
			m, _ := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusRevoked, confirmedBefore: true})

			_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), actor)
			require.Error(t, err)
			assert.True(t, shared.IsPermissionDenied(err))
			assert.Equal(t, app.MsgOwnerRestoreOnly, shared.Message(err))
		})
	}

	t.Run("owner", func(t *testing.T) {
		f := newFixture(t, fixtureOptions{seats: intPtr(10)})
		_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
		m, _ := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusRevoked, confirmedBefore: true})

		_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
		require.NoError(t, err)
	})
}

func TestRestore_AlreadyActive(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, _ := f.addMember(memberSpec{status: organization.StatusAccepted})

	_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.Error(t, err)
	assert.True(t, shared.IsStateConflict(err))
	assert.Equal(t, app.MsgAlreadyActive, shared.Message(err))
}

func TestRestore_PolicyViolationWritesNothing(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(1), features: keySyncOn})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true, email: "nofa@example.com"})
	f.policies.enable(f.orgID, organization.PolicyTwoFactorRequired)

	_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.Error(t, err)
	assert.True(t, shared.IsPolicyViolation(err))

	var pv *organization.PolicyViolationError
	require.ErrorAs(t, err, &pv)
	assert.True(t, pv.Violates(organization.PolicyTwoFactorRequired))
	assert.Equal(t, "nofa@example.com", pv.Email)

	assert.Equal(t, organization.StatusRevoked, f.status(m.ID()))
	assert.Empty(t, f.subs.calls)
	assert.Empty(t, f.events.batches)
	assert.Empty(t, f.pusher.pushed)
}

func TestRestore_ReleasesSeatWhenWriteFails(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(1)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true})
	f.memberships.setStatusErr = errBoom

	_, err := f.members.Restore(context.Background(), f.orgID, m.ID(), ownerActor(ownerID))
	require.ErrorIs(t, err, errBoom)

	assert.Equal(t, []organization.SeatDelta{{PasswordManager: 1}, {PasswordManager: -1}}, f.subs.calls)
	assert.Equal(t, 1, f.seats())
	assert.Equal(t, organization.StatusRevoked, f.status(m.ID()))
	assert.Empty(t, f.events.batches)
}

// ============================================================================
// RestoreMany
// ============================================================================

func TestRestoreMany_MixedBatch(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed, twoFactor: true})
	a, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true, twoFactor: true})
	b, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true, email: "b@example.com"})
	c, _ := f.addMember(memberSpec{status: organization.StatusRevoked})
	f.policies.enable(f.orgID, organization.PolicyTwoFactorRequired)

	results, err := f.members.RestoreMany(context.Background(), f.orgID, []shared.ID{a.ID(), b.ID(), c.ID()}, ownerActor(ownerID))
	require.NoError(t, err)
	require.Len(t, results, 3)

	assert.True(t, results[0].Succeeded())
	assert.Equal(t, organization.StatusConfirmed, results[0].Status)

	require.Error(t, results[1].Err)
	assert.True(t, shared.IsPolicyViolation(results[1].Err))
	assert.Equal(t, "b@example.com "+organization.ReasonTwoFactor, results[1].Message())
	assert.Equal(t, organization.StatusRevoked, results[1].Status)

	assert.True(t, results[2].Succeeded())
	assert.Equal(t, organization.StatusInvited, results[2].Status)

	assert.Equal(t, 2, f.policies.calls, "one lookup per policy type for the whole batch")
	assert.Equal(t, 1, f.users.twoFactorCalls)
	assert.Len(t, f.events.all(), 2)
}

func TestRestoreMany_PerItemFailures(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	owner, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	active, _ := f.addMember(memberSpec{status: organization.StatusConfirmed})
	revoked, _ := f.addMember(memberSpec{status: organization.StatusRevoked, confirmedBefore: true})
	other, _ := organization.NewInvitedMembership(shared.NewID(), "x@example.com", organization.RoleUser, organization.Permissions{}, "", false)
	f.memberships.put(other)

	ids := []shared.ID{owner.ID(), active.ID(), other.ID(), revoked.ID(), revoked.ID()}
	results, err := f.members.RestoreMany(context.Background(), f.orgID, ids, ownerActor(ownerID))
	require.NoError(t, err)
	require.Len(t, results, 5)

	assert.Equal(t, app.MsgCannotRestoreSelf, results[0].Message())
	assert.Equal(t, app.MsgAlreadyActive, results[1].Message())
	assert.Equal(t, organization.MsgMembershipMissing, results[2].Message())
	assert.True(t, results[3].Succeeded())
	assert.Equal(t, app.MsgAlreadyActive, results[4].Message(), "a repeated id is restored once")
	assert.Len(t, f.events.all(), 1)
}

// ============================================================================
// Accept / Confirm
// ============================================================================

func TestAccept(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	result, err := f.invites.InviteMany(context.Background(), f.orgID, ownerActor(ownerID), []organization.InviteRequest{
		userInvite("new@example.com"),
	})
	require.NoError(t, err)
	token := result.Tokens[0].Token

	t.Run("email mismatch", func(t *testing.T) {
		stranger := shared.NewID()
		f.users.emails[stranger] = "other@example.com"

		_, err := f.members.Accept(context.Background(), token, stranger)
		require.Error(t, err)
		assert.Equal(t, app.MsgInviteEmailMismatch, shared.Message(err))
	})

	t.Run("invalid token", func(t *testing.T) {
		_, err := f.members.Accept(context.Background(), "garbage", shared.NewID())
		assert.True(t, shared.IsValidation(err))
	})

	userID := shared.NewID()
	f.users.emails[userID] = "New@Example.com"

	m, err := f.members.Accept(context.Background(), token, userID)
	require.NoError(t, err)
	assert.Equal(t, organization.StatusAccepted, m.Status())
	assert.True(t, m.IsUser(userID))
	assert.Equal(t, organization.StatusAccepted, f.status(m.ID()))

	_, err = f.members.Accept(context.Background(), token, userID)
	require.Error(t, err)
	assert.True(t, shared.IsStateConflict(err))
}

func TestAccept_RefreshesTwoFactorStatus(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	result, err := f.invites.InviteMany(context.Background(), f.orgID, ownerActor(ownerID), []organization.InviteRequest{
		userInvite("new@example.com"),
	})
	require.NoError(t, err)

	userID := shared.NewID()
	f.users.emails[userID] = "new@example.com"
	f.users.twoFactor[userID] = true
	f.policies.enable(f.orgID, organization.PolicyTwoFactorRequired)

	_, err = f.members.Accept(context.Background(), result.Tokens[0].Token, userID)
	require.NoError(t, err)
	assert.Equal(t, []shared.ID{userID}, f.users.invalidated)
}

func TestConfirm(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, userID := f.addMember(memberSpec{status: organization.StatusAccepted})

	t.Run("custom actor may not confirm an admin", func(t *testing.T) {
		admin, _ := f.addMember(memberSpec{role: organization.RoleAdmin, status: organization.StatusAccepted})
		actor := app.UserActor(shared.NewID(), access.Privileges{
			Role:        organization.RoleCustom,
			Permissions: organization.PermissionsOf(organization.CapManageUsers),
		})
		_, err := f.members.Confirm(context.Background(), f.orgID, admin.ID(), "key", actor)
		assert.True(t, shared.IsPermissionDenied(err))
	})

	got, err := f.members.Confirm(context.Background(), f.orgID, m.ID(), "encrypted-org-key", ownerActor(ownerID))
	require.NoError(t, err)
	assert.Equal(t, organization.StatusConfirmed, got.Status())
	assert.Nil(t, got.Email())
	assert.Equal(t, "encrypted-org-key", got.Key())
	assert.Equal(t, []shared.ID{*userID}, f.pusher.pushed)

	_, err = f.members.Confirm(context.Background(), f.orgID, m.ID(), "again", ownerActor(ownerID))
	assert.True(t, shared.IsStateConflict(err))
}

func TestConfirm_SingleOrgPolicy(t *testing.T) {
	f := newFixture(t, fixtureOptions{seats: intPtr(10)})
	_, ownerID := f.addMember(memberSpec{role: organization.RoleOwner, status: organization.StatusConfirmed})
	m, userID := f.addMember(memberSpec{status: organization.StatusAccepted, email: "multi@example.com"})
	f.policies.enable(f.orgID, organization.PolicySingleOrg)

	elsewhere := organization.ReconstituteMembership(organization.MembershipState{
		ID:             shared.NewID(),
		OrganizationID: shared.NewID(),
		UserID:         userID,
		Role:           organization.RoleUser,
		Status:         organization.StatusConfirmed,
	})
	f.memberships.put(elsewhere)

	_, err := f.members.Confirm(context.Background(), f.orgID, m.ID(), "key", ownerActor(ownerID))
	require.Error(t, err)
	assert.True(t, shared.IsPolicyViolation(err))
	assert.Equal(t, "multi@example.com "+organization.ReasonSingleOrg, shared.Message(err))
	assert.Equal(t, organization.StatusAccepted, f.status(m.ID()))
}
