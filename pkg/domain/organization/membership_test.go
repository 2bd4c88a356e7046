package organization

import (
	"errors"
	"testing"

	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Membership Entity Tests
// =============================================================================

func TestNewInvitedMembership_Valid(t *testing.T) {
	orgID := shared.NewID()
	m, err := NewInvitedMembership(orgID, " a@example.com ", RoleUser, PermissionsOf(CapManageUsers), "ext-1", true)

	require.NoError(t, err)
	assert.Equal(t, orgID, m.OrganizationID())
	assert.Equal(t, "a@example.com", m.EmailOrEmpty())
	assert.Equal(t, StatusInvited, m.Status())
	assert.Nil(t, m.UserID())
	assert.True(t, m.Permissions().IsEmpty(), "non-custom roles carry no capabilities")
	assert.True(t, m.AccessSecretsManager())
	assert.True(t, m.NeverConfirmed())
	assert.False(t, m.ID().IsZero())
}

func TestNewInvitedMembership_KeepsCustomPermissions(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleCustom, PermissionsOf(CapManageUsers), "", false)

	require.NoError(t, err)
	assert.True(t, m.Permissions().Has(CapManageUsers))
}

func TestNewInvitedMembership_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		orgID   shared.ID
		email   string
		role    Role
		wantErr string
	}{
		{name: "missing organization", email: "a@example.com", role: RoleUser, wantErr: "organizationID is required"},
		{name: "blank email", orgID: shared.NewID(), email: "  ", role: RoleUser, wantErr: "email is required"},
		{name: "unknown role", orgID: shared.NewID(), email: "a@example.com", role: Role("root"), wantErr: "invalid role"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewInvitedMembership(tt.orgID, tt.email, tt.role, Permissions{}, "", false)

			assert.Nil(t, m)
			assert.True(t, shared.IsValidation(err))
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestMembership_Lifecycle(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleUser, Permissions{}, "", false)
	require.NoError(t, err)
	userID := shared.NewID()

	require.NoError(t, m.Accept(userID))
	assert.Equal(t, StatusAccepted, m.Status())
	assert.True(t, m.IsUser(userID))

	require.NoError(t, m.Confirm("org-key"))
	assert.Equal(t, StatusConfirmed, m.Status())
	assert.Nil(t, m.Email())
	assert.Equal(t, "org-key", m.Key())

	require.NoError(t, m.Revoke())
	assert.Equal(t, StatusRevoked, m.Status())
	assert.False(t, m.OccupiesSeat())

	status, err := m.Restore()
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, status)
}

func TestMembership_RestoreNeverConfirmedReturnsToInvited(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleUser, Permissions{}, "", false)
	require.NoError(t, err)
	require.NoError(t, m.Revoke())

	status, err := m.Restore()

	require.NoError(t, err)
	assert.Equal(t, StatusInvited, status)
}

func TestMembership_InvalidTransitions(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleUser, Permissions{}, "", false)
	require.NoError(t, err)

	_, err = m.Restore()
	assert.True(t, shared.IsStateConflict(err))
	assert.Contains(t, err.Error(), "already active")

	err = m.Confirm("key")
	assert.True(t, shared.IsStateConflict(err))

	require.NoError(t, m.Revoke())
	err = m.Revoke()
	assert.True(t, errors.Is(err, shared.ErrStateConflict))
	assert.Equal(t, "already revoked", shared.Message(err))

	err = m.Accept(shared.NewID())
	assert.True(t, shared.IsStateConflict(err))
}

func TestMembership_ConfirmRequiresKey(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleUser, Permissions{}, "", false)
	require.NoError(t, err)
	require.NoError(t, m.Accept(shared.NewID()))

	err = m.Confirm(" ")

	assert.True(t, shared.IsValidation(err))
	assert.Equal(t, StatusAccepted, m.Status())
}

func TestMembership_SnapshotRoundTrip(t *testing.T) {
	m, err := NewInvitedMembership(shared.NewID(), "a@example.com", RoleCustom, PermissionsOf(CapAccessReports), "ext", true)
	require.NoError(t, err)

	restored := ReconstituteMembership(m.Snapshot())

	assert.Equal(t, m.Snapshot(), restored.Snapshot())
}

// =============================================================================
// Role / Status / Permissions Tests
// =============================================================================

func TestRole_Rank(t *testing.T) {
	assert.Greater(t, RoleOwner.Rank(), RoleAdmin.Rank())
	assert.Greater(t, RoleAdmin.Rank(), RoleCustom.Rank())
	assert.Greater(t, RoleCustom.Rank(), RoleUser.Rank())
	assert.Greater(t, RoleUser.Rank(), Role("nope").Rank())
}

func TestStatus_AtLeast(t *testing.T) {
	assert.True(t, StatusConfirmed.AtLeast(StatusAccepted))
	assert.True(t, StatusAccepted.AtLeast(StatusAccepted))
	assert.False(t, StatusInvited.AtLeast(StatusAccepted))
	assert.True(t, StatusRevoked.AtLeast(StatusRevoked))
	assert.False(t, StatusRevoked.AtLeast(StatusInvited))
}

func TestPermissions_SubsetOf(t *testing.T) {
	held := PermissionsOf(CapManageUsers, CapAccessReports)

	assert.True(t, PermissionsOf(CapAccessReports).SubsetOf(held))
	assert.True(t, Permissions{}.SubsetOf(held))
	assert.False(t, PermissionsOf(CapManageGroups, CapAccessReports).SubsetOf(held))
	assert.Equal(t, []Capability{CapManageGroups}, PermissionsOf(CapManageGroups, CapAccessReports).Missing(held))
}

// =============================================================================
// Policy Tests
// =============================================================================

func TestPolicyDetail_AppliesAt(t *testing.T) {
	base := PolicyDetail{Enabled: true, MembershipRole: RoleUser, MembershipStatus: StatusConfirmed}

	assert.True(t, base.AppliesAt(StatusAccepted))

	disabled := base
	disabled.Enabled = false
	assert.False(t, disabled.AppliesAt(StatusAccepted))

	admin := base
	admin.MembershipRole = RoleAdmin
	assert.False(t, admin.AppliesAt(StatusAccepted))

	provider := base
	provider.IsProvider = true
	assert.False(t, provider.AppliesAt(StatusAccepted))

	revoked := base
	revoked.MembershipStatus = StatusRevoked
	assert.False(t, revoked.AppliesAt(StatusAccepted))
	assert.True(t, revoked.AppliesAt(StatusRevoked))
}

func TestPolicyViolationError(t *testing.T) {
	err := &PolicyViolationError{
		Email:    "b@example.com",
		Policies: []PolicyType{PolicyTwoFactorRequired},
		Reason:   ReasonTwoFactor,
	}

	assert.True(t, shared.IsPolicyViolation(err))
	assert.True(t, err.Violates(PolicyTwoFactorRequired))
	assert.False(t, err.Violates(PolicySingleOrg))
	assert.Equal(t, "b@example.com is not compliant with the two-step login policy", shared.Message(err))
}
