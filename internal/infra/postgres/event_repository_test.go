package postgres

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

func TestEventRepository_CreateMany(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)
	orgID, membershipID, actor := shared.NewID(), shared.NewID(), shared.NewID()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	events := []organization.MembershipEvent{
		{Type: organization.EventRevoked, OrganizationID: orgID, MembershipID: membershipID, ActingUserID: &actor, OccurredAt: at},
		{Type: organization.EventRestored, OrganizationID: orgID, MembershipID: membershipID, SystemUser: organization.SystemUserSCIM, OccurredAt: at},
	}

	mock.ExpectExec(`INSERT INTO organization_user_events`).
		WithArgs(
			sqlmock.AnyArg(), "organization_user.revoked", orgID.String(), membershipID.String(), actor.String(), nil, at,
			sqlmock.AnyArg(), "organization_user.restored", orgID.String(), membershipID.String(), nil, "scim", at,
		).
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.CreateMany(t.Context(), events))
}

func TestEventRepository_ListByMembership(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewEventRepository(db)
	orgID, membershipID, actor := shared.NewID(), shared.NewID(), shared.NewID()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`FROM organization_user_events WHERE organization_user_id = \$1 ORDER BY occurred_at ASC`).
		WithArgs(membershipID.String()).
		WillReturnRows(sqlmock.NewRows([]string{
			"type", "organization_id", "organization_user_id", "acting_user_id", "system_user", "occurred_at",
		}).
			AddRow("organization_user.invited", orgID.String(), membershipID.String(), actor.String(), nil, at).
			AddRow("organization_user.revoked", orgID.String(), membershipID.String(), nil, "directory_sync", at))

	events, err := repo.ListByMembership(t.Context(), membershipID)
	require.NoError(t, err)
	require.Len(t, events, 2)

	require.NotNil(t, events[0].ActingUserID)
	assert.True(t, events[0].ActingUserID.Equals(actor))
	assert.Equal(t, organization.SystemUserNone, events[0].SystemUser)
	assert.NoError(t, events[0].Validate())

	assert.Nil(t, events[1].ActingUserID)
	assert.Equal(t, organization.SystemUserDirectorySync, events[1].SystemUser)
	assert.NoError(t, events[1].Validate())
}
