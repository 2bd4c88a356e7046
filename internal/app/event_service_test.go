package app_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

type eventRepo struct {
	created [][]organization.MembershipEvent
	err     error
}

func (r *eventRepo) CreateMany(_ context.Context, events []organization.MembershipEvent) error {
	if r.err != nil {
		return r.err
	}
	r.created = append(r.created, events)
	return nil
}

func (r *eventRepo) ListByMembership(_ context.Context, id shared.ID) ([]organization.MembershipEvent, error) {
	var out []organization.MembershipEvent
	for _, batch := range r.created {
		for _, e := range batch {
			if e.MembershipID.Equals(id) {
				out = append(out, e)
			}
		}
	}
	return out, r.err
}

func newEvent(t *testing.T, system organization.SystemUser) organization.MembershipEvent {
	t.Helper()
	m, err := organization.NewInvitedMembership(shared.NewID(), "a@example.com", organization.RoleUser, organization.Permissions{}, "", false)
	require.NoError(t, err)
	if system != organization.SystemUserNone {
		return organization.NewMembershipEvent(organization.EventInvited, m, nil, system)
	}
	actor := shared.NewID()
	return organization.NewMembershipEvent(organization.EventInvited, m, &actor, organization.SystemUserNone)
}

func TestEventService_LogMembershipEvents(t *testing.T) {
	repo := &eventRepo{}
	svc := app.NewEventService(repo, logger.NewNop())

	user := newEvent(t, organization.SystemUserNone)
	scim := newEvent(t, organization.SystemUserSCIM)
	require.NoError(t, svc.LogMembershipEvents(context.Background(), []organization.MembershipEvent{user, scim}))
	require.Len(t, repo.created, 1, "one write per batch")

	listed, err := svc.ListMembershipEvents(context.Background(), scim.MembershipID)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, organization.SystemUserSCIM, listed[0].SystemUser)
	assert.Nil(t, listed[0].ActingUserID)
}

func TestEventService_EmptyBatch(t *testing.T) {
	repo := &eventRepo{err: errBoom}
	svc := app.NewEventService(repo, logger.NewNop())

	assert.NoError(t, svc.LogMembershipEvents(context.Background(), nil))
}

func TestEventService_RejectsInvalidEvents(t *testing.T) {
	both := newEvent(t, organization.SystemUserNone)
	both.SystemUser = organization.SystemUserPublicAPI

	neither := newEvent(t, organization.SystemUserSCIM)
	neither.SystemUser = organization.SystemUserNone

	unknown := newEvent(t, organization.SystemUserSCIM)
	unknown.Type = "organization_user.deleted"

	for name, e := range map[string]organization.MembershipEvent{"both actors": both, "no actor": neither, "unknown type": unknown} {
		t.Run(name, func(t *testing.T) {
			repo := &eventRepo{}
			svc := app.NewEventService(repo, logger.NewNop())

			err := svc.LogMembershipEvents(context.Background(), []organization.MembershipEvent{newEvent(t, organization.SystemUserSCIM), e})
			require.Error(t, err)
			assert.True(t, shared.IsValidation(err))
			assert.Contains(t, err.Error(), "event 1")
			assert.Empty(t, repo.created, "nothing is written when any event is invalid")
		})
	}
}

func TestEventService_RepositoryFailure(t *testing.T) {
	svc := app.NewEventService(&eventRepo{err: errBoom}, logger.NewNop())

	err := svc.LogMembershipEvents(context.Background(), []organization.MembershipEvent{newEvent(t, organization.SystemUserSCIM)})
	assert.ErrorIs(t, err, errBoom)

	_, err = svc.ListMembershipEvents(context.Background(), shared.NewID())
	assert.ErrorIs(t, err, errBoom)
}

func TestEventService_ListMembershipEvents(t *testing.T) {
	repo := &eventRepo{}
	svc := app.NewEventService(repo, logger.NewNop())

	first := newEvent(t, organization.SystemUserNone)
	other := newEvent(t, organization.SystemUserSCIM)
	require.NoError(t, svc.LogMembershipEvents(context.Background(), []organization.MembershipEvent{first, other}))

	events, err := svc.ListMembershipEvents(context.Background(), first.MembershipID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, first.MembershipID, events[0].MembershipID)
}
