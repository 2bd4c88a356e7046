package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/openctemio/membership/pkg/domain/access"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

// Actor is the initiator of a membership change: either a user acting with
// the privileges of their membership, or a system actor that bypasses
// interactive permission checks.
type Actor struct {
	UserID     *shared.ID
	System     organization.SystemUser
	Privileges access.Privileges
}

// UserActor creates an actor for a user with the given privileges.
func UserActor(userID shared.ID, privileges access.Privileges) Actor {
	return Actor{UserID: &userID, Privileges: privileges}
}

// SystemActor creates a non-human actor.
func SystemActor(system organization.SystemUser) Actor {
	return Actor{System: system}
}

// IsSystem reports whether the actor is a system actor.
func (a Actor) IsSystem() bool {
	return a.UserID == nil && a.System.IsValid()
}

// Is reports whether the actor is the given user.
func (a Actor) Is(userID *shared.ID) bool {
	return a.UserID != nil && userID != nil && a.UserID.Equals(*userID)
}

// CanManageUsers reports whether the actor may manage members.
func (a Actor) CanManageUsers() bool {
	return a.IsSystem() || a.Privileges.CanManageUsers()
}

// String identifies the actor in logs.
func (a Actor) String() string {
	if a.UserID != nil {
		return a.UserID.String()
	}
	return "system:" + a.System.String()
}

func (a Actor) event(t organization.EventType, m *organization.Membership) organization.MembershipEvent {
	return organization.NewMembershipEvent(t, m, a.UserID, a.System)
}

// ResolveActor builds the actor for a user from their membership in the
// organization. A user without a membership gets an actor with no privileges.
func ResolveActor(ctx context.Context, memberships organization.MembershipRepository, orgID, userID shared.ID) (Actor, error) {
	m, err := memberships.GetByOrganizationAndUser(ctx, orgID, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return UserActor(userID, access.Privileges{}), nil
		}
		return Actor{}, fmt.Errorf("failed to resolve actor: %w", err)
	}
	return UserActor(userID, access.PrivilegesOf(m)), nil
}
