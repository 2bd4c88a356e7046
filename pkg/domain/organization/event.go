package organization

import (
	"fmt"
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// EventType identifies a membership lifecycle event.
type EventType string

const (
	EventInvited   EventType = "organization_user.invited"
	EventAccepted  EventType = "organization_user.accepted"
	EventConfirmed EventType = "organization_user.confirmed"
	EventRevoked   EventType = "organization_user.revoked"
	EventRestored  EventType = "organization_user.restored"
)

// String returns the string representation of the event type.
func (t EventType) String() string {
	return string(t)
}

// SystemUser names a non-human initiator of a membership change.
type SystemUser string

const (
	SystemUserNone               SystemUser = ""
	SystemUserSCIM               SystemUser = "scim"
	SystemUserDomainVerification SystemUser = "domain_verification"
	SystemUserPublicAPI          SystemUser = "public_api"
	SystemUserDirectorySync      SystemUser = "directory_sync"
)

// IsValid checks if the system user is a known non-human initiator.
func (s SystemUser) IsValid() bool {
	switch s {
	case SystemUserSCIM, SystemUserDomainVerification, SystemUserPublicAPI, SystemUserDirectorySync:
		return true
	}
	return false
}

// String returns the string representation of the system user.
func (s SystemUser) String() string {
	return string(s)
}

// MembershipEvent is one audit record for a membership change. Exactly one of
// ActingUserID and SystemUser is set.
type MembershipEvent struct {
	Type           EventType
	OrganizationID shared.ID
	MembershipID   shared.ID
	ActingUserID   *shared.ID
	SystemUser     SystemUser
	OccurredAt     time.Time
}

// NewMembershipEvent creates an event for a membership, stamped now.
func NewMembershipEvent(t EventType, m *Membership, actingUserID *shared.ID, system SystemUser) MembershipEvent {
	return MembershipEvent{
		Type:           t,
		OrganizationID: m.OrganizationID(),
		MembershipID:   m.ID(),
		ActingUserID:   actingUserID,
		SystemUser:     system,
		OccurredAt:     time.Now().UTC(),
	}
}

// Validate checks that the event names a membership, an organization and
// exactly one actor.
func (e MembershipEvent) Validate() error {
	if e.MembershipID.IsZero() || e.OrganizationID.IsZero() {
		return fmt.Errorf("%w: event must reference a membership and an organization", shared.ErrValidation)
	}
	switch e.Type {
	case EventInvited, EventAccepted, EventConfirmed, EventRevoked, EventRestored:
	default:
		return fmt.Errorf("%w: unknown event type %q", shared.ErrValidation, e.Type)
	}
	if (e.ActingUserID == nil) == (e.SystemUser == SystemUserNone) {
		return fmt.Errorf("%w: event must have exactly one actor", shared.ErrValidation)
	}
	return nil
}
