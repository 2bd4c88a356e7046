package organization

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// Membership links a user (or, while invited, an email address) to an organization.
//
// Email is cleared once the membership is confirmed, so its presence means the
// membership has never been confirmed. Restore relies on that to pick the
// destination status.
type Membership struct {
	id                   shared.ID
	organizationID       shared.ID
	userID               *shared.ID
	email                *string
	role                 Role
	permissions          Permissions
	status               Status
	externalID           string
	accessSecretsManager bool
	key                  string
	createdAt            time.Time
	revisionDate         time.Time
}

// MembershipState carries every persisted attribute of a Membership.
type MembershipState struct {
	ID                   shared.ID
	OrganizationID       shared.ID
	UserID               *shared.ID
	Email                *string
	Role                 Role
	Permissions          Permissions
	Status               Status
	ExternalID           string
	AccessSecretsManager bool
	Key                  string
	CreatedAt            time.Time
	RevisionDate         time.Time
}

// NewInvitedMembership creates a membership in Invited status for an email address.
// Permissions are kept only for the Custom role.
func NewInvitedMembership(orgID shared.ID, email string, role Role, perms Permissions, externalID string, accessSecretsManager bool) (*Membership, error) {
	if orgID.IsZero() {
		return nil, fmt.Errorf("%w: organizationID is required", shared.ErrValidation)
	}
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, fmt.Errorf("%w: email is required", shared.ErrValidation)
	}
	if !role.IsValid() {
		return nil, fmt.Errorf("%w: invalid role", shared.ErrValidation)
	}
	if role != RoleCustom {
		perms = Permissions{}
	}

	now := time.Now().UTC()
	return &Membership{
		id:                   shared.NewID(),
		organizationID:       orgID,
		email:                &email,
		role:                 role,
		permissions:          perms,
		status:               StatusInvited,
		externalID:           externalID,
		accessSecretsManager: accessSecretsManager,
		createdAt:            now,
		revisionDate:         now,
	}, nil
}

// ReconstituteMembership recreates a Membership from persistence.
func ReconstituteMembership(s MembershipState) *Membership {
	return &Membership{
		id:                   s.ID,
		organizationID:       s.OrganizationID,
		userID:               s.UserID,
		email:                s.Email,
		role:                 s.Role,
		permissions:          s.Permissions,
		status:               s.Status,
		externalID:           s.ExternalID,
		accessSecretsManager: s.AccessSecretsManager,
		key:                  s.Key,
		createdAt:            s.CreatedAt,
		revisionDate:         s.RevisionDate,
	}
}

// Snapshot returns the persisted attributes of the membership.
func (m *Membership) Snapshot() MembershipState {
	return MembershipState{
		ID:                   m.id,
		OrganizationID:       m.organizationID,
		UserID:               m.userID,
		Email:                m.email,
		Role:                 m.role,
		Permissions:          m.permissions,
		Status:               m.status,
		ExternalID:           m.externalID,
		AccessSecretsManager: m.accessSecretsManager,
		Key:                  m.key,
		CreatedAt:            m.createdAt,
		RevisionDate:         m.revisionDate,
	}
}

// ID returns the membership ID.
func (m *Membership) ID() shared.ID { return m.id }

// OrganizationID returns the organization ID.
func (m *Membership) OrganizationID() shared.ID { return m.organizationID }

// UserID returns the linked user, nil while invited by email only.
func (m *Membership) UserID() *shared.ID { return m.userID }

// Email returns the invitation email, nil once confirmed.
func (m *Membership) Email() *string { return m.email }

// EmailOrEmpty returns the invitation email or "".
func (m *Membership) EmailOrEmpty() string {
	if m.email == nil {
		return ""
	}
	return *m.email
}

// Role returns the member's role.
func (m *Membership) Role() Role { return m.role }

// Permissions returns the Custom capability set.
func (m *Membership) Permissions() Permissions { return m.permissions }

// Status returns the lifecycle status.
func (m *Membership) Status() Status { return m.status }

// ExternalID returns the directory identifier.
func (m *Membership) ExternalID() string { return m.externalID }

// AccessSecretsManager reports whether the member consumes a secrets manager seat.
func (m *Membership) AccessSecretsManager() bool { return m.accessSecretsManager }

// Key returns the encrypted organization key stored on confirmation.
func (m *Membership) Key() string { return m.key }

// CreatedAt returns the creation time.
func (m *Membership) CreatedAt() time.Time { return m.createdAt }

// RevisionDate returns the last modification time.
func (m *Membership) RevisionDate() time.Time { return m.revisionDate }

// IsOwner checks if this membership has the owner role.
func (m *Membership) IsOwner() bool { return m.role == RoleOwner }

// IsUser reports whether the membership is held by the given user.
func (m *Membership) IsUser(userID shared.ID) bool {
	return m.userID != nil && m.userID.Equals(userID)
}

// NeverConfirmed reports whether the membership still carries its invitation email.
func (m *Membership) NeverConfirmed() bool {
	return m.email != nil
}

// RestoreDestination is the status a revoked membership returns to.
func (m *Membership) RestoreDestination() Status {
	if m.NeverConfirmed() {
		return StatusInvited
	}
	return StatusConfirmed
}

// OccupiesSeat reports whether the membership counts against password manager seats.
func (m *Membership) OccupiesSeat() bool {
	return m.status != StatusRevoked
}

// OccupiesSecretsManagerSeat reports whether the membership counts against
// secrets manager seats.
func (m *Membership) OccupiesSecretsManagerSeat() bool {
	return m.accessSecretsManager && m.status != StatusRevoked
}

// Revoke moves any non-revoked membership to Revoked.
func (m *Membership) Revoke() error {
	if m.status == StatusRevoked {
		return fmt.Errorf("%w: already revoked", shared.ErrStateConflict)
	}
	m.status = StatusRevoked
	m.touch()
	return nil
}

// Restore moves a revoked membership to its restore destination.
func (m *Membership) Restore() (Status, error) {
	if m.status != StatusRevoked {
		return m.status, fmt.Errorf("%w: already active", shared.ErrStateConflict)
	}
	m.status = m.RestoreDestination()
	m.touch()
	return m.status, nil
}

// Accept links the invited membership to a user account.
func (m *Membership) Accept(userID shared.ID) error {
	if userID.IsZero() {
		return fmt.Errorf("%w: userID is required", shared.ErrValidation)
	}
	if m.status != StatusInvited {
		return fmt.Errorf("%w: invitation already accepted", shared.ErrStateConflict)
	}
	m.userID = &userID
	m.status = StatusAccepted
	m.touch()
	return nil
}

// Confirm completes an accepted membership, storing the organization key and
// clearing the invitation email.
func (m *Membership) Confirm(key string) error {
	if m.status != StatusAccepted {
		return fmt.Errorf("%w: membership is not accepted", shared.ErrStateConflict)
	}
	if m.userID == nil {
		return fmt.Errorf("%w: membership has no user", shared.ErrStateConflict)
	}
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("%w: organization key is required", shared.ErrValidation)
	}
	m.key = key
	m.email = nil
	m.status = StatusConfirmed
	m.touch()
	return nil
}

func (m *Membership) touch() {
	m.revisionDate = time.Now().UTC()
}
