package organization

import (
	"context"
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// Repository defines the interface for organization persistence.
type Repository interface {
	GetByID(ctx context.Context, id shared.ID) (*Organization, error)
	// ListIDs returns every organization ID. Used by background jobs.
	ListIDs(ctx context.Context) ([]shared.ID, error)
	MarkOwnersNotified(ctx context.Context, id shared.ID, at time.Time) error
	SetMaxAutoscaleSeats(ctx context.Context, id shared.ID, max *int) error
}

// MembershipFilter narrows ListByOrganization. Zero values match everything.
type MembershipFilter struct {
	Role   *Role
	Status *Status
}

// MembershipRepository defines the interface for membership persistence.
type MembershipRepository interface {
	GetByID(ctx context.Context, id shared.ID) (*Membership, error)
	// GetMany returns the memberships that exist; missing IDs are skipped.
	GetMany(ctx context.Context, ids []shared.ID) ([]*Membership, error)
	GetByOrganizationAndUser(ctx context.Context, orgID, userID shared.ID) (*Membership, error)
	ListByOrganization(ctx context.Context, orgID shared.ID, filter MembershipFilter) ([]*Membership, error)
	// ListByUsers returns the memberships of the users across all organizations.
	ListByUsers(ctx context.Context, userIDs []shared.ID) ([]*Membership, error)

	// CreateMany inserts memberships in one statement.
	CreateMany(ctx context.Context, memberships []*Membership) error
	Upsert(ctx context.Context, m *Membership) error
	DeleteMany(ctx context.Context, ids []shared.ID) error
	SetStatus(ctx context.Context, id shared.ID, status Status) error

	// SelectKnownEmails returns the candidates already present in the
	// organization, either as an invitation email or as a member's account
	// email. Matching is case-insensitive; results keep the stored casing.
	SelectKnownEmails(ctx context.Context, orgID shared.ID, candidates []string) ([]string, error)
	CountOccupiedSeats(ctx context.Context, orgID shared.ID) (OccupiedSeats, error)
	// HasConfirmedOwnersExcept reports whether a confirmed owner remains once
	// the excluded memberships are left out.
	HasConfirmedOwnersExcept(ctx context.Context, orgID shared.ID, excluded []shared.ID) (bool, error)
}

// PolicyRepository reads enabled policies as they apply to users.
type PolicyRepository interface {
	// ListApplicable returns, for every organization the users belong to that
	// has the policy enabled, one detail per user.
	ListApplicable(ctx context.Context, userIDs []shared.ID, policyType PolicyType) ([]PolicyDetail, error)
}

// UserDirectory resolves account attributes of users.
type UserDirectory interface {
	EmailsByIDs(ctx context.Context, userIDs []shared.ID) (map[shared.ID]string, error)
	TwoFactorEnabled(ctx context.Context, userIDs []shared.ID) (map[shared.ID]bool, error)
}

// EventRepository persists membership events.
type EventRepository interface {
	// CreateMany inserts the events in one statement.
	CreateMany(ctx context.Context, events []MembershipEvent) error
	ListByMembership(ctx context.Context, membershipID shared.ID) ([]MembershipEvent, error)
}
