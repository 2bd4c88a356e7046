package organization

// Role represents a member's role within an organization.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleCustom Role = "custom"
	RoleUser   Role = "user"
)

// IsValid checks if the role is valid.
func (r Role) IsValid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleCustom, RoleUser:
		return true
	}
	return false
}

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// Rank orders roles from least to most privileged: User < Custom < Admin < Owner.
// Unknown roles rank below User.
func (r Role) Rank() int {
	switch r {
	case RoleOwner:
		return 4
	case RoleAdmin:
		return 3
	case RoleCustom:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// ManagesUsersImplicitly reports whether the role holds ManageUsers without
// an explicit capability grant.
func (r Role) ManagesUsersImplicitly() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ExemptFromPolicies reports whether organization policies skip this role.
func (r Role) ExemptFromPolicies() bool {
	return r == RoleOwner || r == RoleAdmin
}

// ParseRole parses a string to a Role.
func ParseRole(s string) (Role, bool) {
	r := Role(s)
	return r, r.IsValid()
}

// Status is the lifecycle state of a membership.
type Status string

const (
	StatusInvited   Status = "invited"
	StatusAccepted  Status = "accepted"
	StatusConfirmed Status = "confirmed"
	StatusRevoked   Status = "revoked"
)

// IsValid checks if the status is valid.
func (s Status) IsValid() bool {
	switch s {
	case StatusInvited, StatusAccepted, StatusConfirmed, StatusRevoked:
		return true
	}
	return false
}

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Rank orders statuses so policy thresholds can be expressed as a minimum:
// Revoked < Invited < Accepted < Confirmed.
func (s Status) Rank() int {
	switch s {
	case StatusRevoked:
		return -1
	case StatusInvited:
		return 0
	case StatusAccepted:
		return 1
	case StatusConfirmed:
		return 2
	default:
		return -2
	}
}

// AtLeast reports whether s is at or above the given threshold.
func (s Status) AtLeast(min Status) bool {
	return s.Rank() >= min.Rank()
}

// IsActive reports whether the status grants access to organization data.
// Policy gates only guard transitions into active statuses.
func (s Status) IsActive() bool {
	return s == StatusAccepted || s == StatusConfirmed
}

// ParseStatus parses a string to a Status.
func ParseStatus(s string) (Status, bool) {
	st := Status(s)
	return st, st.IsValid()
}
