package organization

import "github.com/openctemio/membership/pkg/domain/shared"

// PolicyType identifies an organization-wide compliance policy.
type PolicyType string

const (
	PolicySingleOrg         PolicyType = "single_org"
	PolicyTwoFactorRequired PolicyType = "two_factor_authentication"
)

// IsValid checks if the policy type is known.
func (t PolicyType) IsValid() bool {
	switch t {
	case PolicySingleOrg, PolicyTwoFactorRequired:
		return true
	}
	return false
}

// String returns the string representation of the policy type.
func (t PolicyType) String() string {
	return string(t)
}

// PolicyDetail is one enabled policy of one organization as it applies to one
// user, joined with that user's membership in the organization.
type PolicyDetail struct {
	OrganizationID   shared.ID
	UserID           shared.ID
	PolicyType       PolicyType
	Enabled          bool
	MembershipStatus Status
	MembershipRole   Role
	IsProvider       bool
}

// AppliesAt reports whether the policy binds a member whose status is at
// least minStatus. Owners, admins and provider users are exempt.
func (d PolicyDetail) AppliesAt(minStatus Status) bool {
	if !d.Enabled || d.IsProvider || d.MembershipRole.ExemptFromPolicies() {
		return false
	}
	return d.MembershipStatus.AtLeast(minStatus)
}

// FilterApplicable returns the details that apply at minStatus.
func FilterApplicable(details []PolicyDetail, minStatus Status) []PolicyDetail {
	out := make([]PolicyDetail, 0, len(details))
	for _, d := range details {
		if d.AppliesAt(minStatus) {
			out = append(out, d)
		}
	}
	return out
}
