package organization

import (
	"fmt"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// Reasons reported by the policy gate. Each is prefixed with the user's email.
const (
	ReasonSingleOrgAndTwoFactor = "is not compliant with the single organization and two-step login policies"
	ReasonSingleOrg             = "is not compliant with the single organization policy"
	ReasonOtherOrgSingleOrg     = "belongs to an organization that doesn't allow them to join multiple organizations"
	ReasonTwoFactor             = "is not compliant with the two-step login policy"
)

// PolicyViolationError names the user and the policies blocking a transition.
type PolicyViolationError struct {
	UserID   shared.ID
	Email    string
	Policies []PolicyType
	Reason   string
}

// Error implements error.
func (e *PolicyViolationError) Error() string {
	return fmt.Sprintf("%s: %s %s", shared.ErrPolicyViolation, e.Email, e.Reason)
}

// Unwrap lets errors.Is match shared.ErrPolicyViolation.
func (e *PolicyViolationError) Unwrap() error {
	return shared.ErrPolicyViolation
}

// Violates reports whether the given policy is among the violated ones.
func (e *PolicyViolationError) Violates(t PolicyType) bool {
	for _, p := range e.Policies {
		if p == t {
			return true
		}
	}
	return false
}

// Messages shared by the invitation and membership workflows.
const (
	MsgOwnerRequired     = "Organization must have at least one confirmed owner."
	MsgSingleInviteOnly  = "This method can only be used to invite a single user."
	MsgAlreadyInvited    = "This user has already been invited"
	MsgNoUsersToInvite   = "no users to invite"
	MsgMembershipMissing = "membership not found"
)
