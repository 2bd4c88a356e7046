package app

import (
	"context"
	"fmt"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// PolicyGate checks the single organization and two-step login policies
// before a member enters an active status. It only reads from its collaborators.
type PolicyGate struct {
	memberships organization.MembershipRepository
	policies    organization.PolicyRepository
	users       organization.UserDirectory
	logger      *logger.Logger
}

// NewPolicyGate creates a new PolicyGate.
func NewPolicyGate(
	memberships organization.MembershipRepository,
	policies organization.PolicyRepository,
	users organization.UserDirectory,
	log *logger.Logger,
) *PolicyGate {
	return &PolicyGate{
		memberships: memberships,
		policies:    policies,
		users:       users,
		logger:      log.With("service", "policy_gate"),
	}
}

// Evaluate checks one user. It returns a *organization.PolicyViolationError
// when a policy blocks the transition.
func (g *PolicyGate) Evaluate(ctx context.Context, orgID, userID shared.ID, target organization.Status) error {
	violations, err := g.EvaluateMany(ctx, orgID, []shared.ID{userID}, target)
	if err != nil {
		return err
	}
	if v, ok := violations[userID]; ok {
		return v
	}
	return nil
}

type compliance struct {
	singleOrg      bool
	otherOrg       bool
	twoFactor      bool
	policiesBroken []organization.PolicyType
}

// EvaluateMany checks a batch of users against the policies of orgID using one
// lookup per concern. Compliant users are absent from the result.
func (g *PolicyGate) EvaluateMany(ctx context.Context, orgID shared.ID, userIDs []shared.ID, target organization.Status) (map[shared.ID]*organization.PolicyViolationError, error) {
	result := make(map[shared.ID]*organization.PolicyViolationError)
	userIDs = uniqueIDs(userIDs)
	if !target.IsActive() || len(userIDs) == 0 {
		return result, nil
	}

	singleOrg, err := g.policies.ListApplicable(ctx, userIDs, organization.PolicySingleOrg)
	if err != nil {
		return nil, fmt.Errorf("failed to load single organization policies: %w", err)
	}
	twoFactor, err := g.policies.ListApplicable(ctx, userIDs, organization.PolicyTwoFactorRequired)
	if err != nil {
		return nil, fmt.Errorf("failed to load two-step login policies: %w", err)
	}

	// This organization binds the member whatever their current status; other
	// organizations only bind their active members.
	enforcedHere := func(details []organization.PolicyDetail) map[shared.ID]bool {
		out := make(map[shared.ID]bool)
		for _, d := range details {
			if d.OrganizationID.Equals(orgID) && d.AppliesAt(organization.StatusRevoked) {
				out[d.UserID] = true
			}
		}
		return out
	}
	singleOrgHere := enforcedHere(singleOrg)
	twoFactorHere := enforcedHere(twoFactor)

	singleOrgElsewhere := make(map[shared.ID]bool)
	for _, d := range singleOrg {
		if !d.OrganizationID.Equals(orgID) && d.AppliesAt(organization.StatusAccepted) {
			singleOrgElsewhere[d.UserID] = true
		}
	}

	otherMemberships := make(map[shared.ID]bool)
	if len(singleOrgHere) > 0 {
		memberships, err := g.memberships.ListByUsers(ctx, keys(singleOrgHere))
		if err != nil {
			return nil, fmt.Errorf("failed to load user memberships: %w", err)
		}
		for _, m := range memberships {
			if m.UserID() != nil && !m.OrganizationID().Equals(orgID) {
				otherMemberships[*m.UserID()] = true
			}
		}
	}

	twoFactorEnabled := make(map[shared.ID]bool)
	if len(twoFactorHere) > 0 {
		twoFactorEnabled, err = g.users.TwoFactorEnabled(ctx, keys(twoFactorHere))
		if err != nil {
			return nil, fmt.Errorf("failed to load two-step login status: %w", err)
		}
	}

	failing := make(map[shared.ID]compliance)
	for _, id := range userIDs {
		var c compliance
		if singleOrgHere[id] {
			c.singleOrg = otherMemberships[id]
		} else {
			c.otherOrg = singleOrgElsewhere[id]
		}
		c.twoFactor = twoFactorHere[id] && !twoFactorEnabled[id]
		if c.singleOrg || c.otherOrg {
			c.policiesBroken = append(c.policiesBroken, organization.PolicySingleOrg)
		}
		if c.twoFactor {
			c.policiesBroken = append(c.policiesBroken, organization.PolicyTwoFactorRequired)
		}
		if len(c.policiesBroken) > 0 {
			failing[id] = c
		}
	}
	if len(failing) == 0 {
		return result, nil
	}

	emails, err := g.users.EmailsByIDs(ctx, keys(failing))
	if err != nil {
		return nil, fmt.Errorf("failed to load user emails: %w", err)
	}

	for id, c := range failing {
		v := &organization.PolicyViolationError{
			UserID:   id,
			Email:    emails[id],
			Policies: c.policiesBroken,
			Reason:   c.reason(),
		}
		for _, p := range v.Policies {
			metrics.PolicyViolationsTotal.WithLabelValues(p.String()).Inc()
		}
		g.logger.Debug("policy check failed", "user_id", id.String(), "policies", v.Policies)
		result[id] = v
	}
	return result, nil
}

func (c compliance) reason() string {
	switch {
	case c.singleOrg && c.twoFactor:
		return organization.ReasonSingleOrgAndTwoFactor
	case c.singleOrg:
		return organization.ReasonSingleOrg
	case c.otherOrg:
		return organization.ReasonOtherOrgSingleOrg
	default:
		return organization.ReasonTwoFactor
	}
}

func uniqueIDs(ids []shared.ID) []shared.ID {
	seen := make(map[shared.ID]struct{}, len(ids))
	out := make([]shared.ID, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func keys[V any](m map[shared.ID]V) []shared.ID {
	out := make([]shared.ID, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}
