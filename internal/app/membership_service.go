package app

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/text/cases"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/access"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// Transition guard messages.
const (
	MsgCannotRevokeSelf     = "you cannot revoke yourself"
	MsgCannotRestoreSelf    = "you cannot restore yourself"
	MsgOwnerRevokeOwnerOnly = "only owners can revoke other owners"
	MsgOwnerRestoreOnly     = "only owners can restore other owners"
	MsgAlreadyRevoked       = "already revoked"
	MsgAlreadyActive        = "already active"
	MsgNotAccepted          = "membership is not accepted"
	MsgInviteAlreadyUsed    = "invitation already accepted"
	MsgInviteEmailMismatch  = "this invitation was sent to a different email address"
	MsgAlreadyMember        = "you are already a member of this organization"
	MsgInvalidInviteToken   = "invalid invitation token"
)

// BatchResult is the outcome for one membership of a batch operation. Err is
// nil on success; Status is the status the membership ended in.
type BatchResult struct {
	MembershipID shared.ID
	Status       organization.Status
	Err          error
}

// Succeeded reports whether the item went through.
func (r BatchResult) Succeeded() bool { return r.Err == nil }

// Message returns the failure reason for display, or "".
func (r BatchResult) Message() string { return shared.Message(r.Err) }

// MembershipService drives membership status transitions.
type MembershipService struct {
	orgs        organization.Repository
	memberships organization.MembershipRepository
	users       organization.UserDirectory
	gate        *PolicyGate
	autoscaler  *SeatAutoscaler
	tokens      InviteTokenIssuer
	events      EventLogger
	pusher      KeySyncPusher
	features    FeatureFlags
	twoFactor   TwoFactorInvalidator
	logger      *logger.Logger
}

// MembershipServiceOption is a functional option for MembershipService.
type MembershipServiceOption func(*MembershipService)

// WithKeySync enables key sync pushes. Revoke and restore only push when the
// flag set enables FeaturePushSyncOrgKeysOnRevokeRestore.
func WithKeySync(pusher KeySyncPusher, features FeatureFlags) MembershipServiceOption {
	return func(s *MembershipService) {
		s.pusher = pusher
		s.features = features
	}
}

// WithTwoFactorRefresh makes Accept drop the invitee's cached two-step login
// status before the policy gate reads it.
func WithTwoFactorRefresh(inv TwoFactorInvalidator) MembershipServiceOption {
	return func(s *MembershipService) {
		s.twoFactor = inv
	}
}

// NewMembershipService creates a new MembershipService.
func NewMembershipService(
	orgs organization.Repository,
	memberships organization.MembershipRepository,
	users organization.UserDirectory,
	gate *PolicyGate,
	autoscaler *SeatAutoscaler,
	tokens InviteTokenIssuer,
	events EventLogger,
	log *logger.Logger,
	opts ...MembershipServiceOption,
) *MembershipService {
	s := &MembershipService{
		orgs:        orgs,
		memberships: memberships,
		users:       users,
		gate:        gate,
		autoscaler:  autoscaler,
		tokens:      tokens,
		events:      events,
		features:    StaticFeatureFlags{},
		logger:      log.With("service", "membership"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// =============================================================================
// Revoke
// =============================================================================

// Revoke moves an active membership to Revoked.
func (s *MembershipService) Revoke(ctx context.Context, orgID, membershipID shared.ID, actor Actor) (*organization.Membership, error) {
	m, err := s.load(ctx, orgID, membershipID)
	if err != nil {
		return nil, err
	}
	if err := s.revoke(ctx, m, actor); err != nil {
		metrics.TransitionsTotal.WithLabelValues("revoke", metrics.ResultFailure).Inc()
		return nil, err
	}
	return m, nil
}

// RevokeMany revokes each membership independently. Only failures to load the
// batch are returned as an error; item failures are reported per result.
func (s *MembershipService) RevokeMany(ctx context.Context, orgID shared.ID, membershipIDs []shared.ID, actor Actor) ([]BatchResult, error) {
	found, err := s.loadMany(ctx, orgID, membershipIDs)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(membershipIDs))
	for _, id := range membershipIDs {
		m, ok := found[id]
		if !ok {
			results = append(results, missing(id))
			continue
		}
		err := s.revoke(ctx, m, actor)
		if err != nil {
			metrics.TransitionsTotal.WithLabelValues("revoke", metrics.ResultFailure).Inc()
		}
		results = append(results, BatchResult{MembershipID: id, Status: m.Status(), Err: err})
	}
	return results, nil
}

func (s *MembershipService) revoke(ctx context.Context, m *organization.Membership, actor Actor) error {
	if !actor.CanManageUsers() {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, access.MsgCannotManageUsers)
	}
	if actor.Is(m.UserID()) {
		return fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgCannotRevokeSelf)
	}
	if m.IsOwner() && !actor.IsSystem() && !actor.Privileges.IsOwner() {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, MsgOwnerRevokeOwnerOnly)
	}
	if m.Status() == organization.StatusRevoked {
		return fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgAlreadyRevoked)
	}
	if m.IsOwner() && m.Status() == organization.StatusConfirmed {
		ok, err := s.memberships.HasConfirmedOwnersExcept(ctx, m.OrganizationID(), []shared.ID{m.ID()})
		if err != nil {
			return fmt.Errorf("failed to check confirmed owners: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: %s", shared.ErrStateConflict, organization.MsgOwnerRequired)
		}
	}

	if err := s.memberships.SetStatus(ctx, m.ID(), organization.StatusRevoked); err != nil {
		return fmt.Errorf("failed to revoke membership: %w", err)
	}
	if err := m.Revoke(); err != nil {
		return err
	}
	if err := s.events.LogMembershipEvents(ctx, []organization.MembershipEvent{actor.event(organization.EventRevoked, m)}); err != nil {
		return fmt.Errorf("failed to log revoke event: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues("revoke", metrics.ResultSuccess).Inc()
	s.logger.Info("membership revoked",
		"organization_id", m.OrganizationID().String(),
		"membership_id", m.ID().String(),
		"actor", actor.String(),
	)
	s.pushOnRevokeRestore(ctx, m)
	return nil
}

// =============================================================================
// Restore
// =============================================================================

// Restore moves a revoked membership back to Invited, when it was never
// confirmed, or to Confirmed. The policy gate runs for the Confirmed case.
func (s *MembershipService) Restore(ctx context.Context, orgID, membershipID shared.ID, actor Actor) (*organization.Membership, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	m, err := s.load(ctx, orgID, membershipID)
	if err != nil {
		return nil, err
	}
	if err := s.checkRestore(m, actor); err != nil {
		metrics.TransitionsTotal.WithLabelValues("restore", metrics.ResultFailure).Inc()
		return nil, err
	}
	if m.RestoreDestination() == organization.StatusConfirmed && m.UserID() != nil {
		if err := s.gate.Evaluate(ctx, orgID, *m.UserID(), organization.StatusConfirmed); err != nil {
			metrics.TransitionsTotal.WithLabelValues("restore", metrics.ResultFailure).Inc()
			return nil, err
		}
	}
	if err := s.restore(ctx, org, m, actor); err != nil {
		metrics.TransitionsTotal.WithLabelValues("restore", metrics.ResultFailure).Inc()
		return nil, err
	}
	return m, nil
}

// RestoreMany restores each membership independently. Policies are evaluated
// once for every membership headed back to Confirmed.
func (s *MembershipService) RestoreMany(ctx context.Context, orgID shared.ID, membershipIDs []shared.ID, actor Actor) ([]BatchResult, error) {
	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	found, err := s.loadMany(ctx, orgID, membershipIDs)
	if err != nil {
		return nil, err
	}

	guardErrs := make(map[shared.ID]error, len(found))
	var gated []shared.ID
	for id, m := range found {
		if err := s.checkRestore(m, actor); err != nil {
			guardErrs[id] = err
			continue
		}
		if m.RestoreDestination() == organization.StatusConfirmed && m.UserID() != nil {
			gated = append(gated, *m.UserID())
		}
	}
	violations, err := s.gate.EvaluateMany(ctx, orgID, gated, organization.StatusConfirmed)
	if err != nil {
		return nil, err
	}

	results := make([]BatchResult, 0, len(membershipIDs))
	for _, id := range membershipIDs {
		m, ok := found[id]
		if !ok {
			results = append(results, missing(id))
			continue
		}
		err := guardErrs[id]
		if err == nil && m.Status() != organization.StatusRevoked {
			// repeated id, restored earlier in this batch
			err = fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgAlreadyActive)
		}
		if err == nil && m.RestoreDestination() == organization.StatusConfirmed && m.UserID() != nil {
			if v, ok := violations[*m.UserID()]; ok {
				err = v
			}
		}
		if err == nil {
			err = s.restore(ctx, org, m, actor)
		}
		if err != nil {
			metrics.TransitionsTotal.WithLabelValues("restore", metrics.ResultFailure).Inc()
		}
		results = append(results, BatchResult{MembershipID: id, Status: m.Status(), Err: err})
	}
	return results, nil
}

func (s *MembershipService) checkRestore(m *organization.Membership, actor Actor) error {
	if actor.Is(m.UserID()) {
		return fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgCannotRestoreSelf)
	}
	if m.IsOwner() && !actor.IsSystem() && !actor.Privileges.IsOwner() {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, MsgOwnerRestoreOnly)
	}
	if !actor.CanManageUsers() {
		return fmt.Errorf("%w: %s", shared.ErrPermissionDenied, access.MsgCannotManageUsers)
	}
	if m.Status() != organization.StatusRevoked {
		return fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgAlreadyActive)
	}
	return nil
}

// restore reserves a seat when none is free, writes the new status and gives
// the seat back if the write fails.
func (s *MembershipService) restore(ctx context.Context, org *organization.Organization, m *organization.Membership, actor Actor) error {
	needed := organization.SeatDelta{PasswordManager: 1}
	if m.AccessSecretsManager() && org.UseSecretsManager() {
		needed.SecretsManager = 1
	}
	reservation, err := s.autoscaler.Reserve(ctx, org, needed)
	if err != nil {
		return err
	}

	if err := s.memberships.SetStatus(ctx, m.ID(), m.RestoreDestination()); err != nil {
		cause := fmt.Errorf("failed to restore membership: %w", err)
		if relErr := s.autoscaler.Release(ctx, reservation); relErr != nil {
			s.logger.Error("failed to release seat after restore failure", "membership_id", m.ID().String(), "error", relErr)
			return errors.Join(cause, relErr)
		}
		return cause
	}
	if _, err := m.Restore(); err != nil {
		return err
	}
	if err := s.events.LogMembershipEvents(ctx, []organization.MembershipEvent{actor.event(organization.EventRestored, m)}); err != nil {
		return fmt.Errorf("failed to log restore event: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues("restore", metrics.ResultSuccess).Inc()
	s.logger.Info("membership restored",
		"organization_id", m.OrganizationID().String(),
		"membership_id", m.ID().String(),
		"status", m.Status().String(),
		"actor", actor.String(),
	)
	s.pushOnRevokeRestore(ctx, m)
	return nil
}

// =============================================================================
// Accept / Confirm
// =============================================================================

// Accept links an invitation to the user presenting its token.
func (s *MembershipService) Accept(ctx context.Context, token string, userID shared.ID) (*organization.Membership, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	m, err := s.memberships.GetByID(ctx, claims.MembershipID)
	if err != nil {
		return nil, err
	}
	fold := cases.Fold()
	if !m.OrganizationID().Equals(claims.OrganizationID) || fold.String(claims.Email) != fold.String(m.EmailOrEmpty()) {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgInvalidInviteToken)
	}
	if m.Status() != organization.StatusInvited {
		return nil, fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgInviteAlreadyUsed)
	}

	emails, err := s.users.EmailsByIDs(ctx, []shared.ID{userID})
	if err != nil {
		return nil, fmt.Errorf("failed to load user email: %w", err)
	}
	if email, ok := emails[userID]; !ok || fold.String(email) != fold.String(m.EmailOrEmpty()) {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgInviteEmailMismatch)
	}

	if _, err := s.memberships.GetByOrganizationAndUser(ctx, m.OrganizationID(), userID); err == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgAlreadyMember)
	} else if !shared.IsNotFound(err) {
		return nil, fmt.Errorf("failed to check existing membership: %w", err)
	}

	if s.twoFactor != nil {
		if err := s.twoFactor.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("failed to refresh two-step login status", "user_id", userID.String(), "error", err)
		}
	}
	if err := s.gate.Evaluate(ctx, m.OrganizationID(), userID, organization.StatusAccepted); err != nil {
		metrics.TransitionsTotal.WithLabelValues("accept", metrics.ResultFailure).Inc()
		return nil, err
	}
	if err := m.Accept(userID); err != nil {
		return nil, err
	}
	if err := s.memberships.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to accept membership: %w", err)
	}
	actor := UserActor(userID, access.Privileges{})
	if err := s.events.LogMembershipEvents(ctx, []organization.MembershipEvent{actor.event(organization.EventAccepted, m)}); err != nil {
		return nil, fmt.Errorf("failed to log accept event: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues("accept", metrics.ResultSuccess).Inc()
	s.logger.Info("invitation accepted",
		"organization_id", m.OrganizationID().String(),
		"membership_id", m.ID().String(),
	)
	return m, nil
}

// Confirm completes an accepted membership with the organization key
// encrypted for the member.
func (s *MembershipService) Confirm(ctx context.Context, orgID, membershipID shared.ID, key string, actor Actor) (*organization.Membership, error) {
	m, err := s.load(ctx, orgID, membershipID)
	if err != nil {
		return nil, err
	}
	if m.Status() != organization.StatusAccepted || m.UserID() == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrStateConflict, MsgNotAccepted)
	}
	if !actor.IsSystem() {
		assignment := access.Assignment{Role: m.Role(), Permissions: m.Permissions(), CurrentRole: m.Role()}
		if err := access.CanAssign(actor.Privileges, assignment); err != nil {
			return nil, err
		}
	}
	if err := s.gate.Evaluate(ctx, orgID, *m.UserID(), organization.StatusConfirmed); err != nil {
		metrics.TransitionsTotal.WithLabelValues("confirm", metrics.ResultFailure).Inc()
		return nil, err
	}

	if err := m.Confirm(key); err != nil {
		return nil, err
	}
	if err := s.memberships.Upsert(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to confirm membership: %w", err)
	}
	if err := s.events.LogMembershipEvents(ctx, []organization.MembershipEvent{actor.event(organization.EventConfirmed, m)}); err != nil {
		return nil, fmt.Errorf("failed to log confirm event: %w", err)
	}

	metrics.TransitionsTotal.WithLabelValues("confirm", metrics.ResultSuccess).Inc()
	s.logger.Info("membership confirmed",
		"organization_id", orgID.String(),
		"membership_id", m.ID().String(),
		"actor", actor.String(),
	)
	if s.pusher != nil {
		s.push(ctx, *m.UserID())
	}
	return m, nil
}

// =============================================================================
// Helpers
// =============================================================================

func (s *MembershipService) load(ctx context.Context, orgID, membershipID shared.ID) (*organization.Membership, error) {
	m, err := s.memberships.GetByID(ctx, membershipID)
	if err != nil {
		return nil, err
	}
	if !m.OrganizationID().Equals(orgID) {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, organization.MsgMembershipMissing)
	}
	return m, nil
}

func (s *MembershipService) loadMany(ctx context.Context, orgID shared.ID, ids []shared.ID) (map[shared.ID]*organization.Membership, error) {
	ms, err := s.memberships.GetMany(ctx, uniqueIDs(ids))
	if err != nil {
		return nil, fmt.Errorf("failed to load memberships: %w", err)
	}
	found := make(map[shared.ID]*organization.Membership, len(ms))
	for _, m := range ms {
		if m.OrganizationID().Equals(orgID) {
			found[m.ID()] = m
		}
	}
	return found, nil
}

func missing(id shared.ID) BatchResult {
	return BatchResult{
		MembershipID: id,
		Err:          fmt.Errorf("%w: %s", shared.ErrNotFound, organization.MsgMembershipMissing),
	}
}

func (s *MembershipService) pushOnRevokeRestore(ctx context.Context, m *organization.Membership) {
	if s.pusher == nil || !s.features.IsEnabled(FeaturePushSyncOrgKeysOnRevokeRestore) || m.UserID() == nil {
		return
	}
	s.push(ctx, *m.UserID())
}

func (s *MembershipService) push(ctx context.Context, userID shared.ID) {
	if err := s.pusher.PushSyncOrgKeys(ctx, userID); err != nil {
		metrics.KeySyncPushesTotal.WithLabelValues(metrics.ResultFailure).Inc()
		s.logger.Warn("failed to push key sync", "user_id", userID.String(), "error", err)
		return
	}
	metrics.KeySyncPushesTotal.WithLabelValues(metrics.ResultSuccess).Inc()
}
