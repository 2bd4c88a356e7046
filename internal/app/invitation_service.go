package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/text/cases"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/access"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
	"github.com/openctemio/membership/pkg/validator"
)

// InviteResult describes the outcome of an invite batch.
type InviteResult struct {
	Memberships []*organization.Membership
	Tokens      []organization.InviteToken
	// Skipped lists requested emails that produced no membership because they
	// were repeated in the batch or already known to the organization.
	Skipped     []string
	Reservation *organization.Reservation
}

// InvitationService invites users to organizations. A batch either completes
// or is compensated: inserted memberships are deleted and grown seats released.
type InvitationService struct {
	orgs        organization.Repository
	memberships organization.MembershipRepository
	autoscaler  *SeatAutoscaler
	tokens      InviteTokenIssuer
	mailer      InviteMailer
	events      EventLogger
	validator   *validator.Validator
	logger      *logger.Logger
}

// InvitationServiceOption is a functional option for InvitationService.
type InvitationServiceOption func(*InvitationService)

// WithInviteValidator sets the validator used on invite requests.
func WithInviteValidator(v *validator.Validator) InvitationServiceOption {
	return func(s *InvitationService) {
		s.validator = v
	}
}

// NewInvitationService creates a new InvitationService.
func NewInvitationService(
	orgs organization.Repository,
	memberships organization.MembershipRepository,
	autoscaler *SeatAutoscaler,
	tokens InviteTokenIssuer,
	mailer InviteMailer,
	events EventLogger,
	log *logger.Logger,
	opts ...InvitationServiceOption,
) *InvitationService {
	s := &InvitationService{
		orgs:        orgs,
		memberships: memberships,
		autoscaler:  autoscaler,
		tokens:      tokens,
		mailer:      mailer,
		events:      events,
		validator:   validator.New(),
		logger:      log.With("service", "invitation"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type plannedInvite struct {
	email   string
	request organization.InviteRequest
}

// InviteMany invites every email of every request to the organization.
// Duplicates within the call and emails already known to the organization are
// skipped; the mail and event collaborators are called even when nothing is left.
func (s *InvitationService) InviteMany(ctx context.Context, orgID shared.ID, actor Actor, invites []organization.InviteRequest) (*InviteResult, error) {
	start := time.Now()
	defer func() {
		metrics.InviteBatchDuration.Observe(time.Since(start).Seconds())
	}()

	org, err := s.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}

	var requested []string
	for _, inv := range invites {
		requested = append(requested, inv.Emails...)
	}
	if len(requested) == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrNotFound, organization.MsgNoUsersToInvite)
	}
	for _, inv := range invites {
		if err := s.validator.Validate(inv); err != nil {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, err.Error())
		}
	}

	if !actor.IsSystem() {
		if err := s.checkPermissions(org, actor, invites); err != nil {
			return nil, err
		}
	}

	planned, skipped, err := s.plan(ctx, orgID, invites)
	if err != nil {
		return nil, err
	}
	metrics.InvitesTotal.WithLabelValues("skipped").Add(float64(len(skipped)))

	if err := s.requireConfirmedOwner(ctx, orgID, invites); err != nil {
		return nil, err
	}

	created := make([]*organization.Membership, 0, len(planned))
	var needed organization.SeatDelta
	for _, p := range planned {
		m, err := organization.NewInvitedMembership(orgID, p.email, p.request.Role, p.request.Permissions, p.request.ExternalID, p.request.AccessSecretsManager)
		if err != nil {
			return nil, err
		}
		created = append(created, m)
		needed.PasswordManager++
		if m.AccessSecretsManager() {
			needed.SecretsManager++
		}
	}

	result := &InviteResult{Skipped: skipped}
	if len(created) > 0 {
		reservation, err := s.autoscaler.Reserve(ctx, org, needed)
		if err != nil {
			return nil, err
		}
		result.Reservation = reservation

		if err := s.memberships.CreateMany(ctx, created); err != nil {
			return nil, s.compensate(ctx, reservation, nil, fmt.Errorf("failed to create memberships: %w", err))
		}
		result.Memberships = created
	}

	if err := s.dispatch(ctx, org, actor, result); err != nil {
		return nil, s.compensate(ctx, result.Reservation, membershipIDs(created), err)
	}

	metrics.InvitesTotal.WithLabelValues("created").Add(float64(len(created)))
	s.logger.Info("users invited",
		"organization_id", orgID.String(),
		"actor", actor.String(),
		"created", len(created),
		"skipped", len(skipped),
	)
	return result, nil
}

// InviteOne invites a single email and returns the created membership.
func (s *InvitationService) InviteOne(ctx context.Context, orgID shared.ID, actor Actor, invite organization.InviteRequest) (*organization.Membership, error) {
	if len(invite.Emails) > 1 {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, organization.MsgSingleInviteOnly)
	}
	result, err := s.InviteMany(ctx, orgID, actor, []organization.InviteRequest{invite})
	if err != nil {
		return nil, err
	}
	if len(result.Memberships) == 0 {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, organization.MsgAlreadyInvited)
	}
	return result.Memberships[0], nil
}

// plan collapses exact duplicates and drops emails the organization already knows.
func (s *InvitationService) plan(ctx context.Context, orgID shared.ID, invites []organization.InviteRequest) ([]plannedInvite, []string, error) {
	var unique []string
	seen := make(map[string]bool)
	for _, inv := range invites {
		for _, e := range inv.Emails {
			if !seen[e] {
				seen[e] = true
				unique = append(unique, e)
			}
		}
	}

	known, err := s.memberships.SelectKnownEmails(ctx, orgID, unique)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to select known emails: %w", err)
	}
	fold := cases.Fold()
	knownFolded := make(map[string]bool, len(known))
	for _, e := range known {
		knownFolded[fold.String(e)] = true
	}

	var planned []plannedInvite
	var skipped []string
	taken := make(map[string]bool)
	for _, inv := range invites {
		for _, e := range inv.Emails {
			if taken[e] || knownFolded[fold.String(e)] {
				skipped = append(skipped, e)
				continue
			}
			taken[e] = true
			planned = append(planned, plannedInvite{email: e, request: inv})
		}
	}
	return planned, skipped, nil
}

// checkPermissions runs the assignment checks for every request, including
// those whose emails are already known to the organization.
func (s *InvitationService) checkPermissions(org *organization.Organization, actor Actor, invites []organization.InviteRequest) error {
	for _, req := range invites {
		if err := access.CanAssign(actor.Privileges, access.Assignment{Role: req.Role, Permissions: req.Permissions}); err != nil {
			return err
		}
		if err := access.CheckCustomPermissionsEnabled(org, req.Role); err != nil {
			return err
		}
	}
	return nil
}

// requireConfirmedOwner rejects the batch when the organization has no
// confirmed owner, unless every invite is for an owner.
func (s *InvitationService) requireConfirmedOwner(ctx context.Context, orgID shared.ID, invites []organization.InviteRequest) error {
	allOwners := true
	for _, inv := range invites {
		if inv.Role != organization.RoleOwner {
			allOwners = false
			break
		}
	}
	if allOwners {
		return nil
	}
	ok, err := s.memberships.HasConfirmedOwnersExcept(ctx, orgID, nil)
	if err != nil {
		return fmt.Errorf("failed to check confirmed owners: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", shared.ErrValidation, organization.MsgOwnerRequired)
	}
	return nil
}

// dispatch issues tokens, sends the batched invite email and logs one event
// per created membership.
func (s *InvitationService) dispatch(ctx context.Context, org *organization.Organization, actor Actor, result *InviteResult) error {
	tokens := make([]organization.InviteToken, 0, len(result.Memberships))
	events := make([]organization.MembershipEvent, 0, len(result.Memberships))
	for _, m := range result.Memberships {
		token, err := s.tokens.Issue(m)
		if err != nil {
			return fmt.Errorf("failed to issue invite token: %w", err)
		}
		tokens = append(tokens, token)
		events = append(events, actor.event(organization.EventInvited, m))
	}
	result.Tokens = tokens

	batch := organization.InviteEmailBatch{
		OrganizationID:   org.ID(),
		OrganizationName: org.Name(),
		IsFreeOrg:        org.Plan().IsFree,
		Invites:          tokens,
	}
	if err := s.mailer.SendInviteEmails(ctx, batch); err != nil {
		return fmt.Errorf("failed to send invite emails: %w", err)
	}
	if err := s.events.LogMembershipEvents(ctx, events); err != nil {
		return fmt.Errorf("failed to log invite events: %w", err)
	}
	return nil
}

// compensate undoes a partially applied batch and returns the original error,
// joined with any compensation failure.
func (s *InvitationService) compensate(ctx context.Context, reservation *organization.Reservation, inserted []shared.ID, cause error) error {
	var failures []error
	if len(inserted) > 0 {
		if err := s.memberships.DeleteMany(ctx, inserted); err != nil {
			failures = append(failures, fmt.Errorf("failed to delete %d memberships: %w", len(inserted), err))
		}
	}
	if err := s.autoscaler.Release(ctx, reservation); err != nil {
		failures = append(failures, err)
	}

	if len(failures) == 0 {
		metrics.CompensationsTotal.WithLabelValues(metrics.ResultSuccess).Inc()
		s.logger.Warn("invite batch compensated", "error", cause)
		return cause
	}

	metrics.CompensationsTotal.WithLabelValues(metrics.ResultFailure).Inc()
	compErr := fmt.Errorf("%w: compensation failed: %w", shared.ErrAutoscaleFailure, errors.Join(failures...))
	s.logger.Error("invite batch compensation failed", "error", compErr, "cause", cause)
	return errors.Join(cause, compErr)
}

func membershipIDs(ms []*organization.Membership) []shared.ID {
	ids := make([]shared.ID, 0, len(ms))
	for _, m := range ms {
		ids = append(ids, m.ID())
	}
	return ids
}
