package app

import (
	"context"
	"fmt"
	"time"

	"github.com/openctemio/membership/internal/metrics"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/logger"
)

// Seat validation messages.
const (
	MsgSelfHostedAutoscale   = "Cannot autoscale on self-hosted instance."
	MsgProviderSeatLimit     = "Seat limit has been reached. Contact your provider to purchase additional seats."
	MsgSeatLimitReached      = "Seat limit has been reached"
	MsgSmSeatLimitReached    = "Secrets Manager seat limit has been reached"
	MsgPlanNoAdditionalSeats = "Plan does not allow additional seats"
	MsgPlanNoAutoscale       = "Your plan does not allow seat autoscaling"
	MsgMaxBelowSeatCount     = "Cannot set max seat autoscaling below seat count"
	MsgCannotSubtractSeats   = "You can't subtract Password Manager seats!"
	MsgSeatsBelowOccupied    = "Your seat count is lower than your occupied seats"
	MsgSmAbovePm             = "You cannot have more Secrets Manager seats than Password Manager seats."
	MsgNoSecretsManager      = "Organization does not use Secrets Manager"
	MsgUnlimitedSeats        = "Organization has no seat limit"
)

// SeatAutoscaler grows an organization's subscription when an operation needs
// more seats than are free, and gives back exactly what it grew on release.
type SeatAutoscaler struct {
	orgs          organization.Repository
	memberships   organization.MembershipRepository
	subscriptions SubscriptionUpdater
	users         organization.UserDirectory
	mailer        InviteMailer
	selfHosted    bool
	now           func() time.Time
	logger        *logger.Logger
}

// SeatAutoscalerOption is a functional option for SeatAutoscaler.
type SeatAutoscalerOption func(*SeatAutoscaler)

// WithSelfHosted marks the installation as self-hosted, which disables autoscaling.
func WithSelfHosted(selfHosted bool) SeatAutoscalerOption {
	return func(a *SeatAutoscaler) {
		a.selfHosted = selfHosted
	}
}

// WithSeatNotices enables owner notifications after autoscaling.
func WithSeatNotices(users organization.UserDirectory, mailer InviteMailer) SeatAutoscalerOption {
	return func(a *SeatAutoscaler) {
		a.users = users
		a.mailer = mailer
	}
}

// WithAutoscalerClock overrides the clock used for notification timestamps.
func WithAutoscalerClock(now func() time.Time) SeatAutoscalerOption {
	return func(a *SeatAutoscaler) {
		a.now = now
	}
}

// NewSeatAutoscaler creates a new SeatAutoscaler.
func NewSeatAutoscaler(
	orgs organization.Repository,
	memberships organization.MembershipRepository,
	subscriptions SubscriptionUpdater,
	log *logger.Logger,
	opts ...SeatAutoscalerOption,
) *SeatAutoscaler {
	a := &SeatAutoscaler{
		orgs:          orgs,
		memberships:   memberships,
		subscriptions: subscriptions,
		now:           time.Now,
		logger:        log.With("service", "seat_autoscaler"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Shortfall returns the seats that must be added for the organization to hold
// `needed` more occupied seats.
func (a *SeatAutoscaler) Shortfall(ctx context.Context, org *organization.Organization, needed organization.SeatDelta) (organization.SeatDelta, error) {
	if needed.SecretsManager > 0 && !org.UseSecretsManager() {
		return organization.SeatDelta{}, fmt.Errorf("%w: %s", shared.ErrValidation, MsgNoSecretsManager)
	}
	occupied, err := a.memberships.CountOccupiedSeats(ctx, org.ID())
	if err != nil {
		return organization.SeatDelta{}, fmt.Errorf("failed to count occupied seats: %w", err)
	}

	var short organization.SeatDelta
	if seats := org.Seats(); seats != nil {
		short.PasswordManager = max(occupied.PasswordManager+needed.PasswordManager-*seats, 0)
	}
	if smSeats := org.SmSeats(); smSeats != nil && needed.SecretsManager > 0 {
		short.SecretsManager = max(occupied.SecretsManager+needed.SecretsManager-*smSeats, 0)
	}
	return short, nil
}

// CanScale validates that the organization may grow by add.
func (a *SeatAutoscaler) CanScale(org *organization.Organization, add organization.SeatDelta) error {
	if add.PasswordManager <= 0 && add.SecretsManager <= 0 {
		return nil
	}
	if a.selfHosted {
		return fmt.Errorf("%w: %s", shared.ErrValidation, MsgSelfHostedAutoscale)
	}
	if org.ManagedByProvider() {
		return fmt.Errorf("%w: %s", shared.ErrValidation, MsgProviderSeatLimit)
	}

	plan := org.Plan()
	if add.PasswordManager > 0 {
		if !plan.PasswordManager.AllowSeatAutoscale {
			return fmt.Errorf("%w: %s", shared.ErrValidation, MsgPlanNoAdditionalSeats)
		}
		if ceiling, seats := org.MaxAutoscaleSeats(), org.Seats(); ceiling != nil && seats != nil && *ceiling < *seats+add.PasswordManager {
			return fmt.Errorf("%w: %s", shared.ErrValidation, MsgSeatLimitReached)
		}
	}
	if add.SecretsManager > 0 {
		if !plan.SecretsManager.AllowSeatAutoscale {
			return fmt.Errorf("%w: %s", shared.ErrValidation, MsgPlanNoAdditionalSeats)
		}
		if ceiling, seats := org.MaxAutoscaleSmSeats(), org.SmSeats(); ceiling != nil && seats != nil && *ceiling < *seats+add.SecretsManager {
			return fmt.Errorf("%w: %s", shared.ErrValidation, MsgSmSeatLimitReached)
		}
	}

	if pm, sm := org.Seats(), org.SmSeats(); pm != nil && sm != nil &&
		*sm+add.SecretsManager > *pm+add.PasswordManager {
		return fmt.Errorf("%w: %s", shared.ErrValidation, MsgSmAbovePm)
	}
	return nil
}

// Reserve makes room for `needed` more occupied seats. Only the shortfall is
// applied to the subscription; the returned receipt records it so Release can
// undo exactly that much.
func (a *SeatAutoscaler) Reserve(ctx context.Context, org *organization.Organization, needed organization.SeatDelta) (*organization.Reservation, error) {
	before := organization.SeatTotals{Seats: org.Seats(), SmSeats: org.SmSeats()}

	short, err := a.Shortfall(ctx, org, needed)
	if err != nil {
		return nil, err
	}
	if short.IsZero() {
		r := organization.NewReservation(org.ID(), short, before, before)
		r.Requested = needed
		return r, nil
	}
	if err := a.CanScale(org, short); err != nil {
		return nil, err
	}

	after, err := a.subscriptions.UpdateSeats(ctx, org.ID(), short)
	if err != nil {
		metrics.SeatAutoscaleTotal.WithLabelValues("reserve", metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("%w: failed to add %s seats: %w", shared.ErrAutoscaleFailure, short, err)
	}
	metrics.SeatAutoscaleTotal.WithLabelValues("reserve", metrics.ResultSuccess).Inc()
	metrics.SeatsAutoscaled.WithLabelValues("password_manager").Add(float64(short.PasswordManager))
	metrics.SeatsAutoscaled.WithLabelValues("secrets_manager").Add(float64(short.SecretsManager))

	org.ApplySeatTotals(after)
	a.logger.Info("seats autoscaled",
		"organization_id", org.ID().String(),
		"applied", short.String(),
	)

	if short.PasswordManager > 0 {
		a.notifyOwners(ctx, org, before)
	}
	r := organization.NewReservation(org.ID(), short, before, after)
	r.Requested = needed
	return r, nil
}

// Release gives back the seats recorded in the reservation. Releasing an empty
// or already released reservation does nothing.
func (a *SeatAutoscaler) Release(ctx context.Context, r *organization.Reservation) error {
	if !r.NeedsRelease() {
		return nil
	}
	if _, err := a.subscriptions.UpdateSeats(ctx, r.OrganizationID, r.Applied.Negate()); err != nil {
		metrics.SeatAutoscaleTotal.WithLabelValues("release", metrics.ResultFailure).Inc()
		return fmt.Errorf("%w: failed to release %s seats: %w", shared.ErrAutoscaleFailure, r.Applied, err)
	}
	r.MarkReleased()
	metrics.SeatAutoscaleTotal.WithLabelValues("release", metrics.ResultSuccess).Inc()
	a.logger.Info("seat reservation released",
		"organization_id", r.OrganizationID.String(),
		"released", r.Applied.String(),
	)
	return nil
}

// AdjustSeats changes the purchased password manager seats by adjustment and
// sets the autoscale ceiling.
func (a *SeatAutoscaler) AdjustSeats(ctx context.Context, orgID shared.ID, adjustment int, maxAutoscaleSeats *int) (*organization.Organization, error) {
	org, err := a.orgs.GetByID(ctx, orgID)
	if err != nil {
		return nil, err
	}
	seats := org.Seats()
	if seats == nil {
		return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgUnlimitedSeats)
	}
	plan := org.Plan()
	newSeats := *seats + adjustment

	if maxAutoscaleSeats != nil {
		if *maxAutoscaleSeats < newSeats {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgMaxBelowSeatCount)
		}
		if !plan.PasswordManager.AllowSeatAutoscale {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgPlanNoAutoscale)
		}
	}

	if adjustment != 0 {
		if !plan.PasswordManager.HasAdditionalSeatsOption {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgPlanNoAdditionalSeats)
		}
		if newSeats < plan.PasswordManager.BaseSeats || newSeats < 0 {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgCannotSubtractSeats)
		}
		occupied, err := a.memberships.CountOccupiedSeats(ctx, orgID)
		if err != nil {
			return nil, fmt.Errorf("failed to count occupied seats: %w", err)
		}
		if occupied.PasswordManager > newSeats {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgSeatsBelowOccupied)
		}
		if sm := org.SmSeats(); sm != nil && *sm > newSeats {
			return nil, fmt.Errorf("%w: %s", shared.ErrValidation, MsgSmAbovePm)
		}

		delta := organization.SeatDelta{PasswordManager: adjustment}
		totals, err := a.subscriptions.UpdateSeats(ctx, orgID, delta)
		if err != nil {
			metrics.SeatAutoscaleTotal.WithLabelValues("adjust", metrics.ResultFailure).Inc()
			return nil, fmt.Errorf("%w: failed to adjust seats by %s: %w", shared.ErrAutoscaleFailure, delta, err)
		}
		metrics.SeatAutoscaleTotal.WithLabelValues("adjust", metrics.ResultSuccess).Inc()
		org.ApplySeatTotals(totals)
	}

	if err := a.orgs.SetMaxAutoscaleSeats(ctx, orgID, maxAutoscaleSeats); err != nil {
		return nil, fmt.Errorf("failed to update max autoscale seats: %w", err)
	}
	org.SetMaxAutoscaleSeats(maxAutoscaleSeats)

	a.logger.Info("seats adjusted",
		"organization_id", orgID.String(),
		"adjustment", adjustment,
	)
	return org, nil
}

// notifyOwners tells confirmed owners about the first autoscale and about
// reaching the ceiling. Failures are logged only.
func (a *SeatAutoscaler) notifyOwners(ctx context.Context, org *organization.Organization, before organization.SeatTotals) {
	if a.mailer == nil || a.users == nil {
		return
	}

	var notices []organization.SeatNoticeKind
	if org.OwnersNotifiedOfAutoscaling() == nil {
		notices = append(notices, organization.SeatNoticeAutoscaled)
	}
	if ceiling, seats := org.MaxAutoscaleSeats(), org.Seats(); ceiling != nil && seats != nil && *seats >= *ceiling {
		notices = append(notices, organization.SeatNoticeMaxSeatsReached)
	}
	if len(notices) == 0 {
		return
	}

	recipients, err := a.ownerEmails(ctx, org.ID())
	if err != nil {
		a.logger.Warn("failed to load owner emails for seat notice", "organization_id", org.ID().String(), "error", err)
		return
	}
	if len(recipients) == 0 {
		return
	}

	for _, kind := range notices {
		notice := organization.SeatNotice{
			Kind:             kind,
			OrganizationID:   org.ID(),
			OrganizationName: org.Name(),
			Recipients:       recipients,
			PreviousSeats:    derefInt(before.Seats),
			Seats:            derefInt(org.Seats()),
			MaxSeats:         org.MaxAutoscaleSeats(),
		}
		if err := a.mailer.SendSeatNotice(ctx, notice); err != nil {
			a.logger.Warn("failed to send seat notice", "organization_id", org.ID().String(), "kind", kind, "error", err)
			continue
		}
		if kind == organization.SeatNoticeAutoscaled {
			at := a.now().UTC()
			if err := a.orgs.MarkOwnersNotified(ctx, org.ID(), at); err != nil {
				a.logger.Warn("failed to record owner notification", "organization_id", org.ID().String(), "error", err)
				continue
			}
			org.MarkOwnersNotified(at)
		}
	}
}

func (a *SeatAutoscaler) ownerEmails(ctx context.Context, orgID shared.ID) ([]string, error) {
	role, status := organization.RoleOwner, organization.StatusConfirmed
	owners, err := a.memberships.ListByOrganization(ctx, orgID, organization.MembershipFilter{Role: &role, Status: &status})
	if err != nil {
		return nil, err
	}
	ids := make([]shared.ID, 0, len(owners))
	for _, m := range owners {
		if m.UserID() != nil {
			ids = append(ids, *m.UserID())
		}
	}
	if len(ids) == 0 {
		return nil, nil
	}
	emails, err := a.users.EmailsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(emails))
	for _, id := range ids {
		if e, ok := emails[id]; ok && e != "" {
			out = append(out, e)
		}
	}
	return out, nil
}

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
