package organization

import (
	"fmt"
	"strings"
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// Organization is the tenant whose memberships and seats this module manages.
type Organization struct {
	id                          shared.ID
	name                        string
	billingEmail                string
	planType                    PlanType
	seats                       *int
	maxAutoscaleSeats           *int
	useSecretsManager           bool
	smSeats                     *int
	maxAutoscaleSmSeats         *int
	usesDirectory               bool
	usesSso                     bool
	usesPolicies                bool
	usesCustomPermissions       bool
	managedByProvider           bool
	ownersNotifiedOfAutoscaling *time.Time
	createdAt                   time.Time
	updatedAt                   time.Time
}

// State carries every persisted attribute of an Organization.
type State struct {
	ID                          shared.ID
	Name                        string
	BillingEmail                string
	PlanType                    PlanType
	Seats                       *int
	MaxAutoscaleSeats           *int
	UseSecretsManager           bool
	SmSeats                     *int
	MaxAutoscaleSmSeats         *int
	UsesDirectory               bool
	UsesSso                     bool
	UsesPolicies                bool
	UsesCustomPermissions       bool
	ManagedByProvider           bool
	OwnersNotifiedOfAutoscaling *time.Time
	CreatedAt                   time.Time
	UpdatedAt                   time.Time
}

// NewOrganization creates a new Organization on the given plan with the
// plan's base seat count.
func NewOrganization(name string, planType PlanType, billingEmail string) (*Organization, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", shared.ErrValidation)
	}
	plan, ok := LookupPlan(planType)
	if !ok {
		return nil, fmt.Errorf("%w: unknown plan %q", shared.ErrValidation, planType)
	}

	now := time.Now().UTC()
	o := &Organization{
		id:           shared.NewID(),
		name:         name,
		billingEmail: billingEmail,
		planType:     planType,
		createdAt:    now,
		updatedAt:    now,
	}
	if plan.PasswordManager.BaseSeats > 0 || plan.PasswordManager.MaxSeats != nil {
		o.seats = intPtr(plan.PasswordManager.BaseSeats)
	}
	return o, nil
}

// Reconstitute recreates an Organization from persistence.
func Reconstitute(s State) *Organization {
	return &Organization{
		id:                          s.ID,
		name:                        s.Name,
		billingEmail:                s.BillingEmail,
		planType:                    s.PlanType,
		seats:                       s.Seats,
		maxAutoscaleSeats:           s.MaxAutoscaleSeats,
		useSecretsManager:           s.UseSecretsManager,
		smSeats:                     s.SmSeats,
		maxAutoscaleSmSeats:         s.MaxAutoscaleSmSeats,
		usesDirectory:               s.UsesDirectory,
		usesSso:                     s.UsesSso,
		usesPolicies:                s.UsesPolicies,
		usesCustomPermissions:       s.UsesCustomPermissions,
		managedByProvider:           s.ManagedByProvider,
		ownersNotifiedOfAutoscaling: s.OwnersNotifiedOfAutoscaling,
		createdAt:                   s.CreatedAt,
		updatedAt:                   s.UpdatedAt,
	}
}

// Snapshot returns the persisted attributes of the organization.
func (o *Organization) Snapshot() State {
	return State{
		ID:                          o.id,
		Name:                        o.name,
		BillingEmail:                o.billingEmail,
		PlanType:                    o.planType,
		Seats:                       o.seats,
		MaxAutoscaleSeats:           o.maxAutoscaleSeats,
		UseSecretsManager:           o.useSecretsManager,
		SmSeats:                     o.smSeats,
		MaxAutoscaleSmSeats:         o.maxAutoscaleSmSeats,
		UsesDirectory:               o.usesDirectory,
		UsesSso:                     o.usesSso,
		UsesPolicies:                o.usesPolicies,
		UsesCustomPermissions:       o.usesCustomPermissions,
		ManagedByProvider:           o.managedByProvider,
		OwnersNotifiedOfAutoscaling: o.ownersNotifiedOfAutoscaling,
		CreatedAt:                   o.createdAt,
		UpdatedAt:                   o.updatedAt,
	}
}

// Validate checks the seat invariants.
func (o *Organization) Validate() error {
	if o.seats != nil && *o.seats < 0 {
		return fmt.Errorf("%w: seat count cannot be negative", shared.ErrValidation)
	}
	if o.smSeats != nil && *o.smSeats < 0 {
		return fmt.Errorf("%w: secrets manager seat count cannot be negative", shared.ErrValidation)
	}
	if o.seats != nil && o.smSeats != nil && *o.smSeats > *o.seats {
		return fmt.Errorf("%w: You cannot have more Secrets Manager seats than Password Manager seats.", shared.ErrValidation)
	}
	return nil
}

// ID returns the organization ID.
func (o *Organization) ID() shared.ID { return o.id }

// Name returns the display name.
func (o *Organization) Name() string { return o.name }

// BillingEmail returns the billing contact.
func (o *Organization) BillingEmail() string { return o.billingEmail }

// PlanType returns the subscription plan type.
func (o *Organization) PlanType() PlanType { return o.planType }

// Plan returns the plan description. Unknown plan types resolve to a plan
// that allows nothing.
func (o *Organization) Plan() Plan {
	p, ok := LookupPlan(o.planType)
	if !ok {
		return Plan{Type: o.planType}
	}
	return p
}

// Seats returns the password manager seat count (nil = unlimited).
func (o *Organization) Seats() *int { return o.seats }

// MaxAutoscaleSeats returns the autoscale ceiling (nil = no ceiling).
func (o *Organization) MaxAutoscaleSeats() *int { return o.maxAutoscaleSeats }

// UseSecretsManager reports whether the organization subscribes to secrets manager.
func (o *Organization) UseSecretsManager() bool { return o.useSecretsManager }

// SmSeats returns the secrets manager seat count (nil = unlimited).
func (o *Organization) SmSeats() *int { return o.smSeats }

// MaxAutoscaleSmSeats returns the secrets manager autoscale ceiling.
func (o *Organization) MaxAutoscaleSmSeats() *int { return o.maxAutoscaleSmSeats }

// UsesDirectory reports whether directory sync is enabled.
func (o *Organization) UsesDirectory() bool { return o.usesDirectory }

// UsesSso reports whether SSO is enabled.
func (o *Organization) UsesSso() bool { return o.usesSso }

// UsesPolicies reports whether organization policies are enabled.
func (o *Organization) UsesPolicies() bool { return o.usesPolicies }

// UsesCustomPermissions reports whether the Custom role may be assigned.
func (o *Organization) UsesCustomPermissions() bool { return o.usesCustomPermissions }

// ManagedByProvider reports whether billing is handled by a reseller.
func (o *Organization) ManagedByProvider() bool { return o.managedByProvider }

// OwnersNotifiedOfAutoscaling returns when owners were first told about autoscaling.
func (o *Organization) OwnersNotifiedOfAutoscaling() *time.Time { return o.ownersNotifiedOfAutoscaling }

// CreatedAt returns the creation time.
func (o *Organization) CreatedAt() time.Time { return o.createdAt }

// UpdatedAt returns the last update time.
func (o *Organization) UpdatedAt() time.Time { return o.updatedAt }

// ApplySeatTotals records the seat counts reported by the subscription collaborator.
func (o *Organization) ApplySeatTotals(t SeatTotals) {
	o.seats = t.Seats
	o.smSeats = t.SmSeats
	o.updatedAt = time.Now().UTC()
}

// SetMaxAutoscaleSeats updates the autoscale ceiling.
func (o *Organization) SetMaxAutoscaleSeats(max *int) {
	o.maxAutoscaleSeats = max
	o.updatedAt = time.Now().UTC()
}

// MarkOwnersNotified records the first autoscale notification.
func (o *Organization) MarkOwnersNotified(at time.Time) {
	o.ownersNotifiedOfAutoscaling = &at
	o.updatedAt = at
}
