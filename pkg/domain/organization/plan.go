package organization

// PlanType identifies a subscription plan.
type PlanType string

const (
	PlanFree               PlanType = "free"
	PlanTeamsStarter       PlanType = "teams_starter"
	PlanTeamsMonthly       PlanType = "teams_monthly"
	PlanTeamsAnnually      PlanType = "teams_annually"
	PlanEnterpriseMonthly  PlanType = "enterprise_monthly"
	PlanEnterpriseAnnually PlanType = "enterprise_annually"
	PlanCustom             PlanType = "custom"
)

// SeatRules describes how one seat kind may grow under a plan.
type SeatRules struct {
	BaseSeats                int
	MaxSeats                 *int // nil = no hard ceiling from the plan
	HasAdditionalSeatsOption bool
	AllowSeatAutoscale       bool
}

// Plan is the static description of what a plan type allows.
type Plan struct {
	Type            PlanType
	Name            string
	IsFree          bool
	PasswordManager SeatRules
	SecretsManager  SeatRules
}

func intPtr(v int) *int { return &v }

var plans = map[PlanType]Plan{
	PlanFree: {
		Type:            PlanFree,
		Name:            "Free",
		IsFree:          true,
		PasswordManager: SeatRules{BaseSeats: 2, MaxSeats: intPtr(2)},
		SecretsManager:  SeatRules{BaseSeats: 2, MaxSeats: intPtr(2)},
	},
	PlanTeamsStarter: {
		Type:            PlanTeamsStarter,
		Name:            "Teams Starter",
		PasswordManager: SeatRules{BaseSeats: 10, MaxSeats: intPtr(10)},
		SecretsManager:  SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
	},
	PlanTeamsMonthly: {
		Type:            PlanTeamsMonthly,
		Name:            "Teams",
		PasswordManager: SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
		SecretsManager:  SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
	},
	PlanTeamsAnnually: {
		Type:            PlanTeamsAnnually,
		Name:            "Teams",
		PasswordManager: SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
		SecretsManager:  SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
	},
	PlanEnterpriseMonthly: {
		Type:            PlanEnterpriseMonthly,
		Name:            "Enterprise",
		PasswordManager: SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
		SecretsManager:  SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
	},
	PlanEnterpriseAnnually: {
		Type:            PlanEnterpriseAnnually,
		Name:            "Enterprise",
		PasswordManager: SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
		SecretsManager:  SeatRules{HasAdditionalSeatsOption: true, AllowSeatAutoscale: true},
	},
	PlanCustom: {
		Type: PlanCustom,
		Name: "Custom",
	},
}

// LookupPlan returns the plan description for a type.
func LookupPlan(t PlanType) (Plan, bool) {
	p, ok := plans[t]
	return p, ok
}

// IsValid checks if the plan type is known.
func (t PlanType) IsValid() bool {
	_, ok := plans[t]
	return ok
}

// String returns the string representation of the plan type.
func (t PlanType) String() string {
	return string(t)
}
