package organization

import (
	"fmt"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// SeatDelta is a signed change to the seats of an organization.
type SeatDelta struct {
	PasswordManager int `json:"password_manager"`
	SecretsManager  int `json:"secrets_manager"`
}

// IsZero reports whether the delta changes nothing.
func (d SeatDelta) IsZero() bool {
	return d.PasswordManager == 0 && d.SecretsManager == 0
}

// Negate returns the inverse delta.
func (d SeatDelta) Negate() SeatDelta {
	return SeatDelta{PasswordManager: -d.PasswordManager, SecretsManager: -d.SecretsManager}
}

// Add sums two deltas.
func (d SeatDelta) Add(o SeatDelta) SeatDelta {
	return SeatDelta{
		PasswordManager: d.PasswordManager + o.PasswordManager,
		SecretsManager:  d.SecretsManager + o.SecretsManager,
	}
}

// String renders the delta for logs and error messages.
func (d SeatDelta) String() string {
	return fmt.Sprintf("pm%+d/sm%+d", d.PasswordManager, d.SecretsManager)
}

// SeatTotals are the seat counts of an organization after a subscription update.
type SeatTotals struct {
	Seats   *int `json:"seats"`
	SmSeats *int `json:"sm_seats"`
}

// OccupiedSeats counts memberships consuming seats.
type OccupiedSeats struct {
	PasswordManager int
	SecretsManager  int
}

// Reservation is the receipt of a seat reservation. Releasing it applies the
// exact inverse of Applied, so a reservation that grew nothing releases nothing.
type Reservation struct {
	OrganizationID shared.ID
	// Requested is the seat demand of the operation; Applied is the part of it
	// that had to be bought.
	Requested      SeatDelta
	Applied        SeatDelta
	Before         SeatTotals
	After          SeatTotals
	released       bool
}

// NewReservation creates a receipt for an applied delta.
func NewReservation(orgID shared.ID, applied SeatDelta, before, after SeatTotals) *Reservation {
	return &Reservation{
		OrganizationID: orgID,
		Applied:        applied,
		Before:         before,
		After:          after,
	}
}

// NeedsRelease reports whether compensation must call the subscription collaborator.
func (r *Reservation) NeedsRelease() bool {
	return r != nil && !r.released && !r.Applied.IsZero()
}

// Released reports whether the reservation was already compensated.
func (r *Reservation) Released() bool {
	return r != nil && r.released
}

// MarkReleased flags the reservation as compensated.
func (r *Reservation) MarkReleased() {
	r.released = true
}
