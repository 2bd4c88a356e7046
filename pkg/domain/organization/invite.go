package organization

import (
	"time"

	"github.com/openctemio/membership/pkg/domain/shared"
)

// InviteRequest asks for one or more email addresses to be invited with the
// same role and capability set.
type InviteRequest struct {
	Emails               []string    `json:"emails" validate:"dive,required,strict_email,max=256"`
	Role                 Role        `json:"role" validate:"required,membership_role"`
	Permissions          Permissions `json:"permissions"`
	AccessSecretsManager bool        `json:"access_secrets_manager"`
	ExternalID           string      `json:"external_id" validate:"max=300"`
}

// InviteToken pairs a created membership with its invite token.
type InviteToken struct {
	MembershipID shared.ID `json:"membership_id"`
	Email        string    `json:"email"`
	Token        string    `json:"token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// InviteClaims are the verified contents of an invite token.
type InviteClaims struct {
	MembershipID   shared.ID
	OrganizationID shared.ID
	Email          string
	ExpiresAt      time.Time
}

// InviteEmailBatch is the payload of a single batched invite email dispatch.
type InviteEmailBatch struct {
	OrganizationID   shared.ID     `json:"organization_id"`
	OrganizationName string        `json:"organization_name"`
	IsFreeOrg        bool          `json:"is_free_org"`
	Invites          []InviteToken `json:"invites"`
}

// SeatNoticeKind distinguishes the owner notifications sent by the autoscaler.
type SeatNoticeKind string

const (
	SeatNoticeAutoscaled      SeatNoticeKind = "autoscaled"
	SeatNoticeMaxSeatsReached SeatNoticeKind = "max_seats_reached"
)

// SeatNotice tells organization owners that seats grew or hit the ceiling.
type SeatNotice struct {
	Kind             SeatNoticeKind `json:"kind"`
	OrganizationID   shared.ID      `json:"organization_id"`
	OrganizationName string         `json:"organization_name"`
	Recipients       []string       `json:"recipients"`
	PreviousSeats    int            `json:"previous_seats"`
	Seats            int            `json:"seats"`
	MaxSeats         *int           `json:"max_seats,omitempty"`
}
