// Package invitetoken issues and verifies the signed tokens carried by
// organization invitation links.
package invitetoken

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var (
	// ErrInvalidToken is returned when the token is malformed or badly signed.
	ErrInvalidToken = errors.New("invalid invitation token")
	// ErrExpiredToken is returned when the token has expired.
	ErrExpiredToken = errors.New("invitation has expired")
	// ErrEmptySecret is returned when the signer has no secret.
	ErrEmptySecret = errors.New("invite token secret cannot be empty")
)

// DefaultExpiryDays is how long an invitation stays valid when not configured.
const DefaultExpiryDays = 5

const purpose = "organization_invite"

// Claims is the JWT payload of an invite token.
type Claims struct {
	OrganizationID string `json:"org"`
	MembershipID   string `json:"ou"`
	Email          string `json:"email"`
	Purpose        string `json:"purpose"`

	jwt.RegisteredClaims
}

// Config holds configuration for token generation.
type Config struct {
	Secret     string
	Issuer     string
	ExpiryDays int
}

// Signer issues and verifies invite tokens. It implements app.InviteTokenIssuer.
type Signer struct {
	config Config
	now    func() time.Time
}

// NewSigner creates a new Signer.
func NewSigner(cfg Config) (*Signer, error) {
	if cfg.Secret == "" {
		return nil, ErrEmptySecret
	}
	if cfg.ExpiryDays <= 0 {
		cfg.ExpiryDays = DefaultExpiryDays
	}
	return &Signer{config: cfg, now: time.Now}, nil
}

// Expiry returns the lifetime of a newly issued token.
func (s *Signer) Expiry() time.Duration {
	return time.Duration(s.config.ExpiryDays) * 24 * time.Hour
}

// Issue creates a token for an invited membership.
func (s *Signer) Issue(m *organization.Membership) (organization.InviteToken, error) {
	email := m.EmailOrEmpty()
	if email == "" {
		return organization.InviteToken{}, fmt.Errorf("%w: membership %s has no invitation email", shared.ErrValidation, m.ID())
	}

	now := s.now()
	expiresAt := now.Add(s.Expiry())
	claims := Claims{
		OrganizationID: m.OrganizationID().String(),
		MembershipID:   m.ID().String(),
		Email:          email,
		Purpose:        purpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.config.Issuer,
			Subject:   m.ID().String(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.config.Secret))
	if err != nil {
		return organization.InviteToken{}, fmt.Errorf("failed to sign invite token: %w", err)
	}

	return organization.InviteToken{
		MembershipID: m.ID(),
		Email:        email,
		Token:        signed,
		ExpiresAt:    expiresAt,
	}, nil
}

// Verify validates the token and returns its claims. Every failure is a
// validation error.
func (s *Signer) Verify(tokenString string) (organization.InviteClaims, error) {
	opts := []jwt.ParserOption{jwt.WithTimeFunc(s.now)}
	if s.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.config.Issuer))
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.config.Secret), nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return organization.InviteClaims{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrExpiredToken)
		}
		return organization.InviteClaims{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrInvalidToken)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Purpose != purpose || strings.TrimSpace(claims.Email) == "" {
		return organization.InviteClaims{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrInvalidToken)
	}
	orgID, err := shared.IDFromString(claims.OrganizationID)
	if err != nil {
		return organization.InviteClaims{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrInvalidToken)
	}
	membershipID, err := shared.IDFromString(claims.MembershipID)
	if err != nil {
		return organization.InviteClaims{}, fmt.Errorf("%w: %w", shared.ErrValidation, ErrInvalidToken)
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}
	return organization.InviteClaims{
		MembershipID:   membershipID,
		OrganizationID: orgID,
		Email:          claims.Email,
		ExpiresAt:      expiresAt,
	}, nil
}
