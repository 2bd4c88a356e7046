package app

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/email"
	"github.com/openctemio/membership/pkg/logger"
)

// MailService renders and sends membership emails. It implements InviteMailer
// synchronously; the worker uses it to deliver queued mail.
type MailService struct {
	sender  email.Sender
	baseURL string
	appName string
	logger  *logger.Logger
}

// NewMailService creates a new MailService. baseURL is the web vault address
// used to build accept and billing links.
func NewMailService(sender email.Sender, baseURL, appName string, log *logger.Logger) *MailService {
	return &MailService{
		sender:  sender,
		baseURL: baseURL,
		appName: appName,
		logger:  log.With("service", "mail"),
	}
}

// IsConfigured returns true if mail can be delivered.
func (s *MailService) IsConfigured() bool {
	return s.sender != nil && s.sender.IsConfigured()
}

// SendInviteEmails sends one invitation per token of the batch. Every invite
// is attempted; failures are joined.
func (s *MailService) SendInviteEmails(ctx context.Context, batch organization.InviteEmailBatch) error {
	if len(batch.Invites) == 0 {
		return nil
	}
	if !s.IsConfigured() {
		s.logger.Warn("mail not configured, skipping invite emails",
			"organization_id", batch.OrganizationID.String(),
			"count", len(batch.Invites),
		)
		return nil
	}

	var errs []error
	for _, inv := range batch.Invites {
		data := email.OrganizationInviteData{
			OrganizationName: batch.OrganizationName,
			Email:            inv.Email,
			AcceptURL:        s.acceptURL(batch, inv),
			ExpiresIn:        formatDuration(time.Until(inv.ExpiresAt).Round(time.Hour)),
			IsFreeOrg:        batch.IsFreeOrg,
			AppName:          s.appName,
		}
		if err := s.sender.SendTemplate(ctx, []string{inv.Email}, email.TemplateOrganizationInvite, data); err != nil {
			errs = append(errs, fmt.Errorf("invite %s: %w", inv.MembershipID, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Error("failed to send invite emails",
			"organization_id", batch.OrganizationID.String(),
			"failed", len(errs),
			"error", err,
		)
		return fmt.Errorf("failed to send invite emails: %w", err)
	}

	s.logger.Info("invite emails sent",
		"organization_id", batch.OrganizationID.String(),
		"count", len(batch.Invites),
	)
	return nil
}

// SendSeatNotice sends a seat notice to the organization's owners.
func (s *MailService) SendSeatNotice(ctx context.Context, notice organization.SeatNotice) error {
	if len(notice.Recipients) == 0 {
		return nil
	}
	if !s.IsConfigured() {
		s.logger.Warn("mail not configured, skipping seat notice",
			"organization_id", notice.OrganizationID.String(),
			"kind", notice.Kind,
		)
		return nil
	}

	billingURL := fmt.Sprintf("%s/organizations/%s/billing/subscription", s.baseURL, notice.OrganizationID)
	var (
		tmpl email.Template
		data any
	)
	switch notice.Kind {
	case organization.SeatNoticeAutoscaled:
		tmpl = email.TemplateSeatsAutoscaled
		data = email.SeatsAutoscaledData{
			OrganizationName: notice.OrganizationName,
			PreviousSeats:    notice.PreviousSeats,
			Seats:            notice.Seats,
			BillingURL:       billingURL,
			AppName:          s.appName,
		}
	case organization.SeatNoticeMaxSeatsReached:
		tmpl = email.TemplateMaxSeatsReached
		data = email.MaxSeatsReachedData{
			OrganizationName: notice.OrganizationName,
			MaxSeats:         derefInt(notice.MaxSeats),
			BillingURL:       billingURL,
			AppName:          s.appName,
		}
	default:
		return fmt.Errorf("unknown seat notice kind %q", notice.Kind)
	}

	if err := s.sender.SendTemplate(ctx, notice.Recipients, tmpl, data); err != nil {
		return fmt.Errorf("failed to send seat notice: %w", err)
	}
	s.logger.Info("seat notice sent",
		"organization_id", notice.OrganizationID.String(),
		"kind", notice.Kind,
		"recipients", len(notice.Recipients),
	)
	return nil
}

func (s *MailService) acceptURL(batch organization.InviteEmailBatch, inv organization.InviteToken) string {
	q := url.Values{}
	q.Set("organizationId", batch.OrganizationID.String())
	q.Set("organizationUserId", inv.MembershipID.String())
	q.Set("organizationName", batch.OrganizationName)
	q.Set("email", inv.Email)
	q.Set("token", inv.Token)
	return s.baseURL + "/accept-organization?" + q.Encode()
}

// formatDuration formats a duration into a human-readable string.
func formatDuration(d time.Duration) string {
	if d >= 24*time.Hour {
		days := int(d.Hours() / 24)
		if days == 1 {
			return "1 day"
		}
		return fmt.Sprintf("%d days", days)
	}
	if d >= time.Hour {
		hours := int(d.Hours())
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", hours)
	}
	if d >= time.Minute {
		minutes := int(d.Minutes())
		if minutes == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", minutes)
	}
	return d.String()
}
