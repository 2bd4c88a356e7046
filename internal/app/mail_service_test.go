package app_test

import (
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
	"github.com/openctemio/membership/pkg/email"
	"github.com/openctemio/membership/pkg/logger"
)

type sentTemplate struct {
	to   []string
	tmpl email.Template
	data any
}

type fakeSender struct {
	configured bool
	sent       []sentTemplate
	// failFor fails deliveries to this address.
	failFor string
}

func (s *fakeSender) Send(context.Context, *email.Message) error { return nil }

func (s *fakeSender) SendTemplate(_ context.Context, to []string, tmpl email.Template, data any) error {
	if s.failFor != "" && len(to) == 1 && to[0] == s.failFor {
		return errBoom
	}
	s.sent = append(s.sent, sentTemplate{to: to, tmpl: tmpl, data: data})
	return nil
}

func (s *fakeSender) IsConfigured() bool { return s.configured }

func inviteBatch(emails ...string) organization.InviteEmailBatch {
	b := organization.InviteEmailBatch{OrganizationID: shared.NewID(), OrganizationName: "Acme & Co", IsFreeOrg: true}
	for _, e := range emails {
		b.Invites = append(b.Invites, organization.InviteToken{
			MembershipID: shared.NewID(),
			Email:        e,
			Token:        "tok-" + e,
			ExpiresAt:    time.Now().Add(5*24*time.Hour + time.Minute),
		})
	}
	return b
}

func TestMailService_SendInviteEmails(t *testing.T) {
	sender := &fakeSender{configured: true}
	svc := app.NewMailService(sender, "https://vault.example.com", "Vault", logger.NewNop())
	batch := inviteBatch("a@example.com", "b@example.com")

	require.NoError(t, svc.SendInviteEmails(context.Background(), batch))
	require.Len(t, sender.sent, 2)

	first := sender.sent[0]
	assert.Equal(t, []string{"a@example.com"}, first.to)
	assert.Equal(t, email.TemplateOrganizationInvite, first.tmpl)

	data, ok := first.data.(email.OrganizationInviteData)
	require.True(t, ok)
	assert.Equal(t, "Acme & Co", data.OrganizationName)
	assert.Equal(t, "5 days", data.ExpiresIn)
	assert.True(t, data.IsFreeOrg)
	assert.Equal(t, "Vault", data.AppName)

	require.True(t, strings.HasPrefix(data.AcceptURL, "https://vault.example.com/accept-organization?"))
	u, err := url.Parse(data.AcceptURL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, batch.OrganizationID.String(), q.Get("organizationId"))
	assert.Equal(t, batch.Invites[0].MembershipID.String(), q.Get("organizationUserId"))
	assert.Equal(t, "Acme & Co", q.Get("organizationName"))
	assert.Equal(t, "a@example.com", q.Get("email"))
	assert.Equal(t, "tok-a@example.com", q.Get("token"))
}

func TestMailService_SendInviteEmails_JoinsFailures(t *testing.T) {
	sender := &fakeSender{configured: true, failFor: "a@example.com"}
	svc := app.NewMailService(sender, "https://vault.example.com", "Vault", logger.NewNop())

	err := svc.SendInviteEmails(context.Background(), inviteBatch("a@example.com", "b@example.com"))
	require.ErrorIs(t, err, errBoom)
	assert.Len(t, sender.sent, 1, "later invites are still attempted")
}

func TestMailService_NotConfigured(t *testing.T) {
	sender := &fakeSender{}
	svc := app.NewMailService(sender, "https://vault.example.com", "Vault", logger.NewNop())

	assert.False(t, svc.IsConfigured())
	assert.NoError(t, svc.SendInviteEmails(context.Background(), inviteBatch("a@example.com")))
	assert.NoError(t, svc.SendSeatNotice(context.Background(), organization.SeatNotice{
		Kind: organization.SeatNoticeAutoscaled, Recipients: []string{"o@example.com"},
	}))
	assert.Empty(t, sender.sent)

	assert.False(t, app.NewMailService(nil, "", "", logger.NewNop()).IsConfigured())
}

func TestMailService_SendSeatNotice(t *testing.T) {
	orgID := shared.NewID()
	tests := []struct {
		name   string
		notice organization.SeatNotice
		tmpl   email.Template
		check  func(t *testing.T, data any)
	}{
		{
			name: "autoscaled",
			notice: organization.SeatNotice{
				Kind: organization.SeatNoticeAutoscaled, OrganizationID: orgID, OrganizationName: "Acme",
				Recipients: []string{"o@example.com"}, PreviousSeats: 3, Seats: 5,
			},
			tmpl: email.TemplateSeatsAutoscaled,
			check: func(t *testing.T, data any) {
				d, ok := data.(email.SeatsAutoscaledData)
				require.True(t, ok)
				assert.Equal(t, 3, d.PreviousSeats)
				assert.Equal(t, 5, d.Seats)
				assert.Equal(t, "https://vault.example.com/organizations/"+orgID.String()+"/billing/subscription", d.BillingURL)
			},
		},
		{
			name: "max seats reached",
			notice: organization.SeatNotice{
				Kind: organization.SeatNoticeMaxSeatsReached, OrganizationID: orgID, OrganizationName: "Acme",
				Recipients: []string{"o@example.com", "p@example.com"}, MaxSeats: intPtr(8),
			},
			tmpl: email.TemplateMaxSeatsReached,
			check: func(t *testing.T, data any) {
				d, ok := data.(email.MaxSeatsReachedData)
				require.True(t, ok)
				assert.Equal(t, 8, d.MaxSeats)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &fakeSender{configured: true}
			svc := app.NewMailService(sender, "https://vault.example.com", "Vault", logger.NewNop())

			require.NoError(t, svc.SendSeatNotice(context.Background(), tt.notice))
			require.Len(t, sender.sent, 1)
			assert.Equal(t, tt.notice.Recipients, sender.sent[0].to)
			assert.Equal(t, tt.tmpl, sender.sent[0].tmpl)
			tt.check(t, sender.sent[0].data)
		})
	}

	t.Run("unknown kind", func(t *testing.T) {
		svc := app.NewMailService(&fakeSender{configured: true}, "", "", logger.NewNop())
		err := svc.SendSeatNotice(context.Background(), organization.SeatNotice{Kind: "other", Recipients: []string{"o@example.com"}})
		assert.Error(t, err)
	})
}
