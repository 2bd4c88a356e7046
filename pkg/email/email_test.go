package email

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateEngine_Render(t *testing.T) {
	engine := NewTemplateEngine()

	t.Run("organization invite", func(t *testing.T) {
		subject, body, err := engine.Render(TemplateOrganizationInvite, OrganizationInviteData{
			OrganizationName: "Acme",
			Email:            "bob@example.com",
			AcceptURL:        "https://vault.example.com/accept?token=abc",
			ExpiresIn:        "5 days",
			IsFreeOrg:        true,
			AppName:          "Vault",
		})
		require.NoError(t, err)
		assert.Equal(t, "Join Acme", subject)
		assert.Contains(t, body, "https://vault.example.com/accept?token=abc")
		assert.Contains(t, body, "expires in 5 days")
		assert.Contains(t, body, "Free organizations")
	})

	t.Run("paid organization omits free notice", func(t *testing.T) {
		_, body, err := engine.Render(TemplateOrganizationInvite, OrganizationInviteData{OrganizationName: "Acme"})
		require.NoError(t, err)
		assert.NotContains(t, body, "Free organizations")
	})

	t.Run("escapes organization name", func(t *testing.T) {
		_, body, err := engine.Render(TemplateOrganizationInvite, OrganizationInviteData{OrganizationName: "<script>"})
		require.NoError(t, err)
		assert.NotContains(t, body, "<script>")
	})

	t.Run("seat notices", func(t *testing.T) {
		subject, body, err := engine.Render(TemplateSeatsAutoscaled, SeatsAutoscaledData{OrganizationName: "Acme", PreviousSeats: 10, Seats: 12})
		require.NoError(t, err)
		assert.Equal(t, "Acme seat count has increased", subject)
		assert.Contains(t, body, "from 10 to 12")

		subject, body, err = engine.Render(TemplateMaxSeatsReached, MaxSeatsReachedData{OrganizationName: "Acme", MaxSeats: 20})
		require.NoError(t, err)
		assert.Equal(t, "Acme seat limit has been reached", subject)
		assert.Contains(t, body, "limit of 20 seats")
	})

	t.Run("unknown template", func(t *testing.T) {
		_, _, err := engine.Render(Template("nope"), nil)
		assert.Error(t, err)
	})
}

func TestSMTPSender_NotConfigured(t *testing.T) {
	s := NewSMTPSender(Config{})
	assert.False(t, s.IsConfigured())

	err := s.Send(context.Background(), &Message{To: []string{"a@example.com"}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestSMTPSender_NoRecipients(t *testing.T) {
	s := NewSMTPSender(Config{Host: "localhost", Port: 25, From: "noreply@example.com"})

	assert.ErrorIs(t, s.SendTemplate(context.Background(), nil, TemplateOrganizationInvite, OrganizationInviteData{}), ErrInvalidRecipient)
	assert.ErrorIs(t, s.Send(context.Background(), &Message{}), ErrInvalidRecipient)
}

func TestSMTPSender_BuildMessage(t *testing.T) {
	s := NewSMTPSender(Config{Host: "localhost", Port: 25, From: "noreply@example.com", FromName: "Vault"})

	raw := string(s.buildMessage(&Message{
		To:      []string{"a@example.com"},
		Bcc:     []string{"b@example.com"},
		Subject: "Hello",
		Body:    "<p>hi</p>",
		IsHTML:  true,
	}))

	assert.Contains(t, raw, "From: Vault <noreply@example.com>\r\n")
	assert.Contains(t, raw, "To: a@example.com\r\n")
	assert.NotContains(t, raw, "b@example.com")
	assert.Contains(t, raw, "Content-Type: text/html; charset=UTF-8\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\n<p>hi</p>"))
}

type recordingLogger struct {
	infos []string
	warns []string
}

func (l *recordingLogger) Info(msg string, _ ...any) { l.infos = append(l.infos, msg) }
func (l *recordingLogger) Warn(msg string, _ ...any) { l.warns = append(l.warns, msg) }

type failingSender struct{ NoOpSender }

func (failingSender) SendTemplate(context.Context, []string, Template, any) error {
	return errors.New("boom")
}

func TestLoggingSender(t *testing.T) {
	log := &recordingLogger{}

	ok := NewLoggingSender(NewNoOpSender(), log)
	require.NoError(t, ok.SendTemplate(context.Background(), []string{"a@example.com"}, TemplateOrganizationInvite, nil))
	assert.Equal(t, []string{"templated email sent"}, log.infos)

	failing := NewLoggingSender(&failingSender{}, log)
	assert.Error(t, failing.SendTemplate(context.Background(), []string{"a@example.com"}, TemplateOrganizationInvite, nil))
	assert.Equal(t, []string{"templated email send failed"}, log.warns)
}
