// Package email renders and delivers membership emails over SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"
)

var (
	// ErrNotConfigured is returned when SMTP is not configured.
	ErrNotConfigured = errors.New("email: SMTP not configured")
	// ErrInvalidRecipient is returned when a message has no recipient.
	ErrInvalidRecipient = errors.New("email: invalid recipient email")
	// ErrSendFailed is returned when email sending fails.
	ErrSendFailed = errors.New("email: failed to send email")
)

// Config holds SMTP configuration.
type Config struct {
	Host       string
	Port       int
	User       string
	Password   string
	From       string
	FromName   string
	TLS        bool
	SkipVerify bool
	Timeout    time.Duration
}

// Message is a rendered email.
type Message struct {
	To      []string
	Subject string
	Body    string
	IsHTML  bool
	// Bcc recipients receive the message without being listed in the headers.
	Bcc     []string
	Headers map[string]string
}

func (m *Message) recipients() []string {
	out := make([]string, 0, len(m.To)+len(m.Bcc))
	out = append(out, m.To...)
	return append(out, m.Bcc...)
}

// Sender delivers messages and templates.
type Sender interface {
	Send(ctx context.Context, msg *Message) error
	SendTemplate(ctx context.Context, to []string, tmpl Template, data any) error
	IsConfigured() bool
}

// SMTPSender implements Sender using SMTP.
type SMTPSender struct {
	config    Config
	templates *TemplateEngine
}

// NewSMTPSender creates a new SMTP sender.
func NewSMTPSender(cfg Config) *SMTPSender {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &SMTPSender{
		config:    cfg,
		templates: NewTemplateEngine(),
	}
}

// IsConfigured returns true if SMTP is properly configured.
func (s *SMTPSender) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port > 0 && s.config.From != ""
}

// Send delivers a message in one SMTP transaction.
func (s *SMTPSender) Send(ctx context.Context, msg *Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.recipients()) == 0 {
		return ErrInvalidRecipient
	}

	if err := s.sendSMTP(ctx, msg.recipients(), s.buildMessage(msg)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// SendTemplate renders tmpl and sends it to every recipient.
func (s *SMTPSender) SendTemplate(ctx context.Context, to []string, tmpl Template, data any) error {
	if len(to) == 0 {
		return ErrInvalidRecipient
	}
	subject, body, err := s.templates.Render(tmpl, data)
	if err != nil {
		return fmt.Errorf("email: failed to render template: %w", err)
	}
	return s.Send(ctx, &Message{
		To:      to,
		Subject: subject,
		Body:    body,
		IsHTML:  true,
	})
}

func (s *SMTPSender) buildMessage(msg *Message) []byte {
	var b strings.Builder

	if s.config.FromName != "" {
		fmt.Fprintf(&b, "From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	} else {
		fmt.Fprintf(&b, "From: %s\r\n", s.config.From)
	}
	if len(msg.To) > 0 {
		fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	for key, value := range msg.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}

	b.WriteString("MIME-Version: 1.0\r\n")
	if msg.IsHTML {
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(msg.Body)

	return []byte(b.String())
}

func (s *SMTPSender) sendSMTP(ctx context.Context, to []string, content []byte) error {
	addr := net.JoinHostPort(s.config.Host, fmt.Sprint(s.config.Port))

	dialer := &net.Dialer{Timeout: s.config.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, s.config.Host)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}
	defer client.Close()

	if s.config.TLS {
		tlsConfig := &tls.Config{
			ServerName:         s.config.Host,
			InsecureSkipVerify: s.config.SkipVerify, //nolint:gosec // opt-in for local relays
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}

	if s.config.User != "" && s.config.Password != "" {
		auth := smtp.PlainAuth("", s.config.User, s.config.Password, s.config.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("authentication failed: %w", err)
		}
	}

	if err := client.Mail(s.config.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, recipient := range to {
		if err := client.Rcpt(recipient); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", recipient, err)
		}
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := writer.Write(content); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return client.Quit()
}

// NoOpSender drops every message. Used when SMTP is not configured.
type NoOpSender struct{}

// NewNoOpSender creates a new no-op sender.
func NewNoOpSender() *NoOpSender {
	return &NoOpSender{}
}

// IsConfigured always returns true for the no-op sender.
func (s *NoOpSender) IsConfigured() bool { return true }

// Send does nothing.
func (s *NoOpSender) Send(_ context.Context, _ *Message) error { return nil }

// SendTemplate does nothing.
func (s *NoOpSender) SendTemplate(_ context.Context, _ []string, _ Template, _ any) error {
	return nil
}

// Logger is the logging surface LoggingSender needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
}

// LoggingSender wraps a sender and logs every delivery.
type LoggingSender struct {
	sender Sender
	logger Logger
}

// NewLoggingSender creates a new logging sender.
func NewLoggingSender(sender Sender, logger Logger) *LoggingSender {
	return &LoggingSender{sender: sender, logger: logger}
}

// IsConfigured returns true if the underlying sender is configured.
func (s *LoggingSender) IsConfigured() bool {
	return s.sender.IsConfigured()
}

// Send logs and sends the message.
func (s *LoggingSender) Send(ctx context.Context, msg *Message) error {
	err := s.sender.Send(ctx, msg)
	if err != nil {
		s.logger.Warn("email send failed", "recipients", len(msg.recipients()), "error", err)
		return err
	}
	s.logger.Info("email sent", "recipients", len(msg.recipients()), "subject", msg.Subject)
	return nil
}

// SendTemplate logs and sends a templated email.
func (s *LoggingSender) SendTemplate(ctx context.Context, to []string, tmpl Template, data any) error {
	err := s.sender.SendTemplate(ctx, to, tmpl, data)
	if err != nil {
		s.logger.Warn("templated email send failed", "recipients", len(to), "template", tmpl, "error", err)
		return err
	}
	s.logger.Info("templated email sent", "recipients", len(to), "template", tmpl)
	return nil
}
