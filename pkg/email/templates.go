package email

import (
	"bytes"
	"fmt"
	"html/template"
)

// Template names a predefined email.
type Template string

const (
	// TemplateOrganizationInvite invites one email address to an organization.
	TemplateOrganizationInvite Template = "organization_invite"
	// TemplateSeatsAutoscaled tells owners that seats were added automatically.
	TemplateSeatsAutoscaled Template = "seats_autoscaled"
	// TemplateMaxSeatsReached tells owners that the autoscale ceiling was hit.
	TemplateMaxSeatsReached Template = "max_seats_reached"
)

// OrganizationInviteData holds data for the invite template.
type OrganizationInviteData struct {
	OrganizationName string
	Email            string
	AcceptURL        string
	ExpiresIn        string
	IsFreeOrg        bool
	AppName          string
}

// SeatsAutoscaledData holds data for the autoscale notice.
type SeatsAutoscaledData struct {
	OrganizationName string
	PreviousSeats    int
	Seats            int
	BillingURL       string
	AppName          string
}

// MaxSeatsReachedData holds data for the ceiling notice.
type MaxSeatsReachedData struct {
	OrganizationName string
	MaxSeats         int
	BillingURL       string
	AppName          string
}

// TemplateEngine renders the predefined templates.
type TemplateEngine struct {
	templates map[Template]*templateDef
}

type templateDef struct {
	subjectTmpl *template.Template
	bodyTmpl    *template.Template
}

// NewTemplateEngine creates a template engine with every predefined template parsed.
func NewTemplateEngine() *TemplateEngine {
	return &TemplateEngine{
		templates: map[Template]*templateDef{
			TemplateOrganizationInvite: mustDef("organization_invite", "Join {{.OrganizationName}}", organizationInviteTemplate),
			TemplateSeatsAutoscaled:    mustDef("seats_autoscaled", "{{.OrganizationName}} seat count has increased", seatsAutoscaledTemplate),
			TemplateMaxSeatsReached:    mustDef("max_seats_reached", "{{.OrganizationName}} seat limit has been reached", maxSeatsReachedTemplate),
		},
	}
}

func mustDef(name, subject, body string) *templateDef {
	return &templateDef{
		subjectTmpl: template.Must(template.New(name + "_subject").Parse(subject)),
		bodyTmpl:    template.Must(template.New(name).Parse(layoutTemplate + body)),
	}
}

// Render renders a template with the given data.
func (e *TemplateEngine) Render(tmpl Template, data any) (subject string, body string, err error) {
	def, ok := e.templates[tmpl]
	if !ok {
		return "", "", fmt.Errorf("template %s not found", tmpl)
	}

	var subjectBuf bytes.Buffer
	if err := def.subjectTmpl.Execute(&subjectBuf, data); err != nil {
		return "", "", fmt.Errorf("failed to execute subject template: %w", err)
	}
	var bodyBuf bytes.Buffer
	if err := def.bodyTmpl.ExecuteTemplate(&bodyBuf, "layout", data); err != nil {
		return "", "", fmt.Errorf("failed to execute body template: %w", err)
	}
	return subjectBuf.String(), bodyBuf.String(), nil
}

const layoutTemplate = `{{define "layout"}}<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
</head>
<body style="font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px;">
  <div style="background: #f8f9fa; border-radius: 8px; padding: 30px;">
    {{template "content" .}}
  </div>
  <p style="color: #999; font-size: 12px; text-align: center; margin-top: 20px;">{{.AppName}}</p>
</body>
</html>{{end}}`

const organizationInviteTemplate = `{{define "content"}}
    <h2 style="margin-top: 0;">Join {{.OrganizationName}}</h2>
    <p>You have been invited to join the <strong>{{.OrganizationName}}</strong> organization.</p>
    <p style="text-align: center; margin: 30px 0;">
      <a href="{{.AcceptURL}}" style="background: #175ddc; color: white; padding: 12px 30px; text-decoration: none; border-radius: 5px; display: inline-block;">Join Organization Now</a>
    </p>
    <p style="color: #666; font-size: 14px;">This invitation was sent to {{.Email}} and expires in {{.ExpiresIn}}.</p>
    {{if .IsFreeOrg}}<p style="color: #666; font-size: 14px;">Free organizations may have up to two members.</p>{{end}}
{{end}}`

const seatsAutoscaledTemplate = `{{define "content"}}
    <h2 style="margin-top: 0;">Your seat count has increased</h2>
    <p>New members joined <strong>{{.OrganizationName}}</strong>, so its seat count was increased from {{.PreviousSeats}} to {{.Seats}}.</p>
    <p>You can set a maximum seat count on the <a href="{{.BillingURL}}">subscription page</a>.</p>
{{end}}`

const maxSeatsReachedTemplate = `{{define "content"}}
    <h2 style="margin-top: 0;">Seat limit reached</h2>
    <p><strong>{{.OrganizationName}}</strong> has reached its limit of {{.MaxSeats}} seats. New members cannot be invited until the limit is raised.</p>
    <p>You can change the limit on the <a href="{{.BillingURL}}">subscription page</a>.</p>
{{end}}`
