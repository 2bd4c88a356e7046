package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var (
	flagInviteEmails     []string
	flagInviteRole       string
	flagInviteSM         bool
	flagInviteExternalID string
	flagInviteFile       string
)

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Invite users to an organization",
	Long: `Invite one or more email addresses to an organization.

Invites are given with flags for a single group, or read from a YAML file
holding several groups:

  invites:
    - emails: [alice@example.com, bob@example.com]
      role: user
    - emails: [carol@example.com]
      role: custom
      access_secrets_manager: true
      permissions:
        manageUsers: true

Seats are autoscaled when the organization allows it. Invite emails are
queued for the worker.`,
	Example: `  membership-admin invite --org ORG --as USER --email alice@example.com --role admin
  membership-admin invite --org ORG --system scim -f invites.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := orgID()
		if err != nil {
			return err
		}
		invites, err := inviteRequests()
		if err != nil {
			return err
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			actor, err := resolveActor(ctx, d, orgID)
			if err != nil {
				return err
			}
			result, err := d.invitations.InviteMany(ctx, orgID, actor, invites)
			if err != nil {
				return fmt.Errorf("invite: %s", shared.Message(err))
			}
			printInviteResult(result)
			return nil
		})
	},
}

func init() {
	inviteCmd.Flags().StringSliceVar(&flagInviteEmails, "email", nil, "Email to invite (repeatable)")
	inviteCmd.Flags().StringVar(&flagInviteRole, "role", string(organization.RoleUser), "Role: owner, admin, custom, user")
	inviteCmd.Flags().BoolVar(&flagInviteSM, "secrets-manager", false, "Grant Secrets Manager access")
	inviteCmd.Flags().StringVar(&flagInviteExternalID, "external-id", "", "External identifier from a directory")
	inviteCmd.Flags().StringVarP(&flagInviteFile, "file", "f", "", "YAML file of invite groups")
}

func inviteRequests() ([]organization.InviteRequest, error) {
	if flagInviteFile != "" {
		if len(flagInviteEmails) > 0 {
			return nil, fmt.Errorf("--email and --file are mutually exclusive")
		}
		data, err := os.ReadFile(flagInviteFile)
		if err != nil {
			return nil, fmt.Errorf("read invite file: %w", err)
		}
		return parseInviteFile(data)
	}
	if len(flagInviteEmails) == 0 {
		return nil, fmt.Errorf("--email or --file is required")
	}
	role, ok := organization.ParseRole(flagInviteRole)
	if !ok {
		return nil, fmt.Errorf("unknown role %q", flagInviteRole)
	}
	return []organization.InviteRequest{{
		Emails:               flagInviteEmails,
		Role:                 role,
		AccessSecretsManager: flagInviteSM,
		ExternalID:           flagInviteExternalID,
	}}, nil
}

// parseInviteFile decodes the YAML document and maps it onto the request
// type through its JSON field names.
func parseInviteFile(data []byte) ([]organization.InviteRequest, error) {
	var doc struct {
		Invites []map[string]any `yaml:"invites"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse invite file: %w", err)
	}
	if len(doc.Invites) == 0 {
		return nil, fmt.Errorf("invite file has no invites")
	}
	raw, err := json.Marshal(doc.Invites)
	if err != nil {
		return nil, fmt.Errorf("parse invite file: %w", err)
	}
	var invites []organization.InviteRequest
	if err := json.Unmarshal(raw, &invites); err != nil {
		return nil, fmt.Errorf("parse invite file: %w", err)
	}
	return invites, nil
}

type inviteResultView struct {
	Invited []memberView `json:"invited" yaml:"invited"`
	Skipped []string     `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Seats   *seatsView   `json:"seats,omitempty" yaml:"seats,omitempty"`
}

type seatsView struct {
	Added   int  `json:"added" yaml:"added"`
	SmAdded int  `json:"sm_added" yaml:"sm_added"`
	Seats   *int `json:"seats" yaml:"seats"`
	SmSeats *int `json:"sm_seats,omitempty" yaml:"sm_seats,omitempty"`
}

func printInviteResult(result *app.InviteResult) {
	view := inviteResultView{Skipped: result.Skipped}
	for _, m := range result.Memberships {
		view.Invited = append(view.Invited, newMemberView(m))
	}
	if r := result.Reservation; r != nil && !r.Applied.IsZero() {
		view.Seats = &seatsView{
			Added:   r.Applied.PasswordManager,
			SmAdded: r.Applied.SecretsManager,
			Seats:   r.After.Seats,
			SmSeats: r.After.SmSeats,
		}
	}
	if printStructured(view) {
		return
	}

	fmt.Printf("Invited %d member(s).\n", len(view.Invited))
	if len(view.Invited) > 0 {
		t := newTable("ID", "EMAIL", "ROLE", "STATUS")
		for _, v := range view.Invited {
			t.AddRow(v.ID, v.Email, v.Role, v.Status)
		}
		t.Flush()
	}
	for _, email := range view.Skipped {
		fmt.Printf("Skipped %s: already invited or listed twice\n", email)
	}
	if view.Seats != nil {
		fmt.Printf("Seats autoscaled by %d (now %s)\n", view.Seats.Added, ptrInt(view.Seats.Seats))
	}
}
