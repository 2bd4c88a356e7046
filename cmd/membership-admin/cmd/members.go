package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var (
	flagListRole   string
	flagListStatus string
	flagConfirmKey string
)

var membersCmd = &cobra.Command{
	Use:     "members",
	Aliases: []string{"member"},
	Short:   "Inspect and manage organization members",
}

var membersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the memberships of an organization",
	Example: `  membership-admin members list --org ORG
  membership-admin members list --org ORG --status revoked -o json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := orgID()
		if err != nil {
			return err
		}
		filter, err := listFilter()
		if err != nil {
			return err
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			members, err := d.memberships.ListByOrganization(ctx, orgID, filter)
			if err != nil {
				return err
			}
			printMembers(members)
			return nil
		})
	},
}

var membersEventsCmd = &cobra.Command{
	Use:   "events MEMBERSHIP_ID",
	Short: "Show the event history of a membership",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := shared.IDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid membership ID: %w", err)
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			events, err := d.events.ListMembershipEvents(ctx, id)
			if err != nil {
				return err
			}
			printEvents(events)
			return nil
		})
	},
}

var membersConfirmCmd = &cobra.Command{
	Use:   "confirm MEMBERSHIP_ID",
	Short: "Confirm an accepted membership with its wrapped organization key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := orgID()
		if err != nil {
			return err
		}
		id, err := shared.IDFromString(args[0])
		if err != nil {
			return fmt.Errorf("invalid membership ID: %w", err)
		}
		if flagConfirmKey == "" {
			return fmt.Errorf("--key is required")
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			actor, err := resolveActor(ctx, d, orgID)
			if err != nil {
				return err
			}
			m, err := d.members.Confirm(ctx, orgID, id, flagConfirmKey, actor)
			if err != nil {
				return fmt.Errorf("confirm: %s", shared.Message(err))
			}
			printMembers([]*organization.Membership{m})
			return nil
		})
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke MEMBERSHIP_ID...",
	Short: "Revoke memberships",
	Long: `Revoke one or more memberships. Each membership is handled on its own:
a failure is reported next to its ID and does not stop the others.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), args, func(ctx context.Context, d *deps, orgID shared.ID, ids []shared.ID, actor app.Actor) ([]app.BatchResult, error) {
			return d.members.RevokeMany(ctx, orgID, ids, actor)
		})
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore MEMBERSHIP_ID...",
	Short: "Restore revoked memberships",
	Long: `Restore one or more revoked memberships. Restored members must satisfy
the organization's policies, and seats are autoscaled for the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd.Context(), args, func(ctx context.Context, d *deps, orgID shared.ID, ids []shared.ID, actor app.Actor) ([]app.BatchResult, error) {
			return d.members.RestoreMany(ctx, orgID, ids, actor)
		})
	},
}

type batchFunc func(ctx context.Context, d *deps, orgID shared.ID, ids []shared.ID, actor app.Actor) ([]app.BatchResult, error)

func runBatch(ctx context.Context, args []string, fn batchFunc) error {
	orgID, err := orgID()
	if err != nil {
		return err
	}
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	return withDeps(ctx, func(ctx context.Context, d *deps) error {
		actor, err := resolveActor(ctx, d, orgID)
		if err != nil {
			return err
		}
		results, err := fn(ctx, d, orgID, ids, actor)
		if err != nil {
			return fmt.Errorf("%s", shared.Message(err))
		}
		printBatch(results)
		for _, r := range results {
			if !r.Succeeded() {
				return fmt.Errorf("some memberships failed")
			}
		}
		return nil
	})
}

func init() {
	membersListCmd.Flags().StringVar(&flagListRole, "role", "", "Filter by role")
	membersListCmd.Flags().StringVar(&flagListStatus, "status", "", "Filter by status: invited, accepted, confirmed, revoked")
	membersConfirmCmd.Flags().StringVar(&flagConfirmKey, "key", "", "Organization key encrypted for the member")

	membersCmd.AddCommand(membersListCmd)
	membersCmd.AddCommand(membersEventsCmd)
	membersCmd.AddCommand(membersConfirmCmd)
}

func listFilter() (organization.MembershipFilter, error) {
	var filter organization.MembershipFilter
	if flagListRole != "" {
		role, ok := organization.ParseRole(flagListRole)
		if !ok {
			return filter, fmt.Errorf("unknown role %q", flagListRole)
		}
		filter.Role = &role
	}
	if flagListStatus != "" {
		status, ok := organization.ParseStatus(flagListStatus)
		if !ok {
			return filter, fmt.Errorf("unknown status %q", flagListStatus)
		}
		filter.Status = &status
	}
	return filter, nil
}

type eventView struct {
	Type       string `json:"type" yaml:"type"`
	Actor      string `json:"actor" yaml:"actor"`
	OccurredAt string `json:"occurred_at" yaml:"occurred_at"`
}

func printEvents(events []organization.MembershipEvent) {
	views := make([]eventView, len(events))
	for i, e := range events {
		actor := e.SystemUser.String()
		if e.ActingUserID != nil {
			actor = e.ActingUserID.String()
		}
		views[i] = eventView{Type: string(e.Type), Actor: actor, OccurredAt: shortTime(e.OccurredAt)}
	}
	if printStructured(views) {
		return
	}
	if len(views) == 0 {
		fmt.Println("No events found.")
		return
	}
	t := newTable("OCCURRED", "TYPE", "ACTOR")
	for _, v := range views {
		t.AddRow(v.OccurredAt, v.Type, orDash(v.Actor))
	}
	t.Flush()
}
