package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/openctemio/membership/internal/app"
	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var (
	version string

	// Global flags
	flagOrg     string
	flagAs      string
	flagSystem  string
	flagOutput  string
	flagVerbose bool
)

var rootCmd = &cobra.Command{
	Use:   "membership-admin",
	Short: "Organization membership administration CLI",
	Long: `membership-admin manages organization memberships directly against
the membership database.

Commands run as a member of the organization (--as USER_ID) and are subject
to that member's permissions, or as a system actor (--system scim) that
bypasses interactive permission checks. Configuration is read from the
environment, the same as the worker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch flagOutput {
		case outputTable, outputJSON, outputYAML:
			return nil
		default:
			return fmt.Errorf("unknown output format %q", flagOutput)
		}
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the CLI version from build flags.
func SetVersion(v string) {
	version = v
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagOrg, "org", "", "Organization ID")
	rootCmd.PersistentFlags().StringVar(&flagAs, "as", "", "Act as this user ID (must be a confirmed member)")
	rootCmd.PersistentFlags().StringVar(&flagSystem, "system", "", "Act as a system user: scim, domain_verification, public_api, directory_sync")
	rootCmd.PersistentFlags().StringVarP(&flagOutput, "output", "o", "table", "Output format: table, json, yaml")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable verbose logging")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(inviteCmd)
	rootCmd.AddCommand(revokeCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(membersCmd)
	rootCmd.AddCommand(seatsCmd)
	rootCmd.AddCommand(migrateCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show CLI version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("membership-admin version %s\n", version)
		fmt.Printf("  Go:       %s\n", runtime.Version())
		fmt.Printf("  OS/Arch:  %s/%s\n", runtime.GOOS, runtime.GOARCH)
	},
}

func orgID() (shared.ID, error) {
	if flagOrg == "" {
		return shared.ID{}, fmt.Errorf("--org is required")
	}
	id, err := shared.IDFromString(flagOrg)
	if err != nil {
		return shared.ID{}, fmt.Errorf("invalid --org: %w", err)
	}
	return id, nil
}

func parseIDs(values []string) ([]shared.ID, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("at least one membership ID is required")
	}
	ids, err := shared.IDsFromStrings(values)
	if err != nil {
		return nil, fmt.Errorf("invalid membership ID: %w", err)
	}
	return ids, nil
}

// resolveActor turns --as or --system into an actor for orgID.
func resolveActor(ctx context.Context, d *deps, orgID shared.ID) (app.Actor, error) {
	switch {
	case flagAs != "" && flagSystem != "":
		return app.Actor{}, fmt.Errorf("--as and --system are mutually exclusive")
	case flagSystem != "":
		system := organization.SystemUser(flagSystem)
		if !system.IsValid() {
			return app.Actor{}, fmt.Errorf("unknown system user %q", flagSystem)
		}
		return app.SystemActor(system), nil
	case flagAs != "":
		userID, err := shared.IDFromString(flagAs)
		if err != nil {
			return app.Actor{}, fmt.Errorf("invalid --as: %w", err)
		}
		return app.ResolveActor(ctx, d.memberships, orgID, userID)
	default:
		return app.Actor{}, fmt.Errorf("one of --as or --system is required")
	}
}
