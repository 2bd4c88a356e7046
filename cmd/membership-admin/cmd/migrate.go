package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/membership/pkg/migrations"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the membership database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, done, err := openRunner()
		if err != nil {
			return err
		}
		defer done()

		applied, err := runner.Up(cmd.Context())
		if err != nil {
			return err
		}
		if len(applied) == 0 {
			fmt.Println("Schema is up to date.")
			return nil
		}
		for _, m := range applied {
			fmt.Printf("applied  %s\n", m)
		}
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the last applied migration",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, done, err := openRunner()
		if err != nil {
			return err
		}
		defer done()

		m, err := runner.Down(cmd.Context())
		if err != nil {
			return err
		}
		if m == nil {
			fmt.Println("Nothing to roll back.")
			return nil
		}
		fmt.Printf("rolled back  %s\n", m)
		return nil
	},
}

var migrateStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show applied and pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		runner, done, err := openRunner()
		if err != nil {
			return err
		}
		defer done()

		statuses, err := runner.Status(cmd.Context())
		if err != nil {
			return err
		}

		type statusView struct {
			Version   string `json:"version" yaml:"version"`
			Name      string `json:"name" yaml:"name"`
			Applied   bool   `json:"applied" yaml:"applied"`
			AppliedAt string `json:"applied_at,omitempty" yaml:"applied_at,omitempty"`
		}
		views := make([]statusView, len(statuses))
		for i, st := range statuses {
			views[i] = statusView{Version: st.Version, Name: st.Name, Applied: st.Applied}
			if st.AppliedAt != nil {
				views[i].AppliedAt = shortTime(*st.AppliedAt)
			}
		}
		if printStructured(views) {
			return nil
		}
		t := newTable("VERSION", "NAME", "STATE", "APPLIED AT")
		for _, v := range views {
			state := "pending"
			if v.Applied {
				state = "applied"
			}
			t.AddRow(v.Version, v.Name, state, orDash(v.AppliedAt))
		}
		t.Flush()
		return nil
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
	migrateCmd.AddCommand(migrateStatusCmd)
}

func openRunner() (*migrations.Runner, func(), error) {
	_, log, db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	runner := migrations.NewRunner(db.DB, migrations.Files(), log)
	return runner, func() { closeWithLog(db, "database", log) }, nil
}
