package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openctemio/membership/pkg/domain/organization"
	"github.com/openctemio/membership/pkg/domain/shared"
)

var (
	flagSeatsBy    int
	flagSeatsMax   int
	flagSeatsNoMax bool
)

var seatsCmd = &cobra.Command{
	Use:   "seats",
	Short: "Inspect and adjust organization seats",
}

var seatsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show purchased and occupied seats",
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := orgID()
		if err != nil {
			return err
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			org, err := d.orgs.GetByID(ctx, orgID)
			if err != nil {
				return err
			}
			occupied, err := d.memberships.CountOccupiedSeats(ctx, orgID)
			if err != nil {
				return err
			}
			printSeats(org, &occupied)
			return nil
		})
	},
}

var seatsAdjustCmd = &cobra.Command{
	Use:   "adjust",
	Short: "Change purchased seats and the autoscale ceiling",
	Long: `Change the purchased password manager seats by --by and set the
autoscale ceiling with --max. --no-max removes the ceiling; without --max or
--no-max the current ceiling is kept.`,
	Example: `  membership-admin seats adjust --org ORG --by 5 --max 40
  membership-admin seats adjust --org ORG --no-max`,
	RunE: func(cmd *cobra.Command, args []string) error {
		orgID, err := orgID()
		if err != nil {
			return err
		}
		maxSet := cmd.Flags().Changed("max")
		if maxSet && flagSeatsNoMax {
			return fmt.Errorf("--max and --no-max are mutually exclusive")
		}
		return withDeps(cmd.Context(), func(ctx context.Context, d *deps) error {
			var maxSeats *int
			switch {
			case maxSet:
				maxSeats = &flagSeatsMax
			case !flagSeatsNoMax:
				org, err := d.orgs.GetByID(ctx, orgID)
				if err != nil {
					return err
				}
				maxSeats = org.MaxAutoscaleSeats()
			}
			org, err := d.autoscaler.AdjustSeats(ctx, orgID, flagSeatsBy, maxSeats)
			if err != nil {
				return fmt.Errorf("adjust seats: %s", shared.Message(err))
			}
			printSeats(org, nil)
			return nil
		})
	},
}

func init() {
	seatsAdjustCmd.Flags().IntVar(&flagSeatsBy, "by", 0, "Seats to add (negative to remove)")
	seatsAdjustCmd.Flags().IntVar(&flagSeatsMax, "max", 0, "Autoscale ceiling")
	seatsAdjustCmd.Flags().BoolVar(&flagSeatsNoMax, "no-max", false, "Remove the autoscale ceiling")

	seatsCmd.AddCommand(seatsShowCmd)
	seatsCmd.AddCommand(seatsAdjustCmd)
}

type seatsSummary struct {
	Organization   string `json:"organization" yaml:"organization"`
	Plan           string `json:"plan" yaml:"plan"`
	Seats          *int   `json:"seats" yaml:"seats"`
	MaxAutoscale   *int   `json:"max_autoscale_seats" yaml:"max_autoscale_seats"`
	SmSeats        *int   `json:"sm_seats,omitempty" yaml:"sm_seats,omitempty"`
	MaxAutoscaleSm *int   `json:"max_autoscale_sm_seats,omitempty" yaml:"max_autoscale_sm_seats,omitempty"`
	Occupied       *int   `json:"occupied,omitempty" yaml:"occupied,omitempty"`
	OccupiedSm     *int   `json:"occupied_sm,omitempty" yaml:"occupied_sm,omitempty"`
}

func printSeats(org *organization.Organization, occupied *organization.OccupiedSeats) {
	s := seatsSummary{
		Organization:   org.Name(),
		Plan:           string(org.PlanType()),
		Seats:          org.Seats(),
		MaxAutoscale:   org.MaxAutoscaleSeats(),
		SmSeats:        org.SmSeats(),
		MaxAutoscaleSm: org.MaxAutoscaleSmSeats(),
	}
	if occupied != nil {
		s.Occupied = &occupied.PasswordManager
		s.OccupiedSm = &occupied.SecretsManager
	}
	if printStructured(s) {
		return
	}

	fmt.Printf("Organization:  %s (%s)\n", s.Organization, s.Plan)
	fmt.Printf("Seats:         %s (autoscale max %s)\n", ptrInt(s.Seats), ptrInt(s.MaxAutoscale))
	if org.UseSecretsManager() {
		fmt.Printf("SM seats:      %s (autoscale max %s)\n", ptrInt(s.SmSeats), ptrInt(s.MaxAutoscaleSm))
	}
	if occupied != nil {
		fmt.Printf("Occupied:      %d password manager, %d secrets manager\n", occupied.PasswordManager, occupied.SecretsManager)
	}
}
