package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/egglogu/billing/pkg/subscription"
)

func newTrialCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "trial <organization-id>",
		Short: "Start the free trial for a new organization",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orgID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid organization id %q: %w", args[0], err)
			}

			cfg, err := loadSettings()
			if err != nil {
				return err
			}
			log := newLogger(cfg.app)

			a, err := newApp(cmd.Context(), cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			sub, err := a.service.StartTrial(cmd.Context(), orgID)
			if err != nil {
				return err
			}
			printTrial(cmd, sub)
			return nil
		},
	}
}

func printTrial(cmd *cobra.Command, sub *subscription.Subscription) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "organization: %s\n", sub.OrganizationID)
	fmt.Fprintf(out, "plan:         %s\n", sub.Plan)
	fmt.Fprintf(out, "status:       %s\n", sub.Status)
	if sub.TrialEnd != nil {
		fmt.Fprintf(out, "trial ends:   %s\n", sub.TrialEnd.Format("2006-01-02"))
	}
}
