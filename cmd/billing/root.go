package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func NewRootCommand(version, commit, date string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "billing",
		Short: "Subscription billing service",
		Long: `billing runs the subscription billing API: Stripe checkout and portal
links, webhook reconciliation, soft-landing discounts and plan gating.

Configuration is read from the environment and an optional .env file.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
	}

	rootCmd.AddCommand(
		newServeCommand(),
		newMigrateCommand(),
		newCatalogCommand(),
		newTrialCommand(),
	)

	return rootCmd
}
