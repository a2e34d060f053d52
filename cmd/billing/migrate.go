package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/egglogu/billing/migrations"
	"github.com/egglogu/billing/pkg/config"
	"github.com/egglogu/billing/pkg/pg"
)

func newMigrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			var (
				appCfg appConfig
				db     pg.Config
			)
			if err := errors.Join(config.Load(&appCfg), config.Load(&db)); err != nil {
				return err
			}
			log := newLogger(appCfg)

			pool, err := pg.Connect(cmd.Context(), db)
			if err != nil {
				return err
			}
			defer pool.Close()

			return pg.Migrate(cmd.Context(), pool, migrations.FS, ".", db, log)
		},
	}
}
