package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/egglogu/billing/migrations"
	"github.com/egglogu/billing/pkg/httpserver"
	"github.com/egglogu/billing/pkg/logger"
	"github.com/egglogu/billing/pkg/pg"
)

func newServeCommand() *cobra.Command {
	var migrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the task worker and the scheduled sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), migrate)
		},
	}
	cmd.Flags().BoolVar(&migrate, "migrate", false, "apply pending database migrations before starting")

	return cmd
}

func runServe(ctx context.Context, migrate bool) error {
	cfg, err := loadSettings()
	if err != nil {
		return err
	}
	log := newLogger(cfg.app)
	logger.SetAsDefault(log)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if migrate {
		if err := pg.Migrate(ctx, a.pool, migrations.FS, ".", cfg.pg, log); err != nil {
			return err
		}
	}

	worker, err := a.worker()
	if err != nil {
		return err
	}
	sched, err := a.scheduler()
	if err != nil {
		return err
	}
	srv := httpserver.NewFromConfig(cfg.http, httpserver.WithLogger(log))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, a.routes())
	})
	g.Go(worker.Run(ctx))
	g.Go(func() error {
		sched.Start()
		<-ctx.Done()
		<-sched.Stop().Done()
		return nil
	})

	log.InfoContext(ctx, "billing service started", "addr", cfg.http.Addr)
	err = g.Wait()
	log.Info("billing service stopped")
	return err
}
