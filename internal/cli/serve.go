package cli

import (
	"github.com/spf13/cobra"

	"github.com/koustreak/pgextract/internal/database/postgres"
	"github.com/koustreak/pgextract/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve extraction, type and lineage endpoints over HTTP",
		Example: `  pgextract serve --addr :8080 --dsn postgres://localhost/shop
  curl -X POST localhost:8080/v1/extract -d '{"schemas":["public"]}'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if addr != "" {
				a.cfg.Server.Addr = addr
			}

			db, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer db.Close()

			database, err := postgres.DatabaseName(a.cfg.Database.DSN)
			if err != nil {
				return err
			}
			snaps, closeStore, err := a.snapshots(ctx)
			if err != nil {
				return err
			}
			defer closeStore()

			srv := server.New(&a.cfg.Server, server.Deps{
				DB:        db,
				Snapshots: snaps,
				Database:  database,
				Defaults:  a.cfg.Extract,
				Logger:    a.log,
			})
			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config, :8080)")
	return cmd
}
