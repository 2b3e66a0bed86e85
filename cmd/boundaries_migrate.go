package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/db"
)

var boundariesMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply boundary schema migrations",
	Long:  "Creates or upgrades the boundary feature tables of the configured sqlite or postgres store.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		switch cfg.Store.Driver {
		case "sqlite":
			store, err := openSQLite(ctx, cfg)
			if err != nil {
				return err
			}
			_ = store.Close()
		case "postgres":
			pool, err := db.Connect(ctx, cfg.Store.DatabaseURL)
			if err != nil {
				return err
			}
			defer pool.Close()

			if err := boundary.Migrate(ctx, pool); err != nil {
				return eris.Wrap(err, "boundaries migrate")
			}
		default:
			return eris.Errorf("store driver %q has no schema to migrate", cfg.Store.Driver)
		}

		zap.L().Info("boundary migrations applied", zap.String("driver", cfg.Store.Driver))
		return nil
	},
}

func init() {
	boundariesCmd.AddCommand(boundariesMigrateCmd)
}
