package main

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/aoi-engine/internal/boundary"
	"github.com/sells-group/aoi-engine/internal/config"
	"github.com/sells-group/aoi-engine/internal/db"
)

var boundariesCmd = &cobra.Command{
	Use:   "boundaries",
	Short: "Manage reference boundary datasets",
}

// openLoadableStore opens the configured store for writing. The platform
// driver is read-only and the memory store does not outlive the process.
func openLoadableStore(ctx context.Context, c *config.Config) (boundary.Store, func(), error) {
	switch c.Store.Driver {
	case "sqlite":
		store, err := openSQLite(ctx, c)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "postgres":
		pool, err := db.Connect(ctx, c.Store.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return boundary.NewPostgresStore(pool), pool.Close, nil
	default:
		return nil, nil, eris.Errorf("store driver %q cannot be loaded; use sqlite or postgres", c.Store.Driver)
	}
}

func init() {
	rootCmd.AddCommand(boundariesCmd)
}
