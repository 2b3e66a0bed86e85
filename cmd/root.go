package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "aoi-engine",
	Short: "Resolve areas of interest and evaluate geospatial queries",
	Long:  "Turns place names, coordinates and GeoJSON into boundary geometries, and runs cached, rate-limited evaluations against the remote analysis platform.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
