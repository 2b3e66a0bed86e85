package main

import (
	"encoding/json"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/geometry"
	"github.com/sells-group/aoi-engine/internal/resolver"
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <place> [place...]",
	Short: "Resolve place names to boundary geometries",
	Long:  "Resolves each place name through the reference datasets and prints one JSON line per name.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		failed := writeResolved(cmd.OutOrStdout(), env.Resolver.ResolveMany(ctx, args))
		if failed > 0 {
			return eris.Errorf("%d of %d places did not resolve", failed, len(args))
		}
		return nil
	},
}

type resolvedLine struct {
	PlaceName string             `json:"placeName"`
	Geometry  *geometry.Geometry `json:"geometry,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// writeResolved prints each result as a JSON line and returns the number of failures.
func writeResolved(w io.Writer, results []resolver.Result) int {
	enc := json.NewEncoder(w)
	failed := 0
	for _, r := range results {
		line := resolvedLine{PlaceName: r.Name, Geometry: r.Geometry}
		if r.Err != nil {
			failed++
			line.Error = r.Err.Error()
			zap.L().Debug("place did not resolve", zap.String("place", r.Name), zap.Error(r.Err))
		}
		if err := enc.Encode(line); err != nil {
			zap.L().Warn("write result", zap.Error(err))
		}
	}
	return failed
}

func init() {
	rootCmd.AddCommand(resolveCmd)
}
