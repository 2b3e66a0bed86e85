package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/aoi-engine/internal/boundary"
)

var (
	loadManifest string
	loadDataset  string
)

var boundariesLoadCmd = &cobra.Command{
	Use:   "load [path]",
	Short: "Load boundary datasets into the configured store",
	Long: `Loads shapefiles or GeoJSON into the sqlite or postgres store, replacing
existing features of the same dataset. Pass a single file with --dataset, or a
YAML manifest of datasets with --manifest. Paths may be local files, .zip
archives or http(s)/ftp URLs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		m, err := loadPlan(args, loadManifest, loadDataset)
		if err != nil {
			return err
		}

		store, closeStore, err := openLoadableStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		n, err := boundary.LoadAll(ctx, store, m, loadOptions(cfg))
		if err != nil {
			return eris.Wrap(err, "boundaries load")
		}

		zap.L().Info("boundaries loaded",
			zap.Int("datasets", len(m.Sources)),
			zap.Int64("features", n),
		)
		return nil
	},
}

// loadPlan builds the manifest for a load: either the --manifest file or a
// single path with its --dataset name.
func loadPlan(args []string, manifest, dataset string) (*boundary.Manifest, error) {
	switch {
	case manifest != "" && len(args) > 0:
		return nil, eris.New("pass either a path or --manifest, not both")
	case manifest != "":
		return boundary.LoadManifest(manifest)
	case len(args) == 1:
		if dataset == "" {
			return nil, eris.New("--dataset is required when loading a single file")
		}
		return &boundary.Manifest{Sources: []boundary.Source{{Dataset: dataset, Path: args[0]}}}, nil
	default:
		return nil, eris.New("a path or --manifest is required")
	}
}

func init() {
	boundariesLoadCmd.Flags().StringVar(&loadManifest, "manifest", "", "YAML manifest of datasets to load")
	boundariesLoadCmd.Flags().StringVar(&loadDataset, "dataset", "", "dataset name for a single file (e.g. TIGER/2018/Counties)")
	boundariesCmd.AddCommand(boundariesLoadCmd)
}
