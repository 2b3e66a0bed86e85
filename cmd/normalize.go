package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var normalizeFile string

var normalizeCmd = &cobra.Command{
	Use:   "normalize [aoi]",
	Short: "Normalize an AOI and print its geometry and metrics",
	Long:  "Accepts a place name, a \"lon, lat\" pair or GeoJSON (inline or with --file) and prints the resolved geometry as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		input, err := normalizeInput(args, normalizeFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, nil)
		if err != nil {
			return err
		}
		defer env.Close()

		g, err := env.Normalizer.Normalize(ctx, input)
		if err != nil {
			return err
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return eris.Wrap(enc.Encode(g), "write geometry")
	},
}

// normalizeInput returns the AOI text from the argument or file. File
// contents are passed as raw JSON.
func normalizeInput(args []string, file string) (any, error) {
	switch {
	case file != "" && len(args) > 0:
		return nil, eris.New("pass either an AOI argument or --file, not both")
	case file != "":
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, eris.Wrapf(err, "read %s", file)
		}
		return json.RawMessage(data), nil
	case len(args) == 1 && strings.TrimSpace(args[0]) != "":
		return args[0], nil
	default:
		return nil, eris.New("an AOI argument or --file is required")
	}
}

func init() {
	normalizeCmd.Flags().StringVar(&normalizeFile, "file", "", "read a GeoJSON AOI from this file")
	rootCmd.AddCommand(normalizeCmd)
}
