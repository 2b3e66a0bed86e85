package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var boundariesStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List loaded boundary datasets and their feature counts",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		store, closeStore, err := openLoadableStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		counts, err := store.Datasets(ctx)
		if err != nil {
			return err
		}

		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)

		out := cmd.OutOrStdout()
		if len(names) == 0 {
			fmt.Fprintln(out, "no boundary datasets loaded")
			return nil
		}
		for _, name := range names {
			fmt.Fprintf(out, "%-40s %d\n", name, counts[name])
		}
		return nil
	},
}

func init() {
	boundariesCmd.AddCommand(boundariesStatusCmd)
}
