package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/unclip/background"
)

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Print expansion statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			loc, err := a.openLocal()
			if err != nil {
				return err
			}
			defer loc.Close()
			resp, err := loc.router.Call(cmd.Context(), background.TypeGetStats, nil)
			if err != nil {
				return err
			}
			var st background.Stats
			if err := json.Unmarshal(resp, &st); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
}
