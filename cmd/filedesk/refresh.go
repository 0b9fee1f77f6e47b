package main

import (
	"encoding/json"

	"github.com/spf13/cobra"
)

func newRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Refresh every credential expiring soon, then exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(resolvedCfg)
			if err != nil {
				return err
			}
			defer a.Close()

			res := a.refresher.Sweep(cmd.Context())
			if flagJSON {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(res)
			}
			cmd.Printf("due: %d  refreshed: %d  deactivated: %d  failed: %d\n",
				res.Due, res.Refreshed, res.Deactivated, res.Failed)
			return nil
		},
	}
}
