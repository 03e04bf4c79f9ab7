package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dockflow/app"
)

var loadTripsCmd = &cobra.Command{
	Use:   "load-trips <csv-file-or-dir>...",
	Short: "Load historical trip CSV exports",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, nil, func(ctx context.Context, svc *app.Service) error {
			r, err := svc.LoadTrips(ctx, args)
			printReport(cmd.OutOrStdout(), r)
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(loadTripsCmd)
}
