package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dockflow/app"
	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/model"
)

var forecastTS string

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Recompute the demand profile from the trip history",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*app.Service).Aggregate)
	},
}

var forecastCmd = &cobra.Command{
	Use:   "forecast",
	Short: "Forecast station occupancy for the next 15 minutes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*app.Service).Forecast)
	},
}

var rebalanceCmd = &cobra.Command{
	Use:   "rebalance",
	Short: "Replace the rebalancing job set from the latest forecasts",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runStage(cmd, (*app.Service).Rebalance)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run aggregate, forecast and rebalance in order",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, applyForecastTS, func(ctx context.Context, svc *app.Service) error {
			reports, err := svc.RunAll(ctx)
			for _, r := range reports {
				printReport(cmd.OutOrStdout(), r)
			}
			return err
		})
	},
}

func init() {
	for _, c := range []*cobra.Command{forecastCmd, runCmd} {
		c.Flags().StringVar(&forecastTS, "forecast-ts", "", "override every snapshot timestamp (RFC 3339)")
	}
	rootCmd.AddCommand(aggregateCmd, forecastCmd, rebalanceCmd, runCmd)
}

func applyForecastTS(cfg *config.Config) error {
	if forecastTS == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, forecastTS); err != nil {
		return fmt.Errorf("--forecast-ts: %w", err)
	}
	cfg.Forecast.ForecastTS = forecastTS
	return nil
}

func runStage(cmd *cobra.Command, stage func(*app.Service, context.Context) (model.StageReport, error)) error {
	return withService(cmd, applyForecastTS, func(ctx context.Context, svc *app.Service) error {
		r, err := stage(svc, ctx)
		printReport(cmd.OutOrStdout(), r)
		return err
	})
}

func printReport(w io.Writer, r model.StageReport) {
	status := "ok"
	if r.Error != "" {
		status = "failed"
	}
	_, _ = fmt.Fprintf(w, "%-9s %-6s processed=%d written=%d skipped=%d", r.Stage, status, r.Processed, r.Written, r.TotalSkipped())
	if r.Stage == model.StageRebalance {
		_, _ = fmt.Fprintf(w, " bikes=%d", r.BikesMoved)
	}
	_, _ = fmt.Fprintf(w, " duration=%s\n", r.Duration().Round(time.Millisecond))
}
