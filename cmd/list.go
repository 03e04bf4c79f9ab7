package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dockflow/app"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/runlog"
	"github.com/kilianp07/dockflow/pkg/export"
)

var (
	listJSON   bool
	jobsFormat string
	runsStage  string
	runsRunID  string
	runsSince  time.Duration
	runsLimit  int
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Print the current rebalancing job set",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		st, err := app.OpenStore(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()
		jobs, err := st.ListJobs(ctx)
		if err != nil {
			return err
		}
		return export.Write(cmd.OutOrStdout(), jobsFormat, jobs)
	},
}

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Print recorded stage runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		runs, err := runlog.New(cfg.RunLog)
		if err != nil {
			return err
		}
		defer func() { _ = runs.Close() }()
		q := runlog.Query{Stage: model.Stage(runsStage), RunID: runsRunID, Limit: runsLimit}
		if runsSince > 0 {
			q.Start = time.Now().Add(-runsSince)
		}
		recs, err := runs.Query(cmd.Context(), q)
		if err != nil {
			return err
		}
		if listJSON {
			return json.NewEncoder(cmd.OutOrStdout()).Encode(recs)
		}
		for _, r := range recs {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s ", r.Timestamp.Format(time.RFC3339), r.RunID)
			printReport(cmd.OutOrStdout(), r.Report)
		}
		return nil
	},
}

func init() {
	jobsCmd.Flags().StringVarP(&jobsFormat, "format", "f", export.FormatTable, "output format: table, json or csv")
	runsCmd.Flags().BoolVar(&listJSON, "json", false, "print JSON")
	runsCmd.Flags().StringVar(&runsStage, "stage", "", "only this stage")
	runsCmd.Flags().StringVar(&runsRunID, "run-id", "", "only this run")
	runsCmd.Flags().DurationVar(&runsSince, "since", 0, "only runs newer than this")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "keep the most recent N records (0 for all)")
	rootCmd.AddCommand(jobsCmd, runsCmd)
}
