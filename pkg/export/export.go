// Package export renders the rebalancing job set for operators and
// downstream tools.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/kilianp07/dockflow/core/model"
)

// Formats accepted by Write.
const (
	FormatTable = "table"
	FormatJSON  = "json"
	FormatCSV   = "csv"
)

var header = []string{"id", "from_station_id", "to_station_id", "bikes_to_move", "distance_m", "forecast_ts", "created_at"}

// Write renders jobs in the named format.
func Write(w io.Writer, format string, jobs []model.RebalancingJob) error {
	switch format {
	case FormatTable, "":
		return WriteTable(w, jobs)
	case FormatJSON:
		return WriteJSON(w, jobs)
	case FormatCSV:
		return WriteCSV(w, jobs)
	default:
		return fmt.Errorf("unknown export format %q", format)
	}
}

// WriteJSON writes the job set to w as a JSON array.
func WriteJSON(w io.Writer, jobs []model.RebalancingJob) error {
	if jobs == nil {
		jobs = []model.RebalancingJob{}
	}
	return json.NewEncoder(w).Encode(jobs)
}

// WriteCSV writes the job set to w in CSV format with a header row.
func WriteCSV(w io.Writer, jobs []model.RebalancingJob) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, j := range jobs {
		rec := []string{
			j.ID,
			j.FromStationID,
			j.ToStationID,
			strconv.Itoa(j.BikesToMove),
			strconv.FormatFloat(j.DistanceM, 'f', 1, 64),
			j.ForecastTS.Format(time.RFC3339),
			j.CreatedAt.Format(time.RFC3339),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTable writes an aligned table followed by a totals line.
func WriteTable(w io.Writer, jobs []model.RebalancingJob) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "FROM\tTO\tBIKES\tDISTANCE_M\tFORECAST_TS")
	bikes := 0
	for _, j := range jobs {
		bikes += j.BikesToMove
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%d\t%.0f\t%s\n",
			j.FromStationID, j.ToStationID, j.BikesToMove, j.DistanceM, j.ForecastTS.Format(time.RFC3339))
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(w, "%d jobs, %d bikes\n", len(jobs), bikes)
	return err
}
