package scenarios

import (
	"context"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kilianp07/dockflow/app"
	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/demand"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/infra/metrics"
	"github.com/kilianp07/dockflow/infra/store/sqlite"
)

func RunScenario(t *testing.T, sc *Scenario) {
	t.Helper()
	ctx := context.Background()

	ts, err := time.Parse(time.RFC3339, sc.ForecastTS)
	if err != nil {
		t.Fatalf("forecast_ts: %v", err)
	}

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "scenario.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer func() { _ = st.Close() }()

	reg := prometheus.NewRegistry()
	sink, err := metrics.NewPromSinkWithRegistry(metrics.PromConfig{}, reg)
	if err != nil {
		t.Fatalf("prom sink: %v", err)
	}

	cfg := config.Default()
	cfg.Timezone = "UTC"
	applyTunables(cfg, sc.Config)

	p, err := app.NewPipeline(cfg, st,
		app.WithMetrics(sink),
		app.WithClock(func() time.Time { return ts }),
	)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}

	seed(t, st, sc, ts)

	reports, err := p.RunAll(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	checkSkipped(t, sc, reports)
	checkForecasts(t, st, sc)
	bikes := checkJobs(t, st, sc)

	if got := gaugeValue(t, reg, "dockflow_rebalancing_bikes"); int(got) != bikes {
		t.Errorf("rebalancing_bikes gauge = %v, want %d", got, bikes)
	}
	if n, err := testutil.GatherAndCount(reg, "dockflow_stage_runs_total"); err != nil || n != 3 {
		t.Errorf("stage_runs_total series = %d (%v), want 3", n, err)
	}
}

func gaugeValue(t *testing.T, g prometheus.Gatherer, name string) float64 {
	t.Helper()
	families, err := g.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func applyTunables(cfg *config.Config, tn Tunables) {
	if tn.TargetFraction != 0 {
		cfg.Rebalance.TargetFraction = tn.TargetFraction
	}
	if tn.MaxDistanceM != 0 {
		cfg.Rebalance.MaxDistanceM = tn.MaxDistanceM
	}
	if tn.EmptyThreshold != nil {
		cfg.Forecast.EmptyThreshold = *tn.EmptyThreshold
	}
	if tn.FullMargin != nil {
		cfg.Forecast.FullMargin = *tn.FullMargin
	}
	if tn.Averaging != "" {
		cfg.Aggregate.Averaging = demand.Averaging(tn.Averaging)
	}
}

func seed(t *testing.T, st *sqlite.Store, sc *Scenario, ts time.Time) {
	t.Helper()
	ctx := context.Background()
	stations := make([]model.Station, len(sc.Stations))
	capacity := map[string]int{}
	for i, s := range sc.Stations {
		stations[i] = s.ToModel()
		capacity[s.ID] = s.Capacity
	}
	if err := st.UpsertStations(ctx, stations); err != nil {
		t.Fatalf("stations: %v", err)
	}
	snaps := make([]model.InventorySnapshot, len(sc.Inventory))
	for i, inv := range sc.Inventory {
		c := capacity[inv.Station]
		if inv.Capacity != nil {
			c = *inv.Capacity
		}
		snaps[i] = model.InventorySnapshot{StationID: inv.Station, CurrentBikes: inv.Bikes, Capacity: c, LastReported: ts}
	}
	if err := st.UpsertInventory(ctx, snaps); err != nil {
		t.Fatalf("inventory: %v", err)
	}
	var trips []model.Trip
	for _, d := range sc.Trips {
		expanded, err := d.ToModel()
		if err != nil {
			t.Fatal(err)
		}
		trips = append(trips, expanded...)
	}
	if len(trips) > 0 {
		if _, err := st.InsertTrips(ctx, trips); err != nil {
			t.Fatalf("trips: %v", err)
		}
	}
}

func checkSkipped(t *testing.T, sc *Scenario, reports []model.StageReport) {
	t.Helper()
	for _, r := range reports {
		want := sc.Expected.Skipped[string(r.Stage)]
		for reason, n := range want {
			if got := r.Skipped[model.SkipReason(reason)]; got != n {
				t.Errorf("%s skipped[%s] = %d, want %d", r.Stage, reason, got, n)
			}
		}
	}
}

func checkForecasts(t *testing.T, st *sqlite.Store, sc *Scenario) {
	t.Helper()
	forecasts, err := st.LatestForecasts(context.Background())
	if err != nil {
		t.Fatalf("forecasts: %v", err)
	}
	got := make(map[string]model.Forecast, len(forecasts))
	for _, f := range forecasts {
		got[f.StationID] = f
	}
	for id, want := range sc.Expected.Forecasts {
		f, ok := got[id]
		if !ok {
			t.Errorf("no forecast for %s", id)
			continue
		}
		if f.PredictedBikes != want.Bikes || f.Risk.String() != want.Risk {
			t.Errorf("forecast %s = %d/%s, want %d/%s", id, f.PredictedBikes, f.Risk, want.Bikes, want.Risk)
		}
	}
}

func checkJobs(t *testing.T, st *sqlite.Store, sc *Scenario) int {
	t.Helper()
	jobs, err := st.ListJobs(context.Background())
	if err != nil {
		t.Fatalf("jobs: %v", err)
	}
	got := make([]JobExpect, len(jobs))
	bikes := 0
	for i, j := range jobs {
		got[i] = JobExpect{From: j.FromStationID, To: j.ToStationID, Bikes: j.BikesToMove}
		bikes += j.BikesToMove
	}
	want := append([]JobExpect(nil), sc.Expected.Jobs...)
	sortJobs(got)
	sortJobs(want)
	if len(got) != len(want) {
		t.Fatalf("got %d jobs %v, want %d %v", len(got), got, len(want), want)
	}
	for i := range got {
		if got[i] != want[i] {
			t.Errorf("job %d = %+v, want %+v", i, got[i], want[i])
		}
	}
	return bikes
}

func sortJobs(jobs []JobExpect) {
	sort.Slice(jobs, func(i, j int) bool {
		if jobs[i].From != jobs[j].From {
			return jobs[i].From < jobs[j].From
		}
		return jobs[i].To < jobs[j].To
	})
}
