package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/notify"
	"github.com/kilianp07/dockflow/core/runlog"
	"github.com/kilianp07/dockflow/infra/store/sqlite"
)

var monday8 = time.Date(2024, 1, 1, 8, 5, 0, 0, time.UTC)

type recordingSink struct {
	mu        sync.Mutex
	events    []metrics.StageEvent
	forecasts []model.Forecast
	jobs      []model.RebalancingJob
}

func (s *recordingSink) RecordStage(ev metrics.StageEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) RecordForecasts(f []model.Forecast) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forecasts = append(s.forecasts, f...)
	return nil
}

func (s *recordingSink) RecordJobs(j []model.RebalancingJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = j
	return nil
}

type recordingNotifier struct {
	msgs []notify.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.msgs = append(n.msgs, msg)
	return nil
}

func (n *recordingNotifier) Close() error { return nil }

type fixture struct {
	store    *sqlite.Store
	pipeline *Pipeline
	sink     *recordingSink
	notifier *recordingNotifier
	runs     runlog.Store
}

func newFixture(t *testing.T, mutate func(*config.Config)) *fixture {
	t.Helper()
	dir := t.TempDir()
	st, err := sqlite.Open(filepath.Join(dir, "dockflow.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	runs, err := runlog.New(runlog.Config{Backend: "jsonl", Path: filepath.Join(dir, "runs.jsonl")})
	require.NoError(t, err)
	t.Cleanup(func() { _ = runs.Close() })

	cfg := config.Default()
	cfg.Timezone = "UTC"
	if mutate != nil {
		mutate(cfg)
	}
	f := &fixture{store: st, sink: &recordingSink{}, notifier: &recordingNotifier{}, runs: runs}
	f.pipeline, err = NewPipeline(cfg, st,
		WithMetrics(f.sink),
		WithNotifier(f.notifier),
		WithRunLog(runs),
		WithClock(func() time.Time { return monday8 }),
		WithRunID("run-1"),
	)
	require.NoError(t, err)
	return f
}

func (f *fixture) seed(t *testing.T, bikesA, bikesB int) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, f.store.UpsertStations(ctx, []model.Station{
		{ID: "A", Name: "Alpha", Capacity: 20, Lat: 37.0, Lng: -122.0},
		{ID: "B", Name: "Bravo", Capacity: 20, Lat: 37.0, Lng: -122.018},
	}))
	require.NoError(t, f.store.UpsertInventory(ctx, []model.InventorySnapshot{
		{StationID: "A", CurrentBikes: bikesA, Capacity: 20, LastReported: monday8},
		{StationID: "B", CurrentBikes: bikesB, Capacity: 20, LastReported: monday8},
	}))
}

func TestRunAllEndToEnd(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 18, 2)
	ctx := context.Background()

	reports, err := f.pipeline.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Equal(t, model.StageAggregate, reports[0].Stage)
	assert.Equal(t, model.StageForecast, reports[1].Stage)
	assert.Equal(t, 2, reports[1].Written)
	assert.Equal(t, model.StageRebalance, reports[2].Stage)

	forecasts, err := f.store.LatestForecasts(ctx)
	require.NoError(t, err)
	require.Len(t, forecasts, 2)
	risks := map[string]model.Risk{}
	for _, fc := range forecasts {
		risks[fc.StationID] = fc.Risk
	}
	assert.Equal(t, model.RiskFullSoon, risks["A"])
	assert.Equal(t, model.RiskEmptySoon, risks["B"])

	jobs, err := f.pipeline.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "A", jobs[0].FromStationID)
	assert.Equal(t, "B", jobs[0].ToStationID)
	assert.Equal(t, 8, jobs[0].BikesToMove)
	assert.InDelta(t, 1600, jobs[0].DistanceM, 5)
	assert.True(t, jobs[0].ForecastTS.Equal(monday8))

	assert.Len(t, f.sink.events, 3)
	assert.Len(t, f.sink.forecasts, 2)
	assert.Len(t, f.sink.jobs, 1)
	require.Len(t, f.notifier.msgs, 3)
	assert.Equal(t, "run-1", f.notifier.msgs[2].RunID)
	assert.Len(t, f.notifier.msgs[2].Jobs, 1)

	recs, err := f.pipeline.Runs(ctx, runlog.Query{RunID: "run-1"})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestRebalanceReplacesJobSet(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 18, 2)
	ctx := context.Background()
	_, err := f.pipeline.RunAll(ctx)
	require.NoError(t, err)

	// Both stations back at target: the next run must clear the job set.
	f.seed(t, 10, 10)
	_, err = f.pipeline.Forecast(ctx)
	require.NoError(t, err)
	_, err = f.pipeline.Rebalance(ctx)
	require.NoError(t, err)
	jobs, err := f.pipeline.Jobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestLoadTripsFeedsForecast(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 18, 2)
	ctx := context.Background()

	csvPath := filepath.Join(t.TempDir(), "trips.csv")
	data := "ride_id,started_at,ended_at,start_station_id,end_station_id\n" +
		"t1,2024-01-01 08:01:00,2024-01-01 08:20:00,A,B\n" +
		"t2,2024-01-01 08:02:00,2024-01-01 08:21:00,A,B\n" +
		"t3,2024-01-01 08:03:00,2024-01-01 08:22:00,A,B\n" +
		"bad,2024-01-01 08:30:00,2024-01-01 08:00:00,A,B\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(data), 0o600))

	ingest, err := f.pipeline.LoadTrips(ctx, []string{csvPath})
	require.NoError(t, err)
	assert.Equal(t, 4, ingest.Processed)
	assert.Equal(t, 3, ingest.Written)
	assert.Equal(t, 1, ingest.Skipped[model.SkipInvalidRecord])

	// Ingest must not wipe capacity or position of known stations.
	stations, err := f.store.LoadStations(ctx)
	require.NoError(t, err)
	for _, s := range stations {
		assert.Equal(t, 20, s.Capacity, s.ID)
		assert.NotZero(t, s.Lat, s.ID)
	}

	_, err = f.pipeline.RunAll(ctx)
	require.NoError(t, err)

	forecasts, err := f.store.LatestForecasts(ctx)
	require.NoError(t, err)
	predicted := map[string]int{}
	for _, fc := range forecasts {
		predicted[fc.StationID] = fc.PredictedBikes
	}
	// A loses three bikes in its exact slot; B only has a same-hour arrival
	// slot and gains three through the day+hour mean.
	assert.Equal(t, 15, predicted["A"])
	assert.Equal(t, 5, predicted["B"])

	jobs, err := f.pipeline.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, 5, jobs[0].BikesToMove)
}

func TestRebalanceUsesInventoryCapacityForDiscoveredStations(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	csvPath := filepath.Join(t.TempDir(), "trips.csv")
	data := "ride_id,started_at,ended_at,start_station_id,end_station_id,start_lat,start_lng,end_lat,end_lng\n" +
		"t1,2024-01-01 08:01:00,2024-01-01 08:04:00,A,B,37.0,-122.0,37.0,-122.018\n"
	require.NoError(t, os.WriteFile(csvPath, []byte(data), 0o600))
	_, err := f.pipeline.LoadTrips(ctx, []string{csvPath})
	require.NoError(t, err)

	stations, err := f.store.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	for _, s := range stations {
		assert.Zero(t, s.Capacity, s.ID)
	}
	require.NoError(t, f.store.UpsertInventory(ctx, []model.InventorySnapshot{
		{StationID: "A", CurrentBikes: 18, Capacity: 20, LastReported: monday8},
		{StationID: "B", CurrentBikes: 2, Capacity: 20, LastReported: monday8},
	}))

	reports, err := f.pipeline.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 3)
	assert.Zero(t, reports[2].Skipped[model.SkipInvalidCapacity])

	jobs, err := f.pipeline.Jobs(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "A", jobs[0].FromStationID)
	assert.Equal(t, "B", jobs[0].ToStationID)
	assert.Equal(t, 7, jobs[0].BikesToMove)
}

func TestForecastOverride(t *testing.T) {
	f := newFixture(t, func(c *config.Config) { c.Forecast.ForecastTS = "2024-01-02T09:00:00Z" })
	f.seed(t, 18, 2)
	ctx := context.Background()
	_, err := f.pipeline.Forecast(ctx)
	require.NoError(t, err)
	forecasts, err := f.store.LatestForecasts(ctx)
	require.NoError(t, err)
	for _, fc := range forecasts {
		assert.True(t, fc.ForecastTS.Equal(time.Date(2024, 1, 2, 9, 0, 0, 0, time.UTC)))
	}
}

func TestCancelledStageKeepsPreviousOutput(t *testing.T) {
	f := newFixture(t, nil)
	f.seed(t, 18, 2)
	ctx := context.Background()
	_, err := f.pipeline.RunAll(ctx)
	require.NoError(t, err)

	f.seed(t, 10, 10)
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	report, err := f.pipeline.Rebalance(cancelled)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.NotEmpty(t, report.Error)

	jobs, err := f.pipeline.Jobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 1)

	last := f.notifier.msgs[len(f.notifier.msgs)-1]
	assert.Equal(t, model.StageRebalance, last.Report.Stage)
	assert.NotEmpty(t, last.Report.Error)
	assert.Empty(t, last.Jobs)
}

func TestRunAllStopsAtFirstFailure(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.store.Close())
	reports, err := f.pipeline.RunAll(context.Background())
	require.Error(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, model.StageAggregate, reports[0].Stage)
}

func TestNewPipelineRejectsBadConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Rebalance.TargetFraction = 2
	_, err := NewPipeline(cfg, nil)
	require.Error(t, err)
}
