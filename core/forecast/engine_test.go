package forecast

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/model"
)

// Monday 08:35 UTC -> bucket (1, 8, 2).
var reported = time.Date(2025, 9, 1, 8, 35, 0, 0, time.UTC)

func newEngine(cfg Config) *Engine { return NewEngine(cfg, bucket.New(time.UTC), nil) }

func TestPredictUsesExactBucket(t *testing.T) {
	tbl := NewTable([]model.DemandBucket{row("A", 1, 8, 2, 2.6)})
	f, err := newEngine(DefaultConfig()).Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 10, Capacity: 20, LastReported: reported}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 13, f.PredictedBikes) // round(12.6)
	assert.Equal(t, model.RiskBalanced, f.Risk)
	assert.Equal(t, RuleExact, f.Rule)
	assert.True(t, f.ForecastTS.Equal(reported))
}

func TestPredictRoundsHalfAwayFromZero(t *testing.T) {
	tbl := NewTable([]model.DemandBucket{row("A", 1, 8, 2, 0.5), row("B", 1, 8, 2, -0.5)})
	e := newEngine(DefaultConfig())
	fa, err := e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 10, Capacity: 30, LastReported: reported}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 11, fa.PredictedBikes)
	fb, err := e.Predict(model.InventorySnapshot{StationID: "B", CurrentBikes: 10, Capacity: 30, LastReported: reported}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 10, fb.PredictedBikes) // round(9.5) = 10
}

func TestPredictClampsForAnyFlow(t *testing.T) {
	e := newEngine(DefaultConfig())
	flows := []float64{math.Inf(-1), -1e19, -1e9, -500, -20.5, -1, 0, 1, 20.5, 500, 1e9, 1e19, math.Inf(1)}
	for _, cap := range []int{1, 5, 20, 60} {
		for cur := 0; cur <= cap+5; cur += 3 {
			for _, fl := range flows {
				tbl := NewTable([]model.DemandBucket{row("A", 1, 8, 2, fl)})
				f, err := e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: cur, Capacity: cap, LastReported: reported}, tbl)
				require.NoError(t, err)
				if f.PredictedBikes < 0 || f.PredictedBikes > cap {
					t.Fatalf("predicted %d outside [0,%d] (cur=%d flow=%v)", f.PredictedBikes, cap, cur, fl)
				}
			}
		}
	}
}

func TestPredictSaturatesHugeFlows(t *testing.T) {
	e := newEngine(DefaultConfig())
	cases := []struct {
		flow float64
		want int
		risk model.Risk
	}{
		{1e19, 20, model.RiskFullSoon},
		{math.Inf(1), 20, model.RiskFullSoon},
		{-1e19, 0, model.RiskEmptySoon},
		{math.Inf(-1), 0, model.RiskEmptySoon},
		{math.NaN(), 10, model.RiskBalanced},
	}
	for _, c := range cases {
		tbl := NewTable([]model.DemandBucket{row("A", 1, 8, 2, c.flow)})
		f, err := e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 10, Capacity: 20, LastReported: reported}, tbl)
		require.NoError(t, err)
		assert.Equal(t, c.want, f.PredictedBikes, "flow %v", c.flow)
		assert.Equal(t, c.risk, f.Risk, "flow %v", c.flow)
	}
}

func TestClampFloat(t *testing.T) {
	assert.Equal(t, 0, ClampFloat(-0.4, 10))
	assert.Equal(t, 10, ClampFloat(9.5, 10))
	assert.Equal(t, 7, ClampFloat(6.5, 10))
	assert.Equal(t, 10, ClampFloat(1e300, 10))
	assert.Equal(t, 0, ClampFloat(math.NaN(), 10))
}

func TestClassifyBoundaries(t *testing.T) {
	cfg := DefaultConfig() // empty <= 2, full >= capacity-3
	const capacity = 20
	cases := []struct {
		predicted int
		want      model.Risk
	}{
		{0, model.RiskEmptySoon},
		{2, model.RiskEmptySoon},
		{3, model.RiskBalanced},
		{16, model.RiskBalanced},
		{17, model.RiskFullSoon},
		{18, model.RiskFullSoon},
		{20, model.RiskFullSoon},
	}
	for _, c := range cases {
		if got := Classify(c.predicted, capacity, cfg); got != c.want {
			t.Errorf("Classify(%d) = %s, want %s", c.predicted, got, c.want)
		}
	}
}

func TestClassifyEmptyTakesPriority(t *testing.T) {
	// With capacity 4 and margin 3, a count of 1 matches both thresholds.
	if got := Classify(1, 4, DefaultConfig()); got != model.RiskEmptySoon {
		t.Fatalf("expected empty_soon, got %s", got)
	}
}

func TestPredictErrors(t *testing.T) {
	e := newEngine(DefaultConfig())
	_, err := e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 1, Capacity: 0, LastReported: reported}, nil)
	assert.True(t, errors.Is(err, model.ErrInvalidCapacity))
	_, err = e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: -1, Capacity: 10, LastReported: reported}, nil)
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))
	_, err = e.Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 1, Capacity: 10}, nil)
	assert.True(t, errors.Is(err, ErrInvalidSnapshot))
}

func TestPredictOverrideTimestamp(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ForecastTS = "2025-09-03T17:50:00Z" // Wednesday 17:45 slot
	tbl := NewTable([]model.DemandBucket{row("A", 3, 17, 3, -4), row("A", 1, 8, 2, 4)})
	f, err := newEngine(cfg).Predict(model.InventorySnapshot{StationID: "A", CurrentBikes: 10, Capacity: 20, LastReported: reported}, tbl)
	require.NoError(t, err)
	assert.Equal(t, 6, f.PredictedBikes)
	assert.Equal(t, time.Date(2025, 9, 3, 17, 50, 0, 0, time.UTC), f.ForecastTS.UTC())
}

func TestRunSkipsBadStationsWithoutAborting(t *testing.T) {
	stations := model.IndexStations([]model.Station{
		{ID: "A", Capacity: 20}, {ID: "B", Capacity: 0}, {ID: "C", Capacity: 10},
	})
	snaps := []model.InventorySnapshot{
		{StationID: "A", CurrentBikes: 5, Capacity: 20, LastReported: reported},
		{StationID: "B", CurrentBikes: 5, Capacity: 0, LastReported: reported},
		{StationID: "ghost", CurrentBikes: 5, Capacity: 20, LastReported: reported},
		{StationID: "C", CurrentBikes: -2, Capacity: 10, LastReported: reported},
	}
	report := model.NewStageReport(model.StageForecast, reported)
	out := newEngine(DefaultConfig()).Run(snaps, NewTable(nil), stations, &report)
	require.Len(t, out, 1)
	assert.Equal(t, "A", out[0].StationID)
	assert.Equal(t, RuleDefault, out[0].Rule)
	assert.Equal(t, 4, report.Processed)
	assert.Equal(t, 1, report.Skipped[model.SkipInvalidCapacity])
	assert.Equal(t, 1, report.Skipped[model.SkipUnknownStation])
	assert.Equal(t, 1, report.Skipped[model.SkipInvalidRecord])
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
	assert.Error(t, Config{EmptyThreshold: -1}.Validate())
	assert.Error(t, Config{FullMargin: -1}.Validate())
	assert.Error(t, Config{ForecastTS: "yesterday"}.Validate())
	_, ok, err := DefaultConfig().Override()
	assert.False(t, ok)
	assert.NoError(t, err)
}
