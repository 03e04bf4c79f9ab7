package forecast

import (
	"errors"
	"fmt"
	"math"

	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/logger"
	"github.com/kilianp07/dockflow/core/model"
)

// ErrInvalidSnapshot is returned for snapshots that cannot be forecast.
var ErrInvalidSnapshot = errors.New("invalid inventory snapshot")

// Engine computes forecasts from inventory snapshots and demand history.
type Engine struct {
	cfg      Config
	bucketer bucket.Bucketer
	rules    []Rule
	log      logger.Logger
}

// NewEngine returns an Engine using DefaultRules.
func NewEngine(cfg Config, b bucket.Bucketer, log logger.Logger) *Engine {
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Engine{cfg: cfg, bucketer: b, rules: DefaultRules, log: log}
}

// Predict forecasts a single station.
func (e *Engine) Predict(snap model.InventorySnapshot, table *Table) (model.Forecast, error) {
	if snap.Capacity <= 0 {
		return model.Forecast{}, fmt.Errorf("station %s: %w", snap.StationID, model.ErrInvalidCapacity)
	}
	if snap.CurrentBikes < 0 {
		return model.Forecast{}, fmt.Errorf("station %s: negative bike count %d: %w", snap.StationID, snap.CurrentBikes, ErrInvalidSnapshot)
	}
	ts := snap.LastReported
	if override, ok, err := e.cfg.Override(); err != nil {
		return model.Forecast{}, err
	} else if ok {
		ts = override
	}
	if ts.IsZero() {
		return model.Forecast{}, fmt.Errorf("station %s: missing last_reported: %w", snap.StationID, ErrInvalidSnapshot)
	}

	flow, rule := Resolve(e.rules, table, snap.StationID, e.bucketer.Of(ts))
	if math.IsNaN(flow) {
		flow = 0
	}
	predicted := ClampFloat(float64(snap.CurrentBikes)+flow, snap.Capacity)
	return model.Forecast{
		StationID:      snap.StationID,
		ForecastTS:     ts,
		PredictedBikes: predicted,
		Risk:           Classify(predicted, snap.Capacity, e.cfg),
		Rule:           rule,
	}, nil
}

// Run forecasts every snapshot. Snapshots that fail are skipped and counted
// in report; they never abort the batch. A nil stations index disables the
// station existence check.
func (e *Engine) Run(snaps []model.InventorySnapshot, table *Table, stations model.StationIndex, report *model.StageReport) []model.Forecast {
	out := make([]model.Forecast, 0, len(snaps))
	for _, s := range snaps {
		report.Processed++
		if stations != nil {
			if _, ok := stations[s.StationID]; !ok {
				e.log.Warnf("forecast: skipping snapshot for unknown station %s", s.StationID)
				report.Skip(model.SkipUnknownStation)
				continue
			}
		}
		f, err := e.Predict(s, table)
		switch {
		case errors.Is(err, model.ErrInvalidCapacity):
			e.log.Warnf("forecast: %v", err)
			report.Skip(model.SkipInvalidCapacity)
			continue
		case err != nil:
			e.log.Warnf("forecast: %v", err)
			report.Skip(model.SkipInvalidRecord)
			continue
		}
		e.log.Debugw("forecast computed", map[string]any{
			"station_id": f.StationID,
			"predicted":  f.PredictedBikes,
			"risk":       f.Risk.String(),
			"rule":       f.Rule,
		})
		out = append(out, f)
	}
	return out
}

// ClampFloat rounds v half away from zero and bounds it into [0, capacity]
// before converting, so flows beyond the int range still saturate. NaN maps
// to 0.
func ClampFloat(v float64, capacity int) int {
	v = math.Round(v)
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= float64(capacity):
		return capacity
	}
	return int(v)
}

// Classify returns the risk of a predicted count. The empty check wins when
// both thresholds match.
func Classify(predicted, capacity int, cfg Config) model.Risk {
	if predicted <= cfg.EmptyThreshold {
		return model.RiskEmptySoon
	}
	if predicted >= capacity-cfg.FullMargin {
		return model.RiskFullSoon
	}
	return model.RiskBalanced
}
