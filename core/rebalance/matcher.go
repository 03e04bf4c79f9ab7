package rebalance

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dockflow/core/geo"
	"github.com/kilianp07/dockflow/core/logger"
	"github.com/kilianp07/dockflow/core/model"
)

// Matcher turns forecasts into rebalancing jobs.
type Matcher struct {
	cfg   Config
	log   logger.Logger
	now   func() time.Time
	newID func() string
}

// Option customises a Matcher.
type Option func(*Matcher)

// WithClock sets the clock used for job creation timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Matcher) { m.now = now }
}

// WithIDGenerator sets the job id generator.
func WithIDGenerator(gen func() string) Option {
	return func(m *Matcher) { m.newID = gen }
}

// NewMatcher validates cfg and returns a Matcher.
func NewMatcher(cfg Config, log logger.Logger, opts ...Option) (*Matcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logger.NopLogger{}
	}
	m := &Matcher{
		cfg:   cfg,
		log:   log,
		now:   time.Now,
		newID: func() string { return uuid.NewString() },
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Match computes the job set for the given forecasts. When a station has
// several forecasts the most recent one is used. Stations that cannot take
// part are counted in report and never abort the run.
func (m *Matcher) Match(forecasts []model.Forecast, stations model.StationIndex, report *model.StageReport) []model.RebalancingJob {
	latest := latestByStation(forecasts)
	report.Processed += len(latest)
	for id := range stations {
		if _, ok := latest[id]; !ok {
			report.Skip(model.SkipNoForecast)
		}
	}

	l := m.classify(latest, stations, report)
	l.sortSources()

	created := m.now().UTC()
	var jobs []model.RebalancingJob
	for _, src := range l.sources {
		for _, c := range l.candidates(src, m.cfg.MaxDistanceM) {
			if src.remaining <= 0 {
				break
			}
			move := min(src.remaining, c.sink.remaining)
			if move <= 0 {
				continue
			}
			src.remaining -= move
			c.sink.remaining -= move
			jobs = append(jobs, model.RebalancingJob{
				ID:            m.newID(),
				FromStationID: src.stationID,
				ToStationID:   c.sink.stationID,
				BikesToMove:   move,
				DistanceM:     c.distance,
				ForecastTS:    src.forecast.ForecastTS,
				CreatedAt:     created,
			})
			report.BikesMoved += move
			m.log.Debugw("rebalance job", map[string]any{
				"from":       src.stationID,
				"to":         c.sink.stationID,
				"bikes":      move,
				"distance_m": c.distance,
			})
		}
	}
	report.Written = len(jobs)
	return jobs
}

func (m *Matcher) classify(latest map[string]model.Forecast, stations model.StationIndex, report *model.StageReport) *ledger {
	l := &ledger{}
	for id, f := range latest {
		st, ok := stations[id]
		if !ok {
			m.log.Warnf("rebalance: forecast for unknown station %s", id)
			report.Skip(model.SkipUnknownStation)
			continue
		}
		if err := st.Validate(); err != nil {
			m.log.Warnf("rebalance: %v", err)
			report.Skip(skipReason(err))
			continue
		}
		target := m.cfg.Target(st.Capacity)
		p := &party{
			stationID: id,
			point:     geo.Point{Lat: st.Lat, Lng: st.Lng},
			tier:      tierSlack,
			forecast:  f,
		}
		switch {
		case f.PredictedBikes > target:
			if f.Risk == model.RiskFullSoon {
				p.tier = tierUrgent
			}
			p.quantity = f.PredictedBikes - target
			p.remaining = p.quantity
			l.addSource(p)
		case f.PredictedBikes < target:
			if f.Risk == model.RiskEmptySoon {
				p.tier = tierUrgent
			}
			p.quantity = target - f.PredictedBikes
			p.remaining = p.quantity
			l.addSink(p)
		}
	}
	return l
}

func skipReason(err error) model.SkipReason {
	switch {
	case errors.Is(err, model.ErrInvalidCapacity):
		return model.SkipInvalidCapacity
	case errors.Is(err, model.ErrInvalidPosition):
		return model.SkipInvalidPosition
	default:
		return model.SkipInvalidRecord
	}
}

func latestByStation(forecasts []model.Forecast) map[string]model.Forecast {
	out := make(map[string]model.Forecast, len(forecasts))
	for _, f := range forecasts {
		cur, ok := out[f.StationID]
		if !ok || f.ForecastTS.After(cur.ForecastTS) {
			out[f.StationID] = f
		}
	}
	return out
}

// Summary returns a one-line description of a job set.
func Summary(jobs []model.RebalancingJob) string {
	bikes := 0
	for _, j := range jobs {
		bikes += j.BikesToMove
	}
	return fmt.Sprintf("%d jobs, %d bikes", len(jobs), bikes)
}
