package metrics

import (
	"context"

	"github.com/kilianp07/dockflow/core/model"
)

// StageEvent is emitted once per finished stage.
type StageEvent struct {
	RunID  string
	Report model.StageReport
}

// Sink records stage summaries.
type Sink interface {
	RecordStage(ev StageEvent) error
}

// ForecastRecorder records the forecasts written by a forecast stage.
type ForecastRecorder interface {
	RecordForecasts(forecasts []model.Forecast) error
}

// JobRecorder records the job set written by a rebalance stage.
type JobRecorder interface {
	RecordJobs(jobs []model.RebalancingJob) error
}

// Flusher is implemented by sinks that buffer observations until the end of
// a run, such as a Pushgateway exporter.
type Flusher interface {
	Flush(ctx context.Context) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordStage(StageEvent) error            { return nil }
func (NopSink) RecordForecasts([]model.Forecast) error  { return nil }
func (NopSink) RecordJobs([]model.RebalancingJob) error { return nil }
func (NopSink) Flush(context.Context) error             { return nil }
