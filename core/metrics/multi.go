package metrics

import (
	"context"
	"errors"

	"github.com/kilianp07/dockflow/core/model"
)

// MultiSink fans observations out to several sinks. Every sink receives the
// observation even when an earlier one fails; errors are joined.
type MultiSink struct {
	Sinks []Sink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...Sink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordStage forwards the stage summary to all sinks.
func (m *MultiSink) RecordStage(ev StageEvent) error {
	var errs []error
	for _, s := range m.Sinks {
		errs = append(errs, s.RecordStage(ev))
	}
	return errors.Join(errs...)
}

// RecordForecasts forwards forecasts to sinks that support them.
func (m *MultiSink) RecordForecasts(forecasts []model.Forecast) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(ForecastRecorder); ok {
			errs = append(errs, r.RecordForecasts(forecasts))
		}
	}
	return errors.Join(errs...)
}

// RecordJobs forwards jobs to sinks that support them.
func (m *MultiSink) RecordJobs(jobs []model.RebalancingJob) error {
	var errs []error
	for _, s := range m.Sinks {
		if r, ok := s.(JobRecorder); ok {
			errs = append(errs, r.RecordJobs(jobs))
		}
	}
	return errors.Join(errs...)
}

// Flush flushes sinks that buffer observations.
func (m *MultiSink) Flush(ctx context.Context) error {
	var errs []error
	for _, s := range m.Sinks {
		if f, ok := s.(Flusher); ok {
			errs = append(errs, f.Flush(ctx))
		}
	}
	return errors.Join(errs...)
}
