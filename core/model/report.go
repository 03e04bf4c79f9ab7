package model

import "time"

// Stage names a pipeline step.
type Stage string

const (
	StageAggregate Stage = "aggregate"
	StageForecast  Stage = "forecast"
	StageRebalance Stage = "rebalance"
	StageIngest    Stage = "ingest"
)

// SkipReason explains why a record was left out of a stage.
type SkipReason string

const (
	SkipInvalidRecord   SkipReason = "invalid_record"
	SkipMissingStation  SkipReason = "missing_station"
	SkipInvalidCapacity SkipReason = "invalid_capacity"
	SkipUnknownStation  SkipReason = "unknown_station"
	SkipInvalidPosition SkipReason = "invalid_position"
	SkipNoForecast      SkipReason = "no_forecast"
)

// StageReport summarises one stage run.
type StageReport struct {
	Stage      Stage              `json:"stage"`
	Processed  int                `json:"processed"`
	Written    int                `json:"written"`
	Skipped    map[SkipReason]int `json:"skipped,omitempty"`
	BikesMoved int                `json:"bikes_moved,omitempty"`
	StartedAt  time.Time          `json:"started_at"`
	FinishedAt time.Time          `json:"finished_at"`
	Error      string             `json:"error,omitempty"`
}

// NewStageReport starts a report for stage.
func NewStageReport(stage Stage, started time.Time) StageReport {
	return StageReport{Stage: stage, StartedAt: started, Skipped: make(map[SkipReason]int)}
}

// Skip increments the counter for reason.
func (r *StageReport) Skip(reason SkipReason) {
	if r.Skipped == nil {
		r.Skipped = make(map[SkipReason]int)
	}
	r.Skipped[reason]++
}

// TotalSkipped returns the number of skipped records across all reasons.
func (r StageReport) TotalSkipped() int {
	n := 0
	for _, v := range r.Skipped {
		n += v
	}
	return n
}

// Duration returns the wall time of the stage.
func (r StageReport) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}
