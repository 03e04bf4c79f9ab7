package model

import "github.com/kilianp07/dockflow/core/bucket"

// DemandBucket holds historical averages for one station and weekly slot.
// Absence of a row means no history, not zero demand.
type DemandBucket struct {
	StationID     string     `json:"station_id"`
	Bucket        bucket.Key `json:"bucket"`
	AvgArrivals   float64    `json:"avg_arrivals_15m"`
	AvgDepartures float64    `json:"avg_departures_15m"`
	AvgNetFlow    float64    `json:"avg_net_flow_15m"`
}
