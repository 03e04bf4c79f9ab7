package model

import "time"

// RebalancingJob moves bikes from a surplus station to a deficit station.
type RebalancingJob struct {
	ID            string    `json:"id"`
	FromStationID string    `json:"from_station_id"`
	ToStationID   string    `json:"to_station_id"`
	BikesToMove   int       `json:"bikes_to_move"`
	DistanceM     float64   `json:"distance_m"`
	ForecastTS    time.Time `json:"forecast_ts"`
	CreatedAt     time.Time `json:"created_at"`
}
