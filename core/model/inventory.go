package model

import "time"

// InventorySnapshot is the latest live-feed reading for a station.
type InventorySnapshot struct {
	StationID    string    `json:"station_id"`
	CurrentBikes int       `json:"current_bikes"`
	Capacity     int       `json:"capacity"`
	LastReported time.Time `json:"last_reported"`
}
