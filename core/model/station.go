package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCapacity is returned when a station has no usable dock capacity.
	ErrInvalidCapacity = errors.New("capacity must be positive")
	// ErrInvalidPosition is returned for a missing or out of range position.
	ErrInvalidPosition = errors.New("invalid position")
	ErrMissingID       = errors.New("station id is required")
)

// Station is a docking location. Capacity and position are owned by the
// onboarding collaborator; the pipeline only reads them.
type Station struct {
	ID       string  `json:"station_id"`
	Name     string  `json:"station_name"`
	Capacity int     `json:"capacity"` // total docks, 0 while unknown
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
}

// Validate checks that the station can take part in forecasting and matching.
func (s Station) Validate() error {
	if s.ID == "" {
		return ErrMissingID
	}
	if s.Capacity <= 0 {
		return fmt.Errorf("station %s: %w", s.ID, ErrInvalidCapacity)
	}
	return s.ValidatePosition()
}

// ValidatePosition checks latitude and longitude ranges.
func (s Station) ValidatePosition() error {
	if s.Lat < -90 || s.Lat > 90 || s.Lng < -180 || s.Lng > 180 {
		return fmt.Errorf("station %s: (%f,%f) out of range: %w", s.ID, s.Lat, s.Lng, ErrInvalidPosition)
	}
	if s.Lat == 0 && s.Lng == 0 {
		return fmt.Errorf("station %s: position missing: %w", s.ID, ErrInvalidPosition)
	}
	return nil
}

// StationIndex maps station ids to stations.
type StationIndex map[string]Station

// IndexStations builds a StationIndex. Later duplicates win.
func IndexStations(stations []Station) StationIndex {
	idx := make(StationIndex, len(stations))
	for _, s := range stations {
		idx[s.ID] = s
	}
	return idx
}

// FillCapacity copies the capacity of the most recent snapshot into stations
// whose stored capacity is unknown. Stations without a snapshot are left
// unchanged.
func (idx StationIndex) FillCapacity(snaps []InventorySnapshot) {
	latest := make(map[string]InventorySnapshot, len(snaps))
	for _, s := range snaps {
		cur, ok := latest[s.StationID]
		if !ok || s.LastReported.After(cur.LastReported) {
			latest[s.StationID] = s
		}
	}
	for id, st := range idx {
		if st.Capacity > 0 {
			continue
		}
		if snap, ok := latest[id]; ok && snap.Capacity > 0 {
			st.Capacity = snap.Capacity
			idx[id] = st
		}
	}
}
