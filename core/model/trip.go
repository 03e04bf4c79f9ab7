package model

import (
	"fmt"
	"time"
)

// Trip is one historical ride. Station references and timestamps may be
// missing in the source data; each side of the trip is used independently.
type Trip struct {
	ID             string     `json:"ride_id"`
	StartStationID *string    `json:"start_station_id,omitempty"`
	EndStationID   *string    `json:"end_station_id,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
}

// Validate rejects trips that cannot be trusted on either side.
func (t Trip) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("trip id is required")
	}
	if t.StartedAt != nil && t.EndedAt != nil && t.EndedAt.Before(*t.StartedAt) {
		return fmt.Errorf("trip %s: ended_at %s before started_at %s", t.ID,
			t.EndedAt.Format(time.RFC3339), t.StartedAt.Format(time.RFC3339))
	}
	return nil
}

// Departure returns the origin station and start time when both are known.
func (t Trip) Departure() (string, time.Time, bool) {
	if t.StartStationID == nil || *t.StartStationID == "" || t.StartedAt == nil {
		return "", time.Time{}, false
	}
	return *t.StartStationID, *t.StartedAt, true
}

// Arrival returns the destination station and end time when both are known.
func (t Trip) Arrival() (string, time.Time, bool) {
	if t.EndStationID == nil || *t.EndStationID == "" || t.EndedAt == nil {
		return "", time.Time{}, false
	}
	return *t.EndStationID, *t.EndedAt, true
}
