package model

import (
	"fmt"
	"time"
)

// Risk classifies the predicted occupancy of a station.
type Risk int

const (
	RiskBalanced Risk = iota
	RiskEmptySoon
	RiskFullSoon
)

// String returns the persisted name of the risk.
func (r Risk) String() string {
	switch r {
	case RiskEmptySoon:
		return "empty_soon"
	case RiskFullSoon:
		return "full_soon"
	case RiskBalanced:
		return "balanced"
	default:
		return "unknown"
	}
}

// ParseRisk converts a persisted name back into a Risk.
func ParseRisk(s string) (Risk, error) {
	switch s {
	case "empty_soon":
		return RiskEmptySoon, nil
	case "full_soon":
		return RiskFullSoon, nil
	case "balanced":
		return RiskBalanced, nil
	default:
		return RiskBalanced, fmt.Errorf("unknown risk status %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (r Risk) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Risk) UnmarshalText(b []byte) error {
	v, err := ParseRisk(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// Forecast is the predicted bike count of a station 15 minutes ahead.
type Forecast struct {
	StationID      string    `json:"station_id"`
	ForecastTS     time.Time `json:"forecast_ts"`
	PredictedBikes int       `json:"predicted_bikes_15m"`
	Risk           Risk      `json:"risk_status"`
	// Rule names the demand lookup that produced the expected flow.
	Rule string `json:"flow_rule,omitempty"`
}
