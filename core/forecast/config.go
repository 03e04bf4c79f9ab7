package forecast

import (
	"fmt"
	"time"
)

// Config defines forecast thresholds.
type Config struct {
	// EmptyThreshold marks stations with at most this many bikes as empty soon.
	EmptyThreshold int `json:"empty_threshold"`
	// FullMargin marks stations within this many bikes of capacity as full soon.
	FullMargin int `json:"full_margin"`
	// ForecastTS optionally replaces every snapshot's last_reported time
	// (RFC 3339). Used for deterministic runs.
	ForecastTS string `json:"forecast_ts"`
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{EmptyThreshold: 2, FullMargin: 3}
}

// Validate checks threshold ranges and the override format.
func (c Config) Validate() error {
	if c.EmptyThreshold < 0 {
		return fmt.Errorf("empty_threshold must be >= 0")
	}
	if c.FullMargin < 0 {
		return fmt.Errorf("full_margin must be >= 0")
	}
	if _, _, err := c.Override(); err != nil {
		return err
	}
	return nil
}

// Override returns the parsed forecast_ts, if set.
func (c Config) Override() (time.Time, bool, error) {
	if c.ForecastTS == "" {
		return time.Time{}, false, nil
	}
	ts, err := time.Parse(time.RFC3339, c.ForecastTS)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("forecast_ts: %w", err)
	}
	return ts, true, nil
}
