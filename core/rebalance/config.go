package rebalance

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidConfig reports a matcher configuration that cannot be used for
// any station.
var ErrInvalidConfig = errors.New("invalid rebalance config")

// Config defines matcher tunables.
type Config struct {
	// TargetFraction is the share of capacity considered the ideal level.
	TargetFraction float64 `json:"target_fraction"`
	// MaxDistanceM bounds the great-circle distance of a move in meters.
	MaxDistanceM float64 `json:"max_distance_m"`
}

// DefaultConfig returns the production tunables.
func DefaultConfig() Config {
	return Config{TargetFraction: 0.5, MaxDistanceM: 5000}
}

// Validate checks the tunables.
func (c Config) Validate() error {
	if math.IsNaN(c.TargetFraction) || c.TargetFraction <= 0 || c.TargetFraction >= 1 {
		return fmt.Errorf("%w: target_fraction %v must be in (0,1)", ErrInvalidConfig, c.TargetFraction)
	}
	if math.IsNaN(c.MaxDistanceM) || math.IsInf(c.MaxDistanceM, 0) || c.MaxDistanceM <= 0 {
		return fmt.Errorf("%w: max_distance_m %v must be positive", ErrInvalidConfig, c.MaxDistanceM)
	}
	return nil
}

// Target returns the ideal bike count for capacity.
func (c Config) Target(capacity int) int {
	return int(math.Round(float64(capacity) * c.TargetFraction))
}
