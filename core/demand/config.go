package demand

import "fmt"

// Averaging selects the divisor used to turn slot counts into averages.
type Averaging string

const (
	// AveragingCalendarDays divides by every date of the slot's weekday in the
	// observed history span, so days without activity count as zero.
	AveragingCalendarDays Averaging = "calendar_days"
	// AveragingActiveDays divides by the dates on which the station had at
	// least one event in the slot.
	AveragingActiveDays Averaging = "active_days"
)

// Config defines aggregation settings.
type Config struct {
	Averaging Averaging `json:"averaging"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.Averaging == "" {
		c.Averaging = AveragingCalendarDays
	}
}

// Validate checks the averaging mode.
func (c Config) Validate() error {
	switch c.Averaging {
	case AveragingCalendarDays, AveragingActiveDays:
		return nil
	default:
		return fmt.Errorf("unknown averaging mode %q", c.Averaging)
	}
}
