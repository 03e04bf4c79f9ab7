package bucket

import (
	"fmt"
	"time"
)

const (
	// QuartersPerHour is the number of 15-minute slots in an hour.
	QuartersPerHour = 4
	// SlotsPerWeek is the number of distinct keys.
	SlotsPerWeek = 7 * 24 * QuartersPerHour
)

// Key identifies a (day of week, hour, quarter hour) slot.
type Key struct {
	DayOfWeek int `json:"day_of_week"`
	Hour      int `json:"hour_of_day"`
	Quarter   int `json:"quarter_hour"`
}

// Of returns the bucket of t evaluated in t's own location.
func Of(t time.Time) Key {
	return Key{
		DayOfWeek: int(t.Weekday()),
		Hour:      t.Hour(),
		Quarter:   t.Minute() / 15,
	}
}

// Valid reports whether every component is within range.
func (k Key) Valid() bool {
	return k.DayOfWeek >= 0 && k.DayOfWeek <= 6 &&
		k.Hour >= 0 && k.Hour <= 23 &&
		k.Quarter >= 0 && k.Quarter < QuartersPerHour
}

// Index returns a dense ordinal in [0, SlotsPerWeek).
func (k Key) Index() int {
	return (k.DayOfWeek*24+k.Hour)*QuartersPerHour + k.Quarter
}

// Less orders keys by day, hour then quarter.
func (k Key) Less(o Key) bool { return k.Index() < o.Index() }

func (k Key) String() string {
	return fmt.Sprintf("%s %02d:%02d", time.Weekday(k.DayOfWeek).String()[:3], k.Hour, k.Quarter*15)
}

// Bucketer evaluates buckets in a fixed time zone so that trips and inventory
// snapshots reported with different offsets land in the same slots.
type Bucketer struct {
	loc *time.Location
}

// New returns a Bucketer for loc. A nil location means UTC.
func New(loc *time.Location) Bucketer {
	if loc == nil {
		loc = time.UTC
	}
	return Bucketer{loc: loc}
}

// Of returns the bucket of t converted to the bucketer's location.
func (b Bucketer) Of(t time.Time) Key {
	return Of(t.In(b.location()))
}

// Date returns midnight of t's calendar day in the bucketer's location.
func (b Bucketer) Date(t time.Time) time.Time {
	loc := b.location()
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Location returns the configured time zone.
func (b Bucketer) Location() *time.Location { return b.location() }

func (b Bucketer) location() *time.Location {
	if b.loc == nil {
		return time.UTC
	}
	return b.loc
}
