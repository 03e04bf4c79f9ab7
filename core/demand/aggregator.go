package demand

import (
	"sort"
	"time"

	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/model"
)

type slot struct {
	station string
	key     bucket.Key
}

type tally struct {
	departures int
	arrivals   int
	days       map[int64]struct{}
}

// Aggregator accumulates departure and arrival counts per station and slot.
// Departures and arrivals are grouped independently: a trip contributes at
// most one departure (origin, start slot) and one arrival (destination, end
// slot). It is not safe for concurrent use.
type Aggregator struct {
	cfg      Config
	bucketer bucket.Bucketer
	counts   map[slot]*tally

	first, last time.Time
	processed   int
	skipped     map[model.SkipReason]int
}

// NewAggregator returns an empty aggregator.
func NewAggregator(cfg Config, b bucket.Bucketer) *Aggregator {
	cfg.SetDefaults()
	return &Aggregator{
		cfg:      cfg,
		bucketer: b,
		counts:   make(map[slot]*tally),
		skipped:  make(map[model.SkipReason]int),
	}
}

// Add counts both sides of a trip. Invalid trips are skipped entirely; a side
// missing its station or timestamp is skipped on its own.
func (a *Aggregator) Add(t model.Trip) {
	a.processed++
	if err := t.Validate(); err != nil {
		a.skipped[model.SkipInvalidRecord]++
		return
	}
	if id, ts, ok := t.Departure(); ok {
		a.record(id, ts, true)
	} else {
		a.skipped[model.SkipMissingStation]++
	}
	if id, ts, ok := t.Arrival(); ok {
		a.record(id, ts, false)
	} else {
		a.skipped[model.SkipMissingStation]++
	}
}

func (a *Aggregator) record(station string, ts time.Time, departure bool) {
	k := slot{station: station, key: a.bucketer.Of(ts)}
	t, ok := a.counts[k]
	if !ok {
		t = &tally{days: make(map[int64]struct{})}
		a.counts[k] = t
	}
	if departure {
		t.departures++
	} else {
		t.arrivals++
	}
	day := a.bucketer.Date(ts)
	t.days[day.Unix()] = struct{}{}
	if a.first.IsZero() || day.Before(a.first) {
		a.first = day
	}
	if a.last.IsZero() || day.After(a.last) {
		a.last = day
	}
}

// Processed returns the number of trips passed to Add.
func (a *Aggregator) Processed() int { return a.processed }

// Skipped returns a copy of the skip counters.
func (a *Aggregator) Skipped() map[model.SkipReason]int {
	out := make(map[model.SkipReason]int, len(a.skipped))
	for k, v := range a.skipped {
		out[k] = v
	}
	return out
}

// Buckets returns one row per (station, slot) seen on either side, sorted by
// station then slot.
func (a *Aggregator) Buckets() []model.DemandBucket {
	var weekdays [7]int
	if a.cfg.Averaging == AveragingCalendarDays && !a.first.IsZero() {
		weekdays = weekdayOccurrences(a.first, a.last)
	}
	out := make([]model.DemandBucket, 0, len(a.counts))
	for k, t := range a.counts {
		div := len(t.days)
		if a.cfg.Averaging == AveragingCalendarDays {
			div = weekdays[k.key.DayOfWeek]
		}
		if div <= 0 {
			continue
		}
		arr := float64(t.arrivals) / float64(div)
		dep := float64(t.departures) / float64(div)
		out = append(out, model.DemandBucket{
			StationID:     k.station,
			Bucket:        k.key,
			AvgArrivals:   arr,
			AvgDepartures: dep,
			AvgNetFlow:    arr - dep,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StationID != out[j].StationID {
			return out[i].StationID < out[j].StationID
		}
		return out[i].Bucket.Less(out[j].Bucket)
	})
	return out
}

// Report fills the counters of a stage report.
func (a *Aggregator) Report(r *model.StageReport) {
	r.Processed = a.processed
	for k, v := range a.skipped {
		if r.Skipped == nil {
			r.Skipped = make(map[model.SkipReason]int)
		}
		r.Skipped[k] += v
	}
}

// Aggregate is a convenience wrapper running an Aggregator over trips.
func Aggregate(cfg Config, b bucket.Bucketer, trips []model.Trip) ([]model.DemandBucket, *Aggregator) {
	agg := NewAggregator(cfg, b)
	for _, t := range trips {
		agg.Add(t)
	}
	return agg.Buckets(), agg
}

// weekdayOccurrences counts the dates of each weekday in [first, last].
func weekdayOccurrences(first, last time.Time) [7]int {
	var res [7]int
	// Compare calendar dates in UTC to stay clear of DST-length days.
	from := time.Date(first.Year(), first.Month(), first.Day(), 0, 0, 0, 0, time.UTC)
	to := time.Date(last.Year(), last.Month(), last.Day(), 0, 0, 0, 0, time.UTC)
	total := int(to.Sub(from)/(24*time.Hour)) + 1
	if total <= 0 {
		return res
	}
	for wd := range res {
		res[wd] = total / 7
	}
	start := int(from.Weekday())
	for i := 0; i < total%7; i++ {
		res[(start+i)%7]++
	}
	return res
}
