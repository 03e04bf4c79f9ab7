package forecast

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/model"
)

// Table indexes demand rows by station for the fallback lookups.
type Table struct {
	stations map[string]*stationDemand
}

type stationDemand struct {
	flows map[bucket.Key]float64
	// all holds the flows in slot order so that means are reproducible.
	all []float64
}

// NewTable builds a lookup table. Duplicate keys keep the last row.
func NewTable(rows []model.DemandBucket) *Table {
	t := &Table{stations: make(map[string]*stationDemand)}
	for _, r := range rows {
		sd, ok := t.stations[r.StationID]
		if !ok {
			sd = &stationDemand{flows: make(map[bucket.Key]float64)}
			t.stations[r.StationID] = sd
		}
		sd.flows[r.Bucket] = r.AvgNetFlow
	}
	for _, sd := range t.stations {
		keys := make([]bucket.Key, 0, len(sd.flows))
		for k := range sd.flows {
			keys = append(keys, k)
		}
		sort.Slice(keys, func(i, j int) bool { return keys[i].Less(keys[j]) })
		sd.all = make([]float64, len(keys))
		for i, k := range keys {
			sd.all[i] = sd.flows[k]
		}
	}
	return t
}

// Len returns the number of stations with history.
func (t *Table) Len() int { return len(t.stations) }

func (t *Table) station(id string) *stationDemand {
	if t == nil {
		return nil
	}
	return t.stations[id]
}

// Rule resolves an expected net flow, reporting false when it has no data.
type Rule struct {
	Name    string
	Resolve func(t *Table, station string, k bucket.Key) (float64, bool)
}

// Rule names, in evaluation order.
const (
	RuleExact       = "exact"
	RuleDayHour     = "day_hour"
	RuleHourQuarter = "hour_quarter"
	RuleStation     = "station"
	RuleDefault     = "default"
)

// DefaultRules is the lookup chain used by the engine.
var DefaultRules = []Rule{
	{Name: RuleExact, Resolve: exactFlow},
	{Name: RuleDayHour, Resolve: dayHourFlow},
	{Name: RuleHourQuarter, Resolve: hourQuarterFlow},
	{Name: RuleStation, Resolve: stationFlow},
	{Name: RuleDefault, Resolve: func(*Table, string, bucket.Key) (float64, bool) { return 0, true }},
}

// Resolve walks rules in order and returns the first value found together
// with the name of the rule that produced it.
func Resolve(rules []Rule, t *Table, station string, k bucket.Key) (float64, string) {
	for _, r := range rules {
		if v, ok := r.Resolve(t, station, k); ok {
			return v, r.Name
		}
	}
	return 0, RuleDefault
}

func exactFlow(t *Table, station string, k bucket.Key) (float64, bool) {
	sd := t.station(station)
	if sd == nil {
		return 0, false
	}
	v, ok := sd.flows[k]
	return v, ok
}

func dayHourFlow(t *Table, station string, k bucket.Key) (float64, bool) {
	sd := t.station(station)
	if sd == nil {
		return 0, false
	}
	var xs []float64
	for q := 0; q < bucket.QuartersPerHour; q++ {
		if v, ok := sd.flows[bucket.Key{DayOfWeek: k.DayOfWeek, Hour: k.Hour, Quarter: q}]; ok {
			xs = append(xs, v)
		}
	}
	return mean(xs)
}

// hourQuarterFlow ignores the day of week on purpose.
func hourQuarterFlow(t *Table, station string, k bucket.Key) (float64, bool) {
	sd := t.station(station)
	if sd == nil {
		return 0, false
	}
	var xs []float64
	for d := 0; d < 7; d++ {
		if v, ok := sd.flows[bucket.Key{DayOfWeek: d, Hour: k.Hour, Quarter: k.Quarter}]; ok {
			xs = append(xs, v)
		}
	}
	return mean(xs)
}

func stationFlow(t *Table, station string, _ bucket.Key) (float64, bool) {
	sd := t.station(station)
	if sd == nil {
		return 0, false
	}
	return mean(sd.all)
}

func mean(xs []float64) (float64, bool) {
	if len(xs) == 0 {
		return 0, false
	}
	return stat.Mean(xs, nil), true
}
