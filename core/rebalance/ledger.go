package rebalance

import (
	"sort"

	"github.com/kilianp07/dockflow/core/geo"
	"github.com/kilianp07/dockflow/core/model"
)

const (
	tierUrgent = 1
	tierSlack  = 2
)

// party is a station taking part in one run as a source or a sink.
type party struct {
	stationID string
	point     geo.Point
	tier      int
	// quantity is the original surplus or deficit; remaining is decremented
	// as jobs are emitted.
	quantity  int
	remaining int
	forecast  model.Forecast
}

// ledger holds the mutable accumulators of a single matching run.
type ledger struct {
	sources []*party
	sinks   []*party
}

func (l *ledger) addSource(p *party) { l.sources = append(l.sources, p) }
func (l *ledger) addSink(p *party)   { l.sinks = append(l.sinks, p) }

// sortSources orders sources by tier, then larger surplus, then id.
func (l *ledger) sortSources() {
	sort.Slice(l.sources, func(i, j int) bool {
		a, b := l.sources[i], l.sources[j]
		if a.tier != b.tier {
			return a.tier < b.tier
		}
		if a.quantity != b.quantity {
			return a.quantity > b.quantity
		}
		return a.stationID < b.stationID
	})
}

type candidate struct {
	sink     *party
	distance float64
}

// candidates returns the sinks within maxDistance of src that still need
// bikes, ordered by tier, distance and id.
func (l *ledger) candidates(src *party, maxDistance float64) []candidate {
	var out []candidate
	for _, s := range l.sinks {
		if s.remaining <= 0 || s.stationID == src.stationID {
			continue
		}
		d := geo.DistanceMeters(src.point, s.point)
		if d > maxDistance {
			continue
		}
		out = append(out, candidate{sink: s, distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.sink.tier != b.sink.tier {
			return a.sink.tier < b.sink.tier
		}
		if a.distance != b.distance {
			return a.distance < b.distance
		}
		return a.sink.stationID < b.sink.stationID
	})
	return out
}
