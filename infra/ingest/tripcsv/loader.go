// Package tripcsv loads historical trip exports (Bay Wheels style CSV) into
// the trip store and registers the stations they reference.
package tripcsv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kilianp07/dockflow/core/logger"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/store"
)

// Sink receives parsed trips and discovered stations.
type Sink interface {
	store.TripStore
	store.StationStore
}

// Config tunes the loader.
type Config struct {
	BatchSize int `json:"batch_size"`
	// Location interprets timestamps without a zone offset.
	Location *time.Location `json:"-"`
}

// SetDefaults applies default values.
func (c *Config) SetDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 1000
	}
	if c.Location == nil {
		c.Location = time.UTC
	}
}

// Loader parses CSV exports and writes them in batches.
type Loader struct {
	sink Sink
	cfg  Config
	log  logger.Logger
}

// New returns a Loader writing to sink.
func New(sink Sink, cfg Config, log logger.Logger) *Loader {
	cfg.SetDefaults()
	if log == nil {
		log = logger.NopLogger{}
	}
	return &Loader{sink: sink, cfg: cfg, log: log}
}

// column candidates, first non-empty wins.
var columns = map[string][]string{
	"ride_id":            {"ride_id"},
	"started_at":         {"started_at", "start_time"},
	"ended_at":           {"ended_at", "end_time"},
	"start_station_id":   {"start_station_id", "start_station_code"},
	"start_station_name": {"start_station_name"},
	"end_station_id":     {"end_station_id", "end_station_code"},
	"end_station_name":   {"end_station_name"},
	"start_lat":          {"start_lat", "start_latitude", "start_station_latitude"},
	"start_lng":          {"start_lng", "start_longitude", "start_station_longitude"},
	"end_lat":            {"end_lat", "end_latitude", "end_station_latitude"},
	"end_lng":            {"end_lng", "end_longitude", "end_station_longitude"},
}

var layouts = []string{
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-0700",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05-0700",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
}

// ParseTimestamp accepts the timestamp layouts found in trip exports. Values
// without an offset are read in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range layouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}

type header map[string]int

func newHeader(rec []string) header {
	h := make(header, len(rec))
	for i, name := range rec {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		if _, dup := h[name]; !dup {
			h[name] = i
		}
	}
	return h
}

func (h header) get(rec []string, field string) string {
	for _, name := range columns[field] {
		if i, ok := h[name]; ok && i < len(rec) {
			if v := strings.TrimSpace(rec[i]); v != "" {
				return v
			}
		}
	}
	return ""
}

// stationSet accumulates stations seen in a file. Later non-empty values
// replace earlier ones.
type stationSet map[string]*model.Station

func (s stationSet) observe(id, name, lat, lng string) {
	st, ok := s[id]
	if !ok {
		st = &model.Station{ID: id}
		s[id] = st
	}
	if name != "" {
		st.Name = name
	}
	la, errLat := strconv.ParseFloat(lat, 64)
	ln, errLng := strconv.ParseFloat(lng, 64)
	if errLat == nil && errLng == nil {
		st.Lat, st.Lng = la, ln
	}
}

func (s stationSet) list() []model.Station {
	out := make([]model.Station, 0, len(s))
	for _, st := range s {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Load reads one CSV stream. Malformed rows are counted as invalid records
// in report; trips are written every BatchSize rows and stations once at the
// end.
func (l *Loader) Load(ctx context.Context, r io.Reader, report *model.StageReport) error {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	first, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("read header: %w", err)
	}
	h := newHeader(first)
	if _, ok := h["ride_id"]; !ok {
		return fmt.Errorf("missing ride_id column")
	}

	stations := stationSet{}
	batch := make([]model.Trip, 0, l.cfg.BatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := l.sink.InsertTrips(ctx, batch)
		if err != nil {
			return err
		}
		report.Written += n
		batch = batch[:0]
		return nil
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				report.Processed++
				report.Skip(model.SkipInvalidRecord)
				l.log.Warnf("tripcsv: %v", err)
				continue
			}
			return err
		}
		report.Processed++
		trip, ok := l.parse(h, rec, stations)
		if !ok {
			report.Skip(model.SkipInvalidRecord)
			continue
		}
		batch = append(batch, trip)
		if len(batch) >= l.cfg.BatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	if len(stations) > 0 {
		if err := l.sink.UpsertStations(ctx, stations.list()); err != nil {
			return err
		}
	}
	return nil
}

func (l *Loader) parse(h header, rec []string, stations stationSet) (model.Trip, bool) {
	t := model.Trip{ID: h.get(rec, "ride_id")}
	if t.ID == "" {
		l.log.Debugf("tripcsv: row without ride_id")
		return t, false
	}
	for _, side := range []struct {
		field string
		dst   **time.Time
	}{{"started_at", &t.StartedAt}, {"ended_at", &t.EndedAt}} {
		raw := h.get(rec, side.field)
		if raw == "" {
			continue
		}
		ts, err := ParseTimestamp(raw, l.cfg.Location)
		if err != nil {
			l.log.Debugf("tripcsv: ride %s: %v", t.ID, err)
			return t, false
		}
		*side.dst = &ts
	}
	if id := h.get(rec, "start_station_id"); id != "" {
		t.StartStationID = &id
	}
	if id := h.get(rec, "end_station_id"); id != "" {
		t.EndStationID = &id
	}
	if err := t.Validate(); err != nil {
		l.log.Debugf("tripcsv: %v", err)
		return t, false
	}
	if t.StartStationID != nil {
		stations.observe(*t.StartStationID, h.get(rec, "start_station_name"), h.get(rec, "start_lat"), h.get(rec, "start_lng"))
	}
	if t.EndStationID != nil {
		stations.observe(*t.EndStationID, h.get(rec, "end_station_name"), h.get(rec, "end_lat"), h.get(rec, "end_lng"))
	}
	return t, true
}

// LoadPaths loads every file in paths. Directories contribute their *.csv
// files in name order. A file that fails is logged and the next one is
// still loaded; the joined errors are returned.
func (l *Loader) LoadPaths(ctx context.Context, paths []string, report *model.StageReport) error {
	files, err := expand(paths)
	if err != nil {
		return err
	}
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		l.log.Infof("tripcsv: processing %s", f)
		before := report.Processed
		if err := l.loadFile(ctx, f, report); err != nil {
			l.log.Errorf("tripcsv: %s: %v", f, err)
			errs = append(errs, fmt.Errorf("%s: %w", f, err))
			continue
		}
		l.log.Infof("tripcsv: finished %s: %d rows", f, report.Processed-before)
	}
	return errors.Join(errs...)
}

func (l *Loader) loadFile(ctx context.Context, path string, report *model.StageReport) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	return l.Load(ctx, f, report)
}

func expand(paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.csv"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		out = append(out, matches...)
	}
	return out, nil
}
