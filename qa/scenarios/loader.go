// Package scenarios replays YAML rebalancing scenarios through the full
// pipeline on a throwaway SQLite store.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/dockflow/core/model"
)

type StationDef struct {
	ID       string  `yaml:"id"`
	Capacity int     `yaml:"capacity"`
	Lat      float64 `yaml:"lat"`
	Lng      float64 `yaml:"lng"`
}

func (s StationDef) ToModel() model.Station {
	return model.Station{ID: s.ID, Name: s.ID, Capacity: s.Capacity, Lat: s.Lat, Lng: s.Lng}
}

type InventoryDef struct {
	Station string `yaml:"station"`
	Bikes   int    `yaml:"bikes"`
	// Capacity defaults to the station capacity.
	Capacity *int `yaml:"capacity,omitempty"`
}

// TripDef is a ride; Start and End are "2006-01-02 15:04" in UTC.
type TripDef struct {
	ID    string `yaml:"id"`
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Start string `yaml:"start"`
	End   string `yaml:"end"`
	Count int    `yaml:"count,omitempty"`
}

// ToModel expands the definition into Count trips with suffixed ids.
func (d TripDef) ToModel() ([]model.Trip, error) {
	start, err := time.Parse("2006-01-02 15:04", d.Start)
	if err != nil {
		return nil, fmt.Errorf("trip %s start: %w", d.ID, err)
	}
	end, err := time.Parse("2006-01-02 15:04", d.End)
	if err != nil {
		return nil, fmt.Errorf("trip %s end: %w", d.ID, err)
	}
	n := d.Count
	if n <= 0 {
		n = 1
	}
	out := make([]model.Trip, 0, n)
	for i := 0; i < n; i++ {
		from, to := d.From, d.To
		t := model.Trip{ID: fmt.Sprintf("%s-%d", d.ID, i), StartedAt: &start, EndedAt: &end}
		if from != "" {
			t.StartStationID = &from
		}
		if to != "" {
			t.EndStationID = &to
		}
		out = append(out, t)
	}
	return out, nil
}

type ForecastExpect struct {
	Bikes int    `yaml:"bikes"`
	Risk  string `yaml:"risk"`
}

type JobExpect struct {
	From  string `yaml:"from"`
	To    string `yaml:"to"`
	Bikes int    `yaml:"bikes"`
}

type Expected struct {
	Forecasts map[string]ForecastExpect `yaml:"forecasts"`
	Jobs      []JobExpect               `yaml:"jobs"`
	// Skipped lists per-stage skip counts, keyed by stage then reason.
	Skipped map[string]map[string]int `yaml:"skipped,omitempty"`
}

type Tunables struct {
	TargetFraction float64 `yaml:"target_fraction,omitempty"`
	MaxDistanceM   float64 `yaml:"max_distance_m,omitempty"`
	EmptyThreshold *int    `yaml:"empty_threshold,omitempty"`
	FullMargin     *int    `yaml:"full_margin,omitempty"`
	Averaging      string  `yaml:"averaging,omitempty"`
}

type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description,omitempty"`
	ForecastTS  string         `yaml:"forecast_ts"`
	Config      Tunables       `yaml:"config,omitempty"`
	Stations    []StationDef   `yaml:"stations"`
	Inventory   []InventoryDef `yaml:"inventory"`
	Trips       []TripDef      `yaml:"trips,omitempty"`
	Expected    Expected       `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if sc.Name == "" {
		return nil, fmt.Errorf("%s: scenario name is required", path)
	}
	return &sc, nil
}
