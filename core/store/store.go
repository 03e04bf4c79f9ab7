// Package store defines the persistence boundary of the pipeline. Every
// write method commits its whole input in one transaction so readers never
// observe a half-finished stage.
package store

import (
	"context"

	"github.com/kilianp07/dockflow/core/model"
)

// StationStore reads and writes station metadata.
type StationStore interface {
	// UpsertStations inserts or updates stations by id. A zero capacity
	// keeps the capacity already stored.
	UpsertStations(ctx context.Context, stations []model.Station) error
	LoadStations(ctx context.Context) ([]model.Station, error)
}

// InventoryStore reads and writes live inventory snapshots.
type InventoryStore interface {
	UpsertInventory(ctx context.Context, snaps []model.InventorySnapshot) error
	LoadInventory(ctx context.Context) ([]model.InventorySnapshot, error)
}

// TripStore holds the historical trip log.
type TripStore interface {
	// InsertTrips adds trips, ignoring ids already present, and returns the
	// number of new rows.
	InsertTrips(ctx context.Context, trips []model.Trip) (int, error)
	// ScanTrips streams every trip to fn in id order. An error from fn stops
	// the scan and is returned.
	ScanTrips(ctx context.Context, fn func(model.Trip) error) error
}

// DemandStore holds aggregated demand rows.
type DemandStore interface {
	// UpsertDemand writes rows keyed by station and slot.
	UpsertDemand(ctx context.Context, rows []model.DemandBucket) error
	LoadDemand(ctx context.Context) ([]model.DemandBucket, error)
}

// ForecastStore holds forecast rows.
type ForecastStore interface {
	// UpsertForecasts writes rows keyed by station and forecast timestamp.
	UpsertForecasts(ctx context.Context, forecasts []model.Forecast) error
	// LatestForecasts returns the most recent forecast of every station.
	LatestForecasts(ctx context.Context) ([]model.Forecast, error)
}

// JobStore holds the current rebalancing job set.
type JobStore interface {
	// ReplaceJobs deletes every stored job and inserts jobs atomically.
	ReplaceJobs(ctx context.Context, jobs []model.RebalancingJob) error
	ListJobs(ctx context.Context) ([]model.RebalancingJob, error)
}

// Store aggregates every persistence concern of the pipeline.
type Store interface {
	StationStore
	InventoryStore
	TripStore
	DemandStore
	ForecastStore
	JobStore
	Close() error
}
