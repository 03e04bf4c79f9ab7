// Package sqlite implements the pipeline store on an embedded SQLite
// database. It backs local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/store"
)

//go:embed schema.sql
var schema string

// Store persists pipeline data to a SQLite database.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// A single connection serialises writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// withTx runs fn in a transaction. The transaction is rolled back when fn
// fails or ctx is done before commit.
func (s *Store) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// execEach prepares query once and runs it for every argument set.
func execEach(ctx context.Context, tx *sql.Tx, query string, n int, args func(i int) []any) (int, error) {
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return 0, fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()
	affected := 0
	for i := 0; i < n; i++ {
		res, err := stmt.ExecContext(ctx, args(i)...)
		if err != nil {
			return affected, err
		}
		if k, err := res.RowsAffected(); err == nil {
			affected += int(k)
		}
	}
	return affected, nil
}

// Timestamps are stored as UTC unix nanoseconds; 0 is the zero time.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// UpsertStations inserts or updates stations. A zero capacity, an empty name
// or a (0,0) position keeps the stored value.
func (s *Store) UpsertStations(ctx context.Context, stations []model.Station) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := execEach(ctx, tx, `INSERT INTO station (station_id, station_name, capacity, lat, lng)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (station_id) DO UPDATE SET
    station_name = CASE WHEN excluded.station_name <> '' THEN excluded.station_name ELSE station.station_name END,
    capacity = CASE WHEN excluded.capacity > 0 THEN excluded.capacity ELSE station.capacity END,
    lat = CASE WHEN excluded.lat = 0 AND excluded.lng = 0 THEN station.lat ELSE excluded.lat END,
    lng = CASE WHEN excluded.lat = 0 AND excluded.lng = 0 THEN station.lng ELSE excluded.lng END`, len(stations), func(i int) []any {
			st := stations[i]
			return []any{st.ID, st.Name, st.Capacity, st.Lat, st.Lng}
		})
		if err != nil {
			return fmt.Errorf("upsert stations: %w", err)
		}
		return nil
	})
}

// LoadStations returns every station ordered by id.
func (s *Store) LoadStations(ctx context.Context) ([]model.Station, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT station_id, station_name, capacity, lat, lng FROM station ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Station
	for rows.Next() {
		var st model.Station
		if err := rows.Scan(&st.ID, &st.Name, &st.Capacity, &st.Lat, &st.Lng); err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// UpsertInventory replaces the snapshot of each given station.
func (s *Store) UpsertInventory(ctx context.Context, snaps []model.InventorySnapshot) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := execEach(ctx, tx, `INSERT INTO station_inventory (station_id, current_bikes, capacity, last_reported)
VALUES (?, ?, ?, ?)
ON CONFLICT (station_id) DO UPDATE SET
    current_bikes = excluded.current_bikes,
    capacity = excluded.capacity,
    last_reported = excluded.last_reported`, len(snaps), func(i int) []any {
			sn := snaps[i]
			return []any{sn.StationID, sn.CurrentBikes, sn.Capacity, nanos(sn.LastReported)}
		})
		if err != nil {
			return fmt.Errorf("upsert inventory: %w", err)
		}
		return nil
	})
}

// LoadInventory returns every snapshot ordered by station id.
func (s *Store) LoadInventory(ctx context.Context) ([]model.InventorySnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT station_id, current_bikes, capacity, last_reported FROM station_inventory ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.InventorySnapshot
	for rows.Next() {
		var sn model.InventorySnapshot
		var ts int64
		if err := rows.Scan(&sn.StationID, &sn.CurrentBikes, &sn.Capacity, &ts); err != nil {
			return nil, err
		}
		sn.LastReported = fromNanos(ts)
		out = append(out, sn)
	}
	return out, rows.Err()
}

// InsertTrips adds trips and ignores ride ids already stored.
func (s *Store) InsertTrips(ctx context.Context, trips []model.Trip) (int, error) {
	inserted := 0
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		n, err := execEach(ctx, tx, `INSERT INTO trip (ride_id, start_station_id, end_station_id, started_at, ended_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (ride_id) DO NOTHING`, len(trips), func(i int) []any {
			t := trips[i]
			return []any{t.ID, nullString(t.StartStationID), nullString(t.EndStationID), nullNanos(t.StartedAt), nullNanos(t.EndedAt)}
		})
		if err != nil {
			return fmt.Errorf("insert trips: %w", err)
		}
		inserted = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ScanTrips streams every trip to fn ordered by ride id. fn must not call
// back into the store while the scan holds the connection.
func (s *Store) ScanTrips(ctx context.Context, fn func(model.Trip) error) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ride_id, start_station_id, end_station_id, started_at, ended_at FROM trip ORDER BY ride_id`)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			t          model.Trip
			start, end sql.NullString
			sAt, eAt   sql.NullInt64
		)
		if err := rows.Scan(&t.ID, &start, &end, &sAt, &eAt); err != nil {
			return err
		}
		if start.Valid {
			t.StartStationID = &start.String
		}
		if end.Valid {
			t.EndStationID = &end.String
		}
		if sAt.Valid {
			ts := fromNanos(sAt.Int64)
			t.StartedAt = &ts
		}
		if eAt.Valid {
			ts := fromNanos(eAt.Int64)
			t.EndedAt = &ts
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpsertDemand writes demand rows keyed by station and slot.
func (s *Store) UpsertDemand(ctx context.Context, rows []model.DemandBucket) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := execEach(ctx, tx, `INSERT INTO station_demand_profile
    (station_id, day_of_week, hour_of_day, quarter_hour, avg_arrivals_15m, avg_departures_15m, avg_net_flow_15m)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (station_id, day_of_week, hour_of_day, quarter_hour) DO UPDATE SET
    avg_arrivals_15m = excluded.avg_arrivals_15m,
    avg_departures_15m = excluded.avg_departures_15m,
    avg_net_flow_15m = excluded.avg_net_flow_15m`, len(rows), func(i int) []any {
			r := rows[i]
			return []any{r.StationID, r.Bucket.DayOfWeek, r.Bucket.Hour, r.Bucket.Quarter,
				r.AvgArrivals, r.AvgDepartures, r.AvgNetFlow}
		})
		if err != nil {
			return fmt.Errorf("upsert demand: %w", err)
		}
		return nil
	})
}

// LoadDemand returns every demand row ordered by station and slot.
func (s *Store) LoadDemand(ctx context.Context) ([]model.DemandBucket, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT station_id, day_of_week, hour_of_day, quarter_hour,
    avg_arrivals_15m, avg_departures_15m, avg_net_flow_15m
FROM station_demand_profile
ORDER BY station_id, day_of_week, hour_of_day, quarter_hour`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.DemandBucket
	for rows.Next() {
		var (
			r model.DemandBucket
			k bucket.Key
		)
		if err := rows.Scan(&r.StationID, &k.DayOfWeek, &k.Hour, &k.Quarter,
			&r.AvgArrivals, &r.AvgDepartures, &r.AvgNetFlow); err != nil {
			return nil, err
		}
		r.Bucket = k
		out = append(out, r)
	}
	return out, rows.Err()
}

// UpsertForecasts writes forecasts keyed by station and forecast time.
func (s *Store) UpsertForecasts(ctx context.Context, forecasts []model.Forecast) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		_, err := execEach(ctx, tx, `INSERT INTO forecast (station_id, forecast_ts, predicted_bikes_15m, risk_status, flow_rule)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (station_id, forecast_ts) DO UPDATE SET
    predicted_bikes_15m = excluded.predicted_bikes_15m,
    risk_status = excluded.risk_status,
    flow_rule = excluded.flow_rule`, len(forecasts), func(i int) []any {
			f := forecasts[i]
			return []any{f.StationID, nanos(f.ForecastTS), f.PredictedBikes, f.Risk.String(), f.Rule}
		})
		if err != nil {
			return fmt.Errorf("upsert forecasts: %w", err)
		}
		return nil
	})
}

// LatestForecasts returns the most recent forecast of every station.
func (s *Store) LatestForecasts(ctx context.Context) ([]model.Forecast, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT f.station_id, f.forecast_ts, f.predicted_bikes_15m, f.risk_status, f.flow_rule
FROM forecast f
JOIN (SELECT station_id, MAX(forecast_ts) AS ts FROM forecast GROUP BY station_id) latest
  ON latest.station_id = f.station_id AND latest.ts = f.forecast_ts
ORDER BY f.station_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.Forecast
	for rows.Next() {
		var (
			f    model.Forecast
			ts   int64
			risk string
		)
		if err := rows.Scan(&f.StationID, &ts, &f.PredictedBikes, &risk, &f.Rule); err != nil {
			return nil, err
		}
		f.ForecastTS = fromNanos(ts)
		if f.Risk, err = model.ParseRisk(risk); err != nil {
			return nil, fmt.Errorf("forecast %s: %w", f.StationID, err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// ReplaceJobs swaps the stored job set for jobs in one transaction.
func (s *Store) ReplaceJobs(ctx context.Context, jobs []model.RebalancingJob) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM rebalancing_job`); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		_, err := execEach(ctx, tx, `INSERT INTO rebalancing_job
    (id, from_station_id, to_station_id, bikes_to_move, distance_m, forecast_ts, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`, len(jobs), func(i int) []any {
			j := jobs[i]
			return []any{j.ID, j.FromStationID, j.ToStationID, j.BikesToMove, j.DistanceM,
				nanos(j.ForecastTS), nanos(j.CreatedAt)}
		})
		if err != nil {
			return fmt.Errorf("insert jobs: %w", err)
		}
		return nil
	})
}

// ListJobs returns the current job set, largest moves first.
func (s *Store) ListJobs(ctx context.Context) ([]model.RebalancingJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, from_station_id, to_station_id, bikes_to_move, distance_m, forecast_ts, created_at
FROM rebalancing_job
ORDER BY bikes_to_move DESC, from_station_id, to_station_id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var out []model.RebalancingJob
	for rows.Next() {
		var (
			j        model.RebalancingJob
			fts, cts int64
		)
		if err := rows.Scan(&j.ID, &j.FromStationID, &j.ToStationID, &j.BikesToMove, &j.DistanceM, &fts, &cts); err != nil {
			return nil, err
		}
		j.ForecastTS = fromNanos(fts)
		j.CreatedAt = fromNanos(cts)
		out = append(out, j)
	}
	return out, rows.Err()
}
