// Package postgres implements the pipeline store on PostgreSQL with pgx.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/store"
)

//go:embed schema.sql
var schema string

// Store persists pipeline data to PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

var _ store.Store = (*Store)(nil)

// Open connects to dsn, checks connectivity and ensures the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(context.Background()) }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// sendBatch queues query once per row and executes the batch in tx.
func sendBatch(ctx context.Context, tx pgx.Tx, query string, n int, args func(i int) []any) error {
	if n == 0 {
		return nil
	}
	b := &pgx.Batch{}
	for i := 0; i < n; i++ {
		b.Queue(query, args(i)...)
	}
	return tx.SendBatch(ctx, b).Close()
}

// UpsertStations inserts or updates stations. A zero capacity, an empty name
// or a (0,0) position keeps the stored value.
func (s *Store) UpsertStations(ctx context.Context, stations []model.Station) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := sendBatch(ctx, tx, `INSERT INTO station (station_id, station_name, capacity, lat, lng)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (station_id) DO UPDATE SET
    station_name = CASE WHEN EXCLUDED.station_name <> '' THEN EXCLUDED.station_name ELSE station.station_name END,
    capacity = CASE WHEN EXCLUDED.capacity > 0 THEN EXCLUDED.capacity ELSE station.capacity END,
    lat = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lng = 0 THEN station.lat ELSE EXCLUDED.lat END,
    lng = CASE WHEN EXCLUDED.lat = 0 AND EXCLUDED.lng = 0 THEN station.lng ELSE EXCLUDED.lng END`, len(stations), func(i int) []any {
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
	rows, err := s.pool.Query(ctx, `SELECT station_id, station_name, capacity, lat, lng FROM station ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Station, error) {
		var st model.Station
		err := row.Scan(&st.ID, &st.Name, &st.Capacity, &st.Lat, &st.Lng)
		return st, err
	})
}

// UpsertInventory replaces the snapshot of each given station.
func (s *Store) UpsertInventory(ctx context.Context, snaps []model.InventorySnapshot) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := sendBatch(ctx, tx, `INSERT INTO station_inventory (station_id, current_bikes, capacity, last_reported)
VALUES ($1, $2, $3, $4)
ON CONFLICT (station_id) DO UPDATE SET
    current_bikes = EXCLUDED.current_bikes,
    capacity = EXCLUDED.capacity,
    last_reported = EXCLUDED.last_reported`, len(snaps), func(i int) []any {
			sn := snaps[i]
			return []any{sn.StationID, sn.CurrentBikes, sn.Capacity, sn.LastReported}
		})
		if err != nil {
			return fmt.Errorf("upsert inventory: %w", err)
		}
		return nil
	})
}

// LoadInventory returns every snapshot ordered by station id.
func (s *Store) LoadInventory(ctx context.Context) ([]model.InventorySnapshot, error) {
	rows, err := s.pool.Query(ctx, `SELECT station_id, current_bikes, capacity, last_reported
FROM station_inventory ORDER BY station_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.InventorySnapshot, error) {
		var sn model.InventorySnapshot
		err := row.Scan(&sn.StationID, &sn.CurrentBikes, &sn.Capacity, &sn.LastReported)
		sn.LastReported = sn.LastReported.UTC()
		return sn, err
	})
}

// InsertTrips copies trips into a temporary table and merges them, ignoring
// ride ids already stored.
func (s *Store) InsertTrips(ctx context.Context, trips []model.Trip) (int, error) {
	if len(trips) == 0 {
		return 0, nil
	}
	inserted := 0
	err := s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `CREATE TEMP TABLE trip_stage (LIKE trip INCLUDING DEFAULTS) ON COMMIT DROP`); err != nil {
			return fmt.Errorf("create trip stage: %w", err)
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"trip_stage"},
			[]string{"ride_id", "start_station_id", "end_station_id", "started_at", "ended_at"},
			pgx.CopyFromSlice(len(trips), func(i int) ([]any, error) {
				t := trips[i]
				return []any{t.ID, t.StartStationID, t.EndStationID, t.StartedAt, t.EndedAt}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy trips: %w", err)
		}
		tag, err := tx.Exec(ctx, `INSERT INTO trip SELECT DISTINCT ON (ride_id) * FROM trip_stage
ORDER BY ride_id
ON CONFLICT (ride_id) DO NOTHING`)
		if err != nil {
			return fmt.Errorf("merge trips: %w", err)
		}
		inserted = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// ScanTrips streams every trip to fn ordered by ride id.
func (s *Store) ScanTrips(ctx context.Context, fn func(model.Trip) error) error {
	rows, err := s.pool.Query(ctx, `SELECT ride_id, start_station_id, end_station_id, started_at, ended_at
FROM trip ORDER BY ride_id`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var t model.Trip
		if err := rows.Scan(&t.ID, &t.StartStationID, &t.EndStationID, &t.StartedAt, &t.EndedAt); err != nil {
			return err
		}
		if err := fn(t); err != nil {
			return err
		}
	}
	return rows.Err()
}

// UpsertDemand writes demand rows keyed by station and slot.
func (s *Store) UpsertDemand(ctx context.Context, rows []model.DemandBucket) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := sendBatch(ctx, tx, `INSERT INTO station_demand_profile
    (station_id, day_of_week, hour_of_day, quarter_hour, avg_arrivals_15m, avg_departures_15m, avg_net_flow_15m)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (station_id, day_of_week, hour_of_day, quarter_hour) DO UPDATE SET
    avg_arrivals_15m = EXCLUDED.avg_arrivals_15m,
    avg_departures_15m = EXCLUDED.avg_departures_15m,
    avg_net_flow_15m = EXCLUDED.avg_net_flow_15m`, len(rows), func(i int) []any {
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
	rows, err := s.pool.Query(ctx, `SELECT station_id, day_of_week, hour_of_day, quarter_hour,
    avg_arrivals_15m, avg_departures_15m, avg_net_flow_15m
FROM station_demand_profile
ORDER BY station_id, day_of_week, hour_of_day, quarter_hour`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DemandBucket, error) {
		var r model.DemandBucket
		err := row.Scan(&r.StationID, &r.Bucket.DayOfWeek, &r.Bucket.Hour, &r.Bucket.Quarter,
			&r.AvgArrivals, &r.AvgDepartures, &r.AvgNetFlow)
		return r, err
	})
}

// UpsertForecasts writes forecasts keyed by station and forecast time.
func (s *Store) UpsertForecasts(ctx context.Context, forecasts []model.Forecast) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		err := sendBatch(ctx, tx, `INSERT INTO forecast (station_id, forecast_ts, predicted_bikes_15m, risk_status, flow_rule)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (station_id, forecast_ts) DO UPDATE SET
    predicted_bikes_15m = EXCLUDED.predicted_bikes_15m,
    risk_status = EXCLUDED.risk_status,
    flow_rule = EXCLUDED.flow_rule`, len(forecasts), func(i int) []any {
			f := forecasts[i]
			return []any{f.StationID, f.ForecastTS, f.PredictedBikes, f.Risk.String(), f.Rule}
		})
		if err != nil {
			return fmt.Errorf("upsert forecasts: %w", err)
		}
		return nil
	})
}

// LatestForecasts returns the most recent forecast of every station.
func (s *Store) LatestForecasts(ctx context.Context) ([]model.Forecast, error) {
	rows, err := s.pool.Query(ctx, `SELECT DISTINCT ON (station_id)
    station_id, forecast_ts, predicted_bikes_15m, risk_status, flow_rule
FROM forecast
ORDER BY station_id, forecast_ts DESC`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Forecast, error) {
		var (
			f    model.Forecast
			risk string
		)
		if err := row.Scan(&f.StationID, &f.ForecastTS, &f.PredictedBikes, &risk, &f.Rule); err != nil {
			return f, err
		}
		f.ForecastTS = f.ForecastTS.UTC()
		r, err := model.ParseRisk(risk)
		if err != nil {
			return f, fmt.Errorf("forecast %s: %w", f.StationID, err)
		}
		f.Risk = r
		return f, nil
	})
}

// ReplaceJobs swaps the stored job set for jobs in one transaction.
func (s *Store) ReplaceJobs(ctx context.Context, jobs []model.RebalancingJob) error {
	return s.withTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM rebalancing_job`); err != nil {
			return fmt.Errorf("clear jobs: %w", err)
		}
		if len(jobs) == 0 {
			return nil
		}
		_, err := tx.CopyFrom(ctx, pgx.Identifier{"rebalancing_job"},
			[]string{"id", "from_station_id", "to_station_id", "bikes_to_move", "distance_m", "forecast_ts", "created_at"},
			pgx.CopyFromSlice(len(jobs), func(i int) ([]any, error) {
				j := jobs[i]
				return []any{j.ID, j.FromStationID, j.ToStationID, j.BikesToMove, j.DistanceM, j.ForecastTS, j.CreatedAt}, nil
			}))
		if err != nil {
			return fmt.Errorf("copy jobs: %w", err)
		}
		return nil
	})
}

// ListJobs returns the current job set, largest moves first.
func (s *Store) ListJobs(ctx context.Context) ([]model.RebalancingJob, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, from_station_id, to_station_id, bikes_to_move, distance_m, forecast_ts, created_at
FROM rebalancing_job
ORDER BY bikes_to_move DESC, from_station_id, to_station_id`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RebalancingJob, error) {
		var j model.RebalancingJob
		err := row.Scan(&j.ID, &j.FromStationID, &j.ToStationID, &j.BikesToMove, &j.DistanceM, &j.ForecastTS, &j.CreatedAt)
		j.ForecastTS = j.ForecastTS.UTC()
		j.CreatedAt = j.CreatedAt.UTC()
		return j, err
	})
}
