package tripcsv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/infra/store/sqlite"
)

const sample = "\ufeffRide_ID,started_at,ended_at,start_station_id,start_station_name,end_station_id,end_station_name,start_lat,start_lng,end_lat,end_lng\n" +
	"r1,2024-01-01 08:03:00,2024-01-01 08:20:00,A,Alpha,B,Bravo,37.77,-122.41,37.78,-122.40\n" +
	"r1,2024-01-01 08:03:00,2024-01-01 08:20:00,A,Alpha,B,Bravo,37.77,-122.41,37.78,-122.40\n" +
	"r2,2024-01-01T09:00:00Z,2024-01-01T09:10:00Z,A,Alpha Street,,,37.771,-122.411,,\n" +
	"r3,not a date,2024-01-01 10:00:00,A,Alpha,B,Bravo,,,,\n" +
	",2024-01-01 10:00:00,2024-01-01 10:05:00,A,Alpha,B,Bravo,,,,\n" +
	"r4,2024-01-01 11:00:00,2024-01-01 10:00:00,A,Alpha,B,Bravo,,,,\n"

func newTestLoader(t *testing.T, batch int) (*Loader, *sqlite.Store) {
	t.Helper()
	s, err := sqlite.Open(filepath.Join(t.TempDir(), "trips.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(s, Config{BatchSize: batch}, nil), s
}

func TestLoadCountsAndStations(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLoader(t, 2)
	report := model.NewStageReport(model.StageIngest, time.Now())

	require.NoError(t, l.Load(ctx, strings.NewReader(sample), &report))

	assert.Equal(t, 6, report.Processed)
	assert.Equal(t, 2, report.Written, "duplicate ride id must not be inserted twice")
	assert.Equal(t, 3, report.Skipped[model.SkipInvalidRecord])

	var trips []model.Trip
	require.NoError(t, s.ScanTrips(ctx, func(tr model.Trip) error {
		trips = append(trips, tr)
		return nil
	}))
	require.Len(t, trips, 2)

	stations, err := s.LoadStations(ctx)
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, "A", stations[0].ID)
	assert.Equal(t, "Alpha Street", stations[0].Name)
	assert.InDelta(t, 37.771, stations[0].Lat, 1e-9)
	assert.Equal(t, 0, stations[0].Capacity)
	assert.Equal(t, "Bravo", stations[1].Name)
}

func TestLoadKeepsOneSidedTrips(t *testing.T) {
	ctx := context.Background()
	l, s := newTestLoader(t, 10)
	report := model.NewStageReport(model.StageIngest, time.Now())
	in := "ride_id,started_at,ended_at,start_station_code,end_station_code\n" +
		"x1,2024-02-01 07:00:00,2024-02-01 07:15:00,,B\n"
	require.NoError(t, l.Load(ctx, strings.NewReader(in), &report))
	assert.Equal(t, 1, report.Written)

	var got model.Trip
	require.NoError(t, s.ScanTrips(ctx, func(tr model.Trip) error {
		got = tr
		return nil
	}))
	assert.Nil(t, got.StartStationID)
	require.NotNil(t, got.EndStationID)
	assert.Equal(t, "B", *got.EndStationID)
}

func TestLoadRequiresRideID(t *testing.T) {
	l, _ := newTestLoader(t, 10)
	report := model.NewStageReport(model.StageIngest, time.Now())
	err := l.Load(context.Background(), strings.NewReader("a,b\n1,2\n"), &report)
	require.Error(t, err)
}

func TestLoadEmptyInput(t *testing.T) {
	l, _ := newTestLoader(t, 10)
	report := model.NewStageReport(model.StageIngest, time.Now())
	require.NoError(t, l.Load(context.Background(), strings.NewReader(""), &report))
	assert.Zero(t, report.Processed)
}

func TestParseTimestamp(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	local, err := ParseTimestamp("2024-07-01 08:00:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 15, local.UTC().Hour())

	frac, err := ParseTimestamp("2024-07-01 08:00:00.123", time.UTC)
	require.NoError(t, err)
	assert.Equal(t, 123*time.Millisecond, time.Duration(frac.Nanosecond()))

	zoned, err := ParseTimestamp("2024-07-01T08:00:00+02:00", loc)
	require.NoError(t, err)
	assert.Equal(t, 6, zoned.UTC().Hour())

	_, err = ParseTimestamp("yesterday", time.UTC)
	assert.Error(t, err)
}

func TestLoadPathsDirectory(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
	write("202401.csv", "ride_id,started_at,ended_at,start_station_id,end_station_id\nr1,2024-01-01 08:00:00,2024-01-01 08:10:00,A,B\n")
	write("202402.csv", "ride_id,started_at,ended_at,start_station_id,end_station_id\nr2,2024-02-01 08:00:00,2024-02-01 08:10:00,B,A\n")
	write("notes.txt", "ignored")

	l, _ := newTestLoader(t, 10)
	report := model.NewStageReport(model.StageIngest, time.Now())
	require.NoError(t, l.LoadPaths(context.Background(), []string{dir}, &report))
	assert.Equal(t, 2, report.Processed)
	assert.Equal(t, 2, report.Written)
}

func TestLoadPathsMissingFile(t *testing.T) {
	l, _ := newTestLoader(t, 10)
	report := model.NewStageReport(model.StageIngest, time.Now())
	err := l.LoadPaths(context.Background(), []string{filepath.Join(t.TempDir(), "nope.csv")}, &report)
	require.Error(t, err)
}
