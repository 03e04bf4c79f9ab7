package metrics

import (
	"context"
	"math"
	"net/http"
	"strings"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/infra/logger"
)

// InfluxConfig configures the InfluxDB sink.
type InfluxConfig struct {
	URL    string `json:"url"`
	Token  string `json:"token"`
	Org    string `json:"org"`
	Bucket string `json:"bucket"`
}

// InfluxSink writes pipeline observations to InfluxDB using the official client.
type InfluxSink struct {
	client   influxdb2.Client
	writeAPI api.WriteAPIBlocking
	log      logger.Logger
}

// NewInfluxSink creates a sink for the given InfluxDB endpoint.
func NewInfluxSink(cfg InfluxConfig) *InfluxSink {
	base := strings.TrimSuffix(cfg.URL, "/api/v2/write")
	client := influxdb2.NewClientWithOptions(base, cfg.Token,
		influxdb2.DefaultOptions().SetHTTPClient(&http.Client{Timeout: 5 * time.Second}))
	return &InfluxSink{
		client:   client,
		writeAPI: client.WriteAPIBlocking(cfg.Org, cfg.Bucket),
		log:      logger.New("influx-sink"),
	}
}

// NewInfluxSinkWithFallback pings the InfluxDB instance and returns a
// NopSink if the health check fails.
func NewInfluxSinkWithFallback(cfg InfluxConfig) coremetrics.Sink {
	sink := NewInfluxSink(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	health, err := sink.client.Health(ctx)
	if err != nil || health.Status != "pass" {
		if err != nil {
			sink.log.Errorf("influx health check error: %v", err)
		} else {
			sink.log.Errorf("influx health status: %s", health.Status)
		}
		sink.client.Close()
		return coremetrics.NopSink{}
	}
	return sink
}

// RecordStage writes one pipeline_stage point.
func (s *InfluxSink) RecordStage(ev coremetrics.StageEvent) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := ev.Report
	status := "ok"
	if r.Error != "" {
		status = "error"
	}
	p := write.NewPointWithMeasurement("pipeline_stage").
		AddTag("stage", string(r.Stage)).
		AddTag("status", status).
		AddField("run_id", ev.RunID).
		AddField("processed", r.Processed).
		AddField("written", r.Written).
		AddField("skipped", r.TotalSkipped()).
		AddField("bikes_moved", r.BikesMoved).
		AddField("duration_s", r.Duration().Seconds()).
		SetTime(r.FinishedAt)
	return s.writeAPI.WritePoint(ctx, p)
}

// RecordForecasts writes one station_forecast point per station.
func (s *InfluxSink) RecordForecasts(forecasts []model.Forecast) error {
	if len(forecasts) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(forecasts))
	for _, f := range forecasts {
		points = append(points, write.NewPointWithMeasurement("station_forecast").
			AddTag("station_id", f.StationID).
			AddTag("risk", f.Risk.String()).
			AddTag("rule", f.Rule).
			AddField("predicted_bikes", f.PredictedBikes).
			SetTime(f.ForecastTS))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// RecordJobs writes one rebalancing_job point per job.
func (s *InfluxSink) RecordJobs(jobs []model.RebalancingJob) error {
	if len(jobs) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	points := make([]*write.Point, 0, len(jobs))
	for _, j := range jobs {
		points = append(points, write.NewPointWithMeasurement("rebalancing_job").
			AddTag("from_station_id", j.FromStationID).
			AddTag("to_station_id", j.ToStationID).
			AddField("bikes_to_move", j.BikesToMove).
			AddField("distance_m", round1(j.DistanceM)).
			SetTime(j.CreatedAt))
	}
	return s.writeAPI.WritePoint(ctx, points...)
}

// Flush closes the client connections.
func (s *InfluxSink) Flush(context.Context) error {
	s.client.Close()
	return nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
