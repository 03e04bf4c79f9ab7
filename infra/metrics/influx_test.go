package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	coremetrics "github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/model"
)

type captureServer struct {
	mu     sync.Mutex
	bodies []string
}

func (c *captureServer) handler(w http.ResponseWriter, r *http.Request) {
	data, _ := io.ReadAll(r.Body)
	c.mu.Lock()
	c.bodies = append(c.bodies, string(data))
	c.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (c *captureServer) last() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.bodies) == 0 {
		return ""
	}
	return strings.TrimSpace(c.bodies[len(c.bodies)-1])
}

func newCaptured(t *testing.T) (*captureServer, *InfluxSink) {
	t.Helper()
	cs := &captureServer{}
	srv := httptest.NewServer(http.HandlerFunc(cs.handler))
	t.Cleanup(srv.Close)
	return cs, NewInfluxSink(InfluxConfig{URL: srv.URL, Token: "token", Org: "org", Bucket: "bucket"})
}

func TestInfluxSink_RecordStage(t *testing.T) {
	cs, sink := newCaptured(t)
	start := time.Date(2025, 9, 1, 8, 15, 0, 0, time.UTC)
	r := model.NewStageReport(model.StageRebalance, start)
	r.Processed, r.Written, r.BikesMoved = 12, 3, 17
	r.Skip(model.SkipNoForecast)
	r.FinishedAt = start.Add(1500 * time.Millisecond)

	if err := sink.RecordStage(coremetrics.StageEvent{RunID: "run-1", Report: r}); err != nil {
		t.Fatalf("record error: %v", err)
	}
	p := write.NewPointWithMeasurement("pipeline_stage").
		AddTag("stage", "rebalance").
		AddTag("status", "ok").
		AddField("run_id", "run-1").
		AddField("processed", 12).
		AddField("written", 3).
		AddField("skipped", 1).
		AddField("bikes_moved", 17).
		AddField("duration_s", 1.5).
		SetTime(r.FinishedAt)
	expected := strings.TrimSpace(write.PointToLineProtocol(p, time.Nanosecond))
	if cs.last() != expected {
		t.Errorf("unexpected body: %s", cs.last())
	}
}

func TestInfluxSink_RecordForecastsAndJobs(t *testing.T) {
	cs, sink := newCaptured(t)
	ts := time.Date(2025, 9, 1, 8, 15, 0, 0, time.UTC)
	forecasts := []model.Forecast{
		{StationID: "A", ForecastTS: ts, PredictedBikes: 18, Risk: model.RiskFullSoon, Rule: "exact"},
		{StationID: "B", ForecastTS: ts, PredictedBikes: 2, Risk: model.RiskEmptySoon, Rule: "default"},
	}
	if err := sink.RecordForecasts(forecasts); err != nil {
		t.Fatalf("record forecasts: %v", err)
	}
	lines := strings.Split(cs.last(), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected one line per forecast, got %q", lines)
	}
	for _, want := range []string{"station_forecast,", "station_id=A", "risk=full_soon", "rule=exact", "predicted_bikes=18i"} {
		if !strings.Contains(lines[0], want) {
			t.Fatalf("missing %q in %q", want, lines[0])
		}
	}
	if !strings.Contains(lines[1], "predicted_bikes=2i") {
		t.Fatalf("expected integer field in %q", lines[1])
	}

	jobs := []model.RebalancingJob{{ID: "j1", FromStationID: "A", ToStationID: "B", BikesToMove: 8, DistanceM: 1598.54, CreatedAt: ts}}
	if err := sink.RecordJobs(jobs); err != nil {
		t.Fatalf("record jobs: %v", err)
	}
	if !strings.Contains(cs.last(), "distance_m=1598.5") || !strings.Contains(cs.last(), "bikes_to_move=8i") {
		t.Fatalf("unexpected job line %q", cs.last())
	}

	n := len(cs.bodies)
	if err := sink.RecordJobs(nil); err != nil {
		t.Fatalf("empty jobs: %v", err)
	}
	if len(cs.bodies) != n {
		t.Fatal("empty job set must not write")
	}
}

func TestNewInfluxSinkWithFallback(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			called = true
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
	}))
	defer srv.Close()

	sink := NewInfluxSinkWithFallback(InfluxConfig{URL: srv.URL + "/api/v2/write", Token: "tok", Org: "org", Bucket: "bucket"})
	if _, ok := sink.(*InfluxSink); ok {
		t.Fatalf("expected NopSink on failing health check")
	}
	if !called {
		t.Fatal("health endpoint not called")
	}
}
