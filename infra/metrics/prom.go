package metrics

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	coremetrics "github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/model"
)

// PromConfig configures the Prometheus sink.
type PromConfig struct {
	Namespace string `json:"namespace"`
	// PushgatewayURL enables pushing the registry at the end of a run.
	PushgatewayURL string `json:"pushgateway_url"`
	Job            string `json:"job"`
}

// PromSink records pipeline observations in Prometheus metrics.
type PromSink struct {
	gatherer prometheus.Gatherer
	pushURL  string
	job      string

	runs      *prometheus.CounterVec
	processed *prometheus.CounterVec
	written   *prometheus.CounterVec
	skipped   *prometheus.CounterVec
	duration  *prometheus.HistogramVec
	lastRun   *prometheus.GaugeVec
	risk      *prometheus.GaugeVec
	jobs      prometheus.Gauge
	bikes     prometheus.Gauge
	distance  prometheus.Histogram
}

// NewPromSink registers pipeline metrics on the default registry.
func NewPromSink(cfg PromConfig) (*PromSink, error) {
	return NewPromSinkWithRegistry(cfg, nil)
}

// register adds c to reg, reusing an already registered collector of the
// same description.
func register[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// NewPromSinkWithRegistry registers metrics on reg. A nil registry defaults
// to the global Prometheus registry.
func NewPromSinkWithRegistry(cfg PromConfig, reg *prometheus.Registry) (*PromSink, error) {
	var (
		registerer prometheus.Registerer = prometheus.DefaultRegisterer
		gatherer   prometheus.Gatherer   = prometheus.DefaultGatherer
	)
	if reg != nil {
		registerer, gatherer = reg, reg
	}
	if cfg.Namespace == "" {
		cfg.Namespace = "dockflow"
	}
	if cfg.Job == "" {
		cfg.Job = "dockflow"
	}
	ns := cfg.Namespace
	s := &PromSink{gatherer: gatherer, pushURL: cfg.PushgatewayURL, job: cfg.Job}

	var err error
	if s.runs, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "stage_runs_total", Help: "Pipeline stage executions by outcome",
	}, []string{"stage", "status"})); err != nil {
		return nil, err
	}
	if s.processed, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "stage_records_processed_total", Help: "Input records read by a stage",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.written, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "stage_records_written_total", Help: "Output rows committed by a stage",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.skipped, err = register(registerer, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Name: "stage_records_skipped_total", Help: "Input records skipped by a stage",
	}, []string{"stage", "reason"})); err != nil {
		return nil, err
	}
	if s.duration, err = register(registerer, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Name: "stage_duration_seconds", Help: "Wall time of a stage",
		Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.lastRun, err = register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "stage_last_success_timestamp_seconds", Help: "Completion time of the last successful stage run",
	}, []string{"stage"})); err != nil {
		return nil, err
	}
	if s.risk, err = register(registerer, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: ns, Name: "forecast_stations", Help: "Stations per risk status in the last forecast run",
	}, []string{"risk"})); err != nil {
		return nil, err
	}
	if s.jobs, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "rebalancing_jobs", Help: "Jobs in the current rebalancing set",
	})); err != nil {
		return nil, err
	}
	if s.bikes, err = register(registerer, prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Name: "rebalancing_bikes", Help: "Bikes to move in the current rebalancing set",
	})); err != nil {
		return nil, err
	}
	if s.distance, err = register(registerer, prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Name: "rebalancing_job_distance_meters", Help: "Distance of emitted rebalancing jobs",
		Buckets: []float64{250, 500, 1000, 2000, 3000, 4000, 5000, 10000},
	})); err != nil {
		return nil, err
	}
	return s, nil
}

// RecordStage updates the stage counters.
func (s *PromSink) RecordStage(ev coremetrics.StageEvent) error {
	r := ev.Report
	stage := string(r.Stage)
	status := "ok"
	if r.Error != "" {
		status = "error"
	}
	s.runs.WithLabelValues(stage, status).Inc()
	s.processed.WithLabelValues(stage).Add(float64(r.Processed))
	s.written.WithLabelValues(stage).Add(float64(r.Written))
	for reason, n := range r.Skipped {
		s.skipped.WithLabelValues(stage, string(reason)).Add(float64(n))
	}
	s.duration.WithLabelValues(stage).Observe(r.Duration().Seconds())
	if status == "ok" && !r.FinishedAt.IsZero() {
		s.lastRun.WithLabelValues(stage).Set(float64(r.FinishedAt.Unix()))
	}
	return nil
}

// RecordForecasts sets the per-risk station gauges.
func (s *PromSink) RecordForecasts(forecasts []model.Forecast) error {
	counts := map[model.Risk]int{}
	for _, f := range forecasts {
		counts[f.Risk]++
	}
	for _, r := range []model.Risk{model.RiskBalanced, model.RiskEmptySoon, model.RiskFullSoon} {
		s.risk.WithLabelValues(r.String()).Set(float64(counts[r]))
	}
	return nil
}

// RecordJobs sets the job set gauges.
func (s *PromSink) RecordJobs(jobs []model.RebalancingJob) error {
	bikes := 0
	for _, j := range jobs {
		bikes += j.BikesToMove
		s.distance.Observe(j.DistanceM)
	}
	s.jobs.Set(float64(len(jobs)))
	s.bikes.Set(float64(bikes))
	return nil
}

// Flush pushes the registry to the configured Pushgateway.
func (s *PromSink) Flush(ctx context.Context) error {
	if s.pushURL == "" {
		return nil
	}
	if err := push.New(s.pushURL, s.job).Gatherer(s.gatherer).PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}
