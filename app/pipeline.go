package app

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/bucket"
	"github.com/kilianp07/dockflow/core/demand"
	"github.com/kilianp07/dockflow/core/forecast"
	"github.com/kilianp07/dockflow/core/logger"
	"github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/model"
	"github.com/kilianp07/dockflow/core/monitoring"
	"github.com/kilianp07/dockflow/core/notify"
	"github.com/kilianp07/dockflow/core/rebalance"
	"github.com/kilianp07/dockflow/core/runlog"
	"github.com/kilianp07/dockflow/core/store"
	"github.com/kilianp07/dockflow/infra/ingest/tripcsv"
)

// Pipeline runs the batch stages against a shared store. One Pipeline is one
// run: every stage it executes shares the same run id.
type Pipeline struct {
	store    store.Store
	cfg      config.Config
	bucketer bucket.Bucketer
	matcher  *rebalance.Matcher
	sink     metrics.Sink
	runs     runlog.Store
	notifier notify.Notifier
	log      logger.Logger
	now      func() time.Time
	runID    string
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics sets the metrics sink.
func WithMetrics(s metrics.Sink) Option { return func(p *Pipeline) { p.sink = s } }

// WithRunLog sets the run ledger.
func WithRunLog(r runlog.Store) Option { return func(p *Pipeline) { p.runs = r } }

// WithNotifier sets the stage notifier.
func WithNotifier(n notify.Notifier) Option { return func(p *Pipeline) { p.notifier = n } }

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option { return func(p *Pipeline) { p.log = l } }

// WithClock sets the clock used for reports and job timestamps.
func WithClock(now func() time.Time) Option { return func(p *Pipeline) { p.now = now } }

// WithRunID fixes the run id instead of generating one.
func WithRunID(id string) Option { return func(p *Pipeline) { p.runID = id } }

// NewPipeline returns a Pipeline over st. The configuration is validated; a bad
// rebalance configuration aborts here rather than mid-run.
func NewPipeline(cfg *config.Config, st store.Store, opts ...Option) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	p := &Pipeline{
		store:    st,
		cfg:      *cfg,
		bucketer: bucket.New(loc),
		sink:     metrics.NopSink{},
		runs:     runlog.NopStore{},
		notifier: notify.NopNotifier{},
		log:      logger.NopLogger{},
		now:      time.Now,
		runID:    uuid.NewString(),
	}
	for _, o := range opts {
		o(p)
	}
	p.matcher, err = rebalance.NewMatcher(cfg.Rebalance, p.log, rebalance.WithClock(p.now))
	if err != nil {
		return nil, err
	}
	return p, nil
}

// RunID returns the identifier shared by the stages of this run.
func (p *Pipeline) RunID() string { return p.runID }

// Aggregate recomputes the demand profile from the full trip history.
func (p *Pipeline) Aggregate(ctx context.Context) (model.StageReport, error) {
	report, err := p.run(ctx, model.StageAggregate, func(ctx context.Context, r *model.StageReport) error {
		agg := demand.NewAggregator(p.cfg.Aggregate, p.bucketer)
		if err := p.store.ScanTrips(ctx, func(t model.Trip) error {
			agg.Add(t)
			return nil
		}); err != nil {
			return fmt.Errorf("scan trips: %w", err)
		}
		rows := agg.Buckets()
		agg.Report(r)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.store.UpsertDemand(ctx, rows); err != nil {
			return err
		}
		r.Written = len(rows)
		return nil
	})
	p.publish(ctx, report, nil)
	return report, err
}

// Forecast predicts the near-term occupancy of every station with an
// inventory snapshot.
func (p *Pipeline) Forecast(ctx context.Context) (model.StageReport, error) {
	report, err := p.run(ctx, model.StageForecast, func(ctx context.Context, r *model.StageReport) error {
		stations, err := p.store.LoadStations(ctx)
		if err != nil {
			return fmt.Errorf("load stations: %w", err)
		}
		snaps, err := p.store.LoadInventory(ctx)
		if err != nil {
			return fmt.Errorf("load inventory: %w", err)
		}
		rows, err := p.store.LoadDemand(ctx)
		if err != nil {
			return fmt.Errorf("load demand: %w", err)
		}
		engine := forecast.NewEngine(p.cfg.Forecast, p.bucketer, p.log)
		out := engine.Run(snaps, forecast.NewTable(rows), model.IndexStations(stations), r)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.store.UpsertForecasts(ctx, out); err != nil {
			return err
		}
		r.Written = len(out)
		if rec, ok := p.sink.(metrics.ForecastRecorder); ok {
			if err := rec.RecordForecasts(out); err != nil {
				p.log.Warnf("record forecasts: %v", err)
			}
		}
		return nil
	})
	p.publish(ctx, report, nil)
	return report, err
}

// Rebalance replaces the job set with one computed from the latest
// forecasts.
func (p *Pipeline) Rebalance(ctx context.Context) (model.StageReport, error) {
	var jobs []model.RebalancingJob
	report, err := p.run(ctx, model.StageRebalance, func(ctx context.Context, r *model.StageReport) error {
		forecasts, err := p.store.LatestForecasts(ctx)
		if err != nil {
			return fmt.Errorf("load forecasts: %w", err)
		}
		stations, err := p.store.LoadStations(ctx)
		if err != nil {
			return fmt.Errorf("load stations: %w", err)
		}
		snaps, err := p.store.LoadInventory(ctx)
		if err != nil {
			return fmt.Errorf("load inventory: %w", err)
		}
		index := model.IndexStations(stations)
		index.FillCapacity(snaps)
		jobs = p.matcher.Match(forecasts, index, r)
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.store.ReplaceJobs(ctx, jobs); err != nil {
			return err
		}
		p.log.Infof("rebalance: %s", rebalance.Summary(jobs))
		if rec, ok := p.sink.(metrics.JobRecorder); ok {
			if err := rec.RecordJobs(jobs); err != nil {
				p.log.Warnf("record jobs: %v", err)
			}
		}
		return nil
	})
	if err != nil {
		jobs = nil
	}
	p.publish(ctx, report, jobs)
	return report, err
}

// RunAll runs aggregate, forecast and rebalance in order and stops at the
// first failure. Reports of the stages that ran are returned.
func (p *Pipeline) RunAll(ctx context.Context) ([]model.StageReport, error) {
	stages := []func(context.Context) (model.StageReport, error){p.Aggregate, p.Forecast, p.Rebalance}
	reports := make([]model.StageReport, 0, len(stages))
	for _, stage := range stages {
		r, err := stage(ctx)
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// LoadTrips ingests historical trip CSV files or directories.
func (p *Pipeline) LoadTrips(ctx context.Context, paths []string) (model.StageReport, error) {
	report, err := p.run(ctx, model.StageIngest, func(ctx context.Context, r *model.StageReport) error {
		cfg := p.cfg.Ingest
		cfg.Location = p.bucketer.Location()
		return tripcsv.New(p.store, cfg, p.log).LoadPaths(ctx, paths, r)
	})
	p.publish(ctx, report, nil)
	return report, err
}

// Jobs returns the current job set.
func (p *Pipeline) Jobs(ctx context.Context) ([]model.RebalancingJob, error) {
	return p.store.ListJobs(ctx)
}

// Runs queries the run ledger.
func (p *Pipeline) Runs(ctx context.Context, q runlog.Query) ([]runlog.Record, error) {
	return p.runs.Query(ctx, q)
}

// Flush pushes buffered metrics and pending error events.
func (p *Pipeline) Flush(ctx context.Context) error {
	defer monitoring.Flush(2 * time.Second)
	if f, ok := p.sink.(metrics.Flusher); ok {
		return f.Flush(ctx)
	}
	return nil
}

func (p *Pipeline) run(ctx context.Context, stage model.Stage, fn func(context.Context, *model.StageReport) error) (model.StageReport, error) {
	report := model.NewStageReport(stage, p.now())
	monitoring.Breadcrumb("pipeline", string(stage)+" started", map[string]any{"run_id": p.runID})
	p.log.Infof("%s: started (run %s)", stage, p.runID)

	err := fn(ctx, &report)
	report.FinishedAt = p.now()
	if err != nil {
		err = fmt.Errorf("%s: %w", stage, err)
		report.Error = err.Error()
		monitoring.CaptureException(err, map[string]string{"stage": string(stage), "run_id": p.runID})
		p.log.Errorf("%v", err)
		return report, err
	}
	p.log.Infof("%s: processed=%d written=%d skipped=%d in %s",
		stage, report.Processed, report.Written, report.TotalSkipped(), report.Duration())
	return report, nil
}

// publish fans a finished report out to metrics, the run ledger and the
// notifiers. Failures here are logged; the stage output is already
// committed.
func (p *Pipeline) publish(ctx context.Context, report model.StageReport, jobs []model.RebalancingJob) {
	if err := p.sink.RecordStage(metrics.StageEvent{RunID: p.runID, Report: report}); err != nil {
		p.log.Warnf("record stage metrics: %v", err)
	}
	// The ledger and notifiers still get the failure report after a cancel.
	ctx = context.WithoutCancel(ctx)
	if err := p.runs.Append(ctx, runlog.Record{RunID: p.runID, Timestamp: report.FinishedAt, Report: report}); err != nil {
		p.log.Warnf("append run log: %v", err)
	}
	if err := p.notifier.Notify(ctx, notify.Message{RunID: p.runID, Report: report, Jobs: jobs}); err != nil {
		p.log.Warnf("notify: %v", err)
	}
}
