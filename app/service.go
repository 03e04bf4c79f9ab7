package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/monitoring"
	"github.com/kilianp07/dockflow/core/notify"
	"github.com/kilianp07/dockflow/core/runlog"
	"github.com/kilianp07/dockflow/core/store"
	"github.com/kilianp07/dockflow/infra/logger"
	_ "github.com/kilianp07/dockflow/infra/metrics"
	inframon "github.com/kilianp07/dockflow/infra/monitoring"
	_ "github.com/kilianp07/dockflow/infra/notify"
	"github.com/kilianp07/dockflow/infra/store/postgres"
	"github.com/kilianp07/dockflow/infra/store/sqlite"
)

// Service owns the resources of one CLI invocation: the store, metrics
// sinks, run ledger and notifiers, and the pipeline wired over them.
type Service struct {
	*Pipeline
	closers []func() error
}

// OpenStore opens the store selected by cfg.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		st, err := postgres.Open(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	case config.DriverSQLite:
		if err := ensureDir(cfg.DSN); err != nil {
			return nil, err
		}
		st, err := sqlite.Open(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

// New creates a Service from the configuration.
func New(ctx context.Context, cfg *config.Config) (svc *Service, err error) {
	logg := logger.New("pipeline")
	svc = &Service{}
	defer func() {
		if err != nil {
			_ = svc.Close()
			svc = nil
		}
	}()

	mon, err := inframon.NewSentryMonitor(cfg.Sentry)
	if err != nil {
		return nil, fmt.Errorf("sentry: %w", err)
	}
	monitoring.Init(mon)

	st, err := OpenStore(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	svc.closers = append(svc.closers, st.Close)

	sink, err := metrics.NewSink(cfg.Metrics.Sinks)
	if err != nil {
		return nil, fmt.Errorf("metrics sink: %w", err)
	}

	if cfg.RunLog.Backend == "sqlite" {
		if err := ensureDir(cfg.RunLog.Path); err != nil {
			return nil, err
		}
	}
	runs, err := runlog.New(cfg.RunLog)
	if err != nil {
		return nil, fmt.Errorf("run log: %w", err)
	}
	svc.closers = append(svc.closers, runs.Close)

	notifier, err := notify.New(cfg.Notify.Sinks)
	if err != nil {
		return nil, fmt.Errorf("notifier: %w", err)
	}
	svc.closers = append(svc.closers, notifier.Close)

	svc.Pipeline, err = NewPipeline(cfg, st,
		WithLogger(logg),
		WithMetrics(sink),
		WithRunLog(runs),
		WithNotifier(notifier),
	)
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// Close releases resources held by the service in reverse order of
// acquisition.
func (s *Service) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	return nil
}
