package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/dockflow/app"
	"github.com/kilianp07/dockflow/config"
	"github.com/kilianp07/dockflow/core/monitoring"
	"github.com/kilianp07/dockflow/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:           "dockflow",
	Short:         "Bike-share demand forecasting and rebalancing pipeline",
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

// loadConfig reads the configuration. The default file is optional; an
// explicit --config must exist.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := cfgPath
	if !cmd.Flags().Changed("config") {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			path = ""
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// withService loads the configuration, lets mutate adjust it, and runs fn
// with a service that is flushed and closed afterwards.
func withService(cmd *cobra.Command, mutate func(*config.Config) error, fn func(context.Context, *app.Service) error) error {
	defer monitoring.Recover()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if mutate != nil {
		if err := mutate(cfg); err != nil {
			return err
		}
	}
	svc, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	logg := logger.New("main")
	defer func() {
		if err := svc.Close(); err != nil {
			logg.Errorf("service close: %v", err)
		}
	}()
	runErr := fn(ctx, svc)
	if err := svc.Flush(context.WithoutCancel(ctx)); err != nil {
		logg.Warnf("flush metrics: %v", err)
	}
	return runErr
}
