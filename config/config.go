package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/kilianp07/dockflow/core/demand"
	"github.com/kilianp07/dockflow/core/forecast"
	"github.com/kilianp07/dockflow/core/metrics"
	"github.com/kilianp07/dockflow/core/notify"
	"github.com/kilianp07/dockflow/core/rebalance"
	"github.com/kilianp07/dockflow/core/runlog"
	"github.com/kilianp07/dockflow/infra/ingest/tripcsv"
)

// EnvPrefix prefixes environment overrides, e.g.
// DOCKFLOW_REBALANCE__MAX_DISTANCE_M=3000.
const EnvPrefix = "DOCKFLOW_"

// DefaultTimezone is used for bucketing when none is configured.
const DefaultTimezone = "America/Los_Angeles"

type Config struct {
	Database  DatabaseConfig   `json:"database"`
	Timezone  string           `json:"timezone"`
	Aggregate demand.Config    `json:"aggregate"`
	Forecast  forecast.Config  `json:"forecast"`
	Rebalance rebalance.Config `json:"rebalance"`
	Metrics   metrics.Config   `json:"metrics"`
	Notify    notify.Config    `json:"notify"`
	RunLog    runlog.Config    `json:"runlog"`
	Sentry    SentryConfig     `json:"sentry"`
	Ingest    tripcsv.Config   `json:"ingest"`
}

// Default returns a configuration with every tunable at its default.
func Default() *Config {
	cfg := base()
	cfg.SetDefaults()
	return cfg
}

// base seeds the sections whose zero values are meaningful, so they survive
// decoding when the file leaves them out.
func base() *Config {
	return &Config{
		Forecast:  forecast.DefaultConfig(),
		Rebalance: rebalance.DefaultConfig(),
	}
}

// SetDefaults fills unset sections.
func (c *Config) SetDefaults() {
	c.Database.SetDefaults()
	if c.Timezone == "" {
		c.Timezone = DefaultTimezone
	}
	c.Aggregate.SetDefaults()
	c.RunLog.SetDefaults()
	c.Ingest.SetDefaults()
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Database.Validate(); err != nil {
		return err
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	if err := c.Aggregate.Validate(); err != nil {
		return fmt.Errorf("aggregate: %w", err)
	}
	if err := c.Forecast.Validate(); err != nil {
		return fmt.Errorf("forecast: %w", err)
	}
	if err := c.Rebalance.Validate(); err != nil {
		return fmt.Errorf("rebalance: %w", err)
	}
	if err := c.RunLog.Validate(); err != nil {
		return err
	}
	return nil
}

// Location resolves the configured time zone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// Load reads the configuration file at path, applies environment overrides
// and validates the result. An empty path loads defaults and environment
// only.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	if path != "" {
		ext := strings.ToLower(filepath.Ext(path))
		var parser koanf.Parser
		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		default:
			return nil, fmt.Errorf("unsupported config format: %s", ext)
		}
		if err := k.Load(file.Provider(path), parser); err != nil {
			return nil, err
		}
	}
	// Optional environment overrides
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), strings.ToLower(EnvPrefix))
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	cfg := base()
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
