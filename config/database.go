package config

import "fmt"

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseConfig selects the shared relational store.
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver string `json:"driver"`
	// DSN is a PostgreSQL connection string or a SQLite file path.
	DSN string `json:"dsn"`
}

// SetDefaults applies sane defaults.
func (c *DatabaseConfig) SetDefaults() {
	if c.Driver == "" {
		c.Driver = DriverSQLite
	}
	if c.DSN == "" && c.Driver == DriverSQLite {
		c.DSN = "var/dockflow.db"
	}
}

// Validate checks mandatory fields.
func (c DatabaseConfig) Validate() error {
	if c.Driver != DriverPostgres && c.Driver != DriverSQLite {
		return fmt.Errorf("database: unknown driver %q", c.Driver)
	}
	if c.DSN == "" {
		return fmt.Errorf("database: dsn is required")
	}
	return nil
}
