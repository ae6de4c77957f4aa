// Package config loads chronolog settings from chronolog.yaml and
// CHRONOLOG_* environment variables.
package config

import (
	"fmt"
	"time"

	"chronolog/internal/core/id"
	"chronolog/internal/core/tx"
	"chronolog/pkg/logger"
)

// Storage drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory" // in-process only, for embedding and tests; the CLI rejects it
)

// Config is the full application configuration.
type Config struct {
	Log         LogConfig         `mapstructure:"log" yaml:"log"`
	Store       StoreConfig       `mapstructure:"store" yaml:"store"`
	Generator   GeneratorConfig   `mapstructure:"generator" yaml:"generator"`
	Correlation CorrelationConfig `mapstructure:"correlation" yaml:"correlation"`
	History     HistoryConfig     `mapstructure:"history" yaml:"history"`
}

type LogConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Development bool   `mapstructure:"development" yaml:"development"`
}

// StoreConfig selects the host database.
type StoreConfig struct {
	Driver     string `mapstructure:"driver" yaml:"driver"`
	DSN        string `mapstructure:"dsn" yaml:"dsn,omitempty"`
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path,omitempty"`
	MaxConns   int32  `mapstructure:"max_conns" yaml:"max_conns"`

	// StatementTimeout is a Go duration string, applied per transaction on Postgres.
	StatementTimeout string `mapstructure:"statement_timeout" yaml:"statement_timeout"`
}

type GeneratorConfig struct {
	Layout string `mapstructure:"layout" yaml:"layout"`
}

type CorrelationConfig struct {
	Strategy string `mapstructure:"strategy" yaml:"strategy"`
}

type HistoryConfig struct {
	// CompressThreshold is the delta size in bytes above which deltas are stored zstd-compressed.
	CompressThreshold int `mapstructure:"compress_threshold" yaml:"compress_threshold"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Log: LogConfig{Level: "info"},
		Store: StoreConfig{
			Driver:           DriverSQLite,
			SQLitePath:       "chronolog.db",
			MaxConns:         10,
			StatementTimeout: "30s",
		},
		Generator:   GeneratorConfig{Layout: string(id.LayoutCoarse)},
		Correlation: CorrelationConfig{Strategy: string(tx.StrategyCurrent)},
		History:     HistoryConfig{CompressThreshold: 10 * 1024},
	}
}

// Validate checks enumerated values and driver requirements.
func (c Config) Validate() error {
	switch c.Store.Driver {
	case DriverPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("store.dsn is required for driver %q", c.Store.Driver)
		}
		if c.Store.MaxConns < 1 {
			return fmt.Errorf("store.max_conns must be positive, got %d", c.Store.MaxConns)
		}
	case DriverSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("store.sqlite_path is required for driver %q", c.Store.Driver)
		}
	case DriverMemory:
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}

	if _, err := c.StatementTimeout(); err != nil {
		return err
	}
	if _, err := id.ParseLayout(c.Generator.Layout); err != nil {
		return err
	}
	if _, err := tx.ParseStrategy(c.Correlation.Strategy); err != nil {
		return err
	}
	if c.History.CompressThreshold < 0 {
		return fmt.Errorf("history.compress_threshold must not be negative, got %d", c.History.CompressThreshold)
	}
	return nil
}

// StatementTimeout parses store.statement_timeout. Empty means no timeout.
func (c Config) StatementTimeout() (time.Duration, error) {
	if c.Store.StatementTimeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.Store.StatementTimeout)
	if err != nil {
		return 0, fmt.Errorf("store.statement_timeout: %w", err)
	}
	if d < 0 {
		return 0, fmt.Errorf("store.statement_timeout must not be negative, got %s", d)
	}
	return d, nil
}

// Logger converts the log section into logger settings.
func (c LogConfig) Logger() logger.Config {
	return logger.Config{
		Level:       c.Level,
		Development: c.Development,
		OutputPaths: []string{"stderr"},
	}
}
