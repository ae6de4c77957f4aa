package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	// FileName is the config file searched for when a directory is given.
	FileName = "chronolog.yaml"

	// EnvPrefix prefixes environment overrides, e.g. CHRONOLOG_STORE_DSN.
	EnvPrefix = "CHRONOLOG"
)

// Load reads configuration from path, which may name a file or a directory
// to search for chronolog.yaml. An empty path searches the working directory.
// A missing file in search mode is not an error; defaults and env apply.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if path != "" && filepath.Ext(path) != "" {
		v.SetConfigFile(path)
	} else {
		if path == "" {
			path = "."
		}
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("store.driver", d.Store.Driver)
	v.SetDefault("store.dsn", d.Store.DSN)
	v.SetDefault("store.sqlite_path", d.Store.SQLitePath)
	v.SetDefault("store.max_conns", d.Store.MaxConns)
	v.SetDefault("store.statement_timeout", d.Store.StatementTimeout)

	v.SetDefault("generator.layout", d.Generator.Layout)
	v.SetDefault("correlation.strategy", d.Correlation.Strategy)
	v.SetDefault("history.compress_threshold", d.History.CompressThreshold)
}

// Write serializes cfg as YAML to path. It refuses to overwrite an existing file.
func Write(path string, cfg Config) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}
