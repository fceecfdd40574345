package config

import (
	"errors"
	"path/filepath"

	"github.com/robfig/cron/v3"
)

const (
	// DefaultRevalidateSchedule re-checks the stored license hourly.
	DefaultRevalidateSchedule = "@every 1h"

	// DefaultLogMaxSizeMB is the rotation size for the application log file.
	DefaultLogMaxSizeMB = 10
)

// DefaultAppDir returns the default application directory (~/.ocaquery).
func DefaultAppDir() (string, error) {
	return homeDir(".ocaquery")
}

// DefaultAppConfigPath returns the default config file path (~/.ocaquery/config.yml).
func DefaultAppConfigPath() (string, error) {
	dir, err := DefaultAppDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// AppConfig holds the application's license-related configuration.
type AppConfig struct {
	DataDir            string `yaml:"data_dir,omitempty"`
	RevalidateSchedule string `yaml:"revalidate_schedule,omitempty"`
	MetricsAddr        string `yaml:"metrics_addr,omitempty"`
	LogFile            string `yaml:"log_file,omitempty"`
	LogMaxSizeMB       int    `yaml:"log_max_size_mb,omitempty"`
	Debug              bool   `yaml:"debug,omitempty"`
}

// Validate checks that the configuration is usable.
func (c *AppConfig) Validate() error {
	if c.DataDir == "" {
		return errors.New("data_dir is required")
	}
	if _, err := cron.ParseStandard(c.RevalidateSchedule); err != nil {
		return errors.New("revalidate_schedule is not a valid cron schedule")
	}
	if c.LogMaxSizeMB < 0 {
		return errors.New("log_max_size_mb must not be negative")
	}
	return nil
}

// applyDefaults fills unset fields. dir is the directory holding the config file.
func (c *AppConfig) applyDefaults(dir string) {
	if c.DataDir == "" {
		c.DataDir = dir
	}
	if c.RevalidateSchedule == "" {
		c.RevalidateSchedule = DefaultRevalidateSchedule
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = DefaultLogMaxSizeMB
	}
}

// applyEnv overrides fields from OCAQUERY_* environment variables.
func (c *AppConfig) applyEnv() {
	c.DataDir = getEnv("OCAQUERY_DATA_DIR", c.DataDir)
	c.RevalidateSchedule = getEnv("OCAQUERY_REVALIDATE_SCHEDULE", c.RevalidateSchedule)
	c.MetricsAddr = getEnv("OCAQUERY_METRICS_ADDR", c.MetricsAddr)
	c.LogFile = getEnv("OCAQUERY_LOG_FILE", c.LogFile)
	c.LogMaxSizeMB = getEnvInt("OCAQUERY_LOG_MAX_SIZE_MB", c.LogMaxSizeMB)
	c.Debug = getEnvBool("OCAQUERY_DEBUG", c.Debug)
}

// LoadApp reads the configuration from the given path and applies
// environment overrides. A missing file yields defaults.
func LoadApp(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadAppDefault loads the configuration from the default path.
func LoadAppDefault() (*AppConfig, error) {
	path, err := DefaultAppConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadApp(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *AppConfig) Save(path string) error {
	return saveYAML(path, c)
}
