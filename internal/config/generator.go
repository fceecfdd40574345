package config

import (
	"errors"
	"path/filepath"
	"time"
)

// DefaultLicenseDuration is used when issue-license is given no duration.
const DefaultLicenseDuration = 365 * 24 * time.Hour

// DefaultGeneratorDir returns the operator's working directory (~/.ocaquery-licensegen).
func DefaultGeneratorDir() (string, error) {
	return homeDir(".ocaquery-licensegen")
}

// DefaultGeneratorConfigPath returns ~/.ocaquery-licensegen/config.yml.
func DefaultGeneratorConfigPath() (string, error) {
	dir, err := DefaultGeneratorDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// GeneratorConfig holds the offline license generator's configuration.
type GeneratorConfig struct {
	KeysDir         string        `yaml:"keys_dir,omitempty"`
	OutputDir       string        `yaml:"output_dir,omitempty"`
	DefaultDuration time.Duration `yaml:"default_duration,omitempty"`
	KeyBits         int           `yaml:"key_bits,omitempty"`
}

// Validate checks that the configuration is usable.
func (c *GeneratorConfig) Validate() error {
	if c.KeysDir == "" {
		return errors.New("keys_dir is required")
	}
	if c.OutputDir == "" {
		return errors.New("output_dir is required")
	}
	if c.DefaultDuration <= 0 {
		return errors.New("default_duration must be positive")
	}
	if c.KeyBits < 2048 {
		return errors.New("key_bits must be at least 2048")
	}
	return nil
}

func (c *GeneratorConfig) applyDefaults(dir string) {
	if c.KeysDir == "" {
		c.KeysDir = filepath.Join(dir, "keys")
	}
	if c.OutputDir == "" {
		c.OutputDir = filepath.Join(dir, "generated")
	}
	if c.DefaultDuration == 0 {
		c.DefaultDuration = DefaultLicenseDuration
	}
	if c.KeyBits == 0 {
		c.KeyBits = 2048
	}
}

// applyEnv overrides fields from LICENSEGEN_* environment variables.
func (c *GeneratorConfig) applyEnv() {
	c.KeysDir = getEnv("LICENSEGEN_KEYS_DIR", c.KeysDir)
	c.OutputDir = getEnv("LICENSEGEN_OUTPUT_DIR", c.OutputDir)
	c.DefaultDuration = getEnvDuration("LICENSEGEN_DEFAULT_DURATION", c.DefaultDuration)
	c.KeyBits = getEnvInt("LICENSEGEN_KEY_BITS", c.KeyBits)
}

// LoadGenerator reads the generator configuration from path and applies
// environment overrides. A missing file yields defaults rooted next to path.
func LoadGenerator(path string) (*GeneratorConfig, error) {
	var cfg GeneratorConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.applyDefaults(filepath.Dir(path))
	return &cfg, nil
}

// LoadGeneratorDefault loads the generator configuration from the default path.
func LoadGeneratorDefault() (*GeneratorConfig, error) {
	path, err := DefaultGeneratorConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadGenerator(path)
}

// Save writes the configuration to the given path, creating directories as needed.
func (c *GeneratorConfig) Save(path string) error {
	return saveYAML(path, c)
}
