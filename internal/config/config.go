package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort          = 8080
	defaultDataDir       = "data"
	defaultReferenceBase = "reference"
	defaultQueueCapacity = 64
	defaultKSize         = 51
)

// Config describes runtime configuration for the service. YAML supplies
// the base values, SNIPEQC_* environment variables override them.
type Config struct {
	Port          int    `yaml:"port" envconfig:"SNIPEQC_PORT"`
	DataDir       string `yaml:"data_dir" envconfig:"SNIPEQC_DATA_DIR"`
	ReferenceBase string `yaml:"reference_base" envconfig:"SNIPEQC_REFERENCE_BASE"`
	RedisURL      string `yaml:"redis_url" envconfig:"SNIPEQC_REDIS_URL"`
	QueueCapacity int    `yaml:"queue_capacity" envconfig:"SNIPEQC_QUEUE_CAPACITY"`
	KSize         int    `yaml:"ksize" envconfig:"SNIPEQC_KSIZE"`
}

func Default() Config {
	return Config{
		Port:          defaultPort,
		DataDir:       defaultDataDir,
		ReferenceBase: defaultReferenceBase,
		QueueCapacity: defaultQueueCapacity,
		KSize:         defaultKSize,
	}
}

// Load reads YAML config from the provided path; a missing or empty file
// falls back to defaults. Environment variables are applied last.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil && !os.IsNotExist(err) {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, fmt.Errorf("process env: %w", err)
	}

	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.ReferenceBase == "" {
		cfg.ReferenceBase = defaultReferenceBase
	}
	if cfg.QueueCapacity < 1 {
		return cfg, fmt.Errorf("invalid queue_capacity: %d (must be >= 1)", cfg.QueueCapacity)
	}
	if cfg.KSize < 1 {
		return cfg, fmt.Errorf("invalid ksize: %d (must be >= 1)", cfg.KSize)
	}
	return cfg, nil
}
