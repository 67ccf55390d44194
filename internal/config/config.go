package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Swarm holds storage-swarm connection settings.
type Swarm struct {
	NodeURL          string `toml:"node_url"`
	PollIntervalSecs int    `toml:"poll_interval_secs"`
}

// Config represents the global ~/.sesh/config.toml.
type Config struct {
	DefaultAccount string `toml:"default_account"`
	Swarm          Swarm  `toml:"swarm"`
}

// DefaultPollIntervalSecs is used when the config omits a swarm poll interval.
const DefaultPollIntervalSecs = 30

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Swarm.PollIntervalSecs <= 0 {
		cfg.Swarm.PollIntervalSecs = DefaultPollIntervalSecs
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
