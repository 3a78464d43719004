// Package config loads optional run defaults from a TOML file. Command
// line flags and environment variables always win over file values.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// DefaultPath is probed when no --config flag is given.
const DefaultPath = "opmlsync.toml"

// TomlConfig holds defaults for the sync run.
type TomlConfig struct {
	Tiny             string  `toml:"tiny,omitempty"`
	Full             string  `toml:"full,omitempty"`
	FallbackCategory string  `toml:"fallback_category,omitempty"`
	TimeoutSeconds   float64 `toml:"timeout_seconds,omitempty"`
	Retries          int     `toml:"retries,omitempty"`
	Workers          int     `toml:"workers,omitempty"`
	StateFile        string  `toml:"state_file,omitempty"`
	DeleteThreshold  int     `toml:"delete_threshold,omitempty"`
	MaxProbeBytes    int64   `toml:"max_probe_bytes,omitempty"`
	UserAgent        string  `toml:"user_agent,omitempty"`
}

func LoadConfig(path string) (*TomlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config TomlConfig
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

// LoadDefault loads DefaultPath if it exists, returning an empty config
// when the file is absent.
func LoadDefault() (*TomlConfig, error) {
	if _, err := os.Stat(DefaultPath); os.IsNotExist(err) {
		return &TomlConfig{}, nil
	}
	return LoadConfig(DefaultPath)
}
