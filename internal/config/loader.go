package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Config holds engine agent settings read from a file. Zero values mean "not set".
// Durations are strings in time.ParseDuration syntax.
type Config struct {
	ListenAddr         string `json:"listen_addr" yaml:"listen_addr" toml:"listen_addr"`
	HeartbeatTimeout   string `json:"heartbeat_timeout" yaml:"heartbeat_timeout" toml:"heartbeat_timeout"`
	OnHeartbeatFailure string `json:"on_heartbeat_failure" yaml:"on_heartbeat_failure" toml:"on_heartbeat_failure"`
	BoardSize          int    `json:"board_size" yaml:"board_size" toml:"board_size"`
	ThinkTime          string `json:"think_time" yaml:"think_time" toml:"think_time"`
	LogLevel           string `json:"log_level" yaml:"log_level" toml:"log_level"`
}

// Load reads the config file at path, choosing the parser by extension.
// Supports: .yaml/.yml, .json, .toml
func Load(path string) (Config, error) {
	var cfg Config
	if path == "" {
		return cfg, fmt.Errorf("empty config path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &cfg)
	case ".json":
		err = json.Unmarshal(b, &cfg)
	case ".toml":
		err = toml.Unmarshal(b, &cfg)
	default:
		return cfg, fmt.Errorf("unsupported config extension %q", ext)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.BoardSize < 0 {
		return fmt.Errorf("board_size must be positive, got %d", c.BoardSize)
	}
	if _, err := parseDuration(c.HeartbeatTimeout); err != nil {
		return fmt.Errorf("heartbeat_timeout: %w", err)
	}
	if _, err := parseDuration(c.ThinkTime); err != nil {
		return fmt.Errorf("think_time: %w", err)
	}
	switch c.OnHeartbeatFailure {
	case "", "exit", "none":
	default:
		return fmt.Errorf("unsupported on_heartbeat_failure %q", c.OnHeartbeatFailure)
	}
	return nil
}

// HeartbeatTimeoutDuration returns the parsed heartbeat timeout, or 0 if unset.
func (c Config) HeartbeatTimeoutDuration() time.Duration {
	d, _ := parseDuration(c.HeartbeatTimeout)
	return d
}

// ThinkTimeDuration returns the parsed think time, or 0 if unset.
func (c Config) ThinkTimeDuration() time.Duration {
	d, _ := parseDuration(c.ThinkTime)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}
