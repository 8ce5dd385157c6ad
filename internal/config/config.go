// Package config loads reviewbus configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config is the daemon and CLI configuration. Durations are expressed
// in seconds in the file.
type Config struct {
	// SocketPath overrides the bus socket location.
	SocketPath string `toml:"socket_path"`

	// HandshakeTimeoutSec bounds how long a connection may sit
	// unannounced, in seconds.
	HandshakeTimeoutSec int `toml:"handshake_timeout_sec"`

	// RequestTimeoutSec is the per-request deadline for editor-bound
	// requests, in seconds.
	RequestTimeoutSec int `toml:"request_timeout_sec"`

	// MaxClients caps concurrent connections (0 = unlimited).
	MaxClients int `toml:"max_clients"`

	// ResolverMaxHops bounds the process-ancestry walk.
	ResolverMaxHops int `toml:"resolver_max_hops"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level"`

	// LogFormat is console or json.
	LogFormat string `toml:"log_format"`

	// LogDir, when set, adds a reviewbus.log file in that directory.
	LogDir string `toml:"log_dir"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HandshakeTimeoutSec: 10,
		RequestTimeoutSec:   5,
		MaxClients:          100,
		ResolverMaxHops:     15,
		LogLevel:            "info",
		LogFormat:           "console",
	}
}

// DefaultPath returns the conventional config file location.
func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "reviewbus", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "reviewbus", "config.toml")
}

// Load reads the config at path, merged over defaults. A missing file
// at the default location is not an error; an explicitly named missing
// file is.
func Load(path string) (Config, error) {
	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HandshakeTimeoutSec < 0 {
		return errors.New("handshake_timeout_sec must not be negative")
	}
	if c.RequestTimeoutSec < 0 {
		return errors.New("request_timeout_sec must not be negative")
	}
	if c.MaxClients < 0 {
		return errors.New("max_clients must not be negative")
	}
	switch c.LogLevel {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level: unsupported value %q", c.LogLevel)
	}
	switch c.LogFormat {
	case "", "console", "json":
	default:
		return fmt.Errorf("log_format: unsupported value %q", c.LogFormat)
	}
	return nil
}

// HandshakeTimeout returns the handshake deadline as a duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSec) * time.Second
}

// RequestTimeout returns the per-request deadline as a duration.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
