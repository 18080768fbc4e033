// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for the replay kiosk.
//
// Configuration is loaded from a single YAML file specified by:
//   - REPLAYKIOSK_CONFIG environment variable, or
//   - --config flag passed to the command
//
// There are no fallbacks or automatic discovery. Environment variables
// never override file values; the only expansion performed is ${HOME}
// and ${REPLAYKIOSK_ROOT} in paths for portability.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the kiosk daemon.
type Config struct {
	// Server configures the HTTP API.
	Server ServerConfig `yaml:"server"`

	// Capture configures the connection to the capture tool.
	Capture CaptureConfig `yaml:"capture"`

	// Replays configures where session clips land on disk.
	Replays ReplaysConfig `yaml:"replays"`

	// Database configures the session store.
	Database DatabaseConfig `yaml:"database"`

	// Sessions configures session lifecycle defaults.
	Sessions SessionsConfig `yaml:"sessions"`
}

// ServerConfig configures the HTTP API listener.
type ServerConfig struct {
	// ListenAddress is the host:port the API binds to.
	// Default: 127.0.0.1:8090
	ListenAddress string `yaml:"listen_address"`
}

// CaptureConfig configures the capture tool connection.
type CaptureConfig struct {
	// URL is the tool's WebSocket endpoint.
	// Default: ws://127.0.0.1:4455
	URL string `yaml:"url"`

	// Password is the shared secret for the challenge/response
	// handshake. Empty when the tool runs without authentication.
	Password string `yaml:"password"`

	// RequestTimeout bounds an ordinary request. Default: 10s
	RequestTimeout string `yaml:"request_timeout"`

	// ConnectTimeout bounds dial plus handshake. Default: 10s
	ConnectTimeout string `yaml:"connect_timeout"`

	// ReconnectBase is the unit of the linear reconnect delay.
	// Default: 1s
	ReconnectBase string `yaml:"reconnect_base"`

	// MaxReconnectAttempts bounds automatic reconnection. Default: 5
	MaxReconnectAttempts int `yaml:"max_reconnect_attempts"`
}

// ReplaysConfig configures clip storage.
type ReplaysConfig struct {
	// Root is the directory under which per-session folders are
	// created. The capture tool must be able to write here.
	Root string `yaml:"root"`
}

// DatabaseConfig configures the session store.
type DatabaseConfig struct {
	// Path is the SQLite database file.
	Path string `yaml:"path"`
}

// SessionsConfig configures session lifecycle defaults.
type SessionsConfig struct {
	// DefaultDurationMinutes is the session length used when a create
	// request does not specify one. Default: 5
	DefaultDurationMinutes int `yaml:"default_duration_minutes"`

	// SweepInterval is how often the expiry sweeper scans for sessions
	// past their end time. Default: 30s
	SweepInterval string `yaml:"sweep_interval"`
}

// Default returns the default configuration, used as the base before
// loading the config file. The file is still required; these exist so
// every field has a sensible zero-value.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	defaultRoot := filepath.Join(homeDir, ".local", "share", "replaykiosk")

	return &Config{
		Server: ServerConfig{
			ListenAddress: "127.0.0.1:8090",
		},
		Capture: CaptureConfig{
			URL:                  "ws://127.0.0.1:4455",
			RequestTimeout:       "10s",
			ConnectTimeout:       "10s",
			ReconnectBase:        "1s",
			MaxReconnectAttempts: 5,
		},
		Replays: ReplaysConfig{
			Root: filepath.Join(defaultRoot, "replays"),
		},
		Database: DatabaseConfig{
			Path: filepath.Join(defaultRoot, "sessions.db"),
		},
		Sessions: SessionsConfig{
			DefaultDurationMinutes: 5,
			SweepInterval:          "30s",
		},
	}
}

// Load loads configuration from the REPLAYKIOSK_CONFIG environment
// variable. There are no fallbacks: if the variable is not set, Load
// fails.
func Load() (*Config, error) {
	configPath := os.Getenv("REPLAYKIOSK_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("REPLAYKIOSK_CONFIG environment variable not set; " +
			"set it to the path of your kiosk.yaml config file, or use --config flag")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, merging it
// over the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.expandVariables()
	return cfg, nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}
	c.Replays.Root = expandVars(c.Replays.Root, vars)
	c.Database.Path = expandVars(c.Database.Path, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.ListenAddress == "" {
		errs = append(errs, fmt.Errorf("server.listen_address is required"))
	}
	if c.Capture.URL == "" {
		errs = append(errs, fmt.Errorf("capture.url is required"))
	}
	if c.Replays.Root == "" {
		errs = append(errs, fmt.Errorf("replays.root is required"))
	}
	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Sessions.DefaultDurationMinutes <= 0 {
		errs = append(errs, fmt.Errorf("sessions.default_duration_minutes must be positive"))
	}
	if c.Capture.MaxReconnectAttempts <= 0 {
		errs = append(errs, fmt.Errorf("capture.max_reconnect_attempts must be positive"))
	}

	durations := map[string]string{
		"capture.request_timeout": c.Capture.RequestTimeout,
		"capture.connect_timeout": c.Capture.ConnectTimeout,
		"capture.reconnect_base":  c.Capture.ReconnectBase,
		"sessions.sweep_interval": c.Sessions.SweepInterval,
	}
	for field, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", field, value))
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// EnsurePaths creates the replay root and the database's parent
// directory if they do not exist.
func (c *Config) EnsurePaths() error {
	paths := []string{
		c.Replays.Root,
		filepath.Dir(c.Database.Path),
	}
	for _, path := range paths {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", path, err)
		}
	}
	return nil
}

// Duration returns a parsed duration field. Call only after Validate;
// an unparseable value falls back to the given default.
func Duration(value string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
