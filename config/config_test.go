// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiosk.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
server:
  listen_address: "0.0.0.0:9000"
capture:
  url: "ws://10.0.0.5:4455"
  password: "secret"
  request_timeout: "3s"
replays:
  root: "/data/replays"
database:
  path: "/data/sessions.db"
sessions:
  default_duration_minutes: 10
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("ListenAddress = %q, want %q", cfg.Server.ListenAddress, "0.0.0.0:9000")
	}
	if cfg.Capture.URL != "ws://10.0.0.5:4455" {
		t.Errorf("Capture.URL = %q, want %q", cfg.Capture.URL, "ws://10.0.0.5:4455")
	}
	if cfg.Capture.Password != "secret" {
		t.Errorf("Capture.Password = %q, want %q", cfg.Capture.Password, "secret")
	}
	if cfg.Capture.RequestTimeout != "3s" {
		t.Errorf("Capture.RequestTimeout = %q, want %q", cfg.Capture.RequestTimeout, "3s")
	}
	// Unspecified fields keep their defaults.
	if cfg.Capture.MaxReconnectAttempts != 5 {
		t.Errorf("MaxReconnectAttempts = %d, want default 5", cfg.Capture.MaxReconnectAttempts)
	}
	if cfg.Sessions.SweepInterval != "30s" {
		t.Errorf("SweepInterval = %q, want default %q", cfg.Sessions.SweepInterval, "30s")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("LoadFile succeeded for a missing file")
	}
}

func TestLoadRequiresEnvVar(t *testing.T) {
	t.Setenv("REPLAYKIOSK_CONFIG", "")
	_, err := Load()
	if err == nil {
		t.Fatal("Load succeeded without REPLAYKIOSK_CONFIG")
	}
	if !strings.Contains(err.Error(), "REPLAYKIOSK_CONFIG") {
		t.Errorf("error %q does not name the environment variable", err)
	}
}

func TestLoadFromEnvVar(t *testing.T) {
	path := writeConfig(t, `
replays:
  root: "/data/replays"
`)
	t.Setenv("REPLAYKIOSK_CONFIG", path)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Replays.Root != "/data/replays" {
		t.Errorf("Replays.Root = %q, want %q", cfg.Replays.Root, "/data/replays")
	}
}

func TestVariableExpansion(t *testing.T) {
	t.Setenv("HOME", "/home/kiosk")
	path := writeConfig(t, `
replays:
  root: "${HOME}/replays"
database:
  path: "${KIOSK_DB_DIR:-/var/lib/replaykiosk}/sessions.db"
`)
	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Replays.Root != "/home/kiosk/replays" {
		t.Errorf("Replays.Root = %q, want %q", cfg.Replays.Root, "/home/kiosk/replays")
	}
	if cfg.Database.Path != "/var/lib/replaykiosk/sessions.db" {
		t.Errorf("Database.Path = %q, want the ${VAR:-default} expansion", cfg.Database.Path)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"empty listen address", func(c *Config) { c.Server.ListenAddress = "" }, "listen_address"},
		{"empty capture url", func(c *Config) { c.Capture.URL = "" }, "capture.url"},
		{"empty replay root", func(c *Config) { c.Replays.Root = "" }, "replays.root"},
		{"empty database path", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"zero duration minutes", func(c *Config) { c.Sessions.DefaultDurationMinutes = 0 }, "default_duration_minutes"},
		{"bad timeout", func(c *Config) { c.Capture.RequestTimeout = "ten seconds" }, "request_timeout"},
		{"bad sweep interval", func(c *Config) { c.Sessions.SweepInterval = "often" }, "sweep_interval"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate accepted an invalid config")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestEnsurePaths(t *testing.T) {
	root := t.TempDir()
	cfg := Default()
	cfg.Replays.Root = filepath.Join(root, "replays")
	cfg.Database.Path = filepath.Join(root, "db", "sessions.db")

	if err := cfg.EnsurePaths(); err != nil {
		t.Fatalf("EnsurePaths: %v", err)
	}
	for _, dir := range []string{cfg.Replays.Root, filepath.Join(root, "db")} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("stat %s: %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestDuration(t *testing.T) {
	if got := Duration("3s", time.Second); got != 3*time.Second {
		t.Errorf("Duration(3s) = %v, want 3s", got)
	}
	if got := Duration("nope", 7*time.Second); got != 7*time.Second {
		t.Errorf("Duration(nope) = %v, want the fallback", got)
	}
}
