// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

// Command replay-kioskd is the kiosk daemon: it owns the session
// database, the single capture tool connection, and the HTTP API the
// kiosk front-end talks to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/momentlab/replaykiosk/capture"
	"github.com/momentlab/replaykiosk/config"
	"github.com/momentlab/replaykiosk/httpapi"
	"github.com/momentlab/replaykiosk/lib/clock"
	"github.com/momentlab/replaykiosk/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "replay-kioskd:", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var debug bool
	pflag.StringVar(&configPath, "config", "", "path to the kiosk config file (overrides REPLAYKIOSK_CONFIG)")
	pflag.BoolVar(&debug, "debug", false, "enable debug logging")
	pflag.Parse()

	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadFile(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.Real()

	sessions, err := store.Open(store.StoreConfig{
		Path:   cfg.Database.Path,
		Clock:  clk,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer sessions.Close()

	conn, err := capture.NewConn(capture.Config{
		URL:                  cfg.Capture.URL,
		Password:             cfg.Capture.Password,
		Logger:               logger,
		Clock:                clk,
		RequestTimeout:       config.Duration(cfg.Capture.RequestTimeout, 0),
		ConnectTimeout:       config.Duration(cfg.Capture.ConnectTimeout, 0),
		ReconnectBase:        config.Duration(cfg.Capture.ReconnectBase, 0),
		MaxReconnectAttempts: cfg.Capture.MaxReconnectAttempts,
	})
	if err != nil {
		return err
	}
	defer conn.Disconnect()

	buffer := capture.NewReplayBuffer(conn, capture.ReplayBufferConfig{
		Logger: logger,
		Clock:  clk,
	})
	directory := capture.NewDirectory(conn, logger)

	api := httpapi.NewAPI(httpapi.APIConfig{
		Store:                  sessions,
		Capture:                conn,
		Buffer:                 buffer,
		Directory:              directory,
		ReplayRoot:             cfg.Replays.Root,
		DefaultDurationMinutes: cfg.Sessions.DefaultDurationMinutes,
		Clock:                  clk,
		Logger:                 logger,
	})

	sweeper := httpapi.NewSweeper(httpapi.SweeperConfig{
		Store:    sessions,
		Capture:  conn,
		Buffer:   buffer,
		Interval: config.Duration(cfg.Sessions.SweepInterval, 0),
		Clock:    clk,
		Logger:   logger,
	})
	go sweeper.Run(ctx)

	server := httpapi.NewServer(httpapi.ServerConfig{
		Address: cfg.Server.ListenAddress,
		Handler: api.Handler(),
		Logger:  logger,
	})

	logger.Info("replay kiosk daemon starting",
		"listen_address", cfg.Server.ListenAddress,
		"capture_url", cfg.Capture.URL,
		"replay_root", cfg.Replays.Root,
	)
	return server.Serve(ctx)
}
