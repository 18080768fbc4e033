// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"log/slog"
	"time"

	"github.com/momentlab/replaykiosk/lib/clock"
	"github.com/momentlab/replaykiosk/store"
)

// Sweeper expires active sessions whose timer has elapsed and tears
// down their capture state: replay buffer stopped, connection
// released. It is the authoritative expiry path; the API's lazy expiry
// only covers the read-your-own-status case between ticks.
type Sweeper struct {
	store    *store.Store
	capture  CaptureClient
	buffer   BufferController
	interval time.Duration
	clock    clock.Clock
	logger   *slog.Logger
}

// SweeperConfig holds the dependencies for creating a Sweeper.
type SweeperConfig struct {
	// Store is the session store. Required.
	Store *store.Store

	// Capture manages the shared capture tool connection. Required.
	Capture CaptureClient

	// Buffer orchestrates the replay buffer. Required.
	Buffer BufferController

	// Interval is the scan period. Defaults to 30 seconds.
	Interval time.Duration

	// Clock drives the ticker. Nil means the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// NewSweeper creates a sweeper. Call Run to start it.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Sweeper{
		store:    cfg.Store,
		capture:  cfg.Capture,
		buffer:   cfg.Buffer,
		interval: interval,
		clock:    clk,
		logger:   logger,
	}
}

// Run scans on every tick until ctx is cancelled. It sweeps once
// immediately so sessions overdue across a daemon restart expire
// without waiting a full interval.
func (s *Sweeper) Run(ctx context.Context) {
	s.Sweep(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep expires every overdue session. Capture teardown is
// best-effort: the session expires even when the tool is unreachable.
func (s *Sweeper) Sweep(ctx context.Context) {
	overdue, err := s.store.ListOverdue(ctx, s.clock.Now())
	if err != nil {
		s.logger.Error("listing overdue sessions", "error", err)
		return
	}

	for _, session := range overdue {
		if err := s.store.Expire(ctx, session.SessionID); err != nil {
			s.logger.Error("expiring session", "session_id", session.SessionID, "error", err)
			continue
		}
		s.logger.Info("session timer elapsed, expired", "session_id", session.SessionID)

		// Stop the buffer only when this session still owns the
		// connection: a superseded session's expiry must not stop the
		// buffer out from under the current session.
		if s.capture.IsConnectedForSession(session.SessionID) {
			if err := s.buffer.Stop(ctx, session.SessionID); err != nil {
				s.logger.Warn("stopping replay buffer for expired session",
					"session_id", session.SessionID,
					"error", err,
				)
			}
		}
		s.capture.DisconnectFromSession(session.SessionID)
	}
}
