// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "context"

// ConnectResult is the session-binding contract returned to the REST
// layer: a success flag plus a human-readable message.
type ConnectResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// ConnectForSession binds the shared connection to the given kiosk
// session, connecting first if necessary.
//
// Idempotent: when the connection is Ready and already bound to
// sessionID, it returns success without new I/O. Concurrent calls for
// the same session share one underlying attempt (single-flight); a
// call while a different session's attempt is in flight joins that
// attempt's socket rather than opening a second one, then takes over
// the binding.
//
// Success enables reconnection for the bound session. Failure disables
// it: a session that could not even establish is not retried
// automatically.
func (c *Conn) ConnectForSession(ctx context.Context, sessionID string) ConnectResult {
	if sessionID == "" {
		return ConnectResult{Success: false, Message: "session id is required"}
	}

	message, err, _ := c.flights.Do(sessionID, func() (any, error) {
		return c.bindSession(ctx, sessionID)
	})
	if err != nil {
		return ConnectResult{Success: false, Message: err.Error()}
	}
	return ConnectResult{Success: true, Message: message.(string)}
}

// bindSession is the single-flight body of ConnectForSession.
func (c *Conn) bindSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.Lock()
	if c.state == StateReady {
		if c.boundSession == sessionID {
			c.mu.Unlock()
			return "already connected for this session", nil
		}
		// One shared connection per process: a new session takes over
		// the live connection instead of opening a second socket.
		c.boundSession = sessionID
		c.shouldReconnect = true
		c.mu.Unlock()
		c.logger.Info("rebound capture connection", "session_id", sessionID)
		return "rebound existing connection", nil
	}
	c.boundSession = sessionID
	c.shouldReconnect = true
	c.mu.Unlock()

	c.logger.Info("connecting to capture tool for session", "session_id", sessionID)
	if err := c.connect(ctx); err != nil {
		c.mu.Lock()
		c.shouldReconnect = false
		if c.boundSession == sessionID {
			c.boundSession = ""
		}
		c.mu.Unlock()
		c.logger.Warn("capture tool connection failed for session",
			"session_id", sessionID,
			"error", err,
		)
		return "", err
	}
	return "connected", nil
}

// DisconnectFromSession tears the connection down, but only when it is
// currently bound to exactly sessionID. A stale disconnect for a
// superseded session never touches a newer session's live connection.
func (c *Conn) DisconnectFromSession(sessionID string) {
	c.mu.Lock()
	if c.boundSession != sessionID {
		c.mu.Unlock()
		c.logger.Debug("ignoring disconnect for unbound session", "session_id", sessionID)
		return
	}
	c.mu.Unlock()

	c.logger.Info("disconnecting capture session", "session_id", sessionID)
	c.Disconnect()
}

// IsConnectedForSession reports whether the connection is Ready and
// bound to sessionID.
func (c *Conn) IsConnectedForSession(sessionID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateReady && c.boundSession == sessionID
}

// EnsureSession brings the connection to Ready so a command can be
// issued on sessionID's behalf, returning a classified error on
// failure. This is the ensure-Ready step every orchestrated operation
// starts with.
//
// The ensure path never changes which session owns the binding: a
// Ready connection is reused as-is, and a connect joins any attempt
// already in flight. Only ConnectForSession takes over the binding, so
// a superseded session's teardown can never capture the live
// connection and then tear it down as its own.
func (c *Conn) EnsureSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return validationError("session id is required")
	}
	return c.connect(ctx)
}
