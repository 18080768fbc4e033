// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/momentlab/replaykiosk/lib/clock"
)

// Transport is the subset of *Conn the orchestration layers use.
// Tests substitute a fake; production passes the Conn.
type Transport interface {
	// EnsureSession brings the connection to Ready for the session.
	EnsureSession(ctx context.Context, sessionID string) error

	// Request sends a typed command and waits for the correlated
	// acknowledgment. A non-positive timeout selects the default.
	Request(ctx context.Context, requestType string, requestData any, timeout time.Duration) (json.RawMessage, error)
}

// Orchestration timing defaults.
const (
	// defaultSaveTimeout is longer than the ordinary request timeout:
	// the tool's save path flushes the whole rolling buffer to disk.
	defaultSaveTimeout = 15 * time.Second

	// defaultSettleDelay is how long a just-started buffer gets to
	// spin up before its status is trusted.
	defaultSettleDelay = 2 * time.Second

	// defaultPreSendDelay is a brief pause before the save request so
	// it does not race a just-(re)established connection.
	defaultPreSendDelay = 100 * time.Millisecond
)

// ReplayBufferConfig holds the parameters for creating a ReplayBuffer.
// All fields are optional.
type ReplayBufferConfig struct {
	Logger *slog.Logger
	Clock  clock.Clock

	SaveTimeout  time.Duration
	SettleDelay  time.Duration
	PreSendDelay time.Duration
}

// ReplayBuffer orchestrates the capture tool's rolling buffer: it
// guarantees the buffer is running before a save, retries a start once
// with a settle wait, and classifies failures into actionable errors.
//
// State-changing buffer operations are serialized by an internal
// mutex, so a save never interleaves with a stop issued by session
// expiry.
type ReplayBuffer struct {
	conn   Transport
	logger *slog.Logger
	clock  clock.Clock

	saveTimeout  time.Duration
	settleDelay  time.Duration
	preSendDelay time.Duration

	mu sync.Mutex
}

// NewReplayBuffer creates the orchestrator on top of a transport.
func NewReplayBuffer(conn Transport, cfg ReplayBufferConfig) *ReplayBuffer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	buffer := &ReplayBuffer{
		conn:         conn,
		logger:       logger,
		clock:        clk,
		saveTimeout:  cfg.SaveTimeout,
		settleDelay:  cfg.SettleDelay,
		preSendDelay: cfg.PreSendDelay,
	}
	if buffer.saveTimeout <= 0 {
		buffer.saveTimeout = defaultSaveTimeout
	}
	if buffer.settleDelay <= 0 {
		buffer.settleDelay = defaultSettleDelay
	}
	if buffer.preSendDelay <= 0 {
		buffer.preSendDelay = defaultPreSendDelay
	}
	return buffer
}

// BufferStatus is the tool's report on the rolling buffer. Queried on
// demand, never cached beyond a single orchestration pass.
type BufferStatus struct {
	OutputActive bool `json:"outputActive"`
}

// SaveResult confirms a persisted clip.
type SaveResult struct {
	SavedAt   time.Time `json:"saved_at"`
	SessionID string    `json:"session_id"`
}

// Save persists the last few seconds of the rolling buffer as a clip
// for the given session:
//
//  1. Ensure the connection is Ready for the session.
//  2. Query buffer status; when inactive, start it, wait the settle
//     interval, and re-check. Still inactive means the buffer is not
//     enabled on the tool side: fail with KindConfiguration and never
//     attempt the save.
//  3. Send the save command with the extended timeout.
//  4. Classify any failure (timeout, tool not running, buffer
//     misconfigured, unknown) with a distinct user-facing message.
//
// Every path either returns a confirmation or a classified error.
func (r *ReplayBuffer) Save(ctx context.Context, sessionID string) (SaveResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.EnsureSession(ctx, sessionID); err != nil {
		return SaveResult{}, err
	}
	if err := r.ensureActive(ctx); err != nil {
		return SaveResult{}, err
	}

	r.clock.Sleep(r.preSendDelay)

	if _, err := r.conn.Request(ctx, requestSaveReplayBuffer, nil, r.saveTimeout); err != nil {
		return SaveResult{}, classifySaveFailure(err)
	}

	result := SaveResult{SavedAt: r.clock.Now(), SessionID: sessionID}
	r.logger.Info("replay buffer saved", "session_id", sessionID, "saved_at", result.SavedAt)
	return result, nil
}

// ensureActive verifies the buffer is running, starting it once if
// not. Caller holds r.mu.
func (r *ReplayBuffer) ensureActive(ctx context.Context) error {
	status, err := r.queryStatus(ctx)
	if err != nil {
		return err
	}
	if status.OutputActive {
		return nil
	}

	r.logger.Warn("replay buffer inactive, attempting to start it")
	if _, err := r.conn.Request(ctx, requestStartReplayBuffer, nil, 0); err != nil {
		return configurationError(err, "cannot start replay buffer; enable it in the capture tool's output settings")
	}

	r.clock.Sleep(r.settleDelay)

	status, err = r.queryStatus(ctx)
	if err != nil {
		return err
	}
	if !status.OutputActive {
		return configurationError(nil, "replay buffer did not become active after start; enable it in the capture tool's output settings")
	}
	r.logger.Info("replay buffer started")
	return nil
}

// Start ensures the connection is Ready and starts the buffer.
func (r *ReplayBuffer) Start(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.EnsureSession(ctx, sessionID); err != nil {
		return err
	}
	_, err := r.conn.Request(ctx, requestStartReplayBuffer, nil, 0)
	return err
}

// Stop ensures the connection is Ready and stops the buffer. Invoked
// when a session ends or expires so a running buffer never leaks into
// the next session's directory.
func (r *ReplayBuffer) Stop(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.conn.EnsureSession(ctx, sessionID); err != nil {
		return err
	}
	_, err := r.conn.Request(ctx, requestStopReplayBuffer, nil, 0)
	return err
}

// Status ensures the connection is Ready and queries the buffer state.
func (r *ReplayBuffer) Status(ctx context.Context, sessionID string) (BufferStatus, error) {
	if err := r.conn.EnsureSession(ctx, sessionID); err != nil {
		return BufferStatus{}, err
	}
	return r.queryStatus(ctx)
}

// Settings ensures the connection is Ready and fetches the tool's
// buffer settings verbatim.
func (r *ReplayBuffer) Settings(ctx context.Context, sessionID string) (json.RawMessage, error) {
	if err := r.conn.EnsureSession(ctx, sessionID); err != nil {
		return nil, err
	}
	return r.conn.Request(ctx, requestGetReplayBufferSettings, nil, 0)
}

func (r *ReplayBuffer) queryStatus(ctx context.Context) (BufferStatus, error) {
	data, err := r.conn.Request(ctx, requestGetReplayBufferStatus, nil, 0)
	if err != nil {
		return BufferStatus{}, err
	}
	var status BufferStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return BufferStatus{}, &Error{
			Kind:    KindExternalTool,
			Message: fmt.Sprintf("unparseable buffer status: %v", err),
			Err:     err,
		}
	}
	return status, nil
}

// classifySaveFailure maps a save error to one of the four save
// failure reasons, each with a distinct user-facing message. Errors
// already classified outside the save path (connection,
// authentication, configuration, validation) pass through unchanged.
func classifySaveFailure(err error) error {
	var captureErr *Error
	if !errors.As(err, &captureErr) {
		return &Error{
			Kind:    KindExternalTool,
			Message: "save failed",
			Reason:  SaveFailureUnknown,
			Err:     err,
		}
	}

	switch captureErr.Kind {
	case KindTimeout:
		return &Error{
			Kind:    KindTimeout,
			Message: "save timed out; check the capture tool is running and the replay buffer is started",
			Reason:  SaveFailureTimeout,
			Err:     captureErr,
		}
	case KindExternalTool:
		comment := strings.ToLower(captureErr.Comment)
		switch {
		case strings.Contains(comment, "replay buffer"):
			return &Error{
				Kind:    KindConfiguration,
				Message: fmt.Sprintf("replay buffer error: %s; make sure the replay buffer is configured in the capture tool", captureErr.Comment),
				Comment: captureErr.Comment,
				Reason:  SaveFailureMisconfigured,
				Err:     captureErr,
			}
		case strings.Contains(comment, "not running"):
			return &Error{
				Kind:    KindExternalTool,
				Message: fmt.Sprintf("capture tool not running: %s", captureErr.Comment),
				Comment: captureErr.Comment,
				Reason:  SaveFailureNotRunning,
				Err:     captureErr,
			}
		default:
			return &Error{
				Kind:    KindExternalTool,
				Message: fmt.Sprintf("save failed: %s", captureErr.Comment),
				Comment: captureErr.Comment,
				Reason:  SaveFailureUnknown,
				Err:     captureErr,
			}
		}
	default:
		return captureErr
	}
}
