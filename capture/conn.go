// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/singleflight"

	"github.com/momentlab/replaykiosk/lib/clock"
)

// State is the connection lifecycle state.
type State int

const (
	// StateDisconnected means no socket exists.
	StateDisconnected State = iota
	// StateConnecting means a dial is in progress.
	StateConnecting
	// StateAwaitingAuth means the socket is open and the handshake has
	// not completed.
	StateAwaitingAuth
	// StateReady means the tool acknowledged identification; requests
	// may be sent.
	StateReady
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateReady:
		return "ready"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Defaults for Config fields left zero.
const (
	defaultRequestTimeout       = 10 * time.Second
	defaultConnectTimeout       = 10 * time.Second
	defaultReconnectBase        = time.Second
	defaultMaxReconnectAttempts = 5
)

// Config holds the parameters for creating a Conn.
type Config struct {
	// URL is the capture tool's WebSocket endpoint
	// (e.g., "ws://127.0.0.1:4455"). Required.
	URL string

	// Password is the shared secret for the challenge/response
	// handshake. Empty when the tool runs without authentication.
	Password string

	// Logger is used for structured logging. Nil means slog.Default().
	Logger *slog.Logger

	// Clock drives timeouts, the reconnect backoff, and request IDs.
	// Nil means the real clock.
	Clock clock.Clock

	// OnEvent receives asynchronous notifications from the tool (for
	// example "ReplayBufferSaved"). Called from the dispatch loop, so
	// it must not block. Optional.
	OnEvent func(eventType string, eventData json.RawMessage)

	// RequestTimeout is the default per-request timeout. Zero means
	// 10 seconds.
	RequestTimeout time.Duration

	// ConnectTimeout is the hard ceiling on a connect attempt
	// (dial plus handshake). Zero means 10 seconds.
	ConnectTimeout time.Duration

	// ReconnectBase is the unit of the reconnect delay; attempt n
	// waits n×ReconnectBase. Zero means 1 second.
	ReconnectBase time.Duration

	// MaxReconnectAttempts bounds automatic reconnection. Zero means 5.
	MaxReconnectAttempts int
}

// Conn is the single process-wide connection to the capture tool. It
// owns the socket lifecycle, multiplexes typed requests over the one
// socket, and matches responses to waiters by request ID.
//
// Conn is safe for concurrent use. It is created once by the
// composition root and shared by every caller; per-request connections
// do not exist.
type Conn struct {
	url      string
	password string
	logger   *slog.Logger
	clock    clock.Clock
	onEvent  func(eventType string, eventData json.RawMessage)

	requestTimeout       time.Duration
	connectTimeout       time.Duration
	reconnectBase        time.Duration
	maxReconnectAttempts int

	requestCounter atomic.Uint64

	// flights de-duplicates concurrent ConnectForSession calls for the
	// same session.
	flights singleflight.Group

	// writeMu serializes socket writes: request senders and the
	// dispatch loop's identify reply share the socket.
	writeMu sync.Mutex

	mu                sync.Mutex
	state             State
	socket            *websocket.Conn
	boundSession      string
	shouldReconnect   bool
	reconnectAttempts int
	reconnectTimer    *clock.Timer

	// generation identifies the current socket. A dispatch loop
	// reporting an error for an older generation is stale and ignored.
	generation int

	// pending is the correlation table: request ID to waiter.
	pending map[string]chan requestOutcome

	// connectWaiters receive the outcome of the in-flight connect
	// attempt: nil on Ready, a classified error otherwise.
	connectWaiters []chan error
}

// requestOutcome resolves one pending request.
type requestOutcome struct {
	response responsePayload
	err      error
}

// NewConn creates a Conn in the Disconnected state. No I/O happens
// until a connect is requested.
func NewConn(cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("capture: URL is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}

	conn := &Conn{
		url:                  cfg.URL,
		password:             cfg.Password,
		logger:               logger,
		clock:                clk,
		onEvent:              cfg.OnEvent,
		requestTimeout:       cfg.RequestTimeout,
		connectTimeout:       cfg.ConnectTimeout,
		reconnectBase:        cfg.ReconnectBase,
		maxReconnectAttempts: cfg.MaxReconnectAttempts,
		pending:              make(map[string]chan requestOutcome),
	}
	if conn.requestTimeout <= 0 {
		conn.requestTimeout = defaultRequestTimeout
	}
	if conn.connectTimeout <= 0 {
		conn.connectTimeout = defaultConnectTimeout
	}
	if conn.reconnectBase <= 0 {
		conn.reconnectBase = defaultReconnectBase
	}
	if conn.maxReconnectAttempts <= 0 {
		conn.maxReconnectAttempts = defaultMaxReconnectAttempts
	}
	return conn, nil
}

// Status is the read-only connection diagnostic.
type Status struct {
	Connected         bool `json:"connected"`
	Authenticated     bool `json:"authenticated"`
	ReconnectAttempts int  `json:"reconnect_attempts"`
	ShouldReconnect   bool `json:"should_reconnect"`
}

// Status reports the connection state without side effects. Connected
// means the socket is open; Authenticated means the handshake
// completed and requests may be sent.
func (c *Conn) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		Connected:         c.state == StateAwaitingAuth || c.state == StateReady,
		Authenticated:     c.state == StateReady,
		ReconnectAttempts: c.reconnectAttempts,
		ShouldReconnect:   c.shouldReconnect,
	}
}

// State returns the current lifecycle state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// connect brings the connection to Ready, joining an attempt already in
// flight rather than opening a second socket. The whole sequence (dial,
// hello, identify, identified) is bounded by the connect timeout.
func (c *Conn) connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateReady:
		c.mu.Unlock()
		return nil
	case StateConnecting, StateAwaitingAuth:
		waiter := make(chan error, 1)
		c.connectWaiters = append(c.connectWaiters, waiter)
		c.mu.Unlock()
		select {
		case err := <-waiter:
			return err
		case <-ctx.Done():
			return connectionError(ctx.Err(), "connect cancelled")
		}
	}

	c.state = StateConnecting
	ownWaiter := make(chan error, 1)
	c.connectWaiters = append(c.connectWaiters, ownWaiter)
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.connectTimeout}
	socket, _, err := dialer.DialContext(ctx, c.url, nil)
	if err != nil {
		dialErr := connectionError(err, "dialing capture tool at %s", c.url)
		c.mu.Lock()
		c.state = StateDisconnected
		c.deliverConnectResultLocked(dialErr)
		c.mu.Unlock()
		return dialErr
	}

	c.mu.Lock()
	c.socket = socket
	c.state = StateAwaitingAuth
	c.generation++
	generation := c.generation
	c.mu.Unlock()

	go c.readPump(socket, generation)

	select {
	case err := <-ownWaiter:
		if err != nil {
			return err
		}
		c.mu.Lock()
		c.reconnectAttempts = 0
		c.mu.Unlock()
		c.logger.Info("capture tool connection ready", "url", c.url)
		return nil
	case <-ctx.Done():
		cause := connectionError(ctx.Err(), "connect cancelled")
		c.dropConnection(generation, cause, false)
		return cause
	case <-c.clock.After(c.connectTimeout):
		cause := timeoutError("no ready acknowledgment within %v (check the capture tool is running)", c.connectTimeout)
		c.dropConnection(generation, cause, false)
		return cause
	}
}

// Disconnect tears the connection down and disables reconnection. Safe
// to call in any state.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.shouldReconnect = false
	c.boundSession = ""
	c.reconnectAttempts = 0
	if c.reconnectTimer != nil {
		c.reconnectTimer.Stop()
		c.reconnectTimer = nil
	}
	generation := c.generation
	c.mu.Unlock()

	c.dropConnection(generation, connectionError(nil, "disconnected"), false)
}

// dropConnection transitions to Disconnected: closes the socket, fails
// every pending request and connect waiter with cause, and — for
// unexpected drops — schedules a reconnect attempt if policy allows.
// Calls for a stale generation are ignored.
func (c *Conn) dropConnection(generation int, cause error, allowReconnect bool) {
	c.mu.Lock()
	if c.generation != generation || c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	// Invalidate the socket so the dispatch loop's own exit is stale.
	c.generation++
	socket := c.socket
	c.socket = nil
	c.state = StateDisconnected

	for id, waiter := range c.pending {
		delete(c.pending, id)
		waiter <- requestOutcome{err: cause}
	}
	c.deliverConnectResultLocked(cause)

	if allowReconnect {
		c.scheduleReconnectLocked()
	}
	c.mu.Unlock()

	if socket != nil {
		socket.Close()
	}
}

// deliverConnectResultLocked resolves every connect waiter. Caller
// holds c.mu.
func (c *Conn) deliverConnectResultLocked(err error) {
	for _, waiter := range c.connectWaiters {
		waiter <- err
	}
	c.connectWaiters = nil
}

// scheduleReconnectLocked arms the reconnect timer for the next
// attempt, growing the delay linearly with the attempt number. Caller
// holds c.mu. Reaching the ceiling is terminal until the next explicit
// connect resets the counter.
func (c *Conn) scheduleReconnectLocked() {
	if !c.shouldReconnect {
		c.logger.Info("reconnection disabled, not attempting to reconnect")
		return
	}
	if c.reconnectAttempts >= c.maxReconnectAttempts {
		c.logger.Error("max capture tool reconnect attempts reached",
			"max_attempts", c.maxReconnectAttempts,
		)
		return
	}
	c.reconnectAttempts++
	attempt := c.reconnectAttempts
	delay := time.Duration(attempt) * c.reconnectBase
	c.logger.Warn("capture tool connection lost, scheduling reconnect",
		"attempt", attempt,
		"max_attempts", c.maxReconnectAttempts,
		"delay", delay,
	)
	c.reconnectTimer = c.clock.AfterFunc(delay, func() { go c.runReconnect() })
}

// runReconnect performs one reconnect attempt and schedules the next
// one on failure.
func (c *Conn) runReconnect() {
	c.mu.Lock()
	if !c.shouldReconnect {
		c.mu.Unlock()
		return
	}
	attempt := c.reconnectAttempts
	c.mu.Unlock()

	c.logger.Info("reconnecting to capture tool", "attempt", attempt)
	if err := c.connect(context.Background()); err != nil {
		c.logger.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
		c.mu.Lock()
		c.scheduleReconnectLocked()
		c.mu.Unlock()
	}
}

// readPump is the single inbound dispatch loop for one socket. It
// resolves pending requests, drives the handshake, and routes events.
// Exits when the socket errors or closes.
func (c *Conn) readPump(socket *websocket.Conn, generation int) {
	for {
		_, data, err := socket.ReadMessage()
		if err != nil {
			c.dropConnection(generation, connectionError(err, "capture tool connection lost"), true)
			return
		}

		var frame envelope
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Warn("discarding unparseable capture tool frame", "error", err)
			continue
		}

		switch frame.Op {
		case opHello:
			c.handleHello(socket, frame.Data)
		case opIdentified:
			c.handleIdentified(generation)
		case opIdentify:
			// The tool echoes the identify op to reject the handshake.
			// Permanent: disable reconnection before dropping.
			c.mu.Lock()
			c.shouldReconnect = false
			c.mu.Unlock()
			c.dropConnection(generation, authenticationError("capture tool rejected identification (check the shared secret)"), false)
			return
		case opEvent:
			c.handleEvent(frame.Data)
		case opRequestResponse:
			c.handleResponse(frame.Data)
		default:
			c.logger.Debug("ignoring capture tool frame with unknown op", "op", frame.Op)
		}
	}
}

// handleHello answers the tool's greeting with an identify frame,
// computing the challenge proof when authentication is required.
func (c *Conn) handleHello(socket *websocket.Conn, data json.RawMessage) {
	var hello helloData
	if err := json.Unmarshal(data, &hello); err != nil {
		c.logger.Warn("discarding unparseable hello", "error", err)
		return
	}

	identify := identifyData{RPCVersion: hello.RPCVersion}
	if hello.Authentication != nil {
		identify.Authentication = AuthProof(c.password, hello.Authentication.Salt, hello.Authentication.Challenge)
	}

	frame, err := marshalEnvelope(opIdentify, identify)
	if err != nil {
		c.logger.Error("encoding identify frame", "error", err)
		return
	}
	if err := c.writeFrame(socket, frame); err != nil {
		// The read loop observes the broken socket and handles the drop.
		c.logger.Warn("sending identify frame", "error", err)
	}
}

// handleIdentified moves the connection to Ready and wakes connect
// waiters.
func (c *Conn) handleIdentified(generation int) {
	c.mu.Lock()
	if c.generation != generation {
		c.mu.Unlock()
		return
	}
	c.state = StateReady
	c.deliverConnectResultLocked(nil)
	c.mu.Unlock()
}

// handleEvent routes an asynchronous notification to the event hook.
// Events never satisfy a pending request.
func (c *Conn) handleEvent(data json.RawMessage) {
	var event eventPayload
	if err := json.Unmarshal(data, &event); err != nil {
		c.logger.Warn("discarding unparseable event", "error", err)
		return
	}
	c.logger.Debug("capture tool event", "event_type", event.EventType)
	if c.onEvent != nil {
		c.onEvent(event.EventType, event.EventData)
	}
}

// handleResponse resolves the pending request matching the response's
// ID. Late responses — the waiter already timed out and removed its
// entry — are logged and discarded, never applied to another request.
func (c *Conn) handleResponse(data json.RawMessage) {
	var response responsePayload
	if err := json.Unmarshal(data, &response); err != nil {
		c.logger.Warn("discarding unparseable response", "error", err)
		return
	}

	c.mu.Lock()
	waiter, ok := c.pending[response.RequestID]
	if ok {
		delete(c.pending, response.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Debug("discarding late or unmatched response",
			"request_type", response.RequestType,
			"request_id", response.RequestID,
		)
		return
	}
	waiter <- requestOutcome{response: response}
}

// Request sends a typed command over the connection and waits for the
// correlated acknowledgment. A non-positive timeout selects the
// default. The connection must be Ready; reaching Ready first is the
// caller's job (see EnsureSession).
//
// A success acknowledgment (code 100) resolves with the attached
// response data. A failure acknowledgment resolves with a
// KindExternalTool error carrying the tool's comment. No
// acknowledgment within the timeout resolves with a KindTimeout error
// and abandons the waiter; the tool may still complete the action
// unobserved.
func (c *Conn) Request(ctx context.Context, requestType string, requestData any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.requestTimeout
	}

	c.mu.Lock()
	if c.state != StateReady {
		state := c.state
		c.mu.Unlock()
		return nil, connectionError(nil, "cannot send %s: connection is %s", requestType, state)
	}
	socket := c.socket
	requestID := c.nextRequestID()
	waiter := make(chan requestOutcome, 1)
	c.pending[requestID] = waiter
	c.mu.Unlock()

	removePending := func() {
		c.mu.Lock()
		delete(c.pending, requestID)
		c.mu.Unlock()
	}

	frame, err := marshalEnvelope(opRequest, requestPayload{
		RequestType: requestType,
		RequestID:   requestID,
		RequestData: requestData,
	})
	if err != nil {
		removePending()
		return nil, validationError("encoding %s request: %v", requestType, err)
	}
	if err := c.writeFrame(socket, frame); err != nil {
		removePending()
		return nil, connectionError(err, "sending %s request", requestType)
	}

	resolve := func(outcome requestOutcome) (json.RawMessage, error) {
		if outcome.err != nil {
			return nil, outcome.err
		}
		status := outcome.response.RequestStatus
		if status.Code != statusSuccess {
			comment := status.Comment
			if comment == "" {
				comment = "unknown error"
			}
			return nil, &Error{
				Kind:    KindExternalTool,
				Message: fmt.Sprintf("%s failed: %s", requestType, comment),
				Comment: comment,
			}
		}
		return outcome.response.ResponseData, nil
	}

	select {
	case outcome := <-waiter:
		return resolve(outcome)
	case <-c.clock.After(timeout):
		c.mu.Lock()
		if _, waiting := c.pending[requestID]; waiting {
			delete(c.pending, requestID)
			c.mu.Unlock()
			c.logger.Warn("capture tool request timed out",
				"request_type", requestType,
				"request_id", requestID,
				"timeout", timeout,
			)
			return nil, timeoutError("%s: no acknowledgment within %v (check the capture tool is running)", requestType, timeout)
		}
		// The entry is gone: a resolution raced the timeout and its
		// delivery to the buffered waiter is imminent.
		c.mu.Unlock()
		return resolve(<-waiter)
	case <-ctx.Done():
		removePending()
		return nil, connectionError(ctx.Err(), "%s request cancelled", requestType)
	}
}

// nextRequestID returns an identifier unique per outstanding request,
// derived from a monotonically non-decreasing timestamp plus a counter
// so concurrent calls within one tick never collide.
func (c *Conn) nextRequestID() string {
	return fmt.Sprintf("%d.%d", c.clock.Now().UnixNano(), c.requestCounter.Add(1))
}

// writeFrame writes one text frame, serializing against other writers.
func (c *Conn) writeFrame(socket *websocket.Conn, frame []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return socket.WriteMessage(websocket.TextMessage, frame)
}
