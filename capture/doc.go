// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

// Package capture implements the kiosk's client for the external
// audio/video capture tool: a persistent, authenticated WebSocket
// connection, request/response correlation on top of it, and the
// orchestration that turns a "save a replay" intent into a confirmed
// clip on disk.
//
// The package is organized around the protocol data flow:
//
//   - protocol.go: wire format (op-code envelopes, request/response payloads)
//   - auth.go: challenge/response handshake proof
//   - conn.go: connection state machine, dispatch loop, request correlator,
//     reconnect policy
//   - binding.go: binding the shared connection to at most one kiosk session
//   - replay.go: replay-buffer orchestration (ensure running, save, classify)
//   - directory.go: pointing the tool's output directory at a session folder
//   - errors.go: the error taxonomy callers dispatch on
//
// One Conn exists per process. All commands are multiplexed over it; a
// single read loop resolves pending requests and routes asynchronous
// events. Callers needing ordering between state-changing buffer
// operations issue them sequentially; the orchestrator serializes its
// own start/verify/save sequence with a per-connection mutex.
package capture
