// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

// Package httpapi exposes the kiosk's REST API: session lifecycle,
// replay saves, the clip gallery, and capture tool diagnostics.
//
// File organization:
//
//   - api.go: route table and request handlers
//   - server.go: graceful HTTP server lifecycle
//   - sweeper.go: background expiry of overdue sessions
//
// Handlers degrade gracefully around the capture tool: a session start
// succeeds even when the tool is unreachable, reporting the capture
// state in the response instead of failing the kiosk flow.
package httpapi
