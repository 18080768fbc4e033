// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"errors"
	"fmt"
)

// Kind classifies a capture error. Callers dispatch on the kind to
// decide between retrying, falling back to a manual trigger, or
// surfacing an operator-action message. Extract with errors.As:
//
//	var captureErr *capture.Error
//	if errors.As(err, &captureErr) {
//	    if captureErr.Kind == capture.KindTimeout { ... }
//	}
type Kind string

const (
	// KindConnection is a socket-level failure. Retryable per the
	// reconnect policy.
	KindConnection Kind = "connection"

	// KindAuthentication is a handshake rejection. Permanent: a bad
	// secret never succeeds on retry, so reconnection is disabled.
	KindAuthentication Kind = "authentication"

	// KindTimeout is a per-request timeout. Retryable by reissuing.
	KindTimeout Kind = "timeout"

	// KindExternalTool is a non-success acknowledgment from the tool,
	// carrying its comment string.
	KindExternalTool Kind = "external_tool"

	// KindConfiguration means the replay buffer is not enabled on the
	// tool side. Not retryable without operator action.
	KindConfiguration Kind = "configuration"

	// KindValidation is a caller error such as an unknown or unbound
	// session.
	KindValidation Kind = "validation"
)

// Save failure reasons, set on errors returned by ReplayBuffer.Save
// after classifying the tool's response.
const (
	SaveFailureTimeout       = "timeout"
	SaveFailureNotRunning    = "tool_not_running"
	SaveFailureMisconfigured = "buffer_misconfigured"
	SaveFailureUnknown       = "unknown"
)

// Error is a classified capture failure. Raw transport and parse
// errors never escape the package; they are converted to an Error at
// the connection boundary.
type Error struct {
	// Kind is the taxonomy bucket.
	Kind Kind

	// Message is the user-facing description, enriched with actionable
	// context where the package has any.
	Message string

	// Comment is the external tool's own comment string, when the
	// failure came from a non-success acknowledgment.
	Comment string

	// Reason further classifies save failures (SaveFailure*). Empty
	// for other operations.
	Reason string

	// Err is the underlying cause, if any.
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("capture: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var captureErr *Error
	if errors.As(err, &captureErr) {
		return captureErr.Kind == kind
	}
	return false
}

func connectionError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConnection, Message: fmt.Sprintf(format, args...), Err: err}
}

func authenticationError(format string, args ...any) *Error {
	return &Error{Kind: KindAuthentication, Message: fmt.Sprintf(format, args...)}
}

func timeoutError(format string, args ...any) *Error {
	return &Error{Kind: KindTimeout, Message: fmt.Sprintf(format, args...)}
}

func configurationError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Message: fmt.Sprintf(format, args...), Err: err}
}

func validationError(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}
