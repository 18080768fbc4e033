// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import "encoding/json"

// Op codes for the capture tool's WebSocket protocol. Every frame is a
// JSON envelope {"op": <code>, "d": <payload>}.
const (
	// opHello is sent by the tool immediately after the socket opens.
	// Carries the RPC version and, when authentication is configured,
	// a challenge and salt.
	opHello = 0

	// opIdentify is the client's response to the hello: RPC version
	// plus the computed authentication proof. The tool also echoes
	// this op code back to signal an identification failure.
	opIdentify = 1

	// opIdentified acknowledges a successful identify. The connection
	// is ready for requests after this frame.
	opIdentified = 2

	// opEvent carries an asynchronous notification (for example
	// "ReplayBufferSaved"). Events are never correlated to a request.
	opEvent = 5

	// opRequest carries a client command: requestType, requestId, and
	// optional requestData.
	opRequest = 6

	// opRequestResponse acknowledges a request by requestId with a
	// status code and optional responseData.
	opRequestResponse = 7
)

// statusSuccess is the requestStatus code denoting success.
const statusSuccess = 100

// Request types understood by the capture tool.
const (
	requestSetRecordDirectory      = "SetRecordDirectory"
	requestGetRecordDirectory      = "GetRecordDirectory"
	requestStartReplayBuffer       = "StartReplayBuffer"
	requestStopReplayBuffer        = "StopReplayBuffer"
	requestGetReplayBufferStatus   = "GetReplayBufferStatus"
	requestSaveReplayBuffer        = "SaveReplayBuffer"
	requestGetReplayBufferSettings = "GetReplayBufferSettings"
)

// envelope is the outermost frame structure.
type envelope struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d"`
}

// helloData is the opHello payload.
type helloData struct {
	RPCVersion     int                  `json:"rpcVersion"`
	Authentication *helloAuthentication `json:"authentication,omitempty"`
}

// helloAuthentication carries the challenge material for the handshake.
type helloAuthentication struct {
	Challenge string `json:"challenge"`
	Salt      string `json:"salt"`
}

// identifyData is the opIdentify payload.
type identifyData struct {
	RPCVersion     int    `json:"rpcVersion"`
	Authentication string `json:"authentication,omitempty"`
}

// requestPayload is the opRequest payload.
type requestPayload struct {
	RequestType string `json:"requestType"`
	RequestID   string `json:"requestId"`
	RequestData any    `json:"requestData,omitempty"`
}

// responsePayload is the opRequestResponse payload.
type responsePayload struct {
	RequestType   string          `json:"requestType"`
	RequestID     string          `json:"requestId"`
	RequestStatus requestStatus   `json:"requestStatus"`
	ResponseData  json.RawMessage `json:"responseData,omitempty"`
}

// requestStatus is the acknowledgment status attached to a response.
type requestStatus struct {
	Result  bool   `json:"result"`
	Code    int    `json:"code"`
	Comment string `json:"comment,omitempty"`
}

// eventPayload is the opEvent payload.
type eventPayload struct {
	EventType string          `json:"eventType"`
	EventData json.RawMessage `json:"eventData,omitempty"`
}

// marshalEnvelope builds a complete frame from an op code and payload.
func marshalEnvelope(op int, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Op: op, Data: data})
}
