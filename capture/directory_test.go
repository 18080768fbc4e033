// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"encoding/json"
	"testing"
)

func directoryResponse(path string) fakeResponse {
	data, _ := json.Marshal(recordDirectoryData{RecordDirectory: path})
	return fakeResponse{data: data}
}

func TestSetRecordingDirectory(t *testing.T) {
	transport := &fakeTransport{}
	transport.queue(requestGetRecordDirectory, directoryResponse("/replays/demo_abc"))
	directory := NewDirectory(transport, nil)

	err := directory.SetRecordingDirectory(context.Background(), "session-1", "/replays/demo_abc")
	if err != nil {
		t.Fatalf("SetRecordingDirectory: %v", err)
	}

	want := []string{requestSetRecordDirectory, requestGetRecordDirectory}
	if got := transport.requestLog(); !equalStrings(got, want) {
		t.Errorf("requests = %v, want %v", got, want)
	}
}

func TestSetRecordingDirectoryEmptyPath(t *testing.T) {
	transport := &fakeTransport{}
	directory := NewDirectory(transport, nil)

	err := directory.SetRecordingDirectory(context.Background(), "session-1", "")
	if !IsKind(err, KindValidation) {
		t.Fatalf("error = %v, want KindValidation", err)
	}
	if got := transport.requestLog(); len(got) != 0 {
		t.Errorf("requests sent for an empty path: %v", got)
	}
}

// The verification read is advisory: a mismatch (or a failed read) is
// logged, never returned, because the set itself succeeded.
func TestSetRecordingDirectoryMismatchIsSoft(t *testing.T) {
	transport := &fakeTransport{}
	transport.queue(requestGetRecordDirectory, directoryResponse("/somewhere/else"))
	directory := NewDirectory(transport, nil)

	if err := directory.SetRecordingDirectory(context.Background(), "session-1", "/replays/demo_abc"); err != nil {
		t.Fatalf("SetRecordingDirectory returned %v for a directory mismatch", err)
	}
}

func TestSetRecordingDirectoryVerifyErrorIsSoft(t *testing.T) {
	transport := &fakeTransport{}
	transport.queue(requestGetRecordDirectory, fakeResponse{
		err: &Error{Kind: KindExternalTool, Message: "request rejected", Comment: "busy"},
	})
	directory := NewDirectory(transport, nil)

	if err := directory.SetRecordingDirectory(context.Background(), "session-1", "/replays/demo_abc"); err != nil {
		t.Fatalf("SetRecordingDirectory returned %v for a failed verification read", err)
	}
}

func TestSetRecordingDirectorySetFailure(t *testing.T) {
	transport := &fakeTransport{}
	transport.queue(requestSetRecordDirectory, fakeResponse{
		err: &Error{Kind: KindExternalTool, Message: "request rejected", Comment: "invalid path"},
	})
	directory := NewDirectory(transport, nil)

	err := directory.SetRecordingDirectory(context.Background(), "session-1", "/replays/demo_abc")
	if !IsKind(err, KindExternalTool) {
		t.Fatalf("error = %v, want KindExternalTool", err)
	}
}

func TestRecordingDirectory(t *testing.T) {
	transport := &fakeTransport{}
	transport.queue(requestGetRecordDirectory, directoryResponse("/replays/current"))
	directory := NewDirectory(transport, nil)

	got, err := directory.RecordingDirectory(context.Background(), "session-1")
	if err != nil {
		t.Fatalf("RecordingDirectory: %v", err)
	}
	if got != "/replays/current" {
		t.Errorf("RecordingDirectory = %q, want %q", got, "/replays/current")
	}
}
