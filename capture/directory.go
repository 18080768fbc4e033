// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package capture

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
)

// Directory points the capture tool's shared output directory at a
// session folder. Standard recordings and buffer saves share this one
// setting in the tool; callers cannot point them at different paths.
type Directory struct {
	conn   Transport
	logger *slog.Logger
}

// NewDirectory creates the directory binder on top of a transport.
func NewDirectory(conn Transport, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{conn: conn, logger: logger}
}

// recordDirectoryData is the request/response payload for the
// directory commands.
type recordDirectoryData struct {
	RecordDirectory string `json:"recordDirectory"`
}

// SetRecordingDirectory points the tool's output at path, then
// soft-verifies: the directory is re-read and compared, and a mismatch
// is logged as a warning without failing the operation. The tool's
// write path is authoritative and eventually consistent.
func (d *Directory) SetRecordingDirectory(ctx context.Context, sessionID, path string) error {
	if path == "" {
		return validationError("recording directory path is required")
	}
	if err := d.conn.EnsureSession(ctx, sessionID); err != nil {
		return err
	}

	if _, err := d.conn.Request(ctx, requestSetRecordDirectory, recordDirectoryData{RecordDirectory: path}, 0); err != nil {
		return err
	}
	d.logger.Info("recording directory set", "path", path)

	current, err := d.readDirectory(ctx)
	if err != nil {
		d.logger.Warn("could not verify recording directory", "error", err)
		return nil
	}
	if current != path {
		d.logger.Warn("recording directory mismatch after set",
			"want", path,
			"got", current,
		)
	}
	return nil
}

// RecordingDirectory returns the tool's current output directory.
func (d *Directory) RecordingDirectory(ctx context.Context, sessionID string) (string, error) {
	if err := d.conn.EnsureSession(ctx, sessionID); err != nil {
		return "", err
	}
	return d.readDirectory(ctx)
}

func (d *Directory) readDirectory(ctx context.Context) (string, error) {
	data, err := d.conn.Request(ctx, requestGetRecordDirectory, nil, 0)
	if err != nil {
		return "", err
	}
	var response recordDirectoryData
	if err := json.Unmarshal(data, &response); err != nil {
		return "", &Error{
			Kind:    KindExternalTool,
			Message: fmt.Sprintf("unparseable directory response: %v", err),
			Err:     err,
		}
	}
	return response.RecordDirectory, nil
}
