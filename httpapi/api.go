// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/momentlab/replaykiosk/capture"
	"github.com/momentlab/replaykiosk/lib/clock"
	"github.com/momentlab/replaykiosk/store"
)

// CaptureClient is the connection-management surface the API uses.
// Production passes *capture.Conn; tests substitute a fake.
type CaptureClient interface {
	ConnectForSession(ctx context.Context, sessionID string) capture.ConnectResult
	DisconnectFromSession(sessionID string)
	IsConnectedForSession(sessionID string) bool
	Status() capture.Status
}

// BufferController is the replay-buffer surface the API uses.
// Production passes *capture.ReplayBuffer.
type BufferController interface {
	Save(ctx context.Context, sessionID string) (capture.SaveResult, error)
	Start(ctx context.Context, sessionID string) error
	Stop(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (capture.BufferStatus, error)
}

// DirectoryBinder points the capture tool's output at a session folder.
// Production passes *capture.Directory.
type DirectoryBinder interface {
	SetRecordingDirectory(ctx context.Context, sessionID, path string) error
}

// APIConfig holds the dependencies for creating an API.
type APIConfig struct {
	// Store is the session store. Required.
	Store *store.Store

	// Capture manages the shared capture tool connection. Required.
	Capture CaptureClient

	// Buffer orchestrates the replay buffer. Required.
	Buffer BufferController

	// Directory binds the tool's output directory. Required.
	Directory DirectoryBinder

	// ReplayRoot is the directory per-session folders are created
	// under. Required.
	ReplayRoot string

	// DefaultDurationMinutes is used when a create request omits the
	// duration. Defaults to 5.
	DefaultDurationMinutes int

	// Clock provides the current time. Nil means the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// API implements the kiosk REST endpoints.
type API struct {
	store     *store.Store
	capture   CaptureClient
	buffer    BufferController
	directory DirectoryBinder

	replayRoot      string
	defaultDuration int

	clock  clock.Clock
	logger *slog.Logger
}

// NewAPI creates the API around its collaborators.
func NewAPI(cfg APIConfig) *API {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	defaultDuration := cfg.DefaultDurationMinutes
	if defaultDuration <= 0 {
		defaultDuration = 5
	}

	return &API{
		store:           cfg.Store,
		capture:         cfg.Capture,
		buffer:          cfg.Buffer,
		directory:       cfg.Directory,
		replayRoot:      cfg.ReplayRoot,
		defaultDuration: defaultDuration,
		clock:           clk,
		logger:          logger,
	}
}

// Handler returns the route table.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sessions", a.handleCreateSession)
	mux.HandleFunc("GET /api/sessions/{sessionID}", a.handleGetSession)
	mux.HandleFunc("PUT /api/sessions/{sessionID}/start", a.handleStartSession)
	mux.HandleFunc("PUT /api/sessions/{sessionID}/end", a.handleEndSession)
	mux.HandleFunc("POST /api/sessions/{sessionID}/save-replay", a.handleSaveReplay)
	mux.HandleFunc("GET /api/sessions/{sessionID}/videos", a.handleListVideos)
	mux.HandleFunc("GET /api/sessions/{sessionID}/videos/{filename}", a.handleStreamVideo)
	mux.HandleFunc("GET /api/capture/status", a.handleCaptureStatus)
	mux.HandleFunc("GET /api/health", a.handleHealth)
	return mux
}

type createSessionRequest struct {
	Name            string `json:"name"`
	DurationMinutes int    `json:"duration_minutes"`
}

func (a *API) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	// An empty body is fine: every field has a default.
	var request createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if request.DurationMinutes < 0 {
		writeError(w, http.StatusBadRequest, "duration_minutes must be positive")
		return
	}
	if request.DurationMinutes == 0 {
		request.DurationMinutes = a.defaultDuration
	}

	session, err := a.store.Create(r.Context(), strings.TrimSpace(request.Name), request.DurationMinutes)
	if err != nil {
		a.logger.Error("creating session", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to create session")
		return
	}
	writeJSON(w, http.StatusCreated, a.sessionResponse(session))
}

func (a *API) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}

	// Lazy expiry: reflect an elapsed timer even between sweeper
	// ticks. The sweeper still handles the capture teardown.
	if session.Status == store.StatusActive && !session.StartTime.IsZero() &&
		!a.clock.Now().Before(session.EndTime()) {
		if err := a.store.Expire(r.Context(), session.SessionID); err != nil {
			a.logger.Warn("lazily expiring session", "session_id", session.SessionID, "error", err)
		} else {
			session.Status = store.StatusExpired
		}
	}

	writeJSON(w, http.StatusOK, a.sessionResponse(session))
}

type startSessionRequest struct {
	SessionName string `json:"session_name"`
}

type startSessionResponse struct {
	sessionResponse
	CaptureConnected bool   `json:"capture_connected"`
	DirectorySet     bool   `json:"directory_set"`
	CaptureMessage   string `json:"capture_message,omitempty"`
}

// handleStartSession activates the session and prepares the capture
// pipeline: per-session folder on disk, capture tool connection,
// recording directory binding, and a fresh replay buffer. Capture
// failures are reported in the response but never fail the start; the
// kiosk stays usable and a later save retries the connection.
func (a *API) handleStartSession(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}

	// An empty body is tolerated like on create; the name check below
	// reports the actual problem.
	var request startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	name := strings.TrimSpace(request.SessionName)
	if name == "" {
		writeError(w, http.StatusBadRequest, "session_name is required")
		return
	}
	if session.Status != store.StatusCreated {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("session is %s, only created sessions can start", session.Status))
		return
	}

	ctx := r.Context()
	if err := a.store.SetName(ctx, session.SessionID, name); err != nil {
		a.logger.Error("setting session name", "session_id", session.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to update session")
		return
	}
	started, err := a.store.Start(ctx, session.SessionID)
	if err != nil {
		a.logger.Error("starting session", "session_id", session.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	session = started

	folderPath := filepath.Join(a.replayRoot, session.FolderName())
	if err := os.MkdirAll(folderPath, 0o755); err != nil {
		// The tool writes clips, not us; a missing folder degrades the
		// save path but must not block the session.
		a.logger.Error("creating session folder", "path", folderPath, "error", err)
	}

	response := startSessionResponse{sessionResponse: a.sessionResponse(session)}

	connectResult := a.capture.ConnectForSession(ctx, session.SessionID)
	response.CaptureConnected = connectResult.Success
	response.CaptureMessage = connectResult.Message
	if connectResult.Success {
		if err := a.directory.SetRecordingDirectory(ctx, session.SessionID, folderPath); err != nil {
			a.logger.Error("binding recording directory",
				"session_id", session.SessionID,
				"path", folderPath,
				"error", err,
			)
		} else {
			response.DirectorySet = true
		}
		a.restartBuffer(ctx, session.SessionID)
	} else {
		a.logger.Error("capture tool unavailable for session start",
			"session_id", session.SessionID,
			"message", connectResult.Message,
		)
	}

	writeJSON(w, http.StatusOK, response)
}

// restartBuffer stops a leftover running buffer and starts a fresh one
// so the first clip of the session lands in the session's folder.
// Best-effort: failures are logged, never surfaced.
func (a *API) restartBuffer(ctx context.Context, sessionID string) {
	status, err := a.buffer.Status(ctx, sessionID)
	if err != nil {
		a.logger.Warn("querying replay buffer before start", "session_id", sessionID, "error", err)
		return
	}
	if status.OutputActive {
		if err := a.buffer.Stop(ctx, sessionID); err != nil {
			a.logger.Warn("stopping leftover replay buffer", "session_id", sessionID, "error", err)
			return
		}
	}
	if err := a.buffer.Start(ctx, sessionID); err != nil {
		a.logger.Warn("starting replay buffer", "session_id", sessionID, "error", err)
	}
}

func (a *API) handleEndSession(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	if session.Status != store.StatusActive {
		writeError(w, http.StatusBadRequest, "session is not active")
		return
	}

	ctx := r.Context()
	if err := a.store.Expire(ctx, session.SessionID); err != nil {
		a.logger.Error("ending session", "session_id", session.SessionID, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to end session")
		return
	}

	// Stop the buffer before disconnecting so a running capture never
	// leaks into the next session's folder. Only when this session
	// still owns the connection — a superseded session must not stop a
	// newer session's buffer. Best-effort either way.
	if a.capture.IsConnectedForSession(session.SessionID) {
		if err := a.buffer.Stop(ctx, session.SessionID); err != nil {
			a.logger.Warn("stopping replay buffer for ended session",
				"session_id", session.SessionID,
				"error", err,
			)
		}
	}
	a.capture.DisconnectFromSession(session.SessionID)

	session.Status = store.StatusExpired
	writeJSON(w, http.StatusOK, a.sessionResponse(session))
}

type saveReplayResponse struct {
	Success   bool      `json:"success"`
	Message   string    `json:"message"`
	SessionID string    `json:"session_id"`
	SavedAt   time.Time `json:"saved_at"`
}

func (a *API) handleSaveReplay(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	if session.Status != store.StatusActive {
		writeError(w, http.StatusForbidden,
			fmt.Sprintf("session is not active (status: %s)", session.Status))
		return
	}

	result, err := a.buffer.Save(r.Context(), session.SessionID)
	if err != nil {
		a.logger.Error("saving replay", "session_id", session.SessionID, "error", err)
		status, message := saveErrorStatus(err)
		writeError(w, status, message)
		return
	}

	writeJSON(w, http.StatusOK, saveReplayResponse{
		Success:   true,
		Message:   "replay saved",
		SessionID: result.SessionID,
		SavedAt:   result.SavedAt,
	})
}

// saveErrorStatus maps a classified capture error to an HTTP status
// and a user-facing message.
func saveErrorStatus(err error) (int, string) {
	var captureErr *capture.Error
	if !errors.As(err, &captureErr) {
		return http.StatusInternalServerError, "failed to save replay"
	}
	switch captureErr.Kind {
	case capture.KindTimeout:
		return http.StatusRequestTimeout, captureErr.Message
	case capture.KindConnection, capture.KindExternalTool:
		return http.StatusServiceUnavailable, captureErr.Message
	case capture.KindConfiguration, capture.KindValidation:
		return http.StatusBadRequest, captureErr.Message
	case capture.KindAuthentication:
		return http.StatusBadGateway, captureErr.Message
	}
	return http.StatusInternalServerError, captureErr.Message
}

// videoInfo describes one clip in the gallery listing.
type videoInfo struct {
	Filename   string    `json:"filename"`
	SizeBytes  int64     `json:"size_bytes"`
	ModifiedAt time.Time `json:"modified_at"`
	StreamURL  string    `json:"stream_url"`
}

// videoExtensions are the file types the gallery lists.
var videoExtensions = map[string]bool{
	".mp4": true,
	".mkv": true,
	".mov": true,
	".flv": true,
}

func (a *API) handleListVideos(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	if session.Name == "" {
		// No folder exists until the session started and got a name.
		writeJSON(w, http.StatusOK, map[string]any{"videos": []videoInfo{}})
		return
	}

	folderPath := filepath.Join(a.replayRoot, session.FolderName())
	entries, err := os.ReadDir(folderPath)
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, map[string]any{"videos": []videoInfo{}})
			return
		}
		a.logger.Error("reading session folder", "path", folderPath, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list videos")
		return
	}

	videos := make([]videoInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !videoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		videos = append(videos, videoInfo{
			Filename:   entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
			StreamURL:  fmt.Sprintf("/api/sessions/%s/videos/%s", session.SessionID, entry.Name()),
		})
	}
	// Newest clip first, matching the kiosk gallery's display order.
	sort.Slice(videos, func(i, j int) bool {
		return videos[i].ModifiedAt.After(videos[j].ModifiedAt)
	})

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": session.SessionID,
		"videos":     videos,
	})
}

func (a *API) handleStreamVideo(w http.ResponseWriter, r *http.Request) {
	session, ok := a.loadSession(w, r)
	if !ok {
		return
	}
	filename := r.PathValue("filename")
	if filename != filepath.Base(filename) || strings.HasPrefix(filename, ".") {
		writeError(w, http.StatusBadRequest, "invalid filename")
		return
	}
	if !videoExtensions[strings.ToLower(filepath.Ext(filename))] {
		writeError(w, http.StatusBadRequest, "unsupported file type")
		return
	}

	path := filepath.Join(a.replayRoot, session.FolderName(), filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}
	// ServeFile handles Range requests, so the kiosk player can seek.
	http.ServeFile(w, r, path)
}

func (a *API) handleCaptureStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.capture.Status())
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// sessionResponse is the JSON shape shared by session endpoints.
type sessionResponse struct {
	ID              int64  `json:"id"`
	SessionID       string `json:"session_id"`
	SessionName     string `json:"session_name"`
	DurationMinutes int    `json:"duration_minutes"`
	StartTime       string `json:"start_time,omitempty"`
	Status          string `json:"status"`
	CreatedAt       string `json:"created_at"`
	FolderName      string `json:"session_folder_name,omitempty"`
	FolderPath      string `json:"session_folder_path,omitempty"`
}

func (a *API) sessionResponse(session *store.Session) sessionResponse {
	response := sessionResponse{
		ID:              session.ID,
		SessionID:       session.SessionID,
		SessionName:     session.Name,
		DurationMinutes: session.DurationMinutes,
		Status:          session.Status,
		CreatedAt:       session.CreatedAt.Format(time.RFC3339),
	}
	if !session.StartTime.IsZero() {
		response.StartTime = session.StartTime.Format(time.RFC3339)
	}
	if session.Name != "" {
		response.FolderName = session.FolderName()
		response.FolderPath = filepath.Join(a.replayRoot, session.FolderName())
	}
	return response
}

// loadSession resolves the {sessionID} path value, writing the error
// response itself when the session does not exist.
func (a *API) loadSession(w http.ResponseWriter, r *http.Request) (*store.Session, bool) {
	sessionID := r.PathValue("sessionID")
	session, err := a.store.Get(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
		} else {
			a.logger.Error("loading session", "session_id", sessionID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load session")
		}
		return nil, false
	}
	return session, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
