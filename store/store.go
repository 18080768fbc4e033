// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

// Package store persists kiosk sessions in SQLite.
//
// A session moves through three statuses: created (paid for, timer not
// running), active (timer running, clips being captured), and expired
// (timer elapsed or operator-ended). The store records the transitions;
// enforcing them against the capture tool is the HTTP layer's job.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/momentlab/replaykiosk/lib/clock"
	"github.com/momentlab/replaykiosk/lib/sqlitepool"
)

// Session statuses.
const (
	StatusCreated = "created"
	StatusActive  = "active"
	StatusExpired = "expired"
)

// ErrNotFound is returned when no session matches the given ID.
var ErrNotFound = errors.New("session store: session not found")

// Session is one kiosk session.
type Session struct {
	// ID is the internal row ID.
	ID int64 `json:"id"`

	// SessionID is the public identifier (UUID v4) used in URLs and
	// folder names.
	SessionID string `json:"session_id"`

	// Name is the customer-chosen display name. May be empty until the
	// customer enters one.
	Name string `json:"name"`

	// DurationMinutes is the purchased session length.
	DurationMinutes int `json:"duration_minutes"`

	// StartTime is when the timer started. Zero until the session is
	// started.
	StartTime time.Time `json:"start_time"`

	// Status is one of StatusCreated, StatusActive, StatusExpired.
	Status string `json:"status"`

	// CreatedAt is when the session row was created.
	CreatedAt time.Time `json:"created_at"`
}

// FolderName returns the per-session directory name clips are saved
// under: "{name}_{sessionID}", or just the session ID when no name has
// been set yet.
func (s *Session) FolderName() string {
	if s.Name == "" {
		return s.SessionID
	}
	return fmt.Sprintf("%s_%s", s.Name, s.SessionID)
}

// EndTime returns when the session's timer elapses. Zero for sessions
// that never started.
func (s *Session) EndTime() time.Time {
	if s.StartTime.IsZero() {
		return time.Time{}
	}
	return s.StartTime.Add(time.Duration(s.DurationMinutes) * time.Minute)
}

// StoreConfig holds the parameters for opening a session store.
type StoreConfig struct {
	// Path is the SQLite database file. Created if absent.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4.
	PoolSize int

	// Clock provides the current time for creation and start
	// timestamps. Nil means the real clock.
	Clock clock.Clock

	// Logger receives operational messages. Nil means slog.Default().
	Logger *slog.Logger
}

// Store is the SQLite-backed session store. Safe for concurrent use.
type Store struct {
	pool   *sqlitepool.Pool
	clock  clock.Clock
	logger *slog.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id       TEXT NOT NULL UNIQUE,
	session_name     TEXT NOT NULL DEFAULT '',
	duration_minutes INTEGER NOT NULL,
	start_time       INTEGER,
	status           TEXT NOT NULL DEFAULT 'created',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
`

// Open creates the store, creating the database and schema if needed.
func Open(cfg StoreConfig) (*Store, error) {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:     cfg.Path,
		PoolSize: cfg.PoolSize,
		Logger:   logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	return &Store{pool: pool, clock: clk, logger: logger}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.pool.Close()
}

// Create inserts a new session in the created status and returns it.
// The public session ID is a fresh UUID.
func (s *Store) Create(ctx context.Context, name string, durationMinutes int) (*Session, error) {
	if durationMinutes <= 0 {
		return nil, fmt.Errorf("session store: duration must be positive, got %d", durationMinutes)
	}

	session := &Session{
		SessionID:       uuid.NewString(),
		Name:            name,
		DurationMinutes: durationMinutes,
		Status:          StatusCreated,
		CreatedAt:       s.clock.Now(),
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session store: create: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO sessions (session_id, session_name, duration_minutes, status, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{
			Args: []any{
				session.SessionID,
				session.Name,
				session.DurationMinutes,
				session.Status,
				session.CreatedAt.Unix(),
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session store: create: %w", err)
	}
	session.ID = conn.LastInsertRowID()

	s.logger.Info("session created",
		"session_id", session.SessionID,
		"duration_minutes", session.DurationMinutes,
	)
	return session, nil
}

// Get returns the session with the given public ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session store: get: %w", err)
	}
	defer s.pool.Put(conn)

	return s.get(conn, sessionID)
}

func (s *Store) get(conn *sqlite.Conn, sessionID string) (*Session, error) {
	var session *Session
	err := sqlitex.Execute(conn,
		`SELECT id, session_id, session_name, duration_minutes, start_time, status, created_at
		 FROM sessions WHERE session_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{sessionID},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				session = scanSession(stmt)
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session store: get %s: %w", sessionID, err)
	}
	if session == nil {
		return nil, ErrNotFound
	}
	return session, nil
}

// SetName updates the session's display name.
func (s *Store) SetName(ctx context.Context, sessionID, name string) error {
	return s.update(ctx, sessionID, "set name",
		`UPDATE sessions SET session_name = ? WHERE session_id = ?`,
		name, sessionID)
}

// Start transitions the session to active with the timer starting now,
// and returns the updated session. Starting an already-active session
// restarts its timer.
func (s *Store) Start(ctx context.Context, sessionID string) (*Session, error) {
	now := s.clock.Now()

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session store: start: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE sessions SET status = ?, start_time = ? WHERE session_id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{StatusActive, now.Unix(), sessionID},
		})
	if err != nil {
		return nil, fmt.Errorf("session store: start %s: %w", sessionID, err)
	}
	if conn.Changes() == 0 {
		return nil, ErrNotFound
	}

	s.logger.Info("session started", "session_id", sessionID, "start_time", now)
	return s.get(conn, sessionID)
}

// Expire transitions the session to expired.
func (s *Store) Expire(ctx context.Context, sessionID string) error {
	if err := s.update(ctx, sessionID, "expire",
		`UPDATE sessions SET status = ? WHERE session_id = ?`,
		StatusExpired, sessionID); err != nil {
		return err
	}
	s.logger.Info("session expired", "session_id", sessionID)
	return nil
}

func (s *Store) update(ctx context.Context, sessionID, operation, query string, args ...any) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("session store: %s: %w", operation, err)
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args}); err != nil {
		return fmt.Errorf("session store: %s %s: %w", operation, sessionID, err)
	}
	if conn.Changes() == 0 {
		return ErrNotFound
	}
	return nil
}

// ListOverdue returns active sessions whose timer elapsed at or before
// now. The expiry sweeper calls this on every tick.
func (s *Store) ListOverdue(ctx context.Context, now time.Time) ([]*Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session store: list overdue: %w", err)
	}
	defer s.pool.Put(conn)

	var sessions []*Session
	err = sqlitex.Execute(conn,
		`SELECT id, session_id, session_name, duration_minutes, start_time, status, created_at
		 FROM sessions
		 WHERE status = ? AND start_time IS NOT NULL
		   AND start_time + duration_minutes * 60 <= ?
		 ORDER BY start_time`,
		&sqlitex.ExecOptions{
			Args: []any{StatusActive, now.Unix()},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessions = append(sessions, scanSession(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session store: list overdue: %w", err)
	}
	return sessions, nil
}

// List returns all sessions, newest first.
func (s *Store) List(ctx context.Context) ([]*Session, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	defer s.pool.Put(conn)

	var sessions []*Session
	err = sqlitex.Execute(conn,
		`SELECT id, session_id, session_name, duration_minutes, start_time, status, created_at
		 FROM sessions ORDER BY created_at DESC, id DESC`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				sessions = append(sessions, scanSession(stmt))
				return nil
			},
		})
	if err != nil {
		return nil, fmt.Errorf("session store: list: %w", err)
	}
	return sessions, nil
}

// scanSession builds a Session from a full row in column order.
func scanSession(stmt *sqlite.Stmt) *Session {
	session := &Session{
		ID:              stmt.ColumnInt64(0),
		SessionID:       stmt.ColumnText(1),
		Name:            stmt.ColumnText(2),
		DurationMinutes: stmt.ColumnInt(3),
		Status:          stmt.ColumnText(5),
		CreatedAt:       time.Unix(stmt.ColumnInt64(6), 0).UTC(),
	}
	if stmt.ColumnType(4) != sqlite.TypeNull {
		session.StartTime = time.Unix(stmt.ColumnInt64(4), 0).UTC()
	}
	return session
}
