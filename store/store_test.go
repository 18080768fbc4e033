// Copyright 2026 The Replay Kiosk Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/momentlab/replaykiosk/lib/clock"
)

func openTestStore(t *testing.T, clk clock.Clock) *Store {
	t.Helper()
	s, err := Open(StoreConfig{
		Path:  filepath.Join(t.TempDir(), "sessions.db"),
		Clock: clk,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestCreateAndGet(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := openTestStore(t, clock.Fake(start))
	ctx := context.Background()

	created, err := s.Create(ctx, "demo", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.SessionID == "" {
		t.Fatal("Create returned an empty session ID")
	}
	if created.Status != StatusCreated {
		t.Errorf("Status = %q, want %q", created.Status, StatusCreated)
	}

	got, err := s.Get(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "demo" {
		t.Errorf("Name = %q, want %q", got.Name, "demo")
	}
	if got.DurationMinutes != 5 {
		t.Errorf("DurationMinutes = %d, want 5", got.DurationMinutes)
	}
	if !got.CreatedAt.Equal(start) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, start)
	}
	if !got.StartTime.IsZero() {
		t.Errorf("StartTime = %v for an unstarted session, want zero", got.StartTime)
	}
}

func TestCreateRejectsNonPositiveDuration(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := s.Create(context.Background(), "demo", 0); err == nil {
		t.Fatal("Create accepted a zero duration")
	}
}

func TestGetNotFound(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := s.Get(context.Background(), "no-such-session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get error = %v, want ErrNotFound", err)
	}
}

func TestStartSetsTimer(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	s := openTestStore(t, fake)
	ctx := context.Background()

	created, err := s.Create(ctx, "demo", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	fake.Advance(time.Minute)
	started, err := s.Start(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if started.Status != StatusActive {
		t.Errorf("Status = %q, want %q", started.Status, StatusActive)
	}
	wantStart := start.Add(time.Minute)
	if !started.StartTime.Equal(wantStart) {
		t.Errorf("StartTime = %v, want %v", started.StartTime, wantStart)
	}
	if want := wantStart.Add(5 * time.Minute); !started.EndTime().Equal(want) {
		t.Errorf("EndTime = %v, want %v", started.EndTime(), want)
	}
}

func TestStartNotFound(t *testing.T) {
	s := openTestStore(t, nil)
	if _, err := s.Start(context.Background(), "no-such-session"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Start error = %v, want ErrNotFound", err)
	}
}

func TestSetName(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, "", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetName(ctx, created.SessionID, "birthday"); err != nil {
		t.Fatalf("SetName: %v", err)
	}

	got, err := s.Get(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "birthday" {
		t.Errorf("Name = %q, want %q", got.Name, "birthday")
	}
}

func TestExpire(t *testing.T) {
	s := openTestStore(t, nil)
	ctx := context.Background()

	created, err := s.Create(ctx, "demo", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := s.Start(ctx, created.SessionID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Expire(ctx, created.SessionID); err != nil {
		t.Fatalf("Expire: %v", err)
	}

	got, err := s.Get(ctx, created.SessionID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != StatusExpired {
		t.Errorf("Status = %q, want %q", got.Status, StatusExpired)
	}
}

func TestListOverdue(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fake := clock.Fake(start)
	s := openTestStore(t, fake)
	ctx := context.Background()

	short, err := s.Create(ctx, "short", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	long, err := s.Create(ctx, "long", 30)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	unstarted, err := s.Create(ctx, "unstarted", 1)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if _, err := s.Start(ctx, short.SessionID); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Start(ctx, long.SessionID); err != nil {
		t.Fatalf("Start: %v", err)
	}

	fake.Advance(2 * time.Minute)
	overdue, err := s.ListOverdue(ctx, fake.Now())
	if err != nil {
		t.Fatalf("ListOverdue: %v", err)
	}
	if len(overdue) != 1 {
		t.Fatalf("ListOverdue returned %d sessions, want 1", len(overdue))
	}
	if overdue[0].SessionID != short.SessionID {
		t.Errorf("overdue session = %s, want %s", overdue[0].SessionID, short.SessionID)
	}
	_ = unstarted
}

func TestList(t *testing.T) {
	fake := clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	s := openTestStore(t, fake)
	ctx := context.Background()

	first, err := s.Create(ctx, "first", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fake.Advance(time.Minute)
	second, err := s.Create(ctx, "second", 5)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	sessions, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("List returned %d sessions, want 2", len(sessions))
	}
	if sessions[0].SessionID != second.SessionID || sessions[1].SessionID != first.SessionID {
		t.Error("List is not ordered newest first")
	}
}

func TestFolderName(t *testing.T) {
	named := &Session{SessionID: "abc-123", Name: "birthday"}
	if got, want := named.FolderName(), "birthday_abc-123"; got != want {
		t.Errorf("FolderName = %q, want %q", got, want)
	}
	unnamed := &Session{SessionID: "abc-123"}
	if got, want := unnamed.FolderName(), "abc-123"; got != want {
		t.Errorf("FolderName = %q, want %q", got, want)
	}
}
