package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	// A file in t.TempDir rather than ":memory:" so the WAL pragma in the DSN
	// is exercised the same way production is.
	s, err := Open(filepath.Join(t.TempDir(), "transcripts.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestAppendAndRecent(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "sess-1", RoleUser, "hello"); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append(ctx, "sess-1", RoleAssistant, "hi there"); err != nil {
		t.Fatalf("Append: %v", err)
	}

	msgs, err := s.Recent(ctx, "sess-1", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != RoleUser || msgs[0].Content != "hello" {
		t.Errorf("unexpected first message: %+v", msgs[0])
	}
	if msgs[1].Role != RoleAssistant || msgs[1].Content != "hi there" {
		t.Errorf("unexpected second message: %+v", msgs[1])
	}
	if msgs[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt populated")
	}
}

func TestRecent_ReturnsTailOldestFirst(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		if err := s.Append(ctx, "sess-2", RoleUser, fmt.Sprintf("turn %d", i)); err != nil {
			t.Fatalf("Append %d: %v", i, err)
		}
	}

	// Ask for the last 3 of 6: turns 3, 4, 5 in chronological order.
	msgs, err := s.Recent(ctx, "sess-2", 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(msgs))
	}
	for i, want := range []string{"turn 3", "turn 4", "turn 5"} {
		if msgs[i].Content != want {
			t.Errorf("message %d: got %q, want %q", i, msgs[i].Content, want)
		}
	}
}

func TestRecent_SessionIsolation(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)
	ctx := context.Background()

	if err := s.Append(ctx, "alice", RoleUser, "alice's turn"); err != nil {
		t.Fatal(err)
	}
	if err := s.Append(ctx, "bob", RoleUser, "bob's turn"); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.Recent(ctx, "alice", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Content != "alice's turn" {
		t.Errorf("expected only alice's messages, got %+v", msgs)
	}
}

func TestRecent_UnknownSession(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	msgs, err := s.Recent(context.Background(), "never-seen", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected no messages, got %d", len(msgs))
	}
}

func TestAppend_RejectsUnknownRole(t *testing.T) {
	t.Parallel()

	s := openTestStore(t)

	// The schema CHECK constraint enforces the role set at the storage layer.
	if err := s.Append(context.Background(), "sess", Role("tool"), "x"); err == nil {
		t.Error("expected constraint violation for unknown role")
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "close.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	if err := s.Append(context.Background(), "sess", RoleUser, "x"); err == nil {
		t.Error("expected error appending after close")
	}
}
