// ABOUTME: Tests for SQLite store implementation
// ABOUTME: Covers turn ordering, session uniqueness and the assignment CHECK constraint

package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func int64Ptr(v int64) *int64 { return &v }

func TestNewSQLiteStore_CreatesDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "subdir", "nested", "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	defer store.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("database file was not created in nested directory")
	}
}

func TestCreateAndListTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	turns := []*Turn{
		{ID: "t1", ConversationID: 42, Sender: SenderUser, Text: "hello", CreatedAt: base},
		{ID: "t2", ConversationID: 42, Sender: SenderBot, Text: "I don't know.", NeedsHuman: true, PromptTokens: 10, CompletionTokens: 3, TotalTokens: 13, CreatedAt: base.Add(time.Millisecond)},
		{ID: "t3", ConversationID: 7, Sender: SenderUser, Text: "other conversation", CreatedAt: base},
		{ID: "t4", ConversationID: 42, Sender: SenderAgent, Text: "hi, I'm here", CreatedAt: base.Add(2 * time.Millisecond)},
	}
	for _, turn := range turns {
		if err := store.CreateTurn(ctx, turn); err != nil {
			t.Fatalf("CreateTurn(%s) failed: %v", turn.ID, err)
		}
	}

	got, err := store.ListTurns(ctx, 42)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(got))
	}

	wantOrder := []string{"t1", "t2", "t4"}
	for i, id := range wantOrder {
		if got[i].ID != id {
			t.Errorf("turn %d: got %q, want %q", i, got[i].ID, id)
		}
	}

	bot := got[1]
	if !bot.NeedsHuman {
		t.Error("expected needs_human to round-trip")
	}
	if bot.TotalTokens != 13 || bot.PromptTokens != 10 || bot.CompletionTokens != 3 {
		t.Errorf("token counters mismatch: %+v", bot)
	}
	if !bot.CreatedAt.Equal(turns[1].CreatedAt) {
		t.Errorf("CreatedAt mismatch: got %v, want %v", bot.CreatedAt, turns[1].CreatedAt)
	}
}

func TestListTurns_SameTimestampKeepsInsertOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	now := time.Now()
	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateTurn(ctx, &Turn{ID: id, ConversationID: 1, Sender: SenderUser, Text: id, CreatedAt: now}); err != nil {
			t.Fatalf("CreateTurn failed: %v", err)
		}
	}

	got, err := store.ListTurns(ctx, 1)
	if err != nil {
		t.Fatalf("ListTurns failed: %v", err)
	}
	for i, id := range []string{"a", "b", "c"} {
		if got[i].ID != id {
			t.Errorf("turn %d: got %q, want %q", i, got[i].ID, id)
		}
	}
}

func TestCountFlaggedBotTurns(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := []*Turn{
		{ID: "1", ConversationID: 5, Sender: SenderBot, Text: "I don't know.", NeedsHuman: true},
		{ID: "2", ConversationID: 5, Sender: SenderBot, Text: "Paris", NeedsHuman: false},
		{ID: "3", ConversationID: 5, Sender: SenderUser, Text: "??", NeedsHuman: true},
		{ID: "4", ConversationID: 5, Sender: SenderBot, Text: "I'm not sure.", NeedsHuman: true},
		{ID: "5", ConversationID: 6, Sender: SenderBot, Text: "I don't know.", NeedsHuman: true},
	}
	for _, turn := range seed {
		if err := store.CreateTurn(ctx, turn); err != nil {
			t.Fatalf("CreateTurn failed: %v", err)
		}
	}

	count, err := store.CountFlaggedBotTurns(ctx, 5)
	if err != nil {
		t.Fatalf("CountFlaggedBotTurns failed: %v", err)
	}
	if count != 2 {
		t.Errorf("expected 2 flagged bot turns, got %d", count)
	}
}

func TestGetSession_NotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetSession(context.Background(), 999)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestCreateSession_Duplicate(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first := &Session{ConversationID: 42, Status: StatusPendingAgent}
	if err := store.CreateSession(ctx, first); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if first.ID == 0 {
		t.Error("expected CreateSession to assign an ID")
	}

	err := store.CreateSession(ctx, &Session{ConversationID: 42, Status: StatusPendingAgent})
	if !errors.Is(err, ErrDuplicateSession) {
		t.Errorf("expected ErrDuplicateSession, got %v", err)
	}
}

func TestUpsertSession_UpdatesInPlace(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	sess := &Session{ConversationID: 42, Status: StatusPendingAgent}
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession (insert) failed: %v", err)
	}
	originalID := sess.ID

	now := time.Now().UTC()
	sess.Status = StatusAgentActive
	sess.AssignedOperatorID = int64Ptr(7)
	sess.AssignedAt = &now
	if err := store.UpsertSession(ctx, sess); err != nil {
		t.Fatalf("UpsertSession (update) failed: %v", err)
	}
	if sess.ID != originalID {
		t.Errorf("session ID changed on update: got %d, want %d", sess.ID, originalID)
	}

	got, err := store.GetSession(ctx, 42)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Status != StatusAgentActive {
		t.Errorf("Status = %q, want %q", got.Status, StatusAgentActive)
	}
	if got.AssignedOperatorID == nil || *got.AssignedOperatorID != 7 {
		t.Errorf("AssignedOperatorID = %v, want 7", got.AssignedOperatorID)
	}
	if got.AssignedAt == nil || !got.AssignedAt.Equal(now) {
		t.Errorf("AssignedAt = %v, want %v", got.AssignedAt, now)
	}
	if !got.Valid() {
		t.Error("stored session violates the assignment invariant")
	}
}

func TestUpsertSession_RejectsOperatorWithoutActiveStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.UpsertSession(ctx, &Session{
		ConversationID:     42,
		Status:             StatusPendingAgent,
		AssignedOperatorID: int64Ptr(7),
	})
	if err == nil {
		t.Fatal("expected CHECK constraint to reject an operator on a pending session")
	}

	err = store.UpsertSession(ctx, &Session{ConversationID: 43, Status: StatusAgentActive})
	if err == nil {
		t.Fatal("expected CHECK constraint to reject agent_active without an operator")
	}
}

func TestListPendingSessions(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, id := range []int64{1, 2, 3} {
		if err := store.CreateSession(ctx, &Session{ConversationID: id, Status: StatusPendingAgent}); err != nil {
			t.Fatalf("CreateSession failed: %v", err)
		}
	}
	now := time.Now()
	if err := store.UpsertSession(ctx, &Session{ConversationID: 2, Status: StatusAgentActive, AssignedOperatorID: int64Ptr(9), AssignedAt: &now}); err != nil {
		t.Fatalf("UpsertSession failed: %v", err)
	}

	pending, err := store.ListPendingSessions(ctx)
	if err != nil {
		t.Fatalf("ListPendingSessions failed: %v", err)
	}
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending sessions, got %d", len(pending))
	}
	for _, sess := range pending {
		if sess.ConversationID == 2 {
			t.Error("assigned session should not be listed as pending")
		}
	}
}
