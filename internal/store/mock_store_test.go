// ABOUTME: Tests for MockStore
// ABOUTME: Verifies the in-memory store matches SQLite semantics relied on by callers

package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockStore_TicketRequiresUser(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()
	now := time.Now()

	err := m.CreateTicket(ctx, &Ticket{ID: "T1", UserID: "acct:ghost@localhost", Expires: now.Add(time.Hour)})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}

	if err := m.CreateUser(ctx, &User{Username: "ghost"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if err := m.CreateTicket(ctx, &Ticket{ID: "T1", UserID: "acct:ghost@localhost", Expires: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if m.TicketCount() != 1 {
		t.Errorf("TicketCount = %d, want 1", m.TicketCount())
	}

	removed, _ := m.DeleteTicket(ctx, "T1")
	if !removed {
		t.Error("expected first delete to remove the ticket")
	}
	removed, _ = m.DeleteTicket(ctx, "T1")
	if removed {
		t.Error("expected second delete to report nothing removed")
	}
}

func TestMockStore_ReturnsCopies(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	if err := m.CreateUser(ctx, &User{Username: "alice", DisplayName: "Alice"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	u, _ := m.GetUser(ctx, "acct:alice@localhost")
	u.DisplayName = "Mallory"

	again, _ := m.GetUser(ctx, "acct:alice@localhost")
	if again.DisplayName != "Alice" {
		t.Errorf("stored user was mutated through returned pointer: %q", again.DisplayName)
	}
}

func TestMockStore_SessionExpiry(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	if err := m.SaveSession(ctx, &SessionRecord{ID: "s", Data: []byte("{}"), Expires: time.Now().Add(-time.Second)}); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	if _, err := m.GetSession(ctx, "s"); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	n, _ := m.DeleteExpiredSessions(ctx, time.Now())
	if n != 1 || m.SessionCount() != 0 {
		t.Errorf("DeleteExpiredSessions removed %d, remaining %d", n, m.SessionCount())
	}
}

func TestMockStore_DeleteUser(t *testing.T) {
	m := NewMockStore()
	ctx := context.Background()

	if err := m.CreateUser(ctx, &User{Username: "alice"}); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	now := time.Now()
	if err := m.CreateTicket(ctx, &Ticket{ID: "T1", UserID: "acct:alice@localhost", Expires: now.Add(time.Hour)}); err != nil {
		t.Fatalf("CreateTicket failed: %v", err)
	}
	if err := m.UpdatePassword(ctx, "acct:alice@localhost", "hash"); err != nil {
		t.Fatalf("UpdatePassword failed: %v", err)
	}

	if err := m.DeleteUser(ctx, "acct:alice@localhost"); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	if m.TicketCount() != 0 {
		t.Errorf("TicketCount = %d, want 0", m.TicketCount())
	}
	if err := m.UpdatePassword(ctx, "acct:alice@localhost", "hash"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("expected ErrUserNotFound, got %v", err)
	}
}
