package storage

import (
	"context"
	"testing"

	"github.com/sessionbroker/broker/pkg/types"
)

func TestSessionStorage_SnapshotRoundTrip(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	ctx := context.Background()

	snap := &types.Snapshot{
		ID:    "sess-1",
		State: types.DefaultSessionState(),
		MessageHistory: []*types.UnifiedMessage{
			{ID: "m1", Type: types.TypeUserMessage},
		},
		AdapterName: "claude",
	}

	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := s.LoadSnapshot(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if got.AdapterName != "claude" || len(got.MessageHistory) != 1 {
		t.Errorf("loaded snapshot mismatch: %+v", got)
	}
}

func TestSessionStorage_LoadSnapshot_NotFound(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	_, err := s.LoadSnapshot(context.Background(), "missing")
	if err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSessionStorage_LoadAllSnapshots(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		snap := &types.Snapshot{ID: id, State: types.DefaultSessionState()}
		if err := s.SaveSnapshot(ctx, snap); err != nil {
			t.Fatalf("SaveSnapshot(%s) failed: %v", id, err)
		}
	}

	all, err := s.LoadAllSnapshots(ctx)
	if err != nil {
		t.Fatalf("LoadAllSnapshots failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 snapshots, got %d", len(all))
	}
}

func TestSessionStorage_RemoveSnapshot(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	ctx := context.Background()

	snap := &types.Snapshot{ID: "doomed", State: types.DefaultSessionState()}
	if err := s.SaveSnapshot(ctx, snap); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := s.RemoveSnapshot(ctx, "doomed"); err != nil {
		t.Fatalf("RemoveSnapshot failed: %v", err)
	}
	if _, err := s.LoadSnapshot(ctx, "doomed"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after removal, got %v", err)
	}
}

func TestSessionStorage_RegistryRoundTrip(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	ctx := context.Background()

	entry := &types.RegistryEntry{
		SessionID:   "sess-1",
		Cwd:         "/home/user/project",
		AdapterName: "codex",
		State:       "connected",
	}
	if err := s.SaveRegistryEntry(ctx, entry); err != nil {
		t.Fatalf("SaveRegistryEntry failed: %v", err)
	}

	entries, err := s.LoadRegistry(ctx)
	if err != nil {
		t.Fatalf("LoadRegistry failed: %v", err)
	}
	if len(entries) != 1 || entries[0].SessionID != "sess-1" {
		t.Errorf("LoadRegistry mismatch: %+v", entries)
	}

	if err := s.RemoveRegistryEntry(ctx, "sess-1"); err != nil {
		t.Fatalf("RemoveRegistryEntry failed: %v", err)
	}
	entries, _ = s.LoadRegistry(ctx)
	if len(entries) != 0 {
		t.Errorf("expected empty registry after removal, got %+v", entries)
	}
}

func TestSessionStorage_LauncherStateRoundTrip(t *testing.T) {
	s := NewSessionStorage(t.TempDir())
	ctx := context.Background()

	st := &LauncherState{SessionID: "sess-1", PID: 1234, AdapterName: "claude"}
	if err := s.SaveLauncherState(ctx, st); err != nil {
		t.Fatalf("SaveLauncherState failed: %v", err)
	}

	got, err := s.LoadLauncherState(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LoadLauncherState failed: %v", err)
	}
	if got.PID != 1234 {
		t.Errorf("PID mismatch: got %d", got.PID)
	}

	if err := s.RemoveLauncherState(ctx, "sess-1"); err != nil {
		t.Fatalf("RemoveLauncherState failed: %v", err)
	}
	if _, err := s.LoadLauncherState(ctx, "sess-1"); err == nil {
		t.Error("expected error after removal")
	}
}
