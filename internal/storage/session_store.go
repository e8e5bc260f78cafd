package storage

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/sessionbroker/broker/pkg/types"
)

func unmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

// SessionStorage is the persistence port used by the session manager and
// registry (spec §6): snapshots are saved on every state-affecting
// event and loaded back on daemon restart, before any backend is
// relaunched.
type SessionStorage struct {
	store *Storage
}

// NewSessionStorage wraps a generic key-path Storage rooted at baseDir.
func NewSessionStorage(baseDir string) *SessionStorage {
	return &SessionStorage{store: New(baseDir)}
}

// SaveSnapshot persists a session's snapshot asynchronously-safe: callers
// that need the write to have landed before proceeding (e.g. before
// acking a destructive consumer command) should use SaveSnapshotSync
// instead. Both currently share one synchronous implementation; the
// distinction exists at the call site to document intent.
func (s *SessionStorage) SaveSnapshot(ctx context.Context, snap *types.Snapshot) error {
	return s.store.Put(ctx, []string{"sessions", snap.ID}, snap)
}

// SaveSnapshotSync persists a snapshot and blocks until the write has
// landed on disk.
func (s *SessionStorage) SaveSnapshotSync(ctx context.Context, snap *types.Snapshot) error {
	return s.SaveSnapshot(ctx, snap)
}

// LoadSnapshot retrieves a single session's snapshot.
func (s *SessionStorage) LoadSnapshot(ctx context.Context, sessionID string) (*types.Snapshot, error) {
	var snap types.Snapshot
	if err := s.store.Get(ctx, []string{"sessions", sessionID}, &snap); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &snap, nil
}

// LoadAllSnapshots loads every persisted session snapshot, skipping any
// file that fails to parse rather than aborting the whole restore.
func (s *SessionStorage) LoadAllSnapshots(ctx context.Context) ([]*types.Snapshot, error) {
	var snapshots []*types.Snapshot
	err := s.store.Scan(ctx, []string{"sessions"}, func(key string, data json.RawMessage) error {
		var snap types.Snapshot
		if unmarshalErr := unmarshalJSON(data, &snap); unmarshalErr != nil {
			return nil
		}
		snapshots = append(snapshots, &snap)
		return nil
	})
	return snapshots, err
}

// RemoveSnapshot deletes a session's persisted snapshot.
func (s *SessionStorage) RemoveSnapshot(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, []string{"sessions", sessionID})
}

// SaveRegistryEntry persists one registry entry (spec §4.2).
func (s *SessionStorage) SaveRegistryEntry(ctx context.Context, entry *types.RegistryEntry) error {
	return s.store.Put(ctx, []string{"registry", entry.SessionID}, entry)
}

// LoadRegistry loads every persisted registry entry.
func (s *SessionStorage) LoadRegistry(ctx context.Context) ([]*types.RegistryEntry, error) {
	var entries []*types.RegistryEntry
	err := s.store.Scan(ctx, []string{"registry"}, func(key string, data json.RawMessage) error {
		var entry types.RegistryEntry
		if unmarshalErr := unmarshalJSON(data, &entry); unmarshalErr != nil {
			return nil
		}
		entries = append(entries, &entry)
		return nil
	})
	return entries, err
}

// RemoveRegistryEntry deletes a registry entry.
func (s *SessionStorage) RemoveRegistryEntry(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, []string{"registry", sessionID})
}

// LauncherState is what the launcher persists so it can reattach to (or
// clean up after) backend processes spawned by a previous daemon run.
type LauncherState struct {
	SessionID   string `json:"sessionId"`
	PID         int    `json:"pid"`
	AdapterName string `json:"adapterName"`
	StartedAtMs int64  `json:"startedAtMs"`
}

// SaveLauncherState persists the PID/adapter bookkeeping for one session.
func (s *SessionStorage) SaveLauncherState(ctx context.Context, st *LauncherState) error {
	return s.store.Put(ctx, []string{"launcher", st.SessionID}, st)
}

// LoadLauncherState retrieves the launcher state for one session.
func (s *SessionStorage) LoadLauncherState(ctx context.Context, sessionID string) (*LauncherState, error) {
	var st LauncherState
	if err := s.store.Get(ctx, []string{"launcher", sessionID}, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

// RemoveLauncherState deletes the launcher state for one session.
func (s *SessionStorage) RemoveLauncherState(ctx context.Context, sessionID string) error {
	return s.store.Delete(ctx, []string{"launcher", sessionID})
}
