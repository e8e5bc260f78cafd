// Package registry implements the broker's Session Registry (spec
// §3, §4.2 first half): the persisted, listable index of every
// session, independent of the heavier in-memory Session state the
// session package owns.
package registry

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/storage"
	"github.com/sessionbroker/broker/pkg/types"
)

// ErrSessionNotFound is returned when an operation targets a session
// id the registry has no entry for.
var ErrSessionNotFound = errors.New("registry: session not found")

// State values for RegistryEntry.State (spec §3).
const (
	StateStarting  = "starting"
	StateConnected = "connected"
	StateExited    = "exited"
)

// Registry is the in-memory, persistence-backed index of sessions.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*types.RegistryEntry
	store   *storage.SessionStorage
}

// New creates a Registry backed by store. Call RestoreAll to populate
// it from disk before serving traffic.
func New(store *storage.SessionStorage) *Registry {
	return &Registry{
		entries: make(map[string]*types.RegistryEntry),
		store:   store,
	}
}

// RestoreAll loads every persisted registry entry into memory,
// returning the count restored. Never overwrites live entries already
// tracked, to guard against being called twice.
func (r *Registry) RestoreAll(ctx context.Context) (int, error) {
	persisted, err := r.store.LoadRegistry(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, entry := range persisted {
		if _, exists := r.entries[entry.SessionID]; exists {
			continue
		}
		r.entries[entry.SessionID] = entry
		count++
	}
	return count, nil
}

// Create registers a brand-new session entry, persists it, and emits
// session:created.
func (r *Registry) Create(ctx context.Context, entry *types.RegistryEntry) error {
	r.mu.Lock()
	r.entries[entry.SessionID] = entry
	r.mu.Unlock()

	if err := r.store.SaveRegistryEntry(ctx, entry); err != nil {
		log.Error().Err(err).Str("sessionId", entry.SessionID).Msg("failed to persist registry entry")
		return err
	}

	event.Publish(event.Event{Type: event.SessionCreated, Data: event.SessionCreatedData{Entry: entry}})
	return nil
}

// Get returns the registry entry for id, or ErrSessionNotFound.
func (r *Registry) Get(id string) (*types.RegistryEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return entry, nil
}

// List returns a snapshot of every registry entry. Safe to call while
// the reaper or watchdog iterates concurrently since it returns copies
// of the slice, not the live map.
func (r *Registry) List() []*types.RegistryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*types.RegistryEntry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Update applies mutate to the entry for id under lock and persists
// the result.
func (r *Registry) Update(ctx context.Context, id string, mutate func(*types.RegistryEntry)) error {
	r.mu.Lock()
	entry, ok := r.entries[id]
	if !ok {
		r.mu.Unlock()
		return ErrSessionNotFound
	}
	mutate(entry)
	r.mu.Unlock()

	return r.store.SaveRegistryEntry(ctx, entry)
}

// SetState updates an entry's lifecycle state string.
func (r *Registry) SetState(ctx context.Context, id, state string) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.State = state })
}

// SetBackendSessionID records the id a backend assigned on first init.
func (r *Registry) SetBackendSessionID(ctx context.Context, id, backendSessionID string) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.BackendSessionID = backendSessionID })
}

// SetPID records the subprocess pid for a session launched locally.
func (r *Registry) SetPID(ctx context.Context, id string, pid int) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.PID = pid })
}

// SetName records a derived session name (spec SPEC_FULL.md session
// naming).
func (r *Registry) SetName(ctx context.Context, id, name string) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.Name = name })
}

// SetModel records the session's current model for listing purposes.
func (r *Registry) SetModel(ctx context.Context, id, model string) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.Model = model })
}

// SetArchived marks an entry archived or not; archived entries are
// skipped by the reconnect watchdog.
func (r *Registry) SetArchived(ctx context.Context, id string, archived bool) error {
	return r.Update(ctx, id, func(e *types.RegistryEntry) { e.Archived = archived })
}

// Remove deletes a session's registry entry from memory and storage.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.entries, id)
	r.mu.Unlock()

	return r.store.RemoveRegistryEntry(ctx, id)
}
