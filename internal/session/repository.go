package session

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/storage"
	"github.com/sessionbroker/broker/pkg/types"
)

// Repository is the insertion-ordered, in-memory session map (spec
// §3, §4.2). It is the sole owner of the session map; every other
// component holds plain references obtained through it.
type Repository struct {
	mu      sync.RWMutex
	order   []string
	byID    map[string]*Session
	store   *storage.SessionStorage
	maxHist int
}

// NewRepository creates a Repository backed by store. maxHistory bounds
// MessageHistory per session (spec §3: "bounded ring trimmed to
// maxMessageHistoryLength").
func NewRepository(store *storage.SessionStorage, maxHistory int) *Repository {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &Repository{
		byID:    make(map[string]*Session),
		store:   store,
		maxHist: maxHistory,
	}
}

// MaxHistory returns the configured history cap.
func (r *Repository) MaxHistory() int { return r.maxHist }

// Get returns the live session for id, or nil if none exists.
func (r *Repository) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byID[id]
}

// GetOrCreate returns the existing session for id, or creates and
// registers a new one with default state.
func (r *Repository) GetOrCreate(id string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.byID[id]; ok {
		return s
	}
	s := New(id)
	r.byID[id] = s
	r.order = append(r.order, id)
	return s
}

// List returns every live session in insertion order.
func (r *Repository) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		if s, ok := r.byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// GetSnapshot returns a read-only projection of a session for
// introspection, or nil if the session doesn't exist.
func (r *Repository) GetSnapshot(id string) *types.Snapshot {
	s := r.Get(id)
	if s == nil {
		return nil
	}
	return s.Snapshot()
}

// Remove deletes a session from memory and its persisted snapshot.
func (r *Repository) Remove(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.byID, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	return r.store.RemoveSnapshot(ctx, id)
}

// Persist writes a session's current state+history+pending to durable
// storage.
func (r *Repository) Persist(ctx context.Context, s *Session) error {
	snap := s.Snapshot()
	if err := r.store.SaveSnapshot(ctx, snap); err != nil {
		log.Error().Err(err).Str("sessionId", s.ID).Msg("failed to persist session snapshot")
		return err
	}
	return nil
}

// RestoreAll loads every persisted snapshot into memory, returning the
// count restored. Never overwrites a live session already tracked.
func (r *Repository) RestoreAll(ctx context.Context) (int, error) {
	snapshots, err := r.store.LoadAllSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	count := 0
	for _, snap := range snapshots {
		if _, exists := r.byID[snap.ID]; exists {
			continue
		}
		s := New(snap.ID)
		s.State = snap.State
		s.MessageHistory = snap.MessageHistory
		s.PendingMessages = snap.PendingMessages
		s.AdapterName = snap.AdapterName
		for _, entry := range snap.PendingPermissions {
			req := entry.Request
			s.PendingPermissions[entry.RequestID] = &req
		}
		r.byID[snap.ID] = s
		r.order = append(r.order, snap.ID)
		count++
	}
	return count, nil
}

// AppendHistory appends msg to a session's history, trimming to
// MaxHistory. Caller must hold no lock on s; this method manages its
// own.
func (s *Session) AppendHistory(msg *types.UnifiedMessage, maxHistory int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.MessageHistory = append(s.MessageHistory, msg)
	if len(s.MessageHistory) > maxHistory {
		excess := len(s.MessageHistory) - maxHistory
		s.MessageHistory = s.MessageHistory[excess:]
	}
}
