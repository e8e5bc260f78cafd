package session

import (
	"time"

	"github.com/sessionbroker/broker/pkg/types"
)

// ShouldQueue reports whether a new user message should be staged in
// the single-slot queue rather than sent immediately (spec §4.5: only
// when lastStatus is running or compacting).
func (s *Session) ShouldQueue() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastStatus == StatusRunning || s.LastStatus == StatusCompacting
}

// Enqueue stages msg in the single slot, replacing whatever was there.
// Spec §4.5 gives the slot to whoever sends while non-idle; ownership
// for update/cancel is by author (UserID).
func (s *Session) Enqueue(msg *types.QueuedMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.QueuedMessage = msg
}

// UpdateQueued replaces the queued message's content if userID is its
// author. Returns false if there is no queued message or userID isn't
// its owner (spec §4.5: "Only the original author may update...").
func (s *Session) UpdateQueued(userID, content string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueuedMessage == nil || s.QueuedMessage.ConsumerUserID != userID {
		return false
	}
	s.QueuedMessage.Content = content
	return true
}

// CancelQueued clears the queued message if userID is its author.
func (s *Session) CancelQueued(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueuedMessage == nil || s.QueuedMessage.ConsumerUserID != userID {
		return false
	}
	s.QueuedMessage = nil
	return true
}

// TakeQueued pops and clears the queued message, if any, for
// auto-send when the session returns to idle.
func (s *Session) TakeQueued() (*types.QueuedMessage, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueuedMessage == nil {
		return nil, false
	}
	msg := s.QueuedMessage
	s.QueuedMessage = nil
	return msg, true
}

// SetStatus updates lastStatus and lastActivity (spec §3, §4.5:
// "optimistic marking").
func (s *Session) SetStatus(status string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastStatus = status
	s.LastActivityMs = time.Now().UnixMilli()
}

// Status returns the current lastStatus.
func (s *Session) Status() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastStatus
}
