package session

import (
	"time"

	"github.com/sessionbroker/broker/pkg/types"
)

// maxCorrelationEntries bounds the tool_use/tool_result correlation
// buffer per session (SPEC_FULL C: teamCorrelationBuffer).
const maxCorrelationEntries = 500

// RecordToolUse stores the backend's tool invocation, awaiting its
// eventual result.
func (s *Session) RecordToolUse(tu types.ContentToolUse) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictOldestCorrelationLocked()
	entry, ok := s.CorrelationBuffer[tu.ID]
	if !ok {
		entry = &ToolCorrelation{CreatedAtMs: time.Now().UnixMilli()}
		s.CorrelationBuffer[tu.ID] = entry
	}
	use := tu
	entry.ToolUse = &use
}

// RecordToolResult pairs a tool_result with its tool_use, returning
// the completed correlation once both sides are present.
func (s *Session) RecordToolResult(tr types.ContentToolResult) (*ToolCorrelation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.CorrelationBuffer[tr.ToolUseID]
	if !ok {
		entry = &ToolCorrelation{CreatedAtMs: time.Now().UnixMilli()}
		s.CorrelationBuffer[tr.ToolUseID] = entry
	}
	result := tr
	entry.ToolResult = &result
	if entry.ToolUse != nil && entry.ToolResult != nil {
		return entry, true
	}
	return nil, false
}

// evictOldestCorrelationLocked drops the oldest entry once the buffer
// is full. Caller must hold s.mu.
func (s *Session) evictOldestCorrelationLocked() {
	if len(s.CorrelationBuffer) < maxCorrelationEntries {
		return
	}
	var oldestID string
	var oldestAt int64
	for id, entry := range s.CorrelationBuffer {
		if oldestID == "" || entry.CreatedAtMs < oldestAt {
			oldestID = id
			oldestAt = entry.CreatedAtMs
		}
	}
	if oldestID != "" {
		delete(s.CorrelationBuffer, oldestID)
	}
}
