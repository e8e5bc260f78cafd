package session

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/sessionbroker/broker/internal/command"
	"github.com/sessionbroker/broker/pkg/types"
)

// Status values for Session.LastStatus (spec §3: "idle, running,
// compacting, null").
const (
	StatusIdle      = "idle"
	StatusRunning   = "running"
	StatusCompacting = "compacting"
)

// ConsumerSocket is the minimal transport handle a Session needs,
// implemented by the gateway's WebSocket wrapper. Kept narrow so this
// package never imports the transport layer.
type ConsumerSocket interface {
	// Send writes one outbound frame. Implementations must be safe
	// for concurrent use.
	Send(frame any) error
	// BufferedAmount reports bytes queued but not yet flushed, used by
	// the broadcaster's backpressure check (spec §4.4).
	BufferedAmount() int
	Close(code int, reason string) error
}

// ConsumerHandle is one attached consumer: its transport, identity,
// and per-socket rate limiter (spec §3, §4.4).
type ConsumerHandle struct {
	ConnID      string
	Socket      ConsumerSocket
	Identity    types.ConsumerIdentity
	RateLimiter *rate.Limiter
}

// ToolCorrelation pairs a tool_use with its eventual tool_result,
// keyed by tool_use_id (SPEC_FULL C: teamCorrelationBuffer).
type ToolCorrelation struct {
	ToolUse    *types.ContentToolUse
	ToolResult *types.ContentToolResult
	CreatedAtMs int64
}

// PendingInitialize tracks the in-flight capabilities handshake
// control_request (spec §4.7).
type PendingInitialize struct {
	RequestID   string
	StartedAtMs int64
	Cancel      func()
}

// Session owns everything for one logical conversation (spec §3).
// All mutation must go through the owning Runtime; Session itself
// holds no behavior beyond accessors needed by the router/gateway/
// broadcaster, guarded by mu.
type Session struct {
	mu sync.RWMutex

	ID               string
	BackendSessionID string
	Backend          BackendSession
	AdapterName      string
	AdapterExecutor  command.AdapterExecutor
	AdapterCaps      Capabilities

	Consumers map[string]*ConsumerHandle

	State *types.SessionState

	PendingPermissions  map[string]*types.PermissionRequest
	PendingPassthroughs []*types.PassthroughDescriptor
	PendingInitialize   *PendingInitialize

	MessageHistory  []*types.UnifiedMessage
	PendingMessages []*types.UnifiedMessage
	QueuedMessage   *types.QueuedMessage

	LastStatus     string
	LastActivityMs int64
	CreatedAtMs    int64

	SlashRegistry     *command.Registry
	CorrelationBuffer map[string]*ToolCorrelation

	Closing bool
}

// New creates a Session in its default, pre-connect state (spec §3:
// "created on first reference").
func New(id string) *Session {
	now := time.Now().UnixMilli()
	return &Session{
		ID:                  id,
		Consumers:           make(map[string]*ConsumerHandle),
		State:               types.DefaultSessionState(),
		PendingPermissions:  make(map[string]*types.PermissionRequest),
		PendingPassthroughs: nil,
		MessageHistory:      nil,
		PendingMessages:     nil,
		LastActivityMs:      now,
		CreatedAtMs:         now,
		SlashRegistry:       command.NewRegistry(),
		CorrelationBuffer:   make(map[string]*ToolCorrelation),
	}
}

// Snapshot returns a read-only, deep-enough copy of session state for
// introspection endpoints (spec §4.2 Repository.getSnapshot).
func (s *Session) Snapshot() *types.Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pending := make([]types.PendingPermissionEntry, 0, len(s.PendingPermissions))
	for id, req := range s.PendingPermissions {
		pending = append(pending, types.PendingPermissionEntry{RequestID: id, Request: *req})
	}

	return &types.Snapshot{
		ID:                 s.ID,
		State:              s.State.Clone(),
		MessageHistory:      append([]*types.UnifiedMessage(nil), s.MessageHistory...),
		PendingMessages:     append([]*types.UnifiedMessage(nil), s.PendingMessages...),
		PendingPermissions:  pending,
		AdapterName:         s.AdapterName,
	}
}

// ConsumerCount returns the number of attached consumers.
func (s *Session) ConsumerCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.Consumers)
}

// HasBackend reports whether a backend connection is attached.
func (s *Session) HasBackend() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Backend != nil
}

// LastActivity returns the last activity timestamp in epoch ms.
func (s *Session) LastActivity() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.LastActivityMs
}

// ConsumersSnapshot returns the currently attached consumer handles,
// safe for the gateway's broadcaster to range over without racing
// AddConsumer/RemoveConsumer.
func (s *Session) ConsumersSnapshot() []*ConsumerHandle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ConsumerHandle, 0, len(s.Consumers))
	for _, h := range s.Consumers {
		out = append(out, h)
	}
	return out
}

// PendingPermissionsSnapshot returns the currently outstanding
// permission requests, for the gateway's replay-on-join sequence
// (spec §4.4).
func (s *Session) PendingPermissionsSnapshot() map[string]*types.PermissionRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]*types.PermissionRequest, len(s.PendingPermissions))
	for id, req := range s.PendingPermissions {
		out[id] = req
	}
	return out
}

// QueuedMessageSnapshot returns the session's current queued message,
// or nil if there isn't one.
func (s *Session) QueuedMessageSnapshot() *types.QueuedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.QueuedMessage
}

// MessageHistorySnapshot returns a copy of the session's message
// history, for the gateway's replay-on-join message_history frame.
func (s *Session) MessageHistorySnapshot() []*types.UnifiedMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*types.UnifiedMessage(nil), s.MessageHistory...)
}
