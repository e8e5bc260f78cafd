package session

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"

	"github.com/sessionbroker/broker/internal/command"
	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/permission"
	"github.com/sessionbroker/broker/internal/protocol"
	"github.com/sessionbroker/broker/pkg/types"
)

// Runtime wraps one Session and is the single point that mutates it
// (spec §4.2). The gateway and manager call its typed operations
// instead of touching Session fields directly; backend messages are
// reduced onto the Session by the Router, which only the Runtime calls.
type Runtime struct {
	session     *Session
	repo        *Repository
	router      *Router
	broadcaster Broadcaster
	permissions *permission.Bridge
	compaction  *CompactionPolicy
}

// NewRuntime creates a Runtime for s, wired to its collaborators.
func NewRuntime(s *Session, repo *Repository, router *Router, broadcaster Broadcaster, permissions *permission.Bridge, compaction *CompactionPolicy) *Runtime {
	return &Runtime{session: s, repo: repo, router: router, broadcaster: broadcaster, permissions: permissions, compaction: compaction}
}

func (rt *Runtime) Session() *Session { return rt.session }

// BackendSessionID returns the id the backend assigned on session_init,
// or "" before that has happened yet.
func (rt *Runtime) BackendSessionID() string {
	s := rt.session
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.BackendSessionID
}

// HandleInboundCommand decodes and dispatches one consumer-originated
// frame (spec §4.4's "dispatch through the Runtime"). The gateway is
// responsible for size limits, JSON validity, authorization, and rate
// limiting before calling this.
func (rt *Runtime) HandleInboundCommand(ctx context.Context, consumer *ConsumerHandle, raw []byte) error {
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case protocol.InUserMessage:
		var p protocol.InUserMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.sendUserMessage(ctx, consumer, p.Content, p.Images)

	case protocol.InPermissionResponse:
		var p protocol.InPermissionResponsePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.sendPermissionResponse(p.RequestID, permission.Decision(p.Decision))

	case protocol.InInterrupt:
		return rt.sendInterrupt()

	case protocol.InSetModel:
		var p protocol.InSetModelPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.setModel(ctx, p.Model)

	case protocol.InSetPermissionMode:
		var p protocol.InSetPermissionModePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.setPermissionMode(ctx, p.Mode)

	case protocol.InSlashCommand:
		var p protocol.InSlashCommandPayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.executeSlashCommand(ctx, consumer, p.Command, p.Args)

	case protocol.InQueueMessage:
		var p protocol.InQueueMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		rt.queueMessage(consumer, p.Content, p.Images)
		return nil

	case protocol.InUpdateQueuedMessage:
		var p protocol.InUpdateQueuedMessagePayload
		if err := json.Unmarshal(raw, &p); err != nil {
			return err
		}
		return rt.updateQueuedMessage(consumer, p.Content)

	case protocol.InCancelQueuedMessage:
		return rt.cancelQueuedMessage(consumer)

	default:
		return fmt.Errorf("unknown inbound frame type %q", env.Type)
	}
}

// sendUserMessage implements spec §4.5's queue-or-send decision and
// the optimistic running mark.
func (rt *Runtime) sendUserMessage(ctx context.Context, consumer *ConsumerHandle, content string, images []types.ContentImage) error {
	s := rt.session

	if s.ShouldQueue() {
		rt.queueMessage(consumer, content, images)
		return nil
	}

	msgContent := make([]types.UnifiedContent, 0, 1+len(images))
	msgContent = append(msgContent, types.ContentText{Text: content})
	for _, img := range images {
		msgContent = append(msgContent, img)
	}

	msg := &types.UnifiedMessage{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
		Type:      types.TypeUserMessage,
		Role:      types.RoleUser,
		Content:   msgContent,
		Metadata: map[string]any{
			"userId":      consumer.Identity.UserID,
			"displayName": consumer.Identity.DisplayName,
		},
	}

	s.AppendHistory(msg, rt.repo.MaxHistory())
	rt.broadcaster.Broadcast(s, protocol.UserMessageEcho{Type: protocol.FrameUserMessage, Content: msgContent, Timestamp: msg.Timestamp})
	_ = rt.repo.Persist(ctx, s)

	s.SetStatus(StatusRunning)
	return rt.deliverToBackend(msg)
}

// deliverToBackend sends msg if a backend is attached, otherwise
// stages it for attachBackendConnection's FIFO flush.
func (rt *Runtime) deliverToBackend(msg *types.UnifiedMessage) error {
	s := rt.session
	s.mu.Lock()
	backend := s.Backend
	if backend == nil {
		s.PendingMessages = append(s.PendingMessages, msg)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return backend.Send(msg)
}

func (rt *Runtime) queueMessage(consumer *ConsumerHandle, content string, images []types.ContentImage) {
	qm := &types.QueuedMessage{
		ConsumerUserID: consumer.Identity.UserID,
		DisplayName:    consumer.Identity.DisplayName,
		Content:        content,
		Images:         images,
		QueuedAtMs:     time.Now().UnixMilli(),
	}
	rt.session.Enqueue(qm)
	rt.broadcaster.Broadcast(rt.session, protocol.MessageQueued{Type: protocol.FrameMessageQueued, Content: content})
}

func (rt *Runtime) updateQueuedMessage(consumer *ConsumerHandle, content string) error {
	if !rt.session.UpdateQueued(consumer.Identity.UserID, content) {
		rt.broadcaster.SendTo(consumer, protocol.NewError("only the original author may update a queued message"))
		return nil
	}
	rt.broadcaster.Broadcast(rt.session, protocol.MessageQueued{Type: protocol.FrameMessageQueued, Content: content})
	return nil
}

func (rt *Runtime) cancelQueuedMessage(consumer *ConsumerHandle) error {
	if !rt.session.CancelQueued(consumer.Identity.UserID) {
		rt.broadcaster.SendTo(consumer, protocol.NewError("only the original author may cancel a queued message"))
	}
	return nil
}

// sendPermissionResponse resolves a pending permission request via the
// Permission Bridge (spec §4.8 step 3) and clears it from the session.
func (rt *Runtime) sendPermissionResponse(requestID string, decision permission.Decision) error {
	s := rt.session
	s.mu.Lock()
	_, pending := s.PendingPermissions[requestID]
	delete(s.PendingPermissions, requestID)
	s.mu.Unlock()

	if !pending {
		return nil
	}
	rt.permissions.Resolve(s.ID, permission.Response{RequestID: requestID, Decision: decision})
	return nil
}

func (rt *Runtime) sendInterrupt() error {
	return rt.deliverToBackend(&types.UnifiedMessage{Type: types.TypeInterrupt})
}

func (rt *Runtime) setModel(ctx context.Context, model string) error {
	s := rt.session
	s.mu.Lock()
	s.State.Model = model
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{Model: model}})
	_ = rt.repo.Persist(ctx, s)
	return rt.deliverToBackend(&types.UnifiedMessage{Type: types.TypeSetModel, Metadata: map[string]any{"model": model}})
}

func (rt *Runtime) setPermissionMode(ctx context.Context, mode string) error {
	s := rt.session
	s.mu.Lock()
	s.State.PermissionMode = mode
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{PermissionMode: mode}})
	_ = rt.repo.Persist(ctx, s)
	return rt.deliverToBackend(&types.UnifiedMessage{Type: types.TypeSetPermissionMode, Metadata: map[string]any{"mode": mode}})
}

// executeSlashCommand runs the three-tier resolver (spec §4.6).
func (rt *Runtime) executeSlashCommand(ctx context.Context, consumer *ConsumerHandle, cmdName, args string) error {
	s := rt.session

	s.mu.RLock()
	adapter := s.AdapterExecutor
	registry := s.SlashRegistry
	supportsPassthrough := s.AdapterCaps.SlashCommands
	s.mu.RUnlock()

	result, passthrough, err := command.Resolve(ctx, registry, cmdName, args, adapter, rt, supportsPassthrough)
	if err != nil {
		rt.broadcaster.Broadcast(s, protocol.SlashCommandError{Type: protocol.FrameSlashCommandError, Command: cmdName, Error: err.Error()})
		return nil
	}
	if result != nil {
		rt.broadcaster.Broadcast(s, protocol.SlashCommandResult{Type: protocol.FrameSlashCommandResult, Command: cmdName, Content: result.Content, Source: string(result.Source)})
		return nil
	}

	s.mu.Lock()
	s.PendingPassthroughs = append(s.PendingPassthroughs, passthrough)
	s.mu.Unlock()

	raw := command.RawCommand(cmdName, args)
	return rt.deliverToBackend(&types.UnifiedMessage{
		Type:    types.TypeUserMessage,
		Role:    types.RoleUser,
		Content: []types.UnifiedContent{types.ContentText{Text: raw}},
		Metadata: map[string]any{
			"userId":      consumer.Identity.UserID,
			"displayName": consumer.Identity.DisplayName,
		},
	})
}

// command.Ops implementation, so emulated built-ins can act on this
// session without the command package importing this one.

func (rt *Runtime) ClearHistory() {
	s := rt.session
	s.mu.Lock()
	s.MessageHistory = nil
	s.mu.Unlock()
}

func (rt *Runtime) RequestCompaction() error {
	return rt.deliverToBackend(&types.UnifiedMessage{Type: types.TypeControlRequest, Metadata: map[string]any{"subtype": "compact"}})
}

func (rt *Runtime) ListCommands() []command.Descriptor {
	return rt.session.SlashRegistry.List()
}

// HandleBackendMessage intercepts a tier-3 passthrough echo before
// delegating everything else to the Router (spec §4.6 tier 3).
func (rt *Runtime) HandleBackendMessage(ctx context.Context, msg *types.UnifiedMessage) {
	s := rt.session

	if msg.Type == types.TypeUserMessage {
		if desc, ok := rt.takeMatchingPassthrough(msg.Text()); ok {
			content := command.StripEcho(msg.Text())
			rt.broadcaster.Broadcast(s, protocol.SlashCommandResult{
				Type:    protocol.FrameSlashCommandResult,
				Command: desc.Command,
				Content: content,
				Source:  string(command.SourceCLI),
			})
			_ = rt.repo.Persist(ctx, s)
			return
		}
	}

	rt.router.HandleBackendMessage(ctx, s, msg)
}

func (rt *Runtime) takeMatchingPassthrough(text string) (*types.PassthroughDescriptor, bool) {
	s := rt.session
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, desc := range s.PendingPassthroughs {
		if command.MatchesEcho(text, desc.Command) {
			s.PendingPassthroughs = append(s.PendingPassthroughs[:i], s.PendingPassthroughs[i+1:]...)
			return desc, true
		}
	}
	return nil, false
}

// HandleSignal reacts to a backend process/transport signal the
// adapter or launcher reports out-of-band from the message stream
// (e.g. "exited", "crashed").
func (rt *Runtime) HandleSignal(sig string) {
	s := rt.session
	switch sig {
	case "exited", "crashed":
		event.Publish(event.Event{Type: event.BackendExited, Data: event.BackendExitedData{SessionID: s.ID}})
	}
}

// AddConsumer registers a new attached consumer and emits
// consumer:joined (spec §4.4).
func (rt *Runtime) AddConsumer(handle *ConsumerHandle) {
	s := rt.session
	s.mu.Lock()
	s.Consumers[handle.ConnID] = handle
	s.mu.Unlock()

	event.Publish(event.Event{Type: event.ConsumerJoined, Data: event.ConsumerJoinedData{SessionID: s.ID, Consumer: handle.Identity}})
	rt.broadcastPresence()
}

// RemoveConsumer detaches a consumer and emits consumer:left.
func (rt *Runtime) RemoveConsumer(connID string) {
	s := rt.session
	s.mu.Lock()
	handle, ok := s.Consumers[connID]
	delete(s.Consumers, connID)
	s.mu.Unlock()
	if !ok {
		return
	}

	event.Publish(event.Event{Type: event.ConsumerLeft, Data: event.ConsumerLeftData{SessionID: s.ID, UserID: handle.Identity.UserID}})
	rt.broadcastPresence()
}

func (rt *Runtime) broadcastPresence() {
	s := rt.session
	s.mu.RLock()
	identities := make([]types.ConsumerIdentity, 0, len(s.Consumers))
	for _, h := range s.Consumers {
		identities = append(identities, h.Identity)
	}
	s.mu.RUnlock()
	rt.broadcaster.Broadcast(s, protocol.PresenceUpdate{Type: protocol.FramePresenceUpdate, Consumers: identities})
}

// CloseAllConsumers forcibly disconnects every attached consumer
// (spec §4.9 on session close/shutdown).
func (rt *Runtime) CloseAllConsumers(code int, reason string) {
	s := rt.session
	s.mu.Lock()
	handles := make([]*ConsumerHandle, 0, len(s.Consumers))
	for _, h := range s.Consumers {
		handles = append(handles, h)
	}
	s.Consumers = make(map[string]*ConsumerHandle)
	s.mu.Unlock()

	for _, h := range handles {
		if err := h.Socket.Close(code, reason); err != nil {
			log.Debug().Err(err).Str("sessionId", s.ID).Msg("consumer socket close error")
		}
	}
}

// AttachBackendConnection wires a freshly connected backend to the
// session, flushing PendingMessages in FIFO order and publishing
// backend:connected (spec §4.2). Session carries no lifecycle state
// field, so attaching records no state transition.
func (rt *Runtime) AttachBackendConnection(adapterName string, backend BackendSession, caps Capabilities) {
	s := rt.session
	s.mu.Lock()
	s.Backend = backend
	s.AdapterName = adapterName
	s.AdapterCaps = caps
	pending := s.PendingMessages
	s.PendingMessages = nil
	s.mu.Unlock()

	for _, msg := range pending {
		if err := backend.Send(msg); err != nil {
			log.Warn().Err(err).Str("sessionId", s.ID).Msg("failed to flush pending message to backend")
		}
	}

	event.Publish(event.Event{Type: event.BackendConnected, Data: event.BackendConnectedData{SessionID: s.ID, AdapterName: adapterName}})
}

// CloseBackendConnection tears down the current backend connection:
// it cancels every outstanding permission request (broadcasting
// permission_cancelled to participants) and resets backend state
// (spec §4.2).
func (rt *Runtime) CloseBackendConnection() {
	s := rt.session

	s.mu.Lock()
	backend := s.Backend
	ids := make([]string, 0, len(s.PendingPermissions))
	for id := range s.PendingPermissions {
		ids = append(ids, id)
	}
	s.PendingPermissions = make(map[string]*types.PermissionRequest)
	s.mu.Unlock()

	if backend != nil {
		if err := backend.Close(); err != nil {
			log.Debug().Err(err).Str("sessionId", s.ID).Msg("backend close error")
		}
	}

	if rt.permissions != nil {
		rt.permissions.CancelSession(s.ID, ids)
	}
	for _, id := range ids {
		rt.broadcaster.BroadcastToParticipants(s, protocol.PermissionCancelled{Type: protocol.FramePermissionCancelled, RequestID: id})
	}

	rt.ResetBackendConnectionState()
	event.Publish(event.Event{Type: event.BackendDisconnected, Data: event.BackendDisconnectedData{SessionID: s.ID}})
}

// ResetBackendConnectionState clears backend-related fields without
// touching consumers or history.
func (rt *Runtime) ResetBackendConnectionState() {
	s := rt.session
	s.mu.Lock()
	s.Backend = nil
	s.PendingInitialize = nil
	s.mu.Unlock()
}

// DrainPendingMessages returns and clears the FIFO buffer of messages
// staged while no backend was attached.
func (rt *Runtime) DrainPendingMessages() []*types.UnifiedMessage {
	s := rt.session
	s.mu.Lock()
	defer s.mu.Unlock()
	pending := s.PendingMessages
	s.PendingMessages = nil
	return pending
}

// SetWatchdog records reconnect/circuit-breaker bookkeeping and
// broadcasts it as a session_update (SPEC_FULL: reconnect watchdog).
func (rt *Runtime) SetWatchdog(info *types.WatchdogInfo) {
	s := rt.session
	s.mu.Lock()
	s.State.Watchdog = info
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{Watchdog: info}})
}

// StorePendingPermission records a permission request raised directly
// by an adapter (not via a backend UnifiedMessage) through the shared
// Router path (spec §4.8 step 1).
func (rt *Runtime) StorePendingPermission(ctx context.Context, req *types.PermissionRequest) {
	rt.router.HandlePermissionRequest(ctx, rt.session, req)
}
