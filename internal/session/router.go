package session

import (
	"context"
	"reflect"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sessionbroker/broker/internal/event"
	"github.com/sessionbroker/broker/internal/gitinfo"
	"github.com/sessionbroker/broker/internal/protocol"
	"github.com/sessionbroker/broker/pkg/types"
)

// Router dispatches backend-originated UnifiedMessages: it reduces
// SessionState, diffs team sub-state, runs the per-type side-effect
// table, and drives persistence (spec §4.3). It holds no session state
// of its own.
type Router struct {
	repo        *Repository
	broadcaster Broadcaster
	caps        *CapabilitiesPolicy
}

// NewRouter creates a Router wired to its collaborators.
func NewRouter(repo *Repository, broadcaster Broadcaster, caps *CapabilitiesPolicy) *Router {
	return &Router{repo: repo, broadcaster: broadcaster, caps: caps}
}

// HandleBackendMessage runs the full pipeline for one message arriving
// from a session's backend (spec §4.3, steps 1-3).
func (rt *Router) HandleBackendMessage(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	prevTeam := rt.reduceState(s, msg)
	rt.diffTeam(s, prevTeam)

	switch msg.Type {
	case types.TypeSessionInit:
		rt.onSessionInit(ctx, s, msg)
	case types.TypeStatusChange:
		rt.onStatusChange(s, msg)
	case types.TypeAssistant:
		rt.onAssistant(ctx, s, msg)
	case types.TypeResult:
		rt.onResult(ctx, s, msg)
	case types.TypeStreamEvent:
		rt.onStreamEvent(s, msg)
	case types.TypePermissionRequest:
		rt.onPermissionRequest(ctx, s, msg)
	case types.TypeControlResponse:
		rt.onControlResponse(s, msg)
	case types.TypeToolProgress:
		rt.broadcaster.Broadcast(s, protocol.ToolProgress{Type: protocol.FrameToolProgress, Data: msg.Metadata})
	case types.TypeToolUseSummary:
		rt.onToolUseSummary(ctx, s, msg)
	case types.TypeAuthStatus:
		rt.onAuthStatus(s, msg)
	case types.TypeSessionLifecycle:
		rt.broadcaster.Broadcast(s, protocol.SessionLifecycle{Type: protocol.FrameSessionLifecycle, Phase: msg.MetaString("phase")})
	case types.TypeConfigurationChange:
		rt.onConfigurationChange(ctx, s, msg)
	}
}

// reduceState applies the pure-by-type reduction described in spec
// §4.3 step 1, returning the team sub-state observed before the
// reduction so the caller can diff it in step 2. Translators place
// typed values directly on Metadata (no intermediate JSON decode)
// since both sides of this boundary run in the same process.
func (rt *Router) reduceState(s *Session, msg *types.UnifiedMessage) *types.TeamState {
	s.mu.Lock()
	defer s.mu.Unlock()

	prevTeam := s.State.Team

	if v, ok := msg.Metadata["cwd"].(string); ok {
		s.State.Cwd = v
	}
	if v, ok := msg.Metadata["model"].(string); ok {
		s.State.Model = v
	}
	if v := msg.MetaStringSlice("tools"); v != nil {
		s.State.Tools = v
	}
	if v, ok := msg.Metadata["permissionMode"].(string); ok {
		s.State.PermissionMode = v
	}
	if v, ok := msg.Metadata["version"].(string); ok {
		s.State.Version = v
	}
	if v := msg.MetaStringSlice("mcp_servers"); v != nil {
		s.State.MCPServers = v
	}
	if v := msg.MetaStringSlice("slash_commands"); v != nil {
		s.State.SlashCommands = v
	}
	if v := msg.MetaStringSlice("skills"); v != nil {
		s.State.Skills = v
	}
	if v, ok := msg.Metadata["cost"]; ok {
		s.State.CostUSD = toFloat(v)
	}
	if v, ok := msg.Metadata["turns"]; ok {
		s.State.TurnCount = int(toFloat(v))
	}
	if v, ok := msg.Metadata["contextUsedPct"]; ok {
		s.State.ContextUsedPct = toFloat(v)
	}
	if v, ok := msg.Metadata["compacting"].(bool); ok {
		s.State.Compacting = v
	}
	if v, ok := msg.Metadata["team"].(*types.TeamState); ok {
		s.State.Team = v
	}
	if v, ok := msg.Metadata["watchdog"].(*types.WatchdogInfo); ok {
		s.State.Watchdog = v
	}

	return prevTeam
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	}
	return 0
}

// diffTeam implements spec §4.3 step 2: broadcast and emit
// team:member_joined for any member newly present.
func (rt *Router) diffTeam(s *Session, prev *types.TeamState) {
	s.mu.RLock()
	cur := s.State.Team
	sessionID := s.ID
	s.mu.RUnlock()

	if reflect.DeepEqual(prev, cur) {
		return
	}

	rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{Team: cur}})

	seen := make(map[string]bool)
	if prev != nil {
		for _, m := range prev.Members {
			seen[m.ID] = true
		}
	}
	if cur != nil {
		for _, m := range cur.Members {
			if !seen[m.ID] {
				event.Publish(event.Event{Type: event.TeamMemberJoined, Data: event.TeamMemberJoinedData{SessionID: sessionID, Member: m}})
			}
		}
	}
}

func (rt *Router) onSessionInit(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	backendSessionID := msg.MetaString("backendSessionId")

	s.mu.Lock()
	s.BackendSessionID = backendSessionID
	cwd := s.State.Cwd
	slashCommands := s.State.SlashCommands
	skills := s.State.Skills
	backend := s.Backend
	s.SlashRegistry.Reset(slashCommands, skills)
	s.mu.Unlock()

	event.Publish(event.Event{Type: event.BackendSessionID, Data: event.BackendSessionIDData{SessionID: s.ID, BackendSessionID: backendSessionID}})

	if cwd != "" {
		if git := gitinfo.Resolve(cwd); git != nil {
			s.mu.Lock()
			s.State.Git = git
			s.mu.Unlock()
		}
	}

	rt.broadcaster.Broadcast(s, protocol.SessionInit{
		Type:            protocol.FrameSessionInit,
		Session:         &protocol.SessionDescriptor{SessionID: s.ID, State: s.Snapshot().State},
		ProtocolVersion: 1,
	})
	_ = rt.repo.Persist(ctx, s)

	if caps, ok := msg.Metadata["capabilities"].(*types.Capabilities); ok && caps != nil {
		rt.applyCapabilities(s, caps)
		return
	}
	if rt.caps == nil || backend == nil {
		return
	}
	requestID, wait := rt.caps.Begin(s.ID)
	_ = backend.Send(&types.UnifiedMessage{
		Type:     types.TypeControlRequest,
		Metadata: map[string]any{"subtype": "initialize", "request_id": requestID},
	})
	go func() {
		caps := Await(rt.caps, s.ID, wait)
		if caps != nil {
			rt.applyCapabilities(s, caps)
		}
	}()
}

func (rt *Router) applyCapabilities(s *Session, caps *types.Capabilities) {
	s.mu.Lock()
	s.State.Capabilities = caps
	skills := s.State.Skills
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.CapabilitiesReady{
		Type:     protocol.FrameCapabilitiesReady,
		Commands: caps.Commands,
		Models:   caps.Models,
		Account:  caps.Account,
		Skills:   skills,
	})
}

func (rt *Router) onStatusChange(s *Session, msg *types.UnifiedMessage) {
	status := msg.MetaString("status")

	s.mu.Lock()
	s.LastStatus = status
	mode, modeOK := msg.Metadata["permissionMode"].(string)
	if modeOK {
		s.State.PermissionMode = mode
	}
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.StatusChange{Type: protocol.FrameStatusChange, Status: status})
	if modeOK {
		rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{PermissionMode: mode}})
	}
	if status == StatusIdle {
		rt.autoSendQueued(s)
	}
}

func (rt *Router) onAssistant(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	s.mu.Lock()
	n := len(s.MessageHistory)
	if n > 0 {
		last := s.MessageHistory[n-1]
		if last.ID == msg.ID {
			if contentEqual(last.Content, msg.Content) {
				s.mu.Unlock()
				return
			}
			s.MessageHistory[n-1] = msg
			s.mu.Unlock()
			rt.broadcaster.Broadcast(s, protocol.Assistant{Type: protocol.FrameAssistant, Message: msg})
			_ = rt.repo.Persist(ctx, s)
			return
		}
	}
	s.mu.Unlock()

	s.AppendHistory(msg, rt.repo.MaxHistory())
	rt.broadcaster.Broadcast(s, protocol.Assistant{Type: protocol.FrameAssistant, Message: msg})
	_ = rt.repo.Persist(ctx, s)
}

func contentEqual(a, b []types.UnifiedContent) bool {
	return reflect.DeepEqual(a, b)
}

func (rt *Router) onResult(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	numTurns := msg.MetaInt("num_turns")
	isError := msg.MetaBool("is_error")

	rt.broadcaster.Broadcast(s, protocol.Result{
		Type:     protocol.FrameResult,
		NumTurns: numTurns,
		IsError:  isError,
		Error:    msg.MetaString("error"),
		CostUSD:  msg.MetaFloat("cost"),
	})
	_ = rt.repo.Persist(ctx, s)

	s.SetStatus(StatusIdle)
	rt.autoSendQueued(s)

	if numTurns == 1 && !isError {
		firstUserMessage := ""
		s.mu.RLock()
		for _, m := range s.MessageHistory {
			if m.Type == types.TypeUserMessage {
				firstUserMessage = m.Text()
				break
			}
		}
		s.mu.RUnlock()

		event.Publish(event.Event{
			Type: event.SessionFirstTurnCompleted,
			Data: event.SessionFirstTurnCompletedData{SessionID: s.ID, UserMessage: firstUserMessage, AssistantText: msg.Text()},
		})
	}

	// Every result (not just the first) may have moved the working
	// tree's git state (commit, branch, dirty files); refresh and
	// broadcast independent of turn count.
	s.mu.RLock()
	cwd := s.State.Cwd
	s.mu.RUnlock()

	if cwd != "" {
		if newGit := gitinfo.Resolve(cwd); newGit != nil {
			s.mu.Lock()
			changed := !reflect.DeepEqual(s.State.Git, newGit)
			if changed {
				s.State.Git = newGit
			}
			s.mu.Unlock()
			if changed {
				rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: &types.SessionState{Git: newGit}})
			}
		}
	}
}

func (rt *Router) onStreamEvent(s *Session, msg *types.UnifiedMessage) {
	inner := msg.MetaMap("event")
	if inner != nil {
		if t, _ := inner["type"].(string); t == "message_start" {
			if _, hasParent := inner["parent_tool_use_id"]; !hasParent {
				s.SetStatus(StatusRunning)
				rt.broadcaster.Broadcast(s, protocol.StatusChange{Type: protocol.FrameStatusChange, Status: StatusRunning})
			}
		}
	}
	rt.broadcaster.Broadcast(s, protocol.StreamEvent{Type: protocol.FrameStreamEvent, Event: inner})
}

func (rt *Router) onPermissionRequest(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	if msg.MetaString("subtype") != "can_use_tool" {
		return
	}
	req, ok := msg.Metadata["request"].(*types.PermissionRequest)
	if !ok || req == nil {
		return
	}
	rt.HandlePermissionRequest(ctx, s, req)
}

// HandlePermissionRequest stores req in pendingPermissions, broadcasts
// it to participants, and emits permission:requested. Exported so
// Runtime.StorePendingPermission can drive the same side effects for
// permission requests raised programmatically by an adapter, not just
// ones arriving as UnifiedMessages.
func (rt *Router) HandlePermissionRequest(ctx context.Context, s *Session, req *types.PermissionRequest) {
	s.mu.Lock()
	s.PendingPermissions[req.RequestID] = req
	s.mu.Unlock()

	rt.broadcaster.BroadcastToParticipants(s, protocol.PermissionRequestFrame{Type: protocol.FramePermissionRequest, Request: req})
	event.Publish(event.Event{Type: event.PermissionRequested, Data: event.PermissionRequestedData{SessionID: s.ID, Request: req}})
	_ = rt.repo.Persist(ctx, s)
}

func (rt *Router) onControlResponse(s *Session, msg *types.UnifiedMessage) {
	if rt.caps == nil {
		return
	}
	requestID := msg.MetaString("request_id")
	if requestID == "" {
		return
	}
	caps, _ := msg.Metadata["capabilities"].(*types.Capabilities)
	rt.caps.Resolve(requestID, caps)
}

func (rt *Router) onToolUseSummary(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	toolUseID := msg.MetaString("tool_use_id")
	output := msg.MetaString("output")
	summary := msg.MetaString("summary")

	s.mu.Lock()
	dup := false
	if entry, ok := s.CorrelationBuffer[toolUseID]; ok && entry.ToolResult != nil {
		if entry.ToolResult.Content == output {
			dup = true
		}
	}
	s.mu.Unlock()
	if dup {
		return
	}

	rt.broadcaster.Broadcast(s, protocol.ToolUseSummary{Type: protocol.FrameToolUseSummary, ToolUseID: toolUseID, Output: output, Summary: summary})
	_ = rt.repo.Persist(ctx, s)
}

func (rt *Router) onAuthStatus(s *Session, msg *types.UnifiedMessage) {
	status := msg.MetaString("status")
	detail := msg.MetaString("detail")
	rt.broadcaster.Broadcast(s, protocol.AuthStatus{Type: protocol.FrameAuthStatus, Status: status, Detail: detail})
	event.Publish(event.Event{Type: event.AuthStatus, Data: event.AuthStatusData{SessionID: s.ID, Status: status, Detail: detail}})
}

func (rt *Router) onConfigurationChange(ctx context.Context, s *Session, msg *types.UnifiedMessage) {
	patch := &types.SessionState{}
	changed := false

	if v, ok := msg.Metadata["model"].(string); ok && v != "" {
		patch.Model = v
		changed = true
	}
	mode, modeOK := msg.Metadata["mode"].(string)
	if !modeOK {
		mode, modeOK = msg.Metadata["permissionMode"].(string)
	}
	if modeOK && mode != "" {
		patch.PermissionMode = mode
		changed = true
	}
	if !changed {
		return
	}

	s.mu.Lock()
	if patch.Model != "" {
		s.State.Model = patch.Model
	}
	if patch.PermissionMode != "" {
		s.State.PermissionMode = patch.PermissionMode
	}
	s.mu.Unlock()

	rt.broadcaster.Broadcast(s, protocol.SessionUpdate{Type: protocol.FrameSessionUpdate, Session: patch})
	_ = rt.repo.Persist(ctx, s)
}

// autoSendQueued delivers a staged follow-up message once the session
// returns to idle (spec §4.5).
func (rt *Router) autoSendQueued(s *Session) {
	queued, ok := s.TakeQueued()
	if !ok {
		return
	}

	rt.broadcaster.Broadcast(s, protocol.QueuedMessageSent{Type: protocol.FrameQueuedMessageSent, Content: queued.Content})

	s.mu.RLock()
	backend := s.Backend
	s.mu.RUnlock()
	if backend == nil {
		return
	}

	content := []types.UnifiedContent{types.ContentText{Text: queued.Content}}
	for _, img := range queued.Images {
		content = append(content, img)
	}
	s.SetStatus(StatusRunning)
	_ = backend.Send(&types.UnifiedMessage{
		ID:        ulid.Make().String(),
		Timestamp: time.Now().UnixMilli(),
		Type:      types.TypeUserMessage,
		Role:      types.RoleUser,
		Content:   content,
		Metadata: map[string]any{
			"userId":      queued.ConsumerUserID,
			"displayName": queued.DisplayName,
		},
	})
}
