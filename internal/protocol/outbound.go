// Package protocol defines the consumer wire protocol (spec §6): one
// JSON object per frame, UTF-8, framed over the chosen transport. Each
// frame type is a plain Go struct whose json tags already include
// "type", so encoding/json serializes it directly with no envelope
// wrapper.
package protocol

import "github.com/sessionbroker/broker/pkg/types"

// Version is the wire protocol version advertised in every
// session_init frame (spec §6).
const Version = 1

// Outbound frame type tags (broker -> consumer).
const (
	FrameIdentity            = "identity"
	FrameSessionInit         = "session_init"
	FrameSessionUpdate       = "session_update"
	FrameMessageHistory      = "message_history"
	FrameAssistant           = "assistant"
	FrameUserMessage         = "user_message"
	FrameResult              = "result"
	FrameStatusChange        = "status_change"
	FrameStreamEvent         = "stream_event"
	FrameToolProgress        = "tool_progress"
	FrameToolUseSummary      = "tool_use_summary"
	FrameAuthStatus          = "auth_status"
	FrameSessionLifecycle    = "session_lifecycle"
	FramePermissionRequest   = "permission_request"
	FramePermissionCancelled = "permission_cancelled"
	FrameCapabilitiesReady   = "capabilities_ready"
	FramePresenceUpdate      = "presence_update"
	FrameSessionNameUpdate   = "session_name_update"
	FrameResumeFailed        = "resume_failed"
	FrameCLIConnected        = "cli_connected"
	FrameCLIDisconnected     = "cli_disconnected"
	FrameProcessOutput       = "process_output"
	FrameSlashCommandResult  = "slash_command_result"
	FrameSlashCommandError   = "slash_command_error"
	FrameMessageQueued       = "message_queued"
	FrameQueuedMessageSent   = "queued_message_sent"
	FrameError               = "error"
)

type Identity struct {
	Type        string `json:"type"`
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

func NewIdentity(identity types.ConsumerIdentity) Identity {
	return Identity{Type: FrameIdentity, UserID: identity.UserID, DisplayName: identity.DisplayName, Role: string(identity.Role)}
}

type SessionInit struct {
	Type            string             `json:"type"`
	Session         *SessionDescriptor `json:"session"`
	ProtocolVersion int                `json:"protocol_version"`
}

// SessionDescriptor is the {session_id, ...state} tuple embedded in
// session_init and used for listing sessions over REST.
type SessionDescriptor struct {
	SessionID string             `json:"session_id"`
	State     *types.SessionState `json:"state,omitempty"`
	Name      string             `json:"name,omitempty"`
}

type SessionUpdate struct {
	Type    string              `json:"type"`
	Session *types.SessionState `json:"session"`
}

type MessageHistory struct {
	Type     string                  `json:"type"`
	Messages []*types.UnifiedMessage `json:"messages"`
}

type Assistant struct {
	Type    string                `json:"type"`
	Message *types.UnifiedMessage `json:"message"`
}

type UserMessageEcho struct {
	Type      string                  `json:"type"`
	Content   []types.UnifiedContent `json:"content"`
	Timestamp int64                   `json:"timestamp"`
}

type Result struct {
	Type      string `json:"type"`
	NumTurns  int    `json:"num_turns,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
	Error     string `json:"error,omitempty"`
	CostUSD   float64 `json:"cost,omitempty"`
}

type StatusChange struct {
	Type     string         `json:"type"`
	Status   string         `json:"status"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type StreamEvent struct {
	Type  string         `json:"type"`
	Event map[string]any `json:"event"`
}

type ToolProgress struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data"`
}

type ToolUseSummary struct {
	Type      string `json:"type"`
	ToolUseID string `json:"tool_use_id"`
	Output    string `json:"output,omitempty"`
	Summary   string `json:"summary,omitempty"`
}

type AuthStatus struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

type SessionLifecycle struct {
	Type  string `json:"type"`
	Phase string `json:"phase"`
}

type PermissionRequestFrame struct {
	Type    string                  `json:"type"`
	Request *types.PermissionRequest `json:"request"`
}

type PermissionCancelled struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type CapabilitiesReady struct {
	Type     string   `json:"type"`
	Commands []string `json:"commands"`
	Models   []string `json:"models"`
	Account  string   `json:"account,omitempty"`
	Skills   []string `json:"skills,omitempty"`
}

type PresenceUpdate struct {
	Type      string                    `json:"type"`
	Consumers []types.ConsumerIdentity `json:"consumers"`
}

type SessionNameUpdate struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

type ResumeFailed struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type CLIConnected struct {
	Type string `json:"type"`
}

type CLIDisconnected struct {
	Type string `json:"type"`
}

type ProcessOutput struct {
	Type   string `json:"type"`
	Stream string `json:"stream"`
	Data   string `json:"data"`
}

type SlashCommandResult struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Content   string `json:"content"`
	Source    string `json:"source"`
}

type SlashCommandError struct {
	Type      string `json:"type"`
	Command   string `json:"command"`
	RequestID string `json:"request_id,omitempty"`
	Error     string `json:"error"`
}

type MessageQueued struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type QueuedMessageSent struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: FrameError, Message: message}
}
