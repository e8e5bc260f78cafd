package event

import "github.com/sessionbroker/broker/pkg/types"

// BackendConnectedData is the data for backend:connected events.
type BackendConnectedData struct {
	SessionID   string `json:"sessionId"`
	AdapterName string `json:"adapterName"`
	PID         int    `json:"pid,omitempty"`
}

// BackendDisconnectedData is the data for backend:disconnected events.
type BackendDisconnectedData struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// BackendSessionIDData is the data for backend:session_id events, fired
// the first time a backend reports the session id it assigned
// internally.
type BackendSessionIDData struct {
	SessionID        string `json:"sessionId"`
	BackendSessionID string `json:"backendSessionId"`
}

// BackendRelaunchNeededData is the data for backend:relaunch_needed
// events, fired when a backend connection drops and the manager must
// decide whether to relaunch it.
type BackendRelaunchNeededData struct {
	SessionID           string `json:"sessionId"`
	ConsecutiveFailures int    `json:"consecutiveFailures"`
}

// BackendExitedData is the data for backend:exited events.
type BackendExitedData struct {
	SessionID string `json:"sessionId"`
	ExitCode  int    `json:"exitCode"`
}

// SessionCreatedData is the data for session:created events.
type SessionCreatedData struct {
	Entry *types.RegistryEntry `json:"entry"`
}

// SessionUpdatedData is the data for session:updated events.
type SessionUpdatedData struct {
	SessionID string             `json:"sessionId"`
	State     *types.SessionState `json:"state"`
}

// SessionClosedData is the data for session:closed events.
type SessionClosedData struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SessionDegradedData is the data for session:degraded events, fired
// when the reconnect watchdog exhausts its retries and opens the
// circuit breaker for a session.
type SessionDegradedData struct {
	SessionID string `json:"sessionId"`
	LastError string `json:"lastError,omitempty"`
}

// SessionFirstTurnCompletedData is the data for
// session:first_turn_completed events, which trigger session naming.
type SessionFirstTurnCompletedData struct {
	SessionID     string `json:"sessionId"`
	UserMessage   string `json:"userMessage"`
	AssistantText string `json:"assistantText"`
}

// SessionGitUpdatedData is the data for session:git_updated events,
// fired when the git-info resolver detects a branch, HEAD, or dirty
// state change for a session's working directory.
type SessionGitUpdatedData struct {
	SessionID string         `json:"sessionId"`
	Git       *types.GitInfo `json:"git"`
}

// CapabilitiesReadyData is the data for capabilities:ready events.
type CapabilitiesReadyData struct {
	SessionID    string             `json:"sessionId"`
	Capabilities *types.Capabilities `json:"capabilities"`
}

// CapabilitiesTimeoutData is the data for capabilities:timeout events.
type CapabilitiesTimeoutData struct {
	SessionID string `json:"sessionId"`
}

// PermissionRequestedData is the data for permission:requested events.
type PermissionRequestedData struct {
	SessionID string                   `json:"sessionId"`
	Request   *types.PermissionRequest `json:"request"`
}

// PermissionResolvedData is the data for permission:resolved events.
type PermissionResolvedData struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Decision  string `json:"decision"` // "allow" | "deny"
}

// PermissionCancelledData is the data for permission:cancelled events,
// fired on timeout-to-deny or session close with a request still
// outstanding.
type PermissionCancelledData struct {
	SessionID string `json:"sessionId"`
	RequestID string `json:"requestId"`
	Reason    string `json:"reason"` // "timeout" | "session_closed"
}

// ConsumerJoinedData is the data for consumer:joined events.
type ConsumerJoinedData struct {
	SessionID string               `json:"sessionId"`
	Consumer  types.ConsumerIdentity `json:"consumer"`
}

// ConsumerLeftData is the data for consumer:left events.
type ConsumerLeftData struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
}

// TeamMemberJoinedData is the data for team:member_joined events.
type TeamMemberJoinedData struct {
	SessionID string          `json:"sessionId"`
	Member    types.TeamMember `json:"member"`
}

// AuthStatusData is the data for auth_status events forwarded verbatim
// from a backend to its session's consumers.
type AuthStatusData struct {
	SessionID string `json:"sessionId"`
	Status    string `json:"status"`
	Detail    string `json:"detail,omitempty"`
}
